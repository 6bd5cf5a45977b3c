package qweave

import "sync"

// State is the lifecycle state of a connection.
type State uint8

const (
	// StateActive is the regular operating state. A connection starts out
	// Active and stays Active through the handshake.
	StateActive State = iota
	// StateDraining is entered when a CONNECTION_CLOSE arrives or the
	// connection is closed locally. The transition is one-way.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateDraining:
		return "Draining"
	default:
		return "unknown"
	}
}

type connState struct {
	mx sync.Mutex
	s  State
}

func (c *connState) Current() State {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.s
}

// transitionToDraining reports whether this call performed the transition.
func (c *connState) transitionToDraining() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.s == StateDraining {
		return false
	}
	c.s = StateDraining
	return true
}
