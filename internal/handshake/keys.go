package handshake

import (
	"context"
	"sync"
)

// Keys holds the key material of one encryption epoch.
//
// A container starts out Pending. It becomes Ready exactly once, when the
// handshake driver delivers the epoch's keys, and Invalid when the epoch is
// discarded. Both transitions are one-way: Invalid is terminal, and arming an
// already invalidated container is a no-op.
type Keys struct {
	mx    sync.Mutex
	state KeyState
	kp    KeyPair

	// closed when the container leaves the Pending state
	armed chan struct{}
}

// NewKeys returns a container in the Pending state.
func NewKeys() *Keys {
	return &Keys{armed: make(chan struct{})}
}

// NewKeysFromPair returns a container that is Ready from the start.
func NewKeysFromPair(kp KeyPair) *Keys {
	k := NewKeys()
	k.SetReady(kp)
	return k
}

// Get returns the epoch's key pair.
// While the container is Pending, Get blocks until it is armed or invalidated.
// Once the container is Invalid, Get returns ErrKeysDropped. Callers already
// blocked when Invalidate is called are woken with ErrKeysDropped as well.
func (k *Keys) Get(ctx context.Context) (KeyPair, error) {
	k.mx.Lock()
	state := k.state
	kp := k.kp
	armed := k.armed
	k.mx.Unlock()

	switch state {
	case KeyStateReady:
		return kp, nil
	case KeyStateInvalid:
		return KeyPair{}, ErrKeysDropped
	}

	select {
	case <-ctx.Done():
		return KeyPair{}, ctx.Err()
	case <-armed:
	}

	k.mx.Lock()
	defer k.mx.Unlock()
	if k.state == KeyStateInvalid {
		return KeyPair{}, ErrKeysDropped
	}
	return k.kp, nil
}

// SetReady arms the container with the epoch's key material.
// It is a no-op unless the container is still Pending.
func (k *Keys) SetReady(kp KeyPair) {
	k.mx.Lock()
	defer k.mx.Unlock()
	if k.state != KeyStatePending {
		return
	}
	k.state = KeyStateReady
	k.kp = kp
	close(k.armed)
}

// Invalidate drops the keys. Calling it multiple times is a no-op.
func (k *Keys) Invalidate() {
	k.mx.Lock()
	defer k.mx.Unlock()
	if k.state == KeyStateInvalid {
		return
	}
	wasPending := k.state == KeyStatePending
	k.state = KeyStateInvalid
	k.kp = KeyPair{}
	if wasPending {
		close(k.armed)
	}
}

// State reports the container's current lifecycle state.
func (k *Keys) State() KeyState {
	k.mx.Lock()
	defer k.mx.Unlock()
	return k.state
}
