package ackhandler

import "github.com/qweave/qweave/internal/wire"

// A Frame is a frame queued for sending, together with the callbacks invoked
// when the packet carrying it is acknowledged or declared lost.
type Frame struct {
	Frame   wire.Frame // nil if the frame has already been acknowledged in another packet
	OnLost  func(wire.Frame)
	OnAcked func(wire.Frame)
}
