// Package flowcontrol implements connection-level flow control.
package flowcontrol

import "github.com/qweave/qweave/internal/protocol"

// A ConnectionFlowController tracks the connection-level send and receive
// byte budget. It is safe for concurrent use.
type ConnectionFlowController interface {
	// UpdateSendWindow is called after receiving a MAX_DATA frame.
	// The window only ever grows; it reports whether the update raised it.
	UpdateSendWindow(protocol.ByteCount) bool
	AddBytesSent(protocol.ByteCount)
	// SendWindowSize returns the number of bytes that may still be sent.
	SendWindowSize() protocol.ByteCount

	// AddBytesRead is called when the application consumed received data.
	AddBytesRead(protocol.ByteCount)
	// GetWindowUpdate returns the new receive window offset if enough of the
	// current window was consumed to warrant a MAX_DATA frame, and 0 otherwise.
	GetWindowUpdate() protocol.ByteCount
}
