package qweave

import (
	"context"
	"sync"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/utils"
	"github.com/qweave/qweave/internal/wire"
)

// A datagramQueue hands received DATAGRAM frame payloads to the application.
type datagramQueue struct {
	rcvMx    sync.Mutex
	rcvQueue [][]byte
	rcvd     chan struct{} // notifies Receive that a new datagram arrived

	closeErr error
	closed   chan struct{}

	logger utils.Logger
}

func newDatagramQueue(logger utils.Logger) *datagramQueue {
	return &datagramQueue{
		rcvd:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// HandleDatagramFrame handles a received DATAGRAM frame.
// If the application doesn't read fast enough, the oldest queued datagrams
// are silently dropped.
func (h *datagramQueue) HandleDatagramFrame(f *wire.DatagramFrame) {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	var queued bool
	h.rcvMx.Lock()
	if len(h.rcvQueue) < protocol.DatagramRcvQueueLen {
		h.rcvQueue = append(h.rcvQueue, data)
		queued = true
		select {
		case h.rcvd <- struct{}{}:
		default:
		}
	}
	h.rcvMx.Unlock()
	if !queued && h.logger.Debug() {
		h.logger.Debugf("Discarding DATAGRAM frame (%d bytes payload)", len(f.Data))
	}
}

// Receive gets a received DATAGRAM frame payload.
func (h *datagramQueue) Receive(ctx context.Context) ([]byte, error) {
	for {
		h.rcvMx.Lock()
		if len(h.rcvQueue) > 0 {
			data := h.rcvQueue[0]
			h.rcvQueue = h.rcvQueue[1:]
			h.rcvMx.Unlock()
			return data, nil
		}
		h.rcvMx.Unlock()
		select {
		case <-h.rcvd:
			continue
		case <-h.closed:
			return nil, h.closeErr
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// CloseWithError unblocks pending and future Receive calls with the given
// error. It must be called at most once.
func (h *datagramQueue) CloseWithError(e error) {
	h.closeErr = e
	close(h.closed)
}
