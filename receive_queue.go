package qweave

import (
	"context"
	"errors"
	"sync"
)

// errQueueDiscarded is returned by receiveQueue.Next after the queue was
// discarded. It marks the regular end of a pipeline, not a failure.
var errQueueDiscarded = errors.New("receive queue discarded")

type queuedPacket struct {
	packet *ReceivedPacket
	path   *Path
}

// A receiveQueue buffers the packets of one packet number space until the
// space's pipeline picks them up. Packets arriving before the epoch's keys
// sit here as well; the pipeline blocks on the keys, not on the queue.
// Discarding a queue is irreversible.
type receiveQueue struct {
	mx        sync.Mutex
	packets   []queuedPacket
	discarded bool

	c    chan struct{} // signals a newly queued packet
	done chan struct{} // closed when the queue is discarded
}

func newReceiveQueue() *receiveQueue {
	return &receiveQueue{
		c:    make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Enqueue adds a packet to the queue.
// It returns false if and only if the queue was already discarded.
func (q *receiveQueue) Enqueue(p *ReceivedPacket, path *Path) bool {
	q.mx.Lock()
	if q.discarded {
		q.mx.Unlock()
		return false
	}
	q.packets = append(q.packets, queuedPacket{packet: p, path: path})
	q.mx.Unlock()

	select {
	case q.c <- struct{}{}:
	default:
	}
	return true
}

// Next returns the next packet and the path it arrived on. It blocks until a
// packet is available, the queue is discarded or the context is cancelled.
// After a discard it returns errQueueDiscarded, even if packets were still
// buffered at that point.
func (q *receiveQueue) Next(ctx context.Context) (*ReceivedPacket, *Path, error) {
	for {
		q.mx.Lock()
		if q.discarded {
			q.mx.Unlock()
			return nil, nil, errQueueDiscarded
		}
		if len(q.packets) > 0 {
			qp := q.packets[0]
			q.packets = q.packets[1:]
			q.mx.Unlock()
			return qp.packet, qp.path, nil
		}
		q.mx.Unlock()

		select {
		case <-q.c:
		case <-q.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

// Discard drops all buffered packets and permanently closes the queue.
// It is idempotent.
func (q *receiveQueue) Discard() {
	q.mx.Lock()
	if q.discarded {
		q.mx.Unlock()
		return
	}
	q.discarded = true
	q.packets = nil
	q.mx.Unlock()
	close(q.done)
}
