package qweave

import (
	"context"
	"fmt"
	"sync"

	"github.com/qweave/qweave/internal/handshake"
	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/qerr"
	"github.com/qweave/qweave/internal/wire"
)

// A cryptoStream is the CRYPTO channel of one packet number space.
// The receive side reassembles CRYPTO frames into the in-order byte stream
// and hands out complete crypto messages. The send side buffers messages
// until they are popped as CRYPTO frames.
type cryptoStream struct {
	mx sync.Mutex

	pending  map[protocol.ByteCount][]byte // received out-of-order, keyed by offset
	frontier protocol.ByteCount            // everything below this offset was assembled
	msgBuf   []byte

	newData chan struct{} // signals progress on the reassembled stream

	writeOffset protocol.ByteCount
	writeBuf    []byte
}

var _ handshake.CryptoStream = &cryptoStream{}

func newCryptoStream() *cryptoStream {
	return &cryptoStream{
		pending: make(map[protocol.ByteCount][]byte),
		newData: make(chan struct{}, 1),
	}
}

// HandleCryptoFrame adds a received CRYPTO frame to the reassembly buffer.
func (s *cryptoStream) HandleCryptoFrame(f *wire.CryptoFrame) error {
	highestOffset := f.Offset + protocol.ByteCount(len(f.Data))
	if highestOffset > protocol.MaxCryptoStreamOffset {
		return &qerr.TransportError{
			ErrorCode:    qerr.CryptoBufferExceeded,
			ErrorMessage: fmt.Sprintf("received invalid offset %d on crypto stream, maximum allowed %d", highestOffset, protocol.MaxCryptoStreamOffset),
		}
	}

	s.mx.Lock()
	if highestOffset <= s.frontier {
		// retransmission of data we already assembled
		s.mx.Unlock()
		return nil
	}
	// Keep the longest frame seen for an offset. Overlaps with differently
	// aligned frames are resolved when the frontier advances past them.
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	if existing, ok := s.pending[f.Offset]; !ok || len(data) > len(existing) {
		s.pending[f.Offset] = data
	}
	advanced := s.assemble()
	s.mx.Unlock()

	if advanced {
		select {
		case s.newData <- struct{}{}:
		default:
		}
	}
	return nil
}

// assemble moves contiguous data from the pending frames into msgBuf.
// It reports whether the frontier advanced. The caller must hold mx.
func (s *cryptoStream) assemble() bool {
	var advanced bool
	for {
		progressed := false
		for off, data := range s.pending {
			end := off + protocol.ByteCount(len(data))
			if end <= s.frontier {
				delete(s.pending, off)
				continue
			}
			if off > s.frontier {
				continue
			}
			s.msgBuf = append(s.msgBuf, data[s.frontier-off:]...)
			s.frontier = end
			delete(s.pending, off)
			progressed, advanced = true, true
			break
		}
		if !progressed {
			return advanced
		}
	}
}

// ReadMessage returns the next complete crypto message, blocking until one
// was fully reassembled. A crypto message starts with a one byte type and a
// 24-bit length, the framing used by TLS handshake messages.
func (s *cryptoStream) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		s.mx.Lock()
		msg := s.popMessage()
		s.mx.Unlock()
		if msg != nil {
			return msg, nil
		}

		select {
		case <-s.newData:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// popMessage cuts one complete message off msgBuf. The caller must hold mx.
func (s *cryptoStream) popMessage() []byte {
	if len(s.msgBuf) < 4 {
		return nil
	}
	length := 4 + int(s.msgBuf[1])<<16 + int(s.msgBuf[2])<<8 + int(s.msgBuf[3])
	if len(s.msgBuf) < length {
		return nil
	}
	msg := make([]byte, length)
	copy(msg, s.msgBuf[:length])
	s.msgBuf = s.msgBuf[length:]
	return msg
}

// WriteMessage queues a crypto message for sending in this space.
func (s *cryptoStream) WriteMessage(p []byte) error {
	s.mx.Lock()
	s.writeBuf = append(s.writeBuf, p...)
	s.mx.Unlock()
	return nil
}

// HasData reports whether there is crypto data waiting to be sent.
func (s *cryptoStream) HasData() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.writeBuf) > 0
}

// PopCryptoFrame returns the next CRYPTO frame to send, limited to a total
// frame size of maxLen. It returns nil if there is no data to send or maxLen
// is too small to fit any.
func (s *cryptoStream) PopCryptoFrame(maxLen protocol.ByteCount) *wire.CryptoFrame {
	s.mx.Lock()
	defer s.mx.Unlock()
	if len(s.writeBuf) == 0 {
		return nil
	}
	f := &wire.CryptoFrame{Offset: s.writeOffset}
	n := min(f.MaxDataLen(maxLen), protocol.ByteCount(len(s.writeBuf)))
	if n <= 0 {
		return nil
	}
	f.Data = s.writeBuf[:n]
	s.writeBuf = s.writeBuf[n:]
	s.writeOffset += n
	return f
}
