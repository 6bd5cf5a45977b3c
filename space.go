package qweave

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qweave/qweave/internal/ackhandler"
	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/qerr"
	"github.com/qweave/qweave/internal/utils"
	"github.com/qweave/qweave/internal/wire"
)

// A packetSpace holds the receive-side state of one packet number space: the
// record of received packets feeding outgoing ACKs, the space's crypto
// stream, and the channel its pipeline routes space frames into.
//
// The record is guarded by a mutex: the data space is fed by both the 0-RTT
// and the 1-RTT pipeline, and the ACK accessors are called from the sending
// layer.
type packetSpace struct {
	encLevel protocol.EncryptionLevel

	recordsMx sync.Mutex
	records   *ackhandler.ReceivedPacketTracker

	crypto *cryptoStream
	frames chan wire.Frame

	logger utils.Logger
}

func newPacketSpace(encLevel protocol.EncryptionLevel, logger utils.Logger) *packetSpace {
	return &packetSpace{
		encLevel: encLevel,
		records:  ackhandler.NewReceivedPacketTracker(logger),
		crypto:   newCryptoStream(),
		frames:   make(chan wire.Frame),
		logger:   logger,
	}
}

// isDuplicate reports whether this packet number was already received.
// It is advisory: the authoritative check happens in recordPacket.
func (s *packetSpace) isDuplicate(pn protocol.PacketNumber) bool {
	s.recordsMx.Lock()
	defer s.recordsMx.Unlock()
	return s.records.IsPotentiallyDuplicate(pn)
}

// recordPacket registers a received packet with the space's record.
// It reports whether the packet is fresh, i.e. seen for the first time.
func (s *packetSpace) recordPacket(pn protocol.PacketNumber, ecn protocol.ECN, rcvTime time.Time, ackEliciting bool) (bool, error) {
	s.recordsMx.Lock()
	defer s.recordsMx.Unlock()
	if s.records.IsPotentiallyDuplicate(pn) {
		return false, nil
	}
	if err := s.records.ReceivedPacket(pn, ecn, rcvTime, ackEliciting); err != nil {
		return false, err
	}
	return true, nil
}

// GetAckFrame returns the ACK frame to send for this space, if any.
// If onlyIfQueued is set, it only returns an ACK if one is due.
func (s *packetSpace) GetAckFrame(onlyIfQueued bool) *wire.AckFrame {
	s.recordsMx.Lock()
	defer s.recordsMx.Unlock()
	return s.records.GetAckFrame(onlyIfQueued)
}

// GetAckAlarm returns the time at which a queued ACK needs to be sent.
func (s *packetSpace) GetAckAlarm() time.Time {
	s.recordsMx.Lock()
	defer s.recordsMx.Unlock()
	return s.records.GetAlarmTimeout()
}

// advanceAckFloor drops received-packet state up to and including
// largestAcked, once the peer confirmed it processed our ACK for that range.
func (s *packetSpace) advanceAckFloor(largestAcked protocol.PacketNumber) {
	s.recordsMx.Lock()
	defer s.recordsMx.Unlock()
	s.records.IgnoreBelow(largestAcked + 1)
}

// run consumes the space's frame channel until it is closed.
// A crypto stream violation ends the connection.
func (s *packetSpace) run() error {
	for f := range s.frames {
		switch frame := f.(type) {
		case *wire.CryptoFrame:
			if err := s.crypto.HandleCryptoFrame(frame); err != nil {
				return err
			}
		case *wire.AckFrame:
			s.handleAck(frame)
		case *wire.PingFrame:
			// ack-eliciting, already accounted when the packet was recorded
		default:
			return &qerr.TransportError{
				ErrorCode:    qerr.InternalError,
				ErrorMessage: fmt.Sprintf("unexpected frame type in %s space: %T", s.encLevel, f),
			}
		}
	}
	return nil
}

// handleAck takes note of the peer's acknowledgments. Correlating them with
// sent packets is the sending layer's job.
func (s *packetSpace) handleAck(f *wire.AckFrame) {
	if s.logger.Debug() {
		s.logger.Debugf("%s space: peer acknowledged up to packet %d (%d ranges)", s.encLevel, f.LargestAcked(), len(f.AckRanges))
	}
}

// The dataSpace is the packet number space shared by 0-RTT and 1-RTT packets.
// On top of the receive-side state it carries the connection's outgoing
// control frame queue and the peer's negotiated transport parameters.
type dataSpace struct {
	*packetSpace

	framesMx      sync.Mutex
	controlFrames []wire.Frame

	params atomic.Pointer[wire.TransportParameters]
}

func newDataSpace(logger utils.Logger) *dataSpace {
	return &dataSpace{packetSpace: newPacketSpace(protocol.Encryption1RTT, logger)}
}

// QueueControlFrame queues a connection-level control frame for sending.
func (s *dataSpace) QueueControlFrame(f wire.Frame) {
	s.framesMx.Lock()
	s.controlFrames = append(s.controlFrames, f)
	s.framesMx.Unlock()
}

// AppendControlFrames appends queued control frames to frames, as many as fit
// into maxLen. Popped frames requeue themselves if the packet carrying them
// is lost.
func (s *dataSpace) AppendControlFrames(frames []ackhandler.Frame, maxLen protocol.ByteCount) ([]ackhandler.Frame, protocol.ByteCount) {
	var length protocol.ByteCount
	s.framesMx.Lock()
	for len(s.controlFrames) > 0 {
		frame := s.controlFrames[len(s.controlFrames)-1]
		frameLen := frame.Length(protocol.Version1)
		if length+frameLen > maxLen {
			break
		}
		frames = append(frames, ackhandler.Frame{Frame: frame, OnLost: s.QueueControlFrame})
		length += frameLen
		s.controlFrames = s.controlFrames[:len(s.controlFrames)-1]
	}
	s.framesMx.Unlock()
	return frames, length
}

// ApplyTransportParameters installs the peer's negotiated settings.
func (s *dataSpace) ApplyTransportParameters(params *wire.TransportParameters) {
	s.params.Store(params)
}

// SupportsDatagrams reports whether the peer accepts DATAGRAM frames.
func (s *dataSpace) SupportsDatagrams() bool {
	p := s.params.Load()
	return p != nil && p.MaxDatagramFrameSize > 0
}

// MaxDatagramFrameSize returns the peer's maximum DATAGRAM frame size,
// or 0 before the handshake completed or if the peer doesn't support them.
func (s *dataSpace) MaxDatagramFrameSize() protocol.ByteCount {
	p := s.params.Load()
	if p == nil {
		return 0
	}
	return p.MaxDatagramFrameSize
}
