package qweave

import (
	"context"
	"errors"
	"fmt"

	"github.com/qweave/qweave/internal/ackhandler"
	"github.com/qweave/qweave/internal/handshake"
	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/qerr"
	"github.com/qweave/qweave/internal/utils"
	"github.com/qweave/qweave/internal/wire"
	"github.com/qweave/qweave/logging"
)

// frameSinks are the destinations a pipeline routes parsed frames to.
// Sinks that don't apply to the pipeline's encryption level are nil.
type frameSinks struct {
	conn      chan<- wire.Frame // connection-level frames, consumed by the dispatch loop
	space     chan<- wire.Frame // space frames, consumed by the space's run loop
	datagrams *datagramQueue
}

// A packetPipeline drains the receive queue of one packet number space.
// Per packet it waits for the epoch's keys, opens the payload, records the
// packet number, parses the plaintext and routes every frame in packet order.
type packetPipeline struct {
	encLevel protocol.EncryptionLevel
	keys     *handshake.Keys
	space    *packetSpace
	queue    *receiveQueue
	parser   *wire.FrameParser

	// onSpin is invoked for every fresh packet. Only set on the 1-RTT pipeline.
	onSpin func(pn protocol.PacketNumber, spin bool)

	logger utils.Logger
	tracer *logging.ConnectionTracer
}

func newPacketPipeline(
	encLevel protocol.EncryptionLevel,
	keys *handshake.Keys,
	space *packetSpace,
	queue *receiveQueue,
	parser *wire.FrameParser,
	logger utils.Logger,
	tracer *logging.ConnectionTracer,
) *packetPipeline {
	return &packetPipeline{
		encLevel: encLevel,
		keys:     keys,
		space:    space,
		queue:    queue,
		parser:   parser,
		logger:   logger,
		tracer:   tracer,
	}
}

// parsePacketsAndDispatch runs the pipeline until its receive queue is
// discarded or the context ends. Every error it returns is connection-fatal.
func (p *packetPipeline) parsePacketsAndDispatch(ctx context.Context, sinks frameSinks) error {
	for {
		packet, path, err := p.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, errQueueDiscarded) {
				return nil
			}
			return err
		}
		if err := p.handlePacket(ctx, packet, path, sinks); err != nil {
			return err
		}
	}
}

func (p *packetPipeline) handlePacket(ctx context.Context, packet *ReceivedPacket, path *Path, sinks frameSinks) error {
	// Cheap pre-check so duplicates don't wait for pending keys.
	// The authoritative check happens when the packet is recorded.
	if p.space.isDuplicate(packet.PacketNumber) {
		p.dropPacket(packet, path, logging.PacketDropDuplicate)
		return nil
	}

	kp, err := p.keys.Get(ctx)
	if err != nil {
		if errors.Is(err, handshake.ErrKeysDropped) {
			// The epoch was retired while we waited. The queue is discarded
			// in the same breath, so the next loop iteration exits.
			p.dropPacket(packet, path, logging.PacketDropKeyDiscarded)
			return nil
		}
		return err
	}

	data, err := kp.Opener.Open(nil, packet.Payload, packet.PacketNumber, packet.Header)
	if err != nil {
		p.dropPacket(packet, path, logging.PacketDropPayloadDecryptError)
		return nil
	}

	frames, ackEliciting, err := p.parseFrames(data)
	if err != nil {
		return err
	}

	fresh, err := p.space.recordPacket(packet.PacketNumber, packet.ECN, packet.RcvTime, ackEliciting)
	if err != nil {
		return err
	}
	if !fresh {
		p.dropPacket(packet, path, logging.PacketDropDuplicate)
		return nil
	}

	if p.onSpin != nil {
		p.onSpin(packet.PacketNumber, packet.Spin)
	}
	if p.tracer != nil && p.tracer.ReceivedPacket != nil {
		p.tracer.ReceivedPacket(p.encLevel, packet.PacketNumber, packet.Size(), frames)
	}

	for _, f := range frames {
		if err := p.routeFrame(ctx, f, sinks); err != nil {
			return err
		}
	}
	return nil
}

// parseFrames parses the decrypted payload. It also reports whether any of
// the frames is ack-eliciting.
func (p *packetPipeline) parseFrames(data []byte) ([]wire.Frame, bool, error) {
	var frames []wire.Frame
	var ackEliciting bool
	for len(data) > 0 {
		frame, n, err := p.parser.ParseNext(data, p.encLevel, protocol.Version1)
		if err != nil {
			return nil, false, err
		}
		data = data[n:]
		if frame == nil { // the rest of the packet was padding
			break
		}
		if ackhandler.IsFrameAckEliciting(frame) {
			ackEliciting = true
		}
		// The parser reuses a single ACK frame struct across calls. Routed
		// frames outlive the parse, so hand out a copy.
		if ack, ok := frame.(*wire.AckFrame); ok {
			frame = cloneAckFrame(ack)
		}
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		return nil, false, &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: "empty packet",
		}
	}
	return frames, ackEliciting, nil
}

func cloneAckFrame(f *wire.AckFrame) *wire.AckFrame {
	c := &wire.AckFrame{
		AckRanges: make([]wire.AckRange, len(f.AckRanges)),
		DelayTime: f.DelayTime,
		ECT0:      f.ECT0,
		ECT1:      f.ECT1,
		ECNCE:     f.ECNCE,
	}
	copy(c.AckRanges, f.AckRanges)
	return c
}

func (p *packetPipeline) routeFrame(ctx context.Context, f wire.Frame, sinks frameSinks) error {
	switch frame := f.(type) {
	case *wire.CryptoFrame, *wire.AckFrame, *wire.PingFrame:
		return p.deliver(ctx, sinks.space, f)
	case *wire.ConnectionCloseFrame, *wire.NewTokenFrame, *wire.MaxDataFrame,
		*wire.NewConnectionIDFrame, *wire.RetireConnectionIDFrame,
		*wire.HandshakeDoneFrame, *wire.DataBlockedFrame:
		return p.deliver(ctx, sinks.conn, f)
	case *wire.DatagramFrame:
		if sinks.datagrams == nil {
			return &qerr.TransportError{
				ErrorCode:    qerr.ProtocolViolation,
				ErrorMessage: "received a DATAGRAM frame, but datagram support is disabled",
			}
		}
		sinks.datagrams.HandleDatagramFrame(frame)
		return nil
	default:
		return &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: fmt.Sprintf("unexpected frame type: %T", f),
		}
	}
}

// deliver hands a frame to a sink, giving up when the connection winds down.
func (p *packetPipeline) deliver(ctx context.Context, sink chan<- wire.Frame, f wire.Frame) error {
	if sink == nil {
		return &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: fmt.Sprintf("no sink for frame type %T at encryption level %s", f, p.encLevel),
		}
	}
	select {
	case sink <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *packetPipeline) dropPacket(packet *ReceivedPacket, path *Path, reason logging.PacketDropReason) {
	if p.logger.Debug() {
		p.logger.Debugf("Dropping %s packet %d (%d bytes) from %s: %s",
			p.encLevel, packet.PacketNumber, packet.Size(), path.Pathway().Remote, reason)
	}
	if p.tracer != nil && p.tracer.DroppedPacket != nil {
		p.tracer.DroppedPacket(p.encLevel, packet.PacketNumber, packet.Size(), reason)
	}
}
