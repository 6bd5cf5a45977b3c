package qweave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qweave/qweave/internal/flowcontrol"
	"github.com/qweave/qweave/internal/handshake"
	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/qerr"
	"github.com/qweave/qweave/internal/utils"
	"github.com/qweave/qweave/internal/wire"
	"github.com/qweave/qweave/logging"
)

// A Conn is the core of one QUIC connection: it owns the four packet number
// spaces, the key epochs gating them, the receive pipelines, the handshake
// orchestration and the connection-level frame dispatch.
//
// Packets enter through the Receive* methods, handed over by the endpoint's
// demultiplexer. Everything else (packing, congestion control, loss
// detection, streams) sits on top, consuming the exported surface.
type Conn struct {
	perspective protocol.Perspective
	config      *Config
	logger      utils.Logger
	tracer      *logging.ConnectionTracer

	driver handshake.Driver

	initialKeys   *handshake.Keys
	handshakeKeys *handshake.Keys
	zeroRTTKeys   *handshake.Keys
	oneRTTKeys    *handshake.Keys

	initialQueue   *receiveQueue
	handshakeQueue *receiveQueue
	zeroRTTQueue   *receiveQueue
	oneRTTQueue    *receiveQueue

	initialSpace   *packetSpace
	handshakeSpace *packetSpace
	dataSpace      *dataSpace

	// oneRTTParser learns the peer's ack_delay_exponent when the transport
	// parameters arrive, before the 1-RTT keys are armed.
	oneRTTParser *wire.FrameParser

	connFrames chan wire.Frame
	datagrams  *datagramQueue

	flowController flowcontrol.ConnectionFlowController

	paths *pathMap

	state connState

	spinMx      sync.Mutex
	spinLargest protocol.PacketNumber
	spinValue   bool

	handshakeDoneOnce sync.Once
	handshakeComplete chan struct{}

	closeOnce      sync.Once
	traceCloseOnce sync.Once
	closed         chan struct{} // closed once all connection tasks ended

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewConnection assembles and starts the core of one connection.
// connID is the original destination connection ID; the Initial epoch's keys
// are derived from it, so both endpoints can talk before the TLS handshake
// produced any secrets.
func NewConnection(
	driver handshake.Driver,
	pers protocol.Perspective,
	connID protocol.ConnectionID,
	conf *Config,
) (*Conn, error) {
	conf = populateConfig(conf)
	logger := conf.Logger

	sealer, opener, err := handshake.NewInitialAEAD(connID, pers)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		perspective:       pers,
		config:            conf,
		logger:            logger,
		tracer:            conf.Tracer,
		driver:            driver,
		initialKeys:       handshake.NewKeysFromPair(handshake.KeyPair{Opener: opener, Sealer: sealer}),
		handshakeKeys:     handshake.NewKeys(),
		zeroRTTKeys:       handshake.NewKeys(),
		oneRTTKeys:        handshake.NewKeys(),
		initialQueue:      newReceiveQueue(),
		handshakeQueue:    newReceiveQueue(),
		zeroRTTQueue:      newReceiveQueue(),
		oneRTTQueue:       newReceiveQueue(),
		initialSpace:      newPacketSpace(protocol.EncryptionInitial, logger),
		handshakeSpace:    newPacketSpace(protocol.EncryptionHandshake, logger),
		dataSpace:         newDataSpace(logger),
		connFrames:        make(chan wire.Frame),
		datagrams:         newDatagramQueue(logger),
		handshakeComplete: make(chan struct{}),
		closed:            make(chan struct{}),
		spinLargest:       protocol.InvalidPacketNumber,
	}
	c.flowController = flowcontrol.NewConnectionFlowController(
		protocol.ByteCount(conf.InitialConnectionReceiveWindow),
		protocol.ByteCount(conf.MaxConnectionReceiveWindow),
		logger,
	)

	acks := &AckObserver{
		initial:   c.initialSpace,
		handshake: c.handshakeSpace,
		data:      c.dataSpace.packetSpace,
	}
	losses := &LossObserver{tracer: c.tracer, logger: logger}
	c.paths = newPathMap(conf.MaxPaths, conf.PathTimerGranularity, acks, losses, c.onPathEvicted)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.group, c.ctx = errgroup.WithContext(ctx)

	c.start(c.ctx)
	go c.supervise()
	return c, nil
}

// start launches the connection's tasks: four pipelines, three space
// consumers, the dispatch loop and the two handshake exchanges.
func (c *Conn) start(ctx context.Context) {
	initialPipeline := newPacketPipeline(protocol.EncryptionInitial,
		c.initialKeys, c.initialSpace, c.initialQueue, wire.NewFrameParser(false), c.logger, c.tracer)
	handshakePipeline := newPacketPipeline(protocol.EncryptionHandshake,
		c.handshakeKeys, c.handshakeSpace, c.handshakeQueue, wire.NewFrameParser(false), c.logger, c.tracer)
	zeroRTTPipeline := newPacketPipeline(protocol.Encryption0RTT,
		c.zeroRTTKeys, c.dataSpace.packetSpace, c.zeroRTTQueue, wire.NewFrameParser(c.config.EnableDatagrams), c.logger, c.tracer)
	c.oneRTTParser = wire.NewFrameParser(c.config.EnableDatagrams)
	oneRTTPipeline := newPacketPipeline(protocol.Encryption1RTT,
		c.oneRTTKeys, c.dataSpace.packetSpace, c.oneRTTQueue, c.oneRTTParser, c.logger, c.tracer)
	oneRTTPipeline.onSpin = c.updateSpin

	var datagrams *datagramQueue
	if c.config.EnableDatagrams {
		datagrams = c.datagrams
	}

	// The connection-frame channel is closed once the last pipeline exited;
	// the data space's frame channel once both of its pipelines exited.
	var pipelines sync.WaitGroup
	pipelines.Add(4)
	var dataProducers sync.WaitGroup
	dataProducers.Add(2)

	c.group.Go(func() error {
		defer pipelines.Done()
		defer close(c.initialSpace.frames)
		return initialPipeline.parsePacketsAndDispatch(ctx, frameSinks{
			conn:  c.connFrames,
			space: c.initialSpace.frames,
		})
	})
	c.group.Go(func() error {
		defer pipelines.Done()
		defer close(c.handshakeSpace.frames)
		return handshakePipeline.parsePacketsAndDispatch(ctx, frameSinks{
			conn:  c.connFrames,
			space: c.handshakeSpace.frames,
		})
	})
	c.group.Go(func() error {
		defer pipelines.Done()
		defer dataProducers.Done()
		return zeroRTTPipeline.parsePacketsAndDispatch(ctx, frameSinks{
			conn:      c.connFrames,
			space:     c.dataSpace.frames,
			datagrams: datagrams,
		})
	})
	c.group.Go(func() error {
		defer pipelines.Done()
		defer dataProducers.Done()
		return oneRTTPipeline.parsePacketsAndDispatch(ctx, frameSinks{
			conn:      c.connFrames,
			space:     c.dataSpace.frames,
			datagrams: datagrams,
		})
	})
	go func() {
		pipelines.Wait()
		close(c.connFrames)
	}()
	go func() {
		dataProducers.Wait()
		close(c.dataSpace.frames)
	}()

	c.group.Go(c.initialSpace.run)
	c.group.Go(c.handshakeSpace.run)
	c.group.Go(c.dataSpace.run)

	c.group.Go(c.dispatchLoop)

	c.group.Go(func() error { return c.runInitialExchange(ctx) })
	c.group.Go(func() error { return c.runHandshakeExchange(ctx) })
}

// supervise waits for the connection's tasks and performs the final teardown.
// The tracer is closed here, strictly after the last task stopped, so no
// event is recorded on a closed tracer.
func (c *Conn) supervise() {
	err := c.group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		c.closeWithError(err)
	}
	if c.tracer != nil && c.tracer.Close != nil {
		c.tracer.Close()
	}
	close(c.closed)
}

// runInitialExchange drives the handshake over the Initial space until the
// Handshake epoch's keys are available.
func (c *Conn) runInitialExchange(ctx context.Context) error {
	kp, err := c.driver.ExchangeInitial(ctx, c.initialSpace.crypto)
	if err != nil {
		return err
	}
	c.handshakeKeys.SetReady(kp)
	c.traceKeysReady(protocol.EncryptionHandshake)
	if zeroRTT, ok := c.driver.ZeroRTTKeys(); ok {
		c.zeroRTTKeys.SetReady(zeroRTT)
		c.traceKeysReady(protocol.Encryption0RTT)
	}
	return nil
}

// runHandshakeExchange drives the handshake over the Handshake space until
// the 1-RTT keys and the peer's transport parameters are in.
func (c *Conn) runHandshakeExchange(ctx context.Context) error {
	kp, params, err := c.driver.ExchangeHandshake(ctx, c.handshakeSpace.crypto)
	if err != nil {
		return err
	}
	c.dataSpace.ApplyTransportParameters(params)
	c.flowController.UpdateSendWindow(params.InitialMaxData)
	c.oneRTTParser.SetAckDelayExponent(params.AckDelayExponent)
	if c.tracer != nil && c.tracer.ReceivedTransportParameters != nil {
		c.tracer.ReceivedTransportParameters(params)
	}
	// Arming the keys comes last: by the time the 1-RTT pipeline unblocks,
	// the transport parameters must already be in effect.
	c.oneRTTKeys.SetReady(kp)
	c.traceKeysReady(protocol.Encryption1RTT)

	if c.perspective == protocol.PerspectiveServer {
		// The server confirms the handshake itself and tells the client.
		c.dataSpace.QueueControlFrame(&wire.HandshakeDoneFrame{})
		c.handshakeDone()
	}
	close(c.handshakeComplete)
	c.logger.Infof("Handshake complete")
	return nil
}

func (c *Conn) traceKeysReady(encLevel protocol.EncryptionLevel) {
	if c.tracer != nil && c.tracer.UpdatedKeyFromTLS != nil {
		// The driver hands over both directions' keys at once.
		c.tracer.UpdatedKeyFromTLS(encLevel, protocol.PerspectiveServer)
		c.tracer.UpdatedKeyFromTLS(encLevel, protocol.PerspectiveClient)
	}
}

// dispatchLoop consumes the connection-frame channel until the last pipeline
// exited. It is the single consumer of connection-level frames.
func (c *Conn) dispatchLoop() error {
	for f := range c.connFrames {
		if err := c.handleFrame(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) handleFrame(f wire.Frame) error {
	switch frame := f.(type) {
	case *wire.ConnectionCloseFrame:
		c.handleConnectionClose(frame)
	case *wire.MaxDataFrame:
		c.flowController.UpdateSendWindow(frame.MaximumData)
	case *wire.HandshakeDoneFrame:
		if c.perspective == protocol.PerspectiveServer {
			return &qerr.TransportError{
				ErrorCode:    qerr.ProtocolViolation,
				ErrorMessage: "received a HANDSHAKE_DONE frame",
			}
		}
		c.handshakeDone()
	case *wire.DataBlockedFrame:
		c.logger.Debugf("Peer is blocked at connection offset %d", frame.MaximumData)
	case *wire.NewTokenFrame:
		if c.config.ConnIDEvents == nil {
			c.logger.Debugf("Dropping NEW_TOKEN frame: no handler configured")
			return nil
		}
		return c.config.ConnIDEvents.HandleNewToken(frame)
	case *wire.NewConnectionIDFrame:
		if c.config.ConnIDEvents == nil {
			c.logger.Debugf("Dropping NEW_CONNECTION_ID frame: no handler configured")
			return nil
		}
		return c.config.ConnIDEvents.HandleNewConnectionID(frame)
	case *wire.RetireConnectionIDFrame:
		if c.config.ConnIDEvents == nil {
			c.logger.Debugf("Dropping RETIRE_CONNECTION_ID frame: no handler configured")
			return nil
		}
		return c.config.ConnIDEvents.HandleRetireConnectionID(frame)
	default:
		return &qerr.TransportError{
			ErrorCode:    qerr.InternalError,
			ErrorMessage: fmt.Sprintf("unexpected frame type on the connection queue: %T", f),
		}
	}
	return nil
}

// handleConnectionClose moves the connection to Draining. From here on it
// only waits out the drain period; the pipelines keep consuming, nothing of
// ours is originated anymore.
func (c *Conn) handleConnectionClose(f *wire.ConnectionCloseFrame) {
	if !c.state.transitionToDraining() {
		return
	}
	var err error
	if f.IsApplicationError {
		err = &qerr.ApplicationError{
			Remote:       true,
			ErrorCode:    qerr.ApplicationErrorCode(f.ErrorCode),
			ErrorMessage: f.ReasonPhrase,
		}
	} else {
		err = &qerr.TransportError{
			Remote:       true,
			ErrorCode:    qerr.TransportErrorCode(f.ErrorCode),
			FrameType:    f.FrameType,
			ErrorMessage: f.ReasonPhrase,
		}
	}
	c.logger.Infof("Peer closed the connection: %s", err)
	c.traceClosed(err)
}

// handshakeDone retires the Initial, Handshake and 0-RTT epochs: their keys
// are invalidated and their receive queues discarded in the same call, so the
// pipelines wake at their suspension points, drain nothing further and exit.
// It is idempotent; a retransmitted HANDSHAKE_DONE changes nothing.
func (c *Conn) handshakeDone() {
	c.handshakeDoneOnce.Do(func() {
		c.initialKeys.Invalidate()
		c.handshakeKeys.Invalidate()
		c.zeroRTTKeys.Invalidate()
		c.initialQueue.Discard()
		c.handshakeQueue.Discard()
		c.zeroRTTQueue.Discard()
		c.logger.Debugf("Handshake confirmed. Dropping Initial, Handshake and 0-RTT keys.")
		if c.tracer != nil && c.tracer.DroppedEncryptionLevel != nil {
			c.tracer.DroppedEncryptionLevel(protocol.EncryptionInitial)
			c.tracer.DroppedEncryptionLevel(protocol.EncryptionHandshake)
			c.tracer.DroppedEncryptionLevel(protocol.Encryption0RTT)
		}
	})
}

func (c *Conn) onPathEvicted(pathway protocol.Pathway) {
	c.logger.Debugf("Evicting path %s, path limit of %d reached", pathway, c.config.MaxPaths)
	if c.tracer != nil && c.tracer.EvictedPath != nil {
		c.tracer.EvictedPath(pathway)
	}
}

// ReceiveInitial hands the connection an Initial packet that arrived on the
// given pathway. Like all Receive methods it never blocks and must not be
// called anymore once the connection was closed.
func (c *Conn) ReceiveInitial(p *ReceivedPacket, sender Sender, pathway protocol.Pathway) {
	c.receive(c.initialQueue, protocol.EncryptionInitial, p, sender, pathway)
}

// ReceiveHandshake hands the connection a Handshake packet.
func (c *Conn) ReceiveHandshake(p *ReceivedPacket, sender Sender, pathway protocol.Pathway) {
	c.receive(c.handshakeQueue, protocol.EncryptionHandshake, p, sender, pathway)
}

// ReceiveZeroRTT hands the connection a 0-RTT packet.
func (c *Conn) ReceiveZeroRTT(p *ReceivedPacket, sender Sender, pathway protocol.Pathway) {
	c.receive(c.zeroRTTQueue, protocol.Encryption0RTT, p, sender, pathway)
}

// ReceiveOneRTT hands the connection a 1-RTT packet. The 1-RTT space lives
// exactly as long as the connection; this enqueue cannot fail.
func (c *Conn) ReceiveOneRTT(p *ReceivedPacket, sender Sender, pathway protocol.Pathway) {
	path := c.paths.getOrCreate(pathway, sender)
	if !c.oneRTTQueue.Enqueue(p, path) {
		panic("qweave BUG: the 1-RTT receive queue is gone")
	}
}

func (c *Conn) receive(queue *receiveQueue, encLevel protocol.EncryptionLevel, p *ReceivedPacket, sender Sender, pathway protocol.Pathway) {
	path := c.paths.getOrCreate(pathway, sender)
	if queue.Enqueue(p, path) {
		return
	}
	// The epoch was already retired. Not an error: late and reordered
	// packets of spent epochs are expected.
	if c.logger.Debug() {
		c.logger.Debugf("Dropping %s packet %d: keys already discarded", encLevel, p.PacketNumber)
	}
	if c.tracer != nil && c.tracer.DroppedPacket != nil {
		c.tracer.DroppedPacket(encLevel, p.PacketNumber, p.Size(), logging.PacketDropKeyDiscarded)
	}
}

// updateSpin follows the spin bit schema of RFC 9000, section 17.4: only the
// packet with the largest packet number seen so far moves the value. A server
// reflects the received spin, a client its inverse.
func (c *Conn) updateSpin(pn protocol.PacketNumber, spin bool) {
	c.spinMx.Lock()
	defer c.spinMx.Unlock()
	if pn <= c.spinLargest {
		return
	}
	c.spinLargest = pn
	if c.perspective == protocol.PerspectiveServer {
		c.spinValue = spin
	} else {
		c.spinValue = !spin
	}
}

// SpinBit returns the spin value for the next outgoing 1-RTT packet.
func (c *Conn) SpinBit() bool {
	c.spinMx.Lock()
	defer c.spinMx.Unlock()
	return c.spinValue
}

// AddBytesRead accounts application data consumed from the receive side and
// queues a MAX_DATA update once enough of the window was used up.
func (c *Conn) AddBytesRead(n ByteCount) {
	c.flowController.AddBytesRead(n)
	if offset := c.flowController.GetWindowUpdate(); offset > 0 {
		c.dataSpace.QueueControlFrame(&wire.MaxDataFrame{MaximumData: offset})
	}
}

// AddBytesSent accounts application data handed to the send side.
func (c *Conn) AddBytesSent(n ByteCount) {
	c.flowController.AddBytesSent(n)
}

// SendWindow returns the connection-level send budget the peer granted,
// minus what was already sent.
func (c *Conn) SendWindow() ByteCount {
	return c.flowController.SendWindowSize()
}

// QueueControlFrame queues a connection-level control frame for sending in a
// 1-RTT packet.
func (c *Conn) QueueControlFrame(f Frame) {
	c.dataSpace.QueueControlFrame(f)
}

// AppendControlFrames fills up to maxLen bytes of an outgoing 1-RTT packet
// with queued control frames.
func (c *Conn) AppendControlFrames(frames []OutgoingFrame, maxLen ByteCount) ([]OutgoingFrame, ByteCount) {
	return c.dataSpace.AppendControlFrames(frames, maxLen)
}

// GetAckFrame returns the ACK frame to send at the given encryption level,
// if any. If onlyIfQueued is set, an ACK is only returned once it is due.
func (c *Conn) GetAckFrame(encLevel EncryptionLevel, onlyIfQueued bool) *AckFrame {
	s := c.space(encLevel)
	if s == nil {
		return nil
	}
	return s.GetAckFrame(onlyIfQueued)
}

// GetAckAlarm returns the time at which a delayed ACK for the given
// encryption level wants to go out.
func (c *Conn) GetAckAlarm(encLevel EncryptionLevel) time.Time {
	s := c.space(encLevel)
	if s == nil {
		return time.Time{}
	}
	return s.GetAckAlarm()
}

// HasCryptoData reports whether crypto data is waiting to be sent at the
// given encryption level.
func (c *Conn) HasCryptoData(encLevel EncryptionLevel) bool {
	s := c.space(encLevel)
	return s != nil && s.crypto.HasData()
}

// PopCryptoFrame returns the next CRYPTO frame to send at the given
// encryption level, limited to a total frame size of maxLen.
func (c *Conn) PopCryptoFrame(encLevel EncryptionLevel, maxLen ByteCount) *CryptoFrame {
	s := c.space(encLevel)
	if s == nil {
		return nil
	}
	return s.crypto.PopCryptoFrame(maxLen)
}

func (c *Conn) space(encLevel protocol.EncryptionLevel) *packetSpace {
	switch encLevel {
	case protocol.EncryptionInitial:
		return c.initialSpace
	case protocol.EncryptionHandshake:
		return c.handshakeSpace
	case protocol.Encryption0RTT, protocol.Encryption1RTT:
		return c.dataSpace.packetSpace
	default:
		return nil
	}
}

// ReceiveDatagram returns the payload of the next DATAGRAM frame the peer
// sent. It blocks until one is available or the connection is closed.
func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	if !c.config.EnableDatagrams {
		return nil, errors.New("datagram support disabled")
	}
	return c.datagrams.Receive(ctx)
}

// SupportsDatagrams reports whether both this connection and the peer accept
// DATAGRAM frames.
func (c *Conn) SupportsDatagrams() bool {
	return c.config.EnableDatagrams && c.dataSpace.SupportsDatagrams()
}

// HandshakeComplete returns a channel that is closed once the handshake
// delivered the 1-RTT keys and the peer's transport parameters.
func (c *Conn) HandshakeComplete() <-chan struct{} {
	return c.handshakeComplete
}

// State returns the connection's lifecycle state.
func (c *Conn) State() State {
	return c.state.Current()
}

// Context returns a context that is cancelled when the connection stops
// running.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Close shuts the connection down locally and transitions it to Draining.
func (c *Conn) Close() error {
	c.closeWithError(&qerr.ApplicationError{ErrorCode: 0})
	<-c.closed
	return nil
}

func (c *Conn) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.state.transitionToDraining()
		if err == nil {
			c.logger.Infof("Connection closed.")
		} else {
			c.logger.Errorf("Closing connection: %s", err)
		}
		c.traceClosed(err)
		c.datagrams.CloseWithError(err)
		c.cancel()
	})
}

// traceClosed records the connection's terminal close event exactly once:
// a remote CONNECTION_CLOSE and the local teardown both lead here.
func (c *Conn) traceClosed(err error) {
	c.traceCloseOnce.Do(func() {
		if c.tracer != nil && c.tracer.ClosedConnection != nil {
			c.tracer.ClosedConnection(err)
		}
	})
}
