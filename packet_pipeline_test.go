package qweave

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qweave/qweave/internal/handshake"
	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/qerr"
	"github.com/qweave/qweave/internal/utils"
	"github.com/qweave/qweave/internal/wire"
	"github.com/qweave/qweave/logging"
)

type packetDrop struct {
	encLevel logging.EncryptionLevel
	pn       logging.PacketNumber
	reason   logging.PacketDropReason
}

// A recordingTracer collects tracer events for inspection. All accessors
// return snapshots, safe to call while the connection is still running.
type recordingTracer struct {
	mx sync.Mutex

	received         []logging.PacketNumber
	drops            []packetDrop
	droppedEncLevels []logging.EncryptionLevel
	keyLevels        []logging.EncryptionLevel
	params           []*logging.TransportParameters
	evicted          []logging.Pathway
	closeErrs        []error
	closeCalls       int
}

func newRecordingTracer() *recordingTracer { return &recordingTracer{} }

func (r *recordingTracer) Tracer() *logging.ConnectionTracer {
	return &logging.ConnectionTracer{
		ReceivedPacket: func(_ logging.EncryptionLevel, pn logging.PacketNumber, _ logging.ByteCount, _ []logging.Frame) {
			r.mx.Lock()
			defer r.mx.Unlock()
			r.received = append(r.received, pn)
		},
		DroppedPacket: func(encLevel logging.EncryptionLevel, pn logging.PacketNumber, _ logging.ByteCount, reason logging.PacketDropReason) {
			r.mx.Lock()
			defer r.mx.Unlock()
			r.drops = append(r.drops, packetDrop{encLevel, pn, reason})
		},
		DroppedEncryptionLevel: func(encLevel logging.EncryptionLevel) {
			r.mx.Lock()
			defer r.mx.Unlock()
			r.droppedEncLevels = append(r.droppedEncLevels, encLevel)
		},
		UpdatedKeyFromTLS: func(encLevel logging.EncryptionLevel, _ logging.Perspective) {
			r.mx.Lock()
			defer r.mx.Unlock()
			r.keyLevels = append(r.keyLevels, encLevel)
		},
		ReceivedTransportParameters: func(p *logging.TransportParameters) {
			r.mx.Lock()
			defer r.mx.Unlock()
			r.params = append(r.params, p)
		},
		EvictedPath: func(pw logging.Pathway) {
			r.mx.Lock()
			defer r.mx.Unlock()
			r.evicted = append(r.evicted, pw)
		},
		ClosedConnection: func(err error) {
			r.mx.Lock()
			defer r.mx.Unlock()
			r.closeErrs = append(r.closeErrs, err)
		},
		Close: func() {
			r.mx.Lock()
			defer r.mx.Unlock()
			r.closeCalls++
		},
	}
}

func (r *recordingTracer) Received() []logging.PacketNumber {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]logging.PacketNumber{}, r.received...)
}

func (r *recordingTracer) Drops() []packetDrop {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]packetDrop{}, r.drops...)
}

func (r *recordingTracer) DroppedEncLevels() []logging.EncryptionLevel {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]logging.EncryptionLevel{}, r.droppedEncLevels...)
}

func (r *recordingTracer) KeyLevels() []logging.EncryptionLevel {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]logging.EncryptionLevel{}, r.keyLevels...)
}

func (r *recordingTracer) Params() []*logging.TransportParameters {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]*logging.TransportParameters{}, r.params...)
}

func (r *recordingTracer) Evicted() []logging.Pathway {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]logging.Pathway{}, r.evicted...)
}

func (r *recordingTracer) CloseErrs() []error {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]error{}, r.closeErrs...)
}

func (r *recordingTracer) CloseCalls() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.closeCalls
}

// testAEADs derives a deterministic AEAD pair from a seed. What the returned
// sealer seals, the returned opener opens.
func testAEADs(t *testing.T, seed byte) (handshake.Sealer, handshake.Opener) {
	t.Helper()
	connID := protocol.ParseConnectionID([]byte{seed, 0xca, 0xfe, seed})
	sealer, _, err := handshake.NewInitialAEAD(connID, protocol.PerspectiveClient)
	require.NoError(t, err)
	_, opener, err := handshake.NewInitialAEAD(connID, protocol.PerspectiveServer)
	require.NoError(t, err)
	return sealer, opener
}

func appendFrames(t *testing.T, frames ...wire.Frame) []byte {
	t.Helper()
	var b []byte
	var err error
	for _, f := range frames {
		b, err = f.Append(b, protocol.Version1)
		require.NoError(t, err)
	}
	return b
}

func sealedPacket(t *testing.T, sealer handshake.Sealer, pn protocol.PacketNumber, frames ...wire.Frame) *ReceivedPacket {
	t.Helper()
	hdr := []byte{0x40, byte(pn)}
	payload := sealer.Seal(nil, appendFrames(t, frames...), pn, hdr)
	return &ReceivedPacket{
		PacketNumber: pn,
		Header:       hdr,
		Payload:      payload,
		RcvTime:      time.Now(),
	}
}

func nextFrame(t *testing.T, ch <-chan wire.Frame) wire.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for a routed frame")
		return nil
	}
}

type pipelineEnv struct {
	pipeline  *packetPipeline
	keys      *handshake.Keys
	queue     *receiveQueue
	space     *packetSpace
	sealer    handshake.Sealer
	tracer    *recordingTracer
	path      *Path
	conn      chan wire.Frame
	spaceSink chan wire.Frame
	datagrams *datagramQueue
	done      chan error
}

// startPipeline assembles a pipeline for one encryption level and runs it.
// The returned sealer produces packets the pipeline's keys can open.
func startPipeline(t *testing.T, encLevel protocol.EncryptionLevel, armKeys bool) *pipelineEnv {
	t.Helper()
	sealer, opener := testAEADs(t, byte(encLevel))
	keys := handshake.NewKeys()
	if armKeys {
		keys.SetReady(handshake.KeyPair{Opener: opener})
	}
	tracer := newRecordingTracer()
	env := &pipelineEnv{
		keys:      keys,
		queue:     newReceiveQueue(),
		space:     newPacketSpace(encLevel, utils.DefaultLogger),
		sealer:    sealer,
		tracer:    tracer,
		path:      &Path{pathway: newTestPathway("203.0.113.5:443")},
		conn:      make(chan wire.Frame, 16),
		spaceSink: make(chan wire.Frame, 16),
		datagrams: newDatagramQueue(utils.DefaultLogger),
		done:      make(chan error, 1),
	}
	env.pipeline = newPacketPipeline(encLevel, keys, env.space, env.queue,
		wire.NewFrameParser(true), utils.DefaultLogger, tracer.Tracer())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		env.done <- env.pipeline.parsePacketsAndDispatch(ctx, frameSinks{
			conn:      env.conn,
			space:     env.spaceSink,
			datagrams: env.datagrams,
		})
	}()
	return env
}

func (env *pipelineEnv) waitDone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-env.done:
		return err
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the pipeline to return")
		return nil
	}
}

func TestPipelineDecryptsParsesAndRoutesSpaceFrames(t *testing.T) {
	env := startPipeline(t, protocol.EncryptionInitial, true)
	msg := composeCryptoMessage(1, []byte("client hello"))
	env.queue.Enqueue(sealedPacket(t, env.sealer, 0, &wire.CryptoFrame{Data: msg}, &wire.PingFrame{}), env.path)

	f := nextFrame(t, env.spaceSink)
	cf, ok := f.(*wire.CryptoFrame)
	require.True(t, ok, "expected a CRYPTO frame, got %T", f)
	require.Equal(t, msg, cf.Data)
	require.IsType(t, &wire.PingFrame{}, nextFrame(t, env.spaceSink))

	require.Equal(t, []logging.PacketNumber{0}, env.tracer.Received())
	require.True(t, env.space.isDuplicate(0))

	env.queue.Discard()
	require.NoError(t, env.waitDone(t))
}

func TestPipelineRoutesConnectionFrames(t *testing.T) {
	env := startPipeline(t, protocol.Encryption1RTT, true)
	env.queue.Enqueue(sealedPacket(t, env.sealer, 0,
		&wire.MaxDataFrame{MaximumData: 1337},
		&wire.HandshakeDoneFrame{},
	), env.path)

	f := nextFrame(t, env.conn)
	maxData, ok := f.(*wire.MaxDataFrame)
	require.True(t, ok, "expected a MAX_DATA frame, got %T", f)
	require.Equal(t, protocol.ByteCount(1337), maxData.MaximumData)
	require.IsType(t, &wire.HandshakeDoneFrame{}, nextFrame(t, env.conn))
}

func TestPipelineDropsUndecryptablePackets(t *testing.T) {
	env := startPipeline(t, protocol.EncryptionInitial, true)

	corrupted := sealedPacket(t, env.sealer, 0, &wire.PingFrame{})
	corrupted.Payload[0] ^= 0xff
	env.queue.Enqueue(corrupted, env.path)
	env.queue.Enqueue(sealedPacket(t, env.sealer, 1, &wire.PingFrame{}), env.path)

	require.IsType(t, &wire.PingFrame{}, nextFrame(t, env.spaceSink))
	require.Equal(t, []packetDrop{{protocol.EncryptionInitial, 0, logging.PacketDropPayloadDecryptError}}, env.tracer.Drops())
	require.Equal(t, []logging.PacketNumber{1}, env.tracer.Received())
}

func TestPipelineDropsDuplicatePackets(t *testing.T) {
	env := startPipeline(t, protocol.EncryptionInitial, true)

	env.queue.Enqueue(sealedPacket(t, env.sealer, 0, &wire.PingFrame{}), env.path)
	env.queue.Enqueue(sealedPacket(t, env.sealer, 0, &wire.PingFrame{}), env.path)
	env.queue.Enqueue(sealedPacket(t, env.sealer, 1, &wire.PingFrame{}), env.path)

	require.IsType(t, &wire.PingFrame{}, nextFrame(t, env.spaceSink))
	require.IsType(t, &wire.PingFrame{}, nextFrame(t, env.spaceSink))
	require.Equal(t, []logging.PacketNumber{0, 1}, env.tracer.Received())
	require.Equal(t, []packetDrop{{protocol.EncryptionInitial, 0, logging.PacketDropDuplicate}}, env.tracer.Drops())
}

func TestPipelineWaitsForPendingKeys(t *testing.T) {
	env := startPipeline(t, protocol.EncryptionHandshake, false)
	env.queue.Enqueue(sealedPacket(t, env.sealer, 0, &wire.PingFrame{}), env.path)

	select {
	case f := <-env.spaceSink:
		t.Fatalf("pipeline processed a packet without keys: %T", f)
	case <-time.After(10 * time.Millisecond):
	}

	_, opener := testAEADs(t, byte(protocol.EncryptionHandshake))
	env.keys.SetReady(handshake.KeyPair{Opener: opener})
	require.IsType(t, &wire.PingFrame{}, nextFrame(t, env.spaceSink))
}

func TestPipelineExitsWhenKeysAreDropped(t *testing.T) {
	env := startPipeline(t, protocol.EncryptionHandshake, false)
	env.queue.Enqueue(sealedPacket(t, env.sealer, 0, &wire.PingFrame{}), env.path)

	// the order used when an epoch is retired: keys first, then the queue
	env.keys.Invalidate()
	env.queue.Discard()

	require.NoError(t, env.waitDone(t))
	require.Equal(t, []packetDrop{{protocol.EncryptionHandshake, 0, logging.PacketDropKeyDiscarded}}, env.tracer.Drops())
}

func TestPipelineRejectsEmptyPackets(t *testing.T) {
	env := startPipeline(t, protocol.EncryptionInitial, true)

	hdr := []byte{0x40, 0x00}
	padding := make([]byte, 10)
	env.queue.Enqueue(&ReceivedPacket{
		Header:  hdr,
		Payload: env.sealer.Seal(nil, padding, 0, hdr),
		RcvTime: time.Now(),
	}, env.path)

	err := env.waitDone(t)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)
	require.Equal(t, "empty packet", transportErr.ErrorMessage)
}

func TestPipelineDeliversDatagrams(t *testing.T) {
	env := startPipeline(t, protocol.Encryption1RTT, true)
	env.queue.Enqueue(sealedPacket(t, env.sealer, 0, &wire.DatagramFrame{
		DataLenPresent: true,
		Data:           []byte("hello gophers"),
	}), env.path)

	data, err := env.datagrams.Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("hello gophers"), data)
}

func TestPipelineRejectsDatagramsWithoutASink(t *testing.T) {
	sealer, opener := testAEADs(t, byte(protocol.Encryption1RTT))
	keys := handshake.NewKeysFromPair(handshake.KeyPair{Opener: opener})
	queue := newReceiveQueue()
	space := newPacketSpace(protocol.Encryption1RTT, utils.DefaultLogger)
	pipeline := newPacketPipeline(protocol.Encryption1RTT, keys, space, queue,
		wire.NewFrameParser(true), utils.DefaultLogger, nil)

	queue.Enqueue(sealedPacket(t, sealer, 0, &wire.DatagramFrame{Data: []byte("hi")}), &Path{})

	done := make(chan error, 1)
	go func() {
		done <- pipeline.parsePacketsAndDispatch(context.Background(), frameSinks{
			conn:  make(chan wire.Frame, 1),
			space: make(chan wire.Frame, 1),
		})
	}()
	select {
	case err := <-done:
		var transportErr *qerr.TransportError
		require.ErrorAs(t, err, &transportErr)
		require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)
		require.Contains(t, transportErr.ErrorMessage, "datagram support is disabled")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the pipeline to return")
	}
}

func TestPipelineDetachesAckFramesFromTheParser(t *testing.T) {
	env := startPipeline(t, protocol.Encryption1RTT, true)
	env.queue.Enqueue(sealedPacket(t, env.sealer, 0, &wire.AckFrame{
		AckRanges: []wire.AckRange{{Smallest: 0, Largest: 2}},
	}), env.path)
	env.queue.Enqueue(sealedPacket(t, env.sealer, 1, &wire.AckFrame{
		AckRanges: []wire.AckRange{{Smallest: 5, Largest: 7}},
	}), env.path)

	first := nextFrame(t, env.spaceSink)
	second := nextFrame(t, env.spaceSink)
	firstAck, ok := first.(*wire.AckFrame)
	require.True(t, ok, "expected an ACK frame, got %T", first)
	secondAck, ok := second.(*wire.AckFrame)
	require.True(t, ok, "expected an ACK frame, got %T", second)

	// parsing the second ACK must not have rewritten the first
	require.Equal(t, []wire.AckRange{{Smallest: 0, Largest: 2}}, firstAck.AckRanges)
	require.Equal(t, []wire.AckRange{{Smallest: 5, Largest: 7}}, secondAck.AckRanges)
}

func TestPipelineReportsSpinBits(t *testing.T) {
	sealer, opener := testAEADs(t, byte(protocol.Encryption1RTT))
	keys := handshake.NewKeysFromPair(handshake.KeyPair{Opener: opener})
	queue := newReceiveQueue()
	space := newPacketSpace(protocol.Encryption1RTT, utils.DefaultLogger)
	pipeline := newPacketPipeline(protocol.Encryption1RTT, keys, space, queue,
		wire.NewFrameParser(false), utils.DefaultLogger, nil)

	type spinEvent struct {
		pn   protocol.PacketNumber
		spin bool
	}
	var spins []spinEvent // only touched by the pipeline goroutine until it returned
	pipeline.onSpin = func(pn protocol.PacketNumber, spin bool) {
		spins = append(spins, spinEvent{pn, spin})
	}

	p0 := sealedPacket(t, sealer, 0, &wire.PingFrame{})
	p0.Spin = true
	queue.Enqueue(p0, &Path{})
	queue.Enqueue(sealedPacket(t, sealer, 0, &wire.PingFrame{}), &Path{}) // duplicate
	queue.Enqueue(sealedPacket(t, sealer, 1, &wire.PingFrame{}), &Path{})

	spaceSink := make(chan wire.Frame, 16)
	done := make(chan error, 1)
	go func() {
		done <- pipeline.parsePacketsAndDispatch(context.Background(), frameSinks{
			conn:  make(chan wire.Frame, 16),
			space: spaceSink,
		})
	}()
	require.IsType(t, &wire.PingFrame{}, nextFrame(t, spaceSink))
	require.IsType(t, &wire.PingFrame{}, nextFrame(t, spaceSink))

	queue.Discard()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the pipeline to return")
	}
	require.Equal(t, []spinEvent{{0, true}, {1, false}}, spins)
}
