package qweave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/qweave/qweave/internal/handshake"
	"github.com/qweave/qweave/internal/mocks"
	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/qerr"
	"github.com/qweave/qweave/internal/wire"
	"github.com/qweave/qweave/logging"
)

var _ handshake.Driver = &mocks.MockDriver{}

func testConnID() protocol.ConnectionID {
	return protocol.ParseConnectionID([]byte{0xde, 0xad, 0xbe, 0xef, 0, 0, 0, 0x42})
}

func defaultTransportParameters() *wire.TransportParameters {
	return &wire.TransportParameters{
		InitialMaxData:   0x4000,
		AckDelayExponent: protocol.DefaultAckDelayExponent,
	}
}

// expectBlockedInitial keeps the Initial exchange running until the connection
// winds down, like a handshake that never hears back from the peer.
func expectBlockedInitial(driver *mocks.MockDriver) {
	driver.EXPECT().ExchangeInitial(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ handshake.CryptoStream) (handshake.KeyPair, error) {
			<-ctx.Done()
			return handshake.KeyPair{}, ctx.Err()
		},
	)
}

func expectBlockedHandshake(driver *mocks.MockDriver) {
	driver.EXPECT().ExchangeHandshake(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ handshake.CryptoStream) (handshake.KeyPair, *wire.TransportParameters, error) {
			<-ctx.Done()
			return handshake.KeyPair{}, nil, ctx.Err()
		},
	)
}

type connEnv struct {
	conn    *Conn
	tracer  *recordingTracer
	sender  *MockSender
	pathway protocol.Pathway

	initialSealer   handshake.Sealer
	handshakeSealer handshake.Sealer
	oneRTTSealer    handshake.Sealer
}

func (e *connEnv) receiveInitial(t *testing.T, pn protocol.PacketNumber, frames ...wire.Frame) {
	t.Helper()
	e.conn.ReceiveInitial(sealedPacket(t, e.initialSealer, pn, frames...), e.sender, e.pathway)
}

func (e *connEnv) receiveHandshake(t *testing.T, pn protocol.PacketNumber, frames ...wire.Frame) {
	t.Helper()
	e.conn.ReceiveHandshake(sealedPacket(t, e.handshakeSealer, pn, frames...), e.sender, e.pathway)
}

func (e *connEnv) receiveOneRTT(t *testing.T, pn protocol.PacketNumber, frames ...wire.Frame) {
	t.Helper()
	e.conn.ReceiveOneRTT(sealedPacket(t, e.oneRTTSealer, pn, frames...), e.sender, e.pathway)
}

func (e *connEnv) receiveOneRTTSpin(t *testing.T, pn protocol.PacketNumber, spin bool, frames ...wire.Frame) {
	t.Helper()
	p := sealedPacket(t, e.oneRTTSealer, pn, frames...)
	p.Spin = spin
	e.conn.ReceiveOneRTT(p, e.sender, e.pathway)
}

// waitForPacket blocks until the packet with the given number was processed by
// its pipeline. Tests use distinct packet numbers across encryption levels.
func (e *connEnv) waitForPacket(t *testing.T, pn protocol.PacketNumber) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, got := range e.tracer.Received() {
			if got == pn {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func newConnEnv(t *testing.T, ctrl *gomock.Controller, driver *mocks.MockDriver, pers protocol.Perspective, conf *Config) *connEnv {
	t.Helper()
	tracer := newRecordingTracer()
	if conf == nil {
		conf = &Config{}
	}
	conf.Tracer = tracer.Tracer()

	peerPers := protocol.PerspectiveClient
	if pers == protocol.PerspectiveClient {
		peerPers = protocol.PerspectiveServer
	}
	initialSealer, _, err := handshake.NewInitialAEAD(testConnID(), peerPers)
	require.NoError(t, err)

	conn, err := NewConnection(driver, pers, testConnID(), conf)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &connEnv{
		conn:          conn,
		tracer:        tracer,
		sender:        NewMockSender(ctrl),
		pathway:       newTestPathway("203.0.113.5:443"),
		initialSealer: initialSealer,
	}
}

// startConnection starts a connection whose handshake never completes.
func startConnection(t *testing.T, pers protocol.Perspective, conf *Config) *connEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	driver := mocks.NewMockDriver(ctrl)
	expectBlockedInitial(driver)
	expectBlockedHandshake(driver)
	return newConnEnv(t, ctrl, driver, pers, conf)
}

// startHandshakedConnection runs a connection through a handshake that
// completes immediately, arming Handshake and 1-RTT keys the tests can seal
// packets for.
func startHandshakedConnection(t *testing.T, pers protocol.Perspective, conf *Config, params *wire.TransportParameters) *connEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	driver := mocks.NewMockDriver(ctrl)

	hsSealer, hsOpener := testAEADs(t, 0x02)
	rtSealer, rtOpener := testAEADs(t, 0x03)
	if params == nil {
		params = defaultTransportParameters()
	}
	driver.EXPECT().ExchangeInitial(gomock.Any(), gomock.Any()).Return(handshake.KeyPair{Opener: hsOpener}, nil)
	driver.EXPECT().ZeroRTTKeys().Return(handshake.KeyPair{}, false)
	driver.EXPECT().ExchangeHandshake(gomock.Any(), gomock.Any()).Return(handshake.KeyPair{Opener: rtOpener}, params, nil)

	env := newConnEnv(t, ctrl, driver, pers, conf)
	env.handshakeSealer = hsSealer
	env.oneRTTSealer = rtSealer

	select {
	case <-env.conn.HandshakeComplete():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the handshake to complete")
	}
	return env
}

func TestConnectionServerHandshake(t *testing.T) {
	env := startHandshakedConnection(t, protocol.PerspectiveServer, nil, nil)
	conn := env.conn

	require.Equal(t, StateActive, conn.State())
	require.Equal(t, ByteCount(0x4000), conn.SendWindow())
	require.Len(t, env.tracer.Params(), 1)

	// the server confirms the handshake itself, so a HANDSHAKE_DONE is
	// waiting to be sent...
	frames, _ := conn.AppendControlFrames(nil, 1000)
	require.Len(t, frames, 1)
	require.IsType(t, &wire.HandshakeDoneFrame{}, frames[0].Frame)

	// ...and the Initial, Handshake and 0-RTT epochs are already retired
	require.Equal(t, []logging.EncryptionLevel{
		protocol.EncryptionInitial,
		protocol.EncryptionHandshake,
		protocol.Encryption0RTT,
	}, env.tracer.DroppedEncLevels())

	require.Eventually(t, func() bool { return len(env.tracer.KeyLevels()) == 4 }, time.Second, time.Millisecond)
	require.ElementsMatch(t, []logging.EncryptionLevel{
		protocol.EncryptionHandshake, protocol.EncryptionHandshake,
		protocol.Encryption1RTT, protocol.Encryption1RTT,
	}, env.tracer.KeyLevels())

	// Initial packets bounce off the retired epoch
	env.receiveInitial(t, 5, &wire.PingFrame{})
	require.Contains(t, env.tracer.Drops(), packetDrop{protocol.EncryptionInitial, 5, logging.PacketDropKeyDiscarded})
}

func TestConnectionClientHandshake(t *testing.T) {
	env := startHandshakedConnection(t, protocol.PerspectiveClient, nil, nil)
	conn := env.conn

	// the client doesn't send HANDSHAKE_DONE and keeps the early epochs alive
	frames, _ := conn.AppendControlFrames(nil, 1000)
	require.Empty(t, frames)
	require.Empty(t, env.tracer.DroppedEncLevels())

	env.receiveInitial(t, 0, &wire.PingFrame{})
	require.Eventually(t, func() bool {
		ack := conn.GetAckFrame(protocol.EncryptionInitial, false)
		return ack != nil && ack.AcksPacket(0)
	}, time.Second, time.Millisecond)
	env.receiveHandshake(t, 5, &wire.PingFrame{})
	require.Eventually(t, func() bool {
		ack := conn.GetAckFrame(protocol.EncryptionHandshake, false)
		return ack != nil && ack.AcksPacket(5)
	}, time.Second, time.Millisecond)

	// HANDSHAKE_DONE from the server retires the early epochs
	env.receiveOneRTT(t, 10, &wire.HandshakeDoneFrame{})
	require.Eventually(t, func() bool { return len(env.tracer.DroppedEncLevels()) == 3 }, time.Second, time.Millisecond)
	require.Equal(t, []logging.EncryptionLevel{
		protocol.EncryptionInitial,
		protocol.EncryptionHandshake,
		protocol.Encryption0RTT,
	}, env.tracer.DroppedEncLevels())

	// a retransmitted HANDSHAKE_DONE changes nothing
	env.receiveOneRTT(t, 11, &wire.HandshakeDoneFrame{})
	env.waitForPacket(t, 11)
	require.Len(t, env.tracer.DroppedEncLevels(), 3)

	// late packets of the early epochs are dropped now
	env.receiveInitial(t, 1, &wire.PingFrame{})
	env.receiveHandshake(t, 6, &wire.PingFrame{})
	drops := env.tracer.Drops()
	require.Contains(t, drops, packetDrop{protocol.EncryptionInitial, 1, logging.PacketDropKeyDiscarded})
	require.Contains(t, drops, packetDrop{protocol.EncryptionHandshake, 6, logging.PacketDropKeyDiscarded})
	require.Equal(t, StateActive, conn.State())
}

func TestConnectionServerRejectsHandshakeDone(t *testing.T) {
	env := startHandshakedConnection(t, protocol.PerspectiveServer, nil, nil)
	env.receiveOneRTT(t, 10, &wire.HandshakeDoneFrame{})

	select {
	case <-env.conn.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the connection to stop")
	}
	require.Eventually(t, func() bool { return len(env.tracer.CloseErrs()) == 1 }, time.Second, time.Millisecond)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, env.tracer.CloseErrs()[0], &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)
	require.Equal(t, StateDraining, env.conn.State())
	require.Eventually(t, func() bool { return env.tracer.CloseCalls() == 1 }, time.Second, time.Millisecond)
}

func TestConnectionHandshakeDrivenByCryptoStreams(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := mocks.NewMockDriver(ctrl)
	_, hsOpener := testAEADs(t, 0x02)
	_, rtOpener := testAEADs(t, 0x03)

	clientHello := composeCryptoMessage(1, []byte("client hello"))
	serverHello := composeCryptoMessage(2, []byte("server hello"))
	received := make(chan []byte, 1)
	initialDone := make(chan struct{})

	driver.EXPECT().ExchangeInitial(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, stream handshake.CryptoStream) (handshake.KeyPair, error) {
			defer close(initialDone)
			msg, err := stream.ReadMessage(ctx)
			if err != nil {
				return handshake.KeyPair{}, err
			}
			received <- msg
			if err := stream.WriteMessage(serverHello); err != nil {
				return handshake.KeyPair{}, err
			}
			return handshake.KeyPair{Opener: hsOpener}, nil
		},
	)
	driver.EXPECT().ZeroRTTKeys().Return(handshake.KeyPair{}, false)
	driver.EXPECT().ExchangeHandshake(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ handshake.CryptoStream) (handshake.KeyPair, *wire.TransportParameters, error) {
			select {
			case <-initialDone:
			case <-ctx.Done():
				return handshake.KeyPair{}, nil, ctx.Err()
			}
			return handshake.KeyPair{Opener: rtOpener}, defaultTransportParameters(), nil
		},
	)
	env := newConnEnv(t, ctrl, driver, protocol.PerspectiveServer, nil)

	// a CRYPTO frame flows through the Initial pipeline into the driver
	env.receiveInitial(t, 0, &wire.CryptoFrame{Data: clientHello})
	select {
	case msg := <-received:
		require.Equal(t, clientHello, msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the driver to read the crypto message")
	}

	select {
	case <-env.conn.HandshakeComplete():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the handshake to complete")
	}

	// the driver's reply is waiting to be packed into an Initial packet
	require.True(t, env.conn.HasCryptoData(protocol.EncryptionInitial))
	f := env.conn.PopCryptoFrame(protocol.EncryptionInitial, 1000)
	require.NotNil(t, f)
	require.Zero(t, f.Offset)
	require.Equal(t, serverHello, f.Data)
	require.False(t, env.conn.HasCryptoData(protocol.EncryptionInitial))
}

func TestConnectionHandshakeFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := mocks.NewMockDriver(ctrl)
	handshakeErr := errors.New("handshake failure: bad certificate")
	driver.EXPECT().ExchangeInitial(gomock.Any(), gomock.Any()).Return(handshake.KeyPair{}, handshakeErr)
	expectBlockedHandshake(driver)
	env := newConnEnv(t, ctrl, driver, protocol.PerspectiveClient, nil)

	select {
	case <-env.conn.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the connection to stop")
	}
	require.Eventually(t, func() bool { return len(env.tracer.CloseErrs()) == 1 }, time.Second, time.Millisecond)
	require.ErrorIs(t, env.tracer.CloseErrs()[0], handshakeErr)
	require.Equal(t, StateDraining, env.conn.State())
}

func TestConnectionZeroRTT(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := mocks.NewMockDriver(ctrl)
	zSealer, zOpener := testAEADs(t, 0x04)
	_, hsOpener := testAEADs(t, 0x02)
	driver.EXPECT().ExchangeInitial(gomock.Any(), gomock.Any()).Return(handshake.KeyPair{Opener: hsOpener}, nil)
	driver.EXPECT().ZeroRTTKeys().Return(handshake.KeyPair{Opener: zOpener}, true)
	expectBlockedHandshake(driver)
	env := newConnEnv(t, ctrl, driver, protocol.PerspectiveServer, nil)

	// 0-RTT packets are processed as soon as the Initial exchange is done
	env.conn.ReceiveZeroRTT(sealedPacket(t, zSealer, 7, &wire.PingFrame{}), env.sender, env.pathway)
	env.waitForPacket(t, 7)
	ack := env.conn.GetAckFrame(protocol.Encryption0RTT, false)
	require.NotNil(t, ack)
	require.True(t, ack.AcksPacket(7))
	require.Contains(t, env.tracer.KeyLevels(), logging.Encryption0RTT)
}

func TestConnectionRemoteClose(t *testing.T) {
	env := startHandshakedConnection(t, protocol.PerspectiveServer, nil, nil)
	env.receiveOneRTT(t, 10, &wire.ConnectionCloseFrame{
		IsApplicationError: true,
		ErrorCode:          42,
		ReasonPhrase:       "kthxbye",
	})

	require.Eventually(t, func() bool { return len(env.tracer.CloseErrs()) == 1 }, time.Second, time.Millisecond)
	var appErr *qerr.ApplicationError
	require.ErrorAs(t, env.tracer.CloseErrs()[0], &appErr)
	require.True(t, appErr.Remote)
	require.Equal(t, qerr.ApplicationErrorCode(42), appErr.ErrorCode)
	require.Equal(t, "kthxbye", appErr.ErrorMessage)
	require.Equal(t, StateDraining, env.conn.State())

	// draining, not gone: the pipelines keep consuming
	select {
	case <-env.conn.Context().Done():
		t.Fatal("the connection stopped running")
	default:
	}
	env.receiveOneRTT(t, 11, &wire.PingFrame{})
	env.waitForPacket(t, 11)
	ack := env.conn.GetAckFrame(protocol.Encryption1RTT, false)
	require.NotNil(t, ack)
	require.True(t, ack.AcksPacket(11))
}

func TestConnectionLocalClose(t *testing.T) {
	env := startConnection(t, protocol.PerspectiveServer, nil)
	conn := env.conn

	require.NoError(t, conn.Close())
	require.Equal(t, StateDraining, conn.State())
	select {
	case <-conn.Context().Done():
	default:
		t.Fatal("the connection context is still alive")
	}
	require.Equal(t, 1, env.tracer.CloseCalls())
	closeErrs := env.tracer.CloseErrs()
	require.Len(t, closeErrs, 1)
	var appErr *qerr.ApplicationError
	require.ErrorAs(t, closeErrs[0], &appErr)
	require.False(t, appErr.Remote)

	// closing again changes nothing
	require.NoError(t, conn.Close())
	require.Equal(t, 1, env.tracer.CloseCalls())
	require.Len(t, env.tracer.CloseErrs(), 1)
}

func TestConnectionClosesOnEmptyPacket(t *testing.T) {
	env := startHandshakedConnection(t, protocol.PerspectiveServer, nil, nil)

	// a packet containing only PADDING is a protocol violation
	hdr := []byte{0x40, 10}
	env.conn.ReceiveOneRTT(&ReceivedPacket{
		PacketNumber: 10,
		Header:       hdr,
		Payload:      env.oneRTTSealer.Seal(nil, make([]byte, 10), 10, hdr),
		RcvTime:      time.Now(),
	}, env.sender, env.pathway)

	select {
	case <-env.conn.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the connection to stop")
	}
	require.Eventually(t, func() bool { return len(env.tracer.CloseErrs()) == 1 }, time.Second, time.Millisecond)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, env.tracer.CloseErrs()[0], &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)
	require.Equal(t, "empty packet", transportErr.ErrorMessage)
	require.Equal(t, StateDraining, env.conn.State())
}

func TestConnectionFlowControl(t *testing.T) {
	params := defaultTransportParameters()
	params.InitialMaxData = 1000
	env := startHandshakedConnection(t, protocol.PerspectiveServer, nil, params)
	conn := env.conn

	require.Equal(t, ByteCount(1000), conn.SendWindow())
	conn.AddBytesSent(400)
	require.Equal(t, ByteCount(600), conn.SendWindow())

	env.receiveOneRTT(t, 10, &wire.MaxDataFrame{MaximumData: 5000})
	require.Eventually(t, func() bool { return conn.SendWindow() == 4600 }, time.Second, time.Millisecond)

	// a MAX_DATA regressing the limit is ignored
	env.receiveOneRTT(t, 11, &wire.MaxDataFrame{MaximumData: 4000})
	env.waitForPacket(t, 11)
	require.Equal(t, ByteCount(4600), conn.SendWindow())
}

func TestConnectionQueuesWindowUpdates(t *testing.T) {
	conf := &Config{InitialConnectionReceiveWindow: 100}
	env := startHandshakedConnection(t, protocol.PerspectiveClient, conf, nil)
	conn := env.conn

	frames, _ := conn.AppendControlFrames(nil, 1000)
	require.Empty(t, frames)

	// reading beyond the window update threshold queues a MAX_DATA, with the
	// window size doubled
	conn.AddBytesRead(80)
	frames, _ = conn.AppendControlFrames(nil, 1000)
	require.Len(t, frames, 1)
	maxData, ok := frames[0].Frame.(*wire.MaxDataFrame)
	require.True(t, ok)
	require.Equal(t, ByteCount(280), maxData.MaximumData)

	// reading a little more doesn't
	conn.AddBytesRead(10)
	frames, _ = conn.AppendControlFrames(nil, 1000)
	require.Empty(t, frames)
}

func TestConnectionToleratesDataBlockedFrames(t *testing.T) {
	env := startHandshakedConnection(t, protocol.PerspectiveServer, nil, nil)
	env.receiveOneRTT(t, 10, &wire.DataBlockedFrame{MaximumData: 0x4000})
	env.receiveOneRTT(t, 11, &wire.MaxDataFrame{MaximumData: 0x8000})
	require.Eventually(t, func() bool { return env.conn.SendWindow() == 0x8000 }, time.Second, time.Millisecond)
	select {
	case <-env.conn.Context().Done():
		t.Fatal("the connection stopped running")
	default:
	}
}

func TestConnectionSpinBitServer(t *testing.T) {
	env := startHandshakedConnection(t, protocol.PerspectiveServer, nil, nil)
	conn := env.conn
	require.False(t, conn.SpinBit())

	// the server reflects the peer's spin value
	env.receiveOneRTTSpin(t, 11, true, &wire.PingFrame{})
	require.Eventually(t, func() bool { return conn.SpinBit() }, time.Second, time.Millisecond)

	// a reordered packet doesn't move it
	env.receiveOneRTTSpin(t, 10, false, &wire.PingFrame{})
	env.waitForPacket(t, 10)
	require.True(t, conn.SpinBit())

	env.receiveOneRTTSpin(t, 12, false, &wire.PingFrame{})
	require.Eventually(t, func() bool { return !conn.SpinBit() }, time.Second, time.Millisecond)
}

func TestConnectionSpinBitClient(t *testing.T) {
	env := startHandshakedConnection(t, protocol.PerspectiveClient, nil, nil)
	// the client inverts the peer's spin value
	env.receiveOneRTTSpin(t, 10, false, &wire.PingFrame{})
	require.Eventually(t, func() bool { return env.conn.SpinBit() }, time.Second, time.Millisecond)
}

func TestConnectionReceivesDatagrams(t *testing.T) {
	conf := &Config{EnableDatagrams: true}
	params := defaultTransportParameters()
	params.MaxDatagramFrameSize = 1452
	env := startHandshakedConnection(t, protocol.PerspectiveServer, conf, params)
	require.True(t, env.conn.SupportsDatagrams())

	env.receiveOneRTT(t, 10, &wire.DatagramFrame{DataLenPresent: true, Data: []byte("hello gophers")})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, err := env.conn.ReceiveDatagram(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello gophers"), data)
}

func TestConnectionDatagramsDisabled(t *testing.T) {
	env := startHandshakedConnection(t, protocol.PerspectiveServer, nil, nil)
	require.False(t, env.conn.SupportsDatagrams())
	_, err := env.conn.ReceiveDatagram(context.Background())
	require.EqualError(t, err, "datagram support disabled")

	// a DATAGRAM frame is not a valid frame for this connection
	env.receiveOneRTT(t, 10, &wire.DatagramFrame{DataLenPresent: true, Data: []byte("nope")})
	require.Eventually(t, func() bool { return len(env.tracer.CloseErrs()) == 1 }, time.Second, time.Millisecond)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, env.tracer.CloseErrs()[0], &transportErr)
	require.Equal(t, qerr.FrameEncodingError, transportErr.ErrorCode)
}

func TestConnectionDatagramsRequirePeerSupport(t *testing.T) {
	conf := &Config{EnableDatagrams: true}
	// the default transport parameters leave max_datagram_frame_size at zero
	env := startHandshakedConnection(t, protocol.PerspectiveServer, conf, nil)
	require.False(t, env.conn.SupportsDatagrams())
}

// connIDEventsRecorder collects the connection-ID frames handed to the
// ConnectionIDEvents hook.
type connIDEventsRecorder struct {
	mx      sync.Mutex
	tokens  []*wire.NewTokenFrame
	issued  []*wire.NewConnectionIDFrame
	retired []*wire.RetireConnectionIDFrame
	err     error
}

func (r *connIDEventsRecorder) HandleNewToken(f *logging.NewTokenFrame) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.tokens = append(r.tokens, f)
	return r.err
}

func (r *connIDEventsRecorder) HandleNewConnectionID(f *logging.NewConnectionIDFrame) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.issued = append(r.issued, f)
	return r.err
}

func (r *connIDEventsRecorder) HandleRetireConnectionID(f *logging.RetireConnectionIDFrame) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.retired = append(r.retired, f)
	return r.err
}

func (r *connIDEventsRecorder) counts() (int, int, int) {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.tokens), len(r.issued), len(r.retired)
}

func TestConnectionDispatchesConnIDFrames(t *testing.T) {
	events := &connIDEventsRecorder{}
	conf := &Config{ConnIDEvents: events}
	env := startHandshakedConnection(t, protocol.PerspectiveClient, conf, nil)

	env.receiveOneRTT(t, 10,
		&wire.NewTokenFrame{Token: []byte("token")},
		&wire.NewConnectionIDFrame{
			SequenceNumber:      1,
			ConnectionID:        protocol.ParseConnectionID([]byte{1, 2, 3, 4}),
			StatelessResetToken: protocol.StatelessResetToken{0x42},
		},
		&wire.RetireConnectionIDFrame{SequenceNumber: 0},
	)
	require.Eventually(t, func() bool {
		tokens, issued, retired := events.counts()
		return tokens == 1 && issued == 1 && retired == 1
	}, time.Second, time.Millisecond)

	events.mx.Lock()
	defer events.mx.Unlock()
	require.Equal(t, []byte("token"), events.tokens[0].Token)
	require.Equal(t, uint64(1), events.issued[0].SequenceNumber)
	require.Equal(t, protocol.ParseConnectionID([]byte{1, 2, 3, 4}), events.issued[0].ConnectionID)
	require.Equal(t, uint64(0), events.retired[0].SequenceNumber)
}

func TestConnectionClosesOnConnIDHandlerError(t *testing.T) {
	handlerErr := errors.New("too many connection IDs")
	events := &connIDEventsRecorder{err: handlerErr}
	conf := &Config{ConnIDEvents: events}
	env := startHandshakedConnection(t, protocol.PerspectiveClient, conf, nil)

	env.receiveOneRTT(t, 10, &wire.NewConnectionIDFrame{
		SequenceNumber: 1,
		ConnectionID:   protocol.ParseConnectionID([]byte{1, 2, 3, 4}),
	})
	select {
	case <-env.conn.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the connection to stop")
	}
	require.Eventually(t, func() bool { return len(env.tracer.CloseErrs()) == 1 }, time.Second, time.Millisecond)
	require.ErrorIs(t, env.tracer.CloseErrs()[0], handlerErr)
}

func TestConnectionDropsConnIDFramesWithoutHandler(t *testing.T) {
	env := startHandshakedConnection(t, protocol.PerspectiveClient, nil, nil)
	env.receiveOneRTT(t, 10,
		&wire.NewTokenFrame{Token: []byte("token")},
		&wire.MaxDataFrame{MaximumData: 0x5000},
	)
	// the MAX_DATA following in the same packet proves the NEW_TOKEN was
	// consumed without closing the connection
	require.Eventually(t, func() bool { return env.conn.SendWindow() == 0x5000 }, time.Second, time.Millisecond)
	select {
	case <-env.conn.Context().Done():
		t.Fatal("the connection stopped running")
	default:
	}
}

func TestConnectionEvictsPaths(t *testing.T) {
	conf := &Config{MaxPaths: 2}
	env := startConnection(t, protocol.PerspectiveServer, conf)

	pwA := newTestPathway("203.0.113.1:443")
	pwB := newTestPathway("203.0.113.2:443")
	pwC := newTestPathway("203.0.113.3:443")
	packet := func(pn protocol.PacketNumber) *ReceivedPacket {
		return &ReceivedPacket{PacketNumber: pn, Header: []byte{0x40, byte(pn)}, Payload: []byte{1, 2, 3}, RcvTime: time.Now()}
	}
	env.conn.ReceiveOneRTT(packet(0), env.sender, pwA)
	env.conn.ReceiveOneRTT(packet(1), env.sender, pwB)
	env.conn.ReceiveOneRTT(packet(2), env.sender, pwA)
	env.conn.ReceiveOneRTT(packet(3), env.sender, pwC)

	require.Equal(t, []logging.Pathway{pwB}, env.tracer.Evicted())
}

func TestConnectionAckSurface(t *testing.T) {
	env := startHandshakedConnection(t, protocol.PerspectiveServer, nil, nil)
	conn := env.conn
	require.Nil(t, conn.GetAckFrame(protocol.Encryption1RTT, true))

	env.receiveOneRTT(t, 10, &wire.PingFrame{})
	var ack *wire.AckFrame
	require.Eventually(t, func() bool {
		ack = conn.GetAckFrame(protocol.Encryption1RTT, true)
		return ack != nil
	}, time.Second, time.Millisecond)
	require.True(t, ack.AcksPacket(10))

	// the queued ACK was consumed, the receive history wasn't
	require.Nil(t, conn.GetAckFrame(protocol.Encryption1RTT, true))
	require.True(t, conn.GetAckAlarm(protocol.Encryption1RTT).IsZero())
	ack = conn.GetAckFrame(protocol.Encryption1RTT, false)
	require.NotNil(t, ack)
	require.True(t, ack.AcksPacket(10))

	// an unknown encryption level has no ACK state
	require.Nil(t, conn.GetAckFrame(protocol.EncryptionLevel(0), false))
	require.True(t, conn.GetAckAlarm(protocol.EncryptionLevel(0)).IsZero())
}
