package handshake

import (
	"context"
	"errors"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/wire"
)

// ErrKeysDropped is returned by Keys.Get after the keys have been invalidated.
// Once this is returned, no packet of that encryption epoch can ever be
// decrypted again.
var ErrKeysDropped = errors.New("keys dropped")

// ErrDecryptionFailed is returned by an Opener when a packet fails authentication.
var ErrDecryptionFailed = errors.New("decryption failed")

// A Sealer protects packets of one encryption epoch.
type Sealer interface {
	Seal(dst, src []byte, pn protocol.PacketNumber, associatedData []byte) []byte
	Overhead() int
}

// An Opener decrypts packets of one encryption epoch.
type Opener interface {
	Open(dst, src []byte, pn protocol.PacketNumber, associatedData []byte) ([]byte, error)
}

// A KeyPair is the Opener / Sealer pair of one encryption epoch.
type KeyPair struct {
	Opener Opener
	Sealer Sealer
}

// KeyState is the lifecycle state of the keys of one encryption epoch.
type KeyState uint8

const (
	// KeyStatePending means no key material has arrived yet.
	// Packets of this epoch are buffered, not dropped.
	KeyStatePending KeyState = iota
	// KeyStateReady means the keys can be used.
	KeyStateReady
	// KeyStateInvalid means the keys were dropped. This transition is one-way.
	KeyStateInvalid
)

func (s KeyState) String() string {
	switch s {
	case KeyStatePending:
		return "pending"
	case KeyStateReady:
		return "ready"
	case KeyStateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// A CryptoStream is the bidirectional CRYPTO message channel of one packet
// number space. The connection owns the implementation; the handshake driver
// reads and writes TLS messages through it.
type CryptoStream interface {
	// ReadMessage returns the next complete crypto message received in this
	// space, blocking until one is available.
	ReadMessage(context.Context) ([]byte, error)
	// WriteMessage queues a crypto message for sending in this space.
	WriteMessage([]byte) error
}

// The Driver runs the TLS handshake for a connection.
//
// The connection calls ExchangeInitial on the Initial space's crypto stream
// and, once that returned, ExchangeHandshake on the Handshake space's crypto
// stream. Implementations wrap the actual TLS stack.
type Driver interface {
	// ExchangeInitial exchanges crypto messages on the Initial space until the
	// Handshake epoch's keys are available.
	ExchangeInitial(ctx context.Context, stream CryptoStream) (KeyPair, error)
	// ExchangeHandshake exchanges crypto messages on the Handshake space until
	// the 1-RTT epoch's keys and the peer's transport parameters are available.
	ExchangeHandshake(ctx context.Context, stream CryptoStream) (KeyPair, *wire.TransportParameters, error)
	// ZeroRTTKeys returns the 0-RTT keys, if 0-RTT was accepted.
	// It is queried once, after ExchangeInitial completed.
	ZeroRTTKeys() (KeyPair, bool)
}
