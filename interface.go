// Package qweave implements the connection core of a QUIC transport: the four
// packet number spaces, the key epochs gating them, the per-space receive
// pipelines, the handshake-driver orchestration and the connection-level frame
// dispatch. Packet framing, congestion control, loss detection, stream state
// and the TLS engine itself are consumed through narrow interfaces.
package qweave

import (
	"net/netip"

	"github.com/qweave/qweave/internal/ackhandler"
	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/utils"
	"github.com/qweave/qweave/internal/wire"
	"github.com/qweave/qweave/logging"
)

type (
	// A ByteCount is used to count bytes.
	ByteCount = protocol.ByteCount
	// A ConnectionID is a QUIC Connection ID.
	ConnectionID = protocol.ConnectionID
	// The EncryptionLevel is the encryption level of a packet.
	EncryptionLevel = protocol.EncryptionLevel
	// The PacketNumber is the packet number of a packet.
	PacketNumber = protocol.PacketNumber
	// A Pathway is a local / remote address pair identifying a network route.
	Pathway = protocol.Pathway
	// The Perspective is the role of an endpoint (client or server).
	Perspective = protocol.Perspective
	// A Version is a QUIC version number.
	Version = protocol.Version
)

type (
	// A Frame is a QUIC frame.
	Frame = wire.Frame
	// An AckFrame is an ACK frame.
	AckFrame = wire.AckFrame
	// A CryptoFrame is a CRYPTO frame.
	CryptoFrame = wire.CryptoFrame
	// An OutgoingFrame is a frame queued for sending, together with the
	// callbacks to invoke when the packet carrying it is acknowledged or lost.
	OutgoingFrame = ackhandler.Frame
)

const (
	// PerspectiveServer is the server side of a connection.
	PerspectiveServer = protocol.PerspectiveServer
	// PerspectiveClient is the client side of a connection.
	PerspectiveClient = protocol.PerspectiveClient
)

// A Logger logs at debug, info and error levels.
// The default implementation reads its level from the QWEAVE_LOG_LEVEL
// environment variable.
type Logger = utils.Logger

// A Sender transmits a datagram to a remote address. It is the narrowest
// contract the sending layer has to satisfy; paths are bound to the Sender
// their first packet arrived on.
type Sender interface {
	Send(b []byte, addr netip.AddrPort) (int, error)
}

// ConnectionIDEvents handles the connection-ID related frames the connection
// itself doesn't act on. Connection-ID management lives outside the core;
// this is its hook. Handlers returning an error close the connection.
type ConnectionIDEvents interface {
	HandleNewToken(*logging.NewTokenFrame) error
	HandleNewConnectionID(*logging.NewConnectionIDFrame) error
	HandleRetireConnectionID(*logging.RetireConnectionIDFrame) error
}
