// Package logging defines the qweave tracing interface.
// This package should not be considered stable.
package logging

import (
	"net/netip"
)

// A ConnectionTracer records events happening on a QUIC connection.
// Unset callbacks are skipped.
type ConnectionTracer struct {
	StartedConnection           func(local, remote netip.AddrPort, srcConnID, destConnID ConnectionID)
	ClosedConnection            func(error)
	ReceivedTransportParameters func(*TransportParameters)
	ReceivedPacket              func(encLevel EncryptionLevel, pn PacketNumber, size ByteCount, frames []Frame)
	DroppedPacket               func(encLevel EncryptionLevel, pn PacketNumber, size ByteCount, reason PacketDropReason)
	DroppedEncryptionLevel      func(EncryptionLevel)
	UpdatedKeyFromTLS           func(EncryptionLevel, Perspective)
	LostPacket                  func(EncryptionLevel, PacketNumber, PacketLossReason)
	EvictedPath                 func(Pathway)
	// Close is called when the connection is closed.
	Close func()
}

// NewMultiplexedConnectionTracer creates a new connection tracer that
// multiplexes events to multiple tracers.
func NewMultiplexedConnectionTracer(tracers ...*ConnectionTracer) *ConnectionTracer {
	if len(tracers) == 0 {
		return nil
	}
	if len(tracers) == 1 {
		return tracers[0]
	}
	return &ConnectionTracer{
		StartedConnection: func(local, remote netip.AddrPort, srcConnID, destConnID ConnectionID) {
			for _, t := range tracers {
				if t.StartedConnection != nil {
					t.StartedConnection(local, remote, srcConnID, destConnID)
				}
			}
		},
		ClosedConnection: func(e error) {
			for _, t := range tracers {
				if t.ClosedConnection != nil {
					t.ClosedConnection(e)
				}
			}
		},
		ReceivedTransportParameters: func(tp *TransportParameters) {
			for _, t := range tracers {
				if t.ReceivedTransportParameters != nil {
					t.ReceivedTransportParameters(tp)
				}
			}
		},
		ReceivedPacket: func(encLevel EncryptionLevel, pn PacketNumber, size ByteCount, frames []Frame) {
			for _, t := range tracers {
				if t.ReceivedPacket != nil {
					t.ReceivedPacket(encLevel, pn, size, frames)
				}
			}
		},
		DroppedPacket: func(encLevel EncryptionLevel, pn PacketNumber, size ByteCount, reason PacketDropReason) {
			for _, t := range tracers {
				if t.DroppedPacket != nil {
					t.DroppedPacket(encLevel, pn, size, reason)
				}
			}
		},
		DroppedEncryptionLevel: func(encLevel EncryptionLevel) {
			for _, t := range tracers {
				if t.DroppedEncryptionLevel != nil {
					t.DroppedEncryptionLevel(encLevel)
				}
			}
		},
		UpdatedKeyFromTLS: func(encLevel EncryptionLevel, perspective Perspective) {
			for _, t := range tracers {
				if t.UpdatedKeyFromTLS != nil {
					t.UpdatedKeyFromTLS(encLevel, perspective)
				}
			}
		},
		LostPacket: func(encLevel EncryptionLevel, pn PacketNumber, reason PacketLossReason) {
			for _, t := range tracers {
				if t.LostPacket != nil {
					t.LostPacket(encLevel, pn, reason)
				}
			}
		},
		EvictedPath: func(pathway Pathway) {
			for _, t := range tracers {
				if t.EvictedPath != nil {
					t.EvictedPath(pathway)
				}
			}
		},
		Close: func() {
			for _, t := range tracers {
				if t.Close != nil {
					t.Close()
				}
			}
		},
	}
}
