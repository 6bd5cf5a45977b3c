// Package qlog implements a qlog tracer (draft-02, NDJSON serialization).
package qlog

import (
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/logging"
)

// NewConnectionTracer creates a new tracer to record a qlog for a connection.
func NewConnectionTracer(w io.WriteCloser, p logging.Perspective, odcid logging.ConnectionID) *logging.ConnectionTracer {
	tr := &trace{
		VantagePoint: vantagePoint{Type: p},
		CommonFields: commonFields{
			ODCID:         odcid,
			GroupID:       odcid,
			ReferenceTime: time.Now(),
		},
	}
	t := connectionTracer{
		w:           newWriter(w, tr),
		perspective: p,
	}
	go t.w.Run()
	return &logging.ConnectionTracer{
		StartedConnection: func(local, remote netip.AddrPort, srcConnID, destConnID logging.ConnectionID) {
			t.StartedConnection(local, remote, srcConnID, destConnID)
		},
		ClosedConnection: func(e error) {
			t.ClosedConnection(e)
		},
		ReceivedTransportParameters: func(params *logging.TransportParameters) {
			t.ReceivedTransportParameters(params)
		},
		ReceivedPacket: func(encLevel logging.EncryptionLevel, pn logging.PacketNumber, size logging.ByteCount, frames []logging.Frame) {
			t.ReceivedPacket(encLevel, pn, size, frames)
		},
		DroppedPacket: func(encLevel logging.EncryptionLevel, pn logging.PacketNumber, size logging.ByteCount, reason logging.PacketDropReason) {
			t.DroppedPacket(encLevel, pn, size, reason)
		},
		DroppedEncryptionLevel: func(encLevel logging.EncryptionLevel) {
			t.DroppedEncryptionLevel(encLevel)
		},
		UpdatedKeyFromTLS: func(encLevel logging.EncryptionLevel, pers logging.Perspective) {
			t.UpdatedKeyFromTLS(encLevel, pers)
		},
		LostPacket: func(encLevel logging.EncryptionLevel, pn logging.PacketNumber, reason logging.PacketLossReason) {
			t.LostPacket(encLevel, pn, reason)
		},
		EvictedPath: func(pathway logging.Pathway) {
			t.EvictedPath(pathway)
		},
		Close: func() {
			t.Close()
		},
	}
}

type connectionTracer struct {
	mutex sync.Mutex

	w           *writer
	perspective logging.Perspective
}

func (t *connectionTracer) recordEvent(eventTime time.Time, details eventDetails) {
	t.w.RecordEvent(eventTime, details)
}

func (t *connectionTracer) StartedConnection(local, remote netip.AddrPort, srcConnID, destConnID logging.ConnectionID) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.recordEvent(time.Now(), &eventConnectionStarted{
		SrcAddr:          local,
		DestAddr:         remote,
		SrcConnectionID:  srcConnID,
		DestConnectionID: destConnID,
	})
}

func (t *connectionTracer) ClosedConnection(e error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.recordEvent(time.Now(), &eventConnectionClosed{e: e})
}

func (t *connectionTracer) ReceivedTransportParameters(params *logging.TransportParameters) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.recordEvent(time.Now(), &eventTransportParameters{Owner: ownerRemote, Params: params})
}

func (t *connectionTracer) ReceivedPacket(encLevel logging.EncryptionLevel, pn logging.PacketNumber, size logging.ByteCount, fs []logging.Frame) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.recordEvent(time.Now(), &eventPacketReceived{
		Header: packetHeader{PacketType: encLevelToPacketType(encLevel), PacketNumber: pn},
		Raw:    rawInfo{Length: size},
		Frames: frames(fs),
	})
}

func (t *connectionTracer) DroppedPacket(encLevel logging.EncryptionLevel, pn logging.PacketNumber, size logging.ByteCount, reason logging.PacketDropReason) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.recordEvent(time.Now(), &eventPacketDropped{
		Header:  packetHeader{PacketType: encLevelToPacketType(encLevel), PacketNumber: pn},
		Raw:     rawInfo{Length: size},
		Trigger: reason,
	})
}

func (t *connectionTracer) DroppedEncryptionLevel(encLevel logging.EncryptionLevel) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	now := time.Now()
	if encLevel == protocol.Encryption0RTT {
		t.recordEvent(now, &eventKeyDiscarded{KeyType: encLevelToKeyType(encLevel, t.perspective)})
		return
	}
	t.recordEvent(now, &eventKeyDiscarded{KeyType: encLevelToKeyType(encLevel, protocol.PerspectiveServer)})
	t.recordEvent(now, &eventKeyDiscarded{KeyType: encLevelToKeyType(encLevel, protocol.PerspectiveClient)})
}

func (t *connectionTracer) UpdatedKeyFromTLS(encLevel logging.EncryptionLevel, pers logging.Perspective) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.recordEvent(time.Now(), &eventKeyUpdated{KeyType: encLevelToKeyType(encLevel, pers)})
}

func (t *connectionTracer) LostPacket(encLevel logging.EncryptionLevel, pn logging.PacketNumber, reason logging.PacketLossReason) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.recordEvent(time.Now(), &eventPacketLost{
		Header:  packetHeader{PacketType: encLevelToPacketType(encLevel), PacketNumber: pn},
		Trigger: reason,
	})
}

func (t *connectionTracer) EvictedPath(pathway logging.Pathway) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.recordEvent(time.Now(), &eventPathEvicted{Pathway: pathway})
}

func (t *connectionTracer) Close() {
	t.w.Close()
}
