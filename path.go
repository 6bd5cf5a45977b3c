package qweave

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/utils"
	"github.com/qweave/qweave/logging"
)

// An AckObserver lets the sending layer advance the ack floor of a packet
// number space: once the peer confirmed it processed an ACK frame we sent,
// the acknowledged ranges don't need to be reported again.
type AckObserver struct {
	initial   *packetSpace
	handshake *packetSpace
	data      *packetSpace
}

// OnAckDelivered records that the peer processed our ACK covering everything
// up to and including largestAcked in the given space.
func (o *AckObserver) OnAckDelivered(encLevel protocol.EncryptionLevel, largestAcked protocol.PacketNumber) {
	if s := o.space(encLevel); s != nil {
		s.advanceAckFloor(largestAcked)
	}
}

func (o *AckObserver) space(encLevel protocol.EncryptionLevel) *packetSpace {
	switch encLevel {
	case protocol.EncryptionInitial:
		return o.initial
	case protocol.EncryptionHandshake:
		return o.handshake
	case protocol.Encryption0RTT, protocol.Encryption1RTT:
		return o.data
	default:
		return nil
	}
}

// A LossObserver is notified by the sending layer when a sent packet is
// declared lost.
type LossObserver struct {
	tracer *logging.ConnectionTracer
	logger utils.Logger
}

// OnPacketLost records the loss of a sent packet.
func (o *LossObserver) OnPacketLost(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber, reason logging.PacketLossReason) {
	if o.logger.Debug() {
		o.logger.Debugf("%s packet %d declared lost: %s", encLevel, pn, reason)
	}
	if o.tracer != nil && o.tracer.LostPacket != nil {
		o.tracer.LostPacket(encLevel, pn, reason)
	}
}

// A Path represents one local / remote route of the connection.
// Paths are created on demand when a packet arrives on a new pathway and are
// bound to the socket handle it arrived on.
type Path struct {
	pathway protocol.Pathway
	sender  Sender

	timerGranularity time.Duration

	acks   *AckObserver
	losses *LossObserver
}

// Pathway returns the local / remote address pair this path stands for.
func (p *Path) Pathway() protocol.Pathway { return p.pathway }

// TimerGranularity returns the retransmission timer granularity the path was
// created with. It never changes afterwards.
func (p *Path) TimerGranularity() time.Duration { return p.timerGranularity }

// Send transmits a buffer over this path's route.
func (p *Path) Send(b []byte) (int, error) {
	return p.sender.Send(b, p.pathway.Remote)
}

// AckObserver returns the connection's shared ack observer.
func (p *Path) AckObserver() *AckObserver { return p.acks }

// LossObserver returns the connection's shared loss observer.
func (p *Path) LossObserver() *LossObserver { return p.losses }

// A pathMap tracks the connection's paths, keyed by pathway. The map is
// capped: when a new pathway would exceed the cap, the least recently used
// path is evicted.
type pathMap struct {
	mx    sync.Mutex
	paths *lru.Cache[protocol.Pathway, *Path]

	timerGranularity time.Duration
	acks             *AckObserver
	losses           *LossObserver

	onEvicted func(protocol.Pathway)
}

func newPathMap(
	maxPaths int,
	timerGranularity time.Duration,
	acks *AckObserver,
	losses *LossObserver,
	onEvicted func(protocol.Pathway),
) *pathMap {
	m := &pathMap{
		timerGranularity: timerGranularity,
		acks:             acks,
		losses:           losses,
		onEvicted:        onEvicted,
	}
	cache, err := lru.NewWithEvict[protocol.Pathway, *Path](maxPaths, func(pw protocol.Pathway, _ *Path) {
		if m.onEvicted != nil {
			m.onEvicted(pw)
		}
	})
	if err != nil {
		// lru.NewWithEvict only fails for non-positive sizes, which
		// populateConfig rules out.
		panic(err)
	}
	m.paths = cache
	return m
}

// getOrCreate returns the Path for the given pathway. If this is the first
// packet seen on that pathway, a new Path bound to the sender is created.
// Lookup and insert are atomic: concurrent calls for the same new pathway
// yield the same Path.
func (m *pathMap) getOrCreate(pathway protocol.Pathway, sender Sender) *Path {
	m.mx.Lock()
	defer m.mx.Unlock()
	if p, ok := m.paths.Get(pathway); ok {
		return p
	}
	p := &Path{
		pathway:          pathway,
		sender:           sender,
		timerGranularity: m.timerGranularity,
		acks:             m.acks,
		losses:           m.losses,
	}
	m.paths.Add(pathway, p)
	return p
}

// Len returns the number of currently tracked paths.
func (m *pathMap) Len() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.paths.Len()
}
