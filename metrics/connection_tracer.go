// Package metrics provides a Prometheus instrumentation of connection events.
package metrics

import (
	"errors"
	"net/netip"
	"time"

	"github.com/qweave/qweave/logging"

	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "qweave"

var (
	connStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "connections_started_total",
			Help:      "Connections Started",
		},
		[]string{"dir"},
	)
	connClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "connections_closed_total",
			Help:      "Connections Closed",
		},
		[]string{"dir"},
	)
	connDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Name:      "connection_duration_seconds",
			Help:      "Duration of a Connection",
			Buckets:   prometheus.ExponentialBuckets(1.0/16, 2, 25), // up to 24 days
		},
		[]string{"dir"},
	)
	connHandshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Name:      "handshake_duration_seconds",
			Help:      "Duration of the QUIC Handshake",
			Buckets:   prometheus.ExponentialBuckets(0.001, 1.3, 35),
		},
		[]string{"dir"},
	)
	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "received_packets_total",
			Help:      "Packets accepted by the receive pipeline",
		},
		[]string{"encryption_level"},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "received_packets_dropped_total",
			Help:      "Packets dropped by the receive pipeline",
		},
		[]string{"encryption_level", "reason"},
	)
	packetsLost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "packets_lost_total",
			Help:      "Packets declared lost",
		},
		[]string{"encryption_level", "reason"},
	)
	keysDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "encryption_levels_discarded_total",
			Help:      "Discarded encryption levels",
		},
		[]string{"encryption_level"},
	)
	pathsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "paths_evicted_total",
			Help:      "Paths evicted from the path map",
		},
	)
)

// DefaultTracer returns a callback that creates a metrics ConnectionTracer.
// The ConnectionTracer returned can be set on the Config for a new connection.
// It should be reused across QUIC connections.
func DefaultTracer() func(p logging.Perspective, connID logging.ConnectionID) *logging.ConnectionTracer {
	return DefaultTracerWithRegisterer(prometheus.DefaultRegisterer)
}

// DefaultTracerWithRegisterer returns a callback that creates a metrics ConnectionTracer
// using a given Prometheus registerer.
func DefaultTracerWithRegisterer(registerer prometheus.Registerer) func(_ logging.Perspective, _ logging.ConnectionID) *logging.ConnectionTracer {
	return func(p logging.Perspective, _ logging.ConnectionID) *logging.ConnectionTracer {
		switch p {
		case logging.PerspectiveClient:
			return NewClientConnectionTracerWithRegisterer(registerer)
		case logging.PerspectiveServer:
			return NewServerConnectionTracerWithRegisterer(registerer)
		default:
			panic("invalid perspective")
		}
	}
}

// NewClientConnectionTracerWithRegisterer creates a new connection tracer for a connection
// dialed on the client side with a given Prometheus registerer.
func NewClientConnectionTracerWithRegisterer(registerer prometheus.Registerer) *logging.ConnectionTracer {
	return newConnectionTracerWithRegisterer(registerer, true)
}

// NewServerConnectionTracerWithRegisterer creates a new connection tracer for a connection
// accepted on the server side with a given Prometheus registerer.
func NewServerConnectionTracerWithRegisterer(registerer prometheus.Registerer) *logging.ConnectionTracer {
	return newConnectionTracerWithRegisterer(registerer, false)
}

func newConnectionTracerWithRegisterer(registerer prometheus.Registerer, isClient bool) *logging.ConnectionTracer {
	for _, c := range [...]prometheus.Collector{
		connStarted,
		connHandshakeDuration,
		connClosed,
		connDuration,
		packetsReceived,
		packetsDropped,
		packetsLost,
		keysDiscarded,
		pathsEvicted,
	} {
		if err := registerer.Register(c); err != nil {
			if ok := errors.As(err, &prometheus.AlreadyRegisteredError{}); !ok {
				panic(err)
			}
		}
	}

	direction := "incoming"
	if isClient {
		direction = "outgoing"
	}

	var (
		startTime         time.Time
		handshakeComplete bool
	)
	return &logging.ConnectionTracer{
		StartedConnection: func(_, _ netip.AddrPort, _, _ logging.ConnectionID) {
			tags := getStringSlice()
			defer putStringSlice(tags)

			startTime = time.Now()

			*tags = append(*tags, direction)
			connStarted.WithLabelValues(*tags...).Inc()
		},
		ClosedConnection: func(_ error) {
			tags := getStringSlice()
			defer putStringSlice(tags)

			*tags = append(*tags, direction)
			connClosed.WithLabelValues(*tags...).Inc()
			if handshakeComplete {
				connDuration.WithLabelValues(*tags...).Observe(time.Since(startTime).Seconds())
			}
		},
		ReceivedPacket: func(encLevel logging.EncryptionLevel, _ logging.PacketNumber, _ logging.ByteCount, _ []logging.Frame) {
			tags := getStringSlice()
			defer putStringSlice(tags)

			*tags = append(*tags, encryptionLevelLabel(encLevel))
			packetsReceived.WithLabelValues(*tags...).Inc()
		},
		DroppedPacket: func(encLevel logging.EncryptionLevel, _ logging.PacketNumber, _ logging.ByteCount, reason logging.PacketDropReason) {
			tags := getStringSlice()
			defer putStringSlice(tags)

			*tags = append(*tags, encryptionLevelLabel(encLevel))
			*tags = append(*tags, reason.String())
			packetsDropped.WithLabelValues(*tags...).Inc()
		},
		LostPacket: func(encLevel logging.EncryptionLevel, _ logging.PacketNumber, reason logging.PacketLossReason) {
			tags := getStringSlice()
			defer putStringSlice(tags)

			*tags = append(*tags, encryptionLevelLabel(encLevel))
			*tags = append(*tags, reason.String())
			packetsLost.WithLabelValues(*tags...).Inc()
		},
		DroppedEncryptionLevel: func(encLevel logging.EncryptionLevel) {
			tags := getStringSlice()
			defer putStringSlice(tags)

			*tags = append(*tags, encryptionLevelLabel(encLevel))
			keysDiscarded.WithLabelValues(*tags...).Inc()
		},
		UpdatedKeyFromTLS: func(l logging.EncryptionLevel, p logging.Perspective) {
			// The client derives both 1-RTT keys when the handshake completes.
			// The server derives the 1-RTT read key when the handshake completes.
			if l != logging.Encryption1RTT || p != logging.PerspectiveClient {
				return
			}
			handshakeComplete = true

			tags := getStringSlice()
			defer putStringSlice(tags)

			*tags = append(*tags, direction)
			connHandshakeDuration.WithLabelValues(*tags...).Observe(time.Since(startTime).Seconds())
		},
		EvictedPath: func(_ logging.Pathway) {
			pathsEvicted.Inc()
		},
	}
}
