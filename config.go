package qweave

import (
	"time"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/utils"
	"github.com/qweave/qweave/logging"
)

// Config contains all configuration data needed for a connection.
type Config struct {
	// Tracer collects the connection's events.
	Tracer *logging.ConnectionTracer
	// MaxPaths limits the number of concurrently tracked paths. When a packet
	// arrives on a pathway that would exceed the limit, the least recently
	// used path is evicted.
	// If unset, it defaults to 8.
	MaxPaths int
	// PathTimerGranularity is the retransmission timer granularity paths are
	// created with.
	// If unset, it defaults to 100ms.
	PathTimerGranularity time.Duration
	// InitialConnectionReceiveWindow is the connection-level flow control
	// window for receiving data, in bytes.
	// If unset, it defaults to 512 kB.
	InitialConnectionReceiveWindow uint64
	// MaxConnectionReceiveWindow is the connection-level limit the receive
	// window can be increased to, in bytes.
	// If unset, it defaults to 15 MB.
	MaxConnectionReceiveWindow uint64
	// EnableDatagrams enables support for receiving DATAGRAM frames (RFC 9221).
	EnableDatagrams bool
	// ConnIDEvents handles NEW_TOKEN, NEW_CONNECTION_ID and
	// RETIRE_CONNECTION_ID frames. If nil, those frames are dropped.
	ConnIDEvents ConnectionIDEvents
	// Logger is used for connection-level logging.
	// If unset, the package-level default logger is used.
	Logger Logger
}

// Clone clones a Config.
func (c *Config) Clone() *Config {
	copy := *c
	return &copy
}

// populateConfig fills in the default values for unset fields.
// It never modifies the passed Config.
func populateConfig(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	maxPaths := config.MaxPaths
	if maxPaths == 0 {
		maxPaths = protocol.DefaultMaxPaths
	}
	timerGranularity := config.PathTimerGranularity
	if timerGranularity == 0 {
		timerGranularity = protocol.DefaultPathTimerGranularity
	}
	initialReceiveWindow := config.InitialConnectionReceiveWindow
	if initialReceiveWindow == 0 {
		initialReceiveWindow = uint64(protocol.DefaultConnectionReceiveWindow)
	}
	maxReceiveWindow := config.MaxConnectionReceiveWindow
	if maxReceiveWindow == 0 {
		maxReceiveWindow = uint64(protocol.DefaultMaxConnectionReceiveWindow)
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.DefaultLogger
	}

	return &Config{
		Tracer:                         config.Tracer,
		MaxPaths:                       maxPaths,
		PathTimerGranularity:           timerGranularity,
		InitialConnectionReceiveWindow: initialReceiveWindow,
		MaxConnectionReceiveWindow:     maxReceiveWindow,
		EnableDatagrams:                config.EnableDatagrams,
		ConnIDEvents:                   config.ConnIDEvents,
		Logger:                         logger,
	}
}
