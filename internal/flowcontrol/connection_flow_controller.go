package flowcontrol

import (
	"sync"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/utils"
)

type connectionFlowController struct {
	mutex sync.RWMutex

	bytesSent  protocol.ByteCount
	sendWindow protocol.ByteCount

	bytesRead            protocol.ByteCount
	receiveWindow        protocol.ByteCount
	receiveWindowSize    protocol.ByteCount
	maxReceiveWindowSize protocol.ByteCount

	logger utils.Logger
}

var _ ConnectionFlowController = &connectionFlowController{}

// NewConnectionFlowController creates a flow controller for the connection.
// It is created before the peer's transport parameters are known, so the send
// window starts at 0 and grows with the first MAX_DATA (or the initial_max_data
// transport parameter).
func NewConnectionFlowController(receiveWindow, maxReceiveWindow protocol.ByteCount, logger utils.Logger) ConnectionFlowController {
	return &connectionFlowController{
		receiveWindow:        receiveWindow,
		receiveWindowSize:    receiveWindow,
		maxReceiveWindowSize: maxReceiveWindow,
		logger:               logger,
	}
}

func (c *connectionFlowController) UpdateSendWindow(offset protocol.ByteCount) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if offset > c.sendWindow {
		c.sendWindow = offset
		return true
	}
	return false
}

func (c *connectionFlowController) AddBytesSent(n protocol.ByteCount) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.bytesSent += n
}

func (c *connectionFlowController) SendWindowSize() protocol.ByteCount {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	// data sent before the peer's transport parameters arrived may exceed the window
	if c.bytesSent > c.sendWindow {
		return 0
	}
	return c.sendWindow - c.bytesSent
}

func (c *connectionFlowController) AddBytesRead(n protocol.ByteCount) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.bytesRead += n
}

func (c *connectionFlowController) GetWindowUpdate() protocol.ByteCount {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	bytesRemaining := c.receiveWindow - c.bytesRead
	// only update the window when more than the threshold was consumed
	if bytesRemaining >= protocol.ByteCount(float64(c.receiveWindowSize)*(1-protocol.WindowUpdateThreshold)) {
		return 0
	}

	// The window size is doubled up to the configured maximum. Pacing the
	// growth by the connection's RTT is up to the congestion controller.
	c.receiveWindowSize = min(2*c.receiveWindowSize, c.maxReceiveWindowSize)
	c.receiveWindow = c.bytesRead + c.receiveWindowSize
	if c.logger.Debug() {
		c.logger.Debugf("Increasing receive flow control window to %d kB", c.receiveWindow/(1<<10))
	}
	return c.receiveWindow
}
