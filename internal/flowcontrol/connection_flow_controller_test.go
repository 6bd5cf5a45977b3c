package flowcontrol

import (
	"sync"
	"testing"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/internal/utils"

	"github.com/stretchr/testify/require"
)

func newTestFlowController(receiveWindow, maxReceiveWindow protocol.ByteCount) *connectionFlowController {
	return NewConnectionFlowController(receiveWindow, maxReceiveWindow, utils.DefaultLogger).(*connectionFlowController)
}

func TestFlowControllerSendWindowIsMonotonic(t *testing.T) {
	fc := newTestFlowController(1000, 4000)
	require.Zero(t, fc.SendWindowSize())

	require.True(t, fc.UpdateSendWindow(100))
	require.Equal(t, protocol.ByteCount(100), fc.SendWindowSize())

	fc.AddBytesSent(60)
	require.Equal(t, protocol.ByteCount(40), fc.SendWindowSize())

	// a MAX_DATA frame with a smaller offset is ignored
	require.False(t, fc.UpdateSendWindow(50))
	require.Equal(t, protocol.ByteCount(40), fc.SendWindowSize())

	require.True(t, fc.UpdateSendWindow(140))
	require.Equal(t, protocol.ByteCount(80), fc.SendWindowSize())
}

func TestFlowControllerSendWindowNeverNegative(t *testing.T) {
	fc := newTestFlowController(1000, 4000)
	// data sent before the peer's initial_max_data was applied
	fc.AddBytesSent(100)
	require.Zero(t, fc.SendWindowSize())
	require.True(t, fc.UpdateSendWindow(60))
	require.Zero(t, fc.SendWindowSize())
}

func TestFlowControllerWindowUpdateThreshold(t *testing.T) {
	fc := newTestFlowController(100, 1000)

	// reading less than the threshold doesn't trigger an update
	fc.AddBytesRead(24) // 76 bytes remaining, more than 3/4 of the window
	require.Zero(t, fc.GetWindowUpdate())

	fc.AddBytesRead(2) // 74 bytes remaining
	offset := fc.GetWindowUpdate()
	require.Equal(t, protocol.ByteCount(26+200), offset)
	// the same offset is not offered twice
	require.Zero(t, fc.GetWindowUpdate())
}

func TestFlowControllerWindowSizeIsCapped(t *testing.T) {
	fc := newTestFlowController(100, 300)
	fc.AddBytesRead(50)
	require.Equal(t, protocol.ByteCount(50+200), fc.GetWindowUpdate())
	require.Equal(t, protocol.ByteCount(200), fc.receiveWindowSize)

	fc.AddBytesRead(150) // 200 read, 50 remaining of 250
	require.Equal(t, protocol.ByteCount(200+300), fc.GetWindowUpdate())
	// the window size stopped growing at the maximum
	require.Equal(t, protocol.ByteCount(300), fc.receiveWindowSize)
}

func TestFlowControllerConcurrentUpdates(t *testing.T) {
	fc := newTestFlowController(1000, 4000)
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(offset protocol.ByteCount) {
			defer wg.Done()
			fc.UpdateSendWindow(offset)
		}(protocol.ByteCount(i * 10))
		go func() {
			defer wg.Done()
			fc.AddBytesSent(1)
		}()
	}
	wg.Wait()
	require.Equal(t, protocol.ByteCount(500-50), fc.SendWindowSize())
}
