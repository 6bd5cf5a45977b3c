package wire

import (
	"io"
	"testing"

	"github.com/qweave/qweave/internal/protocol"

	"github.com/stretchr/testify/require"
)

func TestParseDatagramFrameWithLength(t *testing.T) {
	data := encodeVarInt(0x6) // length
	data = append(data, []byte("foobar")...)
	frame, l, err := parseDatagramFrame(data, DatagramWithLengthFrameType, protocol.Version1)
	require.NoError(t, err)
	require.True(t, frame.DataLenPresent)
	require.Equal(t, []byte("foobar"), frame.Data)
	require.Equal(t, len(data), l)
}

func TestParseDatagramFrameWithoutLength(t *testing.T) {
	data := []byte("Lorem ipsum dolor sit amet")
	frame, l, err := parseDatagramFrame(data, DatagramNoLengthFrameType, protocol.Version1)
	require.NoError(t, err)
	require.False(t, frame.DataLenPresent)
	require.Equal(t, data, frame.Data)
	require.Equal(t, len(data), l)
}

func TestParseDatagramFrameLengthLongerThanPacket(t *testing.T) {
	data := encodeVarInt(7)
	data = append(data, []byte("foobar")...)
	_, _, err := parseDatagramFrame(data, DatagramWithLengthFrameType, protocol.Version1)
	require.Equal(t, io.EOF, err)
}

func TestWriteDatagramFrameWithLength(t *testing.T) {
	f := &DatagramFrame{
		DataLenPresent: true,
		Data:           []byte("Lorem ipsum"),
	}
	b, err := f.Append(nil, protocol.Version1)
	require.NoError(t, err)
	expected := []byte{byte(DatagramWithLengthFrameType)}
	expected = append(expected, encodeVarInt(uint64(len(f.Data)))...)
	expected = append(expected, f.Data...)
	require.Equal(t, expected, b)
	require.Len(t, b, int(f.Length(protocol.Version1)))
}

func TestWriteDatagramFrameWithoutLength(t *testing.T) {
	f := &DatagramFrame{Data: []byte("Lorem ipsum")}
	b, err := f.Append(nil, protocol.Version1)
	require.NoError(t, err)
	expected := []byte{byte(DatagramNoLengthFrameType)}
	expected = append(expected, f.Data...)
	require.Equal(t, expected, b)
	require.Len(t, b, int(f.Length(protocol.Version1)))
}

func TestDatagramFrameMaxDataLen(t *testing.T) {
	const maxSize = 3000
	data := make([]byte, maxSize)
	for _, dataLenPresent := range []bool{true, false} {
		f := &DatagramFrame{DataLenPresent: dataLenPresent}
		var frameOneByteTooSmallCount int
		for i := 1; i < 3000; i++ {
			f.Data = nil
			maxDataLen := f.MaxDataLen(protocol.ByteCount(i), protocol.Version1)
			if maxDataLen == 0 { // the frame doesn't fit
				continue
			}
			f.Data = data[:int(maxDataLen)]
			b, err := f.Append(nil, protocol.Version1)
			require.NoError(t, err)
			require.LessOrEqual(t, len(b), i)
			if len(b) < i {
				frameOneByteTooSmallCount++
				require.Equal(t, i-1, len(b))
			}
		}
		if dataLenPresent {
			require.LessOrEqual(t, frameOneByteTooSmallCount, 1)
		} else {
			require.Zero(t, frameOneByteTooSmallCount)
		}
	}
}
