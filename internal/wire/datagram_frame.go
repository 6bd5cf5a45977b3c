package wire

import (
	"io"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/quicvarint"
)

// A DatagramFrame is a DATAGRAM frame
type DatagramFrame struct {
	DataLenPresent bool
	Data           []byte
}

func parseDatagramFrame(b []byte, typ FrameType, _ protocol.Version) (*DatagramFrame, int, error) {
	startLen := len(b)
	f := &DatagramFrame{DataLenPresent: typ == DatagramWithLengthFrameType}

	var length uint64
	if f.DataLenPresent {
		var l int
		var err error
		length, l, err = quicvarint.Parse(b)
		if err != nil {
			return nil, 0, replaceUnexpectedEOF(err)
		}
		b = b[l:]
		if length > uint64(len(b)) {
			return nil, 0, io.EOF
		}
	} else {
		length = uint64(len(b))
	}
	f.Data = make([]byte, length)
	copy(f.Data, b)
	return f, startLen - len(b) + int(length), nil
}

func (f *DatagramFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	if f.DataLenPresent {
		b = append(b, byte(DatagramWithLengthFrameType))
		b = quicvarint.Append(b, uint64(len(f.Data)))
	} else {
		b = append(b, byte(DatagramNoLengthFrameType))
	}
	b = append(b, f.Data...)
	return b, nil
}

// MaxDataLen returns the maximum data length this frame can carry if the
// written frame must not exceed maxSize bytes.
// If 0 is returned, writing the frame is not possible.
func (f *DatagramFrame) MaxDataLen(maxSize protocol.ByteCount, _ protocol.Version) protocol.ByteCount {
	headerLen := protocol.ByteCount(1)
	if f.DataLenPresent {
		// pretend the data length field has a length of 1, check at the end
		headerLen++
	}
	if headerLen > maxSize {
		return 0
	}
	maxDataLen := maxSize - headerLen
	if f.DataLenPresent && quicvarint.Len(uint64(maxDataLen)) != 1 {
		maxDataLen--
	}
	return maxDataLen
}

// Length of a written frame
func (f *DatagramFrame) Length(_ protocol.Version) protocol.ByteCount {
	length := 1 + protocol.ByteCount(len(f.Data))
	if f.DataLenPresent {
		length += protocol.ByteCount(quicvarint.Len(uint64(len(f.Data))))
	}
	return length
}
