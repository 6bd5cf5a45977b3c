// Package quicvarint reads and writes integers in the QUIC varint encoding
// defined in RFC 9000, section 16.
package quicvarint

import (
	"fmt"
	"io"
)

const (
	// Min is the minimum value allowed for a QUIC varint.
	Min = 0

	// Max is the maximum allowed value for a QUIC varint (2^62-1).
	Max = maxVarInt8

	maxVarInt1 = 1<<6 - 1
	maxVarInt2 = 1<<14 - 1
	maxVarInt4 = 1<<30 - 1
	maxVarInt8 = 1<<62 - 1
)

// Parse reads a number in the QUIC varint format from b.
// It returns the number of bytes consumed.
func Parse(b []byte) (uint64 /* value */, int /* bytes consumed */, error) {
	if len(b) == 0 {
		return 0, 0, io.EOF
	}
	// the two most significant bits of the first byte encode the length
	l := 1 << (b[0] >> 6)
	if len(b) < l {
		return 0, 0, io.ErrUnexpectedEOF
	}
	v := uint64(b[0] & 0x3f)
	for i := 1; i < l; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, l, nil
}

// Read reads a number in the QUIC varint format from r.
func Read(r io.ByteReader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	l := 1 << (first >> 6)
	v := uint64(first & 0x3f)
	for i := 1; i < l; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// Append appends i in the QUIC varint format.
func Append(b []byte, i uint64) []byte {
	switch {
	case i <= maxVarInt1:
		return append(b, uint8(i))
	case i <= maxVarInt2:
		return append(b, uint8(i>>8)|0x40, uint8(i))
	case i <= maxVarInt4:
		return append(b, uint8(i>>24)|0x80, uint8(i>>16), uint8(i>>8), uint8(i))
	case i <= maxVarInt8:
		return append(b,
			uint8(i>>56)|0xc0, uint8(i>>48), uint8(i>>40), uint8(i>>32),
			uint8(i>>24), uint8(i>>16), uint8(i>>8), uint8(i),
		)
	default:
		panic(fmt.Errorf("value doesn't fit into 62 bits: %d", i))
	}
}

// AppendWithLen appends i in the QUIC varint format using the given number of bytes.
func AppendWithLen(b []byte, i uint64, length int) []byte {
	if length != 1 && length != 2 && length != 4 && length != 8 {
		panic("invalid varint length")
	}
	l := Len(i)
	if l == length {
		return Append(b, i)
	}
	if l > length {
		panic(fmt.Errorf("cannot encode %d in %d bytes", i, length))
	}
	switch length {
	case 2:
		b = append(b, 0b01000000)
	case 4:
		b = append(b, 0b10000000)
	case 8:
		b = append(b, 0b11000000)
	}
	for j := 1; j < length-l; j++ {
		b = append(b, 0)
	}
	for j := 0; j < l; j++ {
		b = append(b, uint8(i>>(8*(l-1-j))))
	}
	return b
}

// Len determines the number of bytes that will be needed to write the number i.
func Len(i uint64) int {
	switch {
	case i <= maxVarInt1:
		return 1
	case i <= maxVarInt2:
		return 2
	case i <= maxVarInt4:
		return 4
	case i <= maxVarInt8:
		return 8
	default:
		panic(fmt.Errorf("value doesn't fit into 62 bits: %d", i))
	}
}
