package wire

import "github.com/qweave/qweave/quicvarint"

func encodeVarInt(i uint64) []byte {
	return quicvarint.Append(nil, i)
}
