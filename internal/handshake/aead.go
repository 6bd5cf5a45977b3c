package handshake

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/qweave/qweave/internal/protocol"
)

type sealer struct {
	aead cipher.AEAD
	iv   []byte

	// use a single slice to avoid allocations
	nonceBuf []byte
}

var _ Sealer = &sealer{}

func newSealer(aead cipher.AEAD, iv []byte) Sealer {
	return &sealer{
		aead:     aead,
		iv:       iv,
		nonceBuf: make([]byte, aead.NonceSize()),
	}
}

func (s *sealer) Seal(dst, src []byte, pn protocol.PacketNumber, ad []byte) []byte {
	return s.aead.Seal(dst, nonce(s.nonceBuf, s.iv, pn), src, ad)
}

func (s *sealer) Overhead() int { return s.aead.Overhead() }

type opener struct {
	aead cipher.AEAD
	iv   []byte

	nonceBuf []byte
}

var _ Opener = &opener{}

func newOpener(aead cipher.AEAD, iv []byte) Opener {
	return &opener{
		aead:     aead,
		iv:       iv,
		nonceBuf: make([]byte, aead.NonceSize()),
	}
}

func (o *opener) Open(dst, src []byte, pn protocol.PacketNumber, ad []byte) ([]byte, error) {
	dec, err := o.aead.Open(dst, nonce(o.nonceBuf, o.iv, pn), src, ad)
	if err != nil {
		err = ErrDecryptionFailed
	}
	return dec, err
}

// nonce XORs the packet number into the last 8 bytes of the IV (RFC 9001, section 5.3).
func nonce(buf, iv []byte, pn protocol.PacketNumber) []byte {
	copy(buf, iv)
	for i := 0; i < 8; i++ {
		buf[len(buf)-8+i] ^= byte(uint64(pn) >> (8 * (7 - i)))
	}
	return buf
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
