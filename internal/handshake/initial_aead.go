package handshake

import (
	"crypto"
	"crypto/sha256"

	"github.com/qweave/qweave/internal/protocol"

	"golang.org/x/crypto/hkdf"
)

// the salt for QUIC v1, defined in RFC 9001, section 5.2
var quicSaltV1 = []byte{0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3, 0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad, 0xcc, 0xbb, 0x7f, 0x0a}

const (
	initialKeyLength = 16
	initialIVLength  = 12
)

// NewInitialAEAD creates the Sealer and Opener for the Initial encryption epoch.
// Both endpoints derive the same secrets from the client's destination
// connection ID, so packets of this epoch can be processed before any TLS
// message was exchanged.
func NewInitialAEAD(connID protocol.ConnectionID, pers protocol.Perspective) (Sealer, Opener, error) {
	clientSecret, serverSecret := computeSecrets(connID)
	var mySecret, otherSecret []byte
	if pers == protocol.PerspectiveClient {
		mySecret = clientSecret
		otherSecret = serverSecret
	} else {
		mySecret = serverSecret
		otherSecret = clientSecret
	}
	myKey, myIV := computeInitialKeyAndIV(mySecret)
	otherKey, otherIV := computeInitialKeyAndIV(otherSecret)

	encrypter, err := newAESGCM(myKey)
	if err != nil {
		return nil, nil, err
	}
	decrypter, err := newAESGCM(otherKey)
	if err != nil {
		return nil, nil, err
	}
	return newSealer(encrypter, myIV), newOpener(decrypter, otherIV), nil
}

func computeSecrets(connID protocol.ConnectionID) (clientSecret, serverSecret []byte) {
	initialSecret := hkdf.Extract(sha256.New, connID.Bytes(), quicSaltV1)
	clientSecret = hkdfExpandLabel(crypto.SHA256, initialSecret, []byte{}, "client in", crypto.SHA256.Size())
	serverSecret = hkdfExpandLabel(crypto.SHA256, initialSecret, []byte{}, "server in", crypto.SHA256.Size())
	return
}

func computeInitialKeyAndIV(secret []byte) (key, iv []byte) {
	key = hkdfExpandLabel(crypto.SHA256, secret, []byte{}, "quic key", initialKeyLength)
	iv = hkdfExpandLabel(crypto.SHA256, secret, []byte{}, "quic iv", initialIVLength)
	return
}
