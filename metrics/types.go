package metrics

import "github.com/qweave/qweave/logging"

func encryptionLevelLabel(encLevel logging.EncryptionLevel) string {
	switch encLevel {
	case logging.EncryptionInitial:
		return "initial"
	case logging.EncryptionHandshake:
		return "handshake"
	case logging.Encryption0RTT:
		return "0rtt"
	case logging.Encryption1RTT:
		return "1rtt"
	default:
		return "unknown"
	}
}
