package qerr

import (
	"fmt"
	"net"
)

var _ error = &TransportError{}

// A TransportError is a QUIC transport error, as defined in RFC 9000, section 20.1.
type TransportError struct {
	Remote       bool
	FrameType    uint64
	ErrorCode    TransportErrorCode
	ErrorMessage string
	// when the error occurs during the handshake, the underlying error
	error
}

// NewLocalCryptoError creates a new TransportError for a crypto error that originated locally.
func NewLocalCryptoError(tlsAlert uint8, err error) *TransportError {
	return &TransportError{
		ErrorCode: 0x100 + TransportErrorCode(tlsAlert),
		error:     err,
	}
}

func (e *TransportError) Error() string {
	str := fmt.Sprintf("%s (%s)", e.ErrorCode.String(), getRole(e.Remote))
	if e.FrameType != 0 {
		str += fmt.Sprintf(" (frame type: %#x)", e.FrameType)
	}
	msg := e.ErrorMessage
	if len(msg) == 0 && e.error != nil {
		msg = e.error.Error()
	}
	if len(msg) == 0 {
		msg = e.ErrorCode.Message()
	}
	if len(msg) == 0 {
		return str
	}
	return str + ": " + msg
}

func (e *TransportError) Is(target error) bool {
	_, ok := target.(*TransportError)
	return ok || target == net.ErrClosed
}

func (e *TransportError) Unwrap() error { return e.error }

// An ApplicationErrorCode is an application-defined error code.
type ApplicationErrorCode uint64

// A StreamErrorCode is an error code used to cancel streams.
type StreamErrorCode uint64

var _ error = &ApplicationError{}

// An ApplicationError is an application-defined error, as carried in a
// CONNECTION_CLOSE frame with the 0x1d type.
type ApplicationError struct {
	Remote       bool
	ErrorCode    ApplicationErrorCode
	ErrorMessage string
}

func (e *ApplicationError) Error() string {
	if len(e.ErrorMessage) == 0 {
		return fmt.Sprintf("Application error %#x (%s)", e.ErrorCode, getRole(e.Remote))
	}
	return fmt.Sprintf("Application error %#x (%s): %s", e.ErrorCode, getRole(e.Remote), e.ErrorMessage)
}

func (e *ApplicationError) Is(target error) bool {
	_, ok := target.(*ApplicationError)
	return ok || target == net.ErrClosed
}

func getRole(remote bool) string {
	if remote {
		return "remote"
	}
	return "local"
}
