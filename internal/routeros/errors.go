package routeros

import (
	"errors"
	"fmt"

	"github.com/talkincode/routerman/internal/routeros/proto"
)

// ErrClosed is returned for operations on a client whose transport has
// failed or been closed. The client is unusable; obtain a fresh one.
var ErrClosed = errors.New("routeros: client closed")

// DeviceError is a !trap reply: the device rejected one command. The client
// remains usable for other commands.
type DeviceError struct {
	Sentence *proto.Sentence
}

func (e *DeviceError) Error() string {
	msg := e.Sentence.Map["message"]
	if msg == "" {
		msg = "unknown device error"
	}
	return "routeros: device trap: " + msg
}

// AuthError reports rejected credentials during the login handshake.
// It is fatal for the session and is not retried automatically.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("routeros: login rejected for %q: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed byte stream. The client instance is
// invalidated; the connection manager recreates it on next use.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return "routeros: protocol error: " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }
