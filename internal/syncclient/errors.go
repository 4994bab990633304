package syncclient

import (
	"errors"
	"fmt"
)

var (
	// Transient, retried by the reconnect policy.
	ErrConnectionFailed = errors.New("connection failed")
	ErrTimeout          = errors.New("timeout")

	// Terminal, never retried automatically.
	ErrProtocolVersionMismatch      = errors.New("protocol version mismatch")
	ErrProtocolRejected             = errors.New("protocol rejected")
	ErrMaxReconnectAttemptsExceeded = errors.New("max reconnect attempts exceeded")

	// Local, synchronous rejections.
	ErrNotConnected                = errors.New("not connected")
	ErrInvalidState                = errors.New("invalid state")
	ErrInvalidMessage              = errors.New("invalid message")
	ErrConnectionAlreadyInProgress = errors.New("connection already in progress")
	ErrAlreadyConnected            = errors.New("already connected")
	ErrClientClosed                = errors.New("client closed")
)

// ServerError is an error relayed from the remote side through an error message.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Message)
}

// IsTerminal reports whether err stops the reconnect loop.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrProtocolVersionMismatch) ||
		errors.Is(err, ErrProtocolRejected) ||
		errors.Is(err, ErrMaxReconnectAttemptsExceeded)
}
