package websocket

import "errors"

// Connection-related errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteBufferFull  = errors.New("write buffer full")
	ErrInvalidPayload   = errors.New("payload cannot be encoded as JSON")
)

// Handler-related errors.
var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid authentication token")
)
