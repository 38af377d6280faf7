package protocol

import "errors"

var (
	// ErrMessageTooLong is returned when a frame exceeds the size limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrMalformedRequest is returned when a request body cannot be parsed.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrMalformedResponse is returned when a response value cannot be parsed.
	ErrMalformedResponse = errors.New("malformed response")
)
