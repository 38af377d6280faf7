package server

import "errors"

var (
	// ErrServerClosed is returned by operations on a stopped server.
	ErrServerClosed = errors.New("server closed")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("server already started")
)
