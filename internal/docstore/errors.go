package docstore

import "errors"

// Document store errors.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrClosed is returned by streams and operations after Close.
	ErrClosed = errors.New("document store closed")

	// ErrStreamStopped is returned by Next after Stop.
	ErrStreamStopped = errors.New("change stream stopped")
)
