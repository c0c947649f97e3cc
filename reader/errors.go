package reader

import "errors"

var (
	// ErrResolution means even the raw source could not be rendered.
	ErrResolution = errors.New("chapter could not be loaded")
	// ErrNotReady is returned by operations which need live content.
	ErrNotReady = errors.New("chapter view is not ready")

	errClosed = errors.New("chapter view is closed")
)

// FatalError ends view initialization. Message is meant for the reader,
// recovery requires opening chapter again.
type FatalError struct {
	State   State
	Message string
	Err     error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
