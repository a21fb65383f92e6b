package watch

import "errors"

var (
	ErrInvalidPath    = errors.New("invalid watch path")
	ErrMalformedPath  = errors.New("native event path is not valid UTF-8")
	ErrAlreadyStarted = errors.New("stream already started")
	ErrStreamClosed   = errors.New("stream closed")
	ErrCallbackPanic  = errors.New("event handler panicked")
	ErrNilHandler     = errors.New("nil event handler")
)
