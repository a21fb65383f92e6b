// Package bridge carries classified events across to the caller's runtime.
// A Runtime resolves named methods once and runs each call inside an
// attach/detach pair; the Bridge adapts that contract to watch.Handler.
package bridge

import "errors"

var (
	ErrResolve    = errors.New("resolve caller method")
	ErrInvoke     = errors.New("invoke caller method")
	ErrPeerClosed = errors.New("caller runtime closed")
)

const (
	HandleMethod       = "handle"
	HandleSignature    = "(int32,string,string)"
	NewEventsMethod    = "newEvents"
	NewEventsSignature = "()"
)

// MethodID is a resolved method reference. Zero is never a valid id.
type MethodID int

// Args is the marshalled form of one handler call. Kind is the kind's
// ordinal; Root and Path travel as text.
type Args struct {
	Kind int32  `json:"kind"`
	Root string `json:"root,omitempty"`
	Path string `json:"path,omitempty"`
}

type Runtime interface {
	Resolve(name, signature string) (MethodID, error)
	Attach() (Env, error)
}

// Env is one attachment of the calling goroutine to the runtime. It must be
// detached before the call returns to the native layer.
type Env interface {
	Call(method MethodID, args Args) error
	Detach() error
}
