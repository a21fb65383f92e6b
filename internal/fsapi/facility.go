// Package fsapi describes the native file-event capability consumed by the
// watch core: current-id, subscribe, dispatch-onto-queue and unsubscribe.
//
// The shapes follow FSEvents closely. A facility never sees Go values owned by
// the caller; it is handed an opaque integer (Context.Info) and echoes it back
// on every callback and exactly once to the release hook.
package fsapi

import (
	"errors"
	"time"
)

var (
	ErrStreamInvalid = errors.New("native stream invalidated")
	ErrNoQueue       = errors.New("native stream has no dispatch queue")
)

// NativeEvent is one entry of a delivered batch. Path holds the bytes exactly
// as the facility produced them; decoding is the consumer's job.
type NativeEvent struct {
	ID    EventID
	Flags EventFlags
	Path  []byte
}

// Callback receives a batch on the stream's dispatch queue.
type Callback func(stream Stream, info uintptr, events []NativeEvent)

// Context is passed to CreateStream. Release is invoked by the facility once
// the stream has been released and no callback can observe Info any more.
type Context struct {
	Info     uintptr
	Callback Callback
	Release  func(info uintptr)
}

// Queue is a serial FIFO execution context.
type Queue interface {
	// Dispatch schedules task; it reports false once the queue is released.
	Dispatch(task func()) bool
	// Release drops the owner's reference. Tasks already scheduled still run.
	Release()
}

// Stream is a live native subscription handle.
type Stream interface {
	SetDispatchQueue(queue Queue)
	Start() error
	Stop()
	Invalidate()
	Release()
}

// Facility creates queues and streams and reports the global event cursor.
type Facility interface {
	CurrentEventID() EventID
	NewQueue(label string) Queue
	CreateStream(ctx Context, paths []string, since EventID, latency time.Duration, flags CreateFlags) (Stream, error)
}
