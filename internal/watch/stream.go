// Package watch turns a native file-event subscription into a stream with a
// linear lifecycle: New, Start, Stop. Events arrive on the stream's own
// serial queue and are classified into kinds before reaching the handler, or
// are parked in a FIFO for polling consumers.
package watch

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"nativewatch/internal/fsapi"
	"nativewatch/internal/logging"
	"nativewatch/internal/metrics"
	"nativewatch/internal/native"
	"nativewatch/internal/queue"
)

const (
	DefaultLatency = 150 * time.Millisecond
	DefaultFlags   = fsapi.NoDefer | fsapi.WatchRoot | fsapi.FileEvents
)

// Handler receives classified events on the stream's queue. A returned error
// aborts the rest of the current batch.
type Handler interface {
	HandleChange(kind Kind, path string) error
}

type HandlerFunc func(kind Kind, path string) error

func (fn HandlerFunc) HandleChange(kind Kind, path string) error {
	return fn(kind, path)
}

// Notifier is implemented by handlers that want a signal after every
// non-empty batch.
type Notifier interface {
	NewEvents()
}

type State int32

const (
	StateCreated State = iota
	StateStarted
	StateStopped
)

func (state State) String() string {
	switch state {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Options struct {
	Facility fsapi.Facility
	Latency  time.Duration
	Flags    fsapi.CreateFlags
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	// Exists decides renames; defaults to an lstat check.
	Exists func(path string) bool
	// OnFatal is told about every aborted batch.
	OnFatal func(error)
}

type Stream struct {
	root     string
	since    fsapi.EventID
	facility fsapi.Facility
	latency  time.Duration
	flags    fsapi.CreateFlags
	queue    fsapi.Queue
	ctx      *callbackContext
	polled   *queue.Queue[RawEvent]
	logger   *logging.Logger
	metrics  *metrics.Registry

	mutex       sync.Mutex
	native      fsapi.Stream
	transferred bool
	state       atomic.Int32
	closed      atomic.Bool
}

// New creates a stream that calls handler for every classified event.
func New(path string, handler Handler, options Options) (*Stream, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	stream, err := newStream(path, options)
	if err != nil {
		return nil, err
	}
	stream.ctx.handler = handler
	if notifier, ok := handler.(Notifier); ok {
		stream.ctx.notify = notifier.NewEvents
	}
	return stream, nil
}

// NewPolling creates a stream whose events are queued for PollAll. notify,
// when set, runs after every non-empty batch.
func NewPolling(path string, notify func(), options Options) (*Stream, error) {
	stream, err := newStream(path, options)
	if err != nil {
		return nil, err
	}
	stream.polled = queue.New[RawEvent]()
	stream.ctx.polled = stream.polled
	stream.ctx.notify = notify
	return stream, nil
}

func newStream(path string, options Options) (*Stream, error) {
	root, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	logger := options.Logger.Category("stream").With(map[string]string{"root": root})
	facility := options.Facility
	if facility == nil {
		facility = native.Default(options.Logger)
	}
	latency := options.Latency
	if latency <= 0 {
		latency = DefaultLatency
	}
	flags := options.Flags
	if flags == 0 {
		flags = DefaultFlags
	}
	exists := options.Exists
	if exists == nil {
		exists = pathExists
	}

	since := facility.CurrentEventID()
	stream := &Stream{
		root:     root,
		since:    since,
		facility: facility,
		latency:  latency,
		flags:    flags,
		queue:    facility.NewQueue("nativewatch.stream " + root),
		logger:   logger,
		metrics:  options.Metrics,
	}
	stream.ctx = &callbackContext{
		root:    root,
		since:   since,
		exists:  exists,
		onFatal: options.OnFatal,
		logger:  logger,
		metrics: options.Metrics,
	}
	stream.state.Store(int32(StateCreated))
	return stream, nil
}

// ResolvePath validates a watch root and returns its absolute, symlink-free
// form. The path must exist.
func ResolvePath(path string) (string, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	case !utf8.ValidString(path):
		return "", fmt.Errorf("%w: path is not valid UTF-8", ErrInvalidPath)
	case strings.ContainsRune(path, 0):
		return "", fmt.Errorf("%w: path contains NUL", ErrInvalidPath)
	case !filepath.IsAbs(path):
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidPath, path)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return filepath.Clean(resolved), nil
}

func (stream *Stream) Root() string {
	return stream.root
}

// Since is the event id captured at construction; earlier events are never
// delivered.
func (stream *Stream) Since() fsapi.EventID {
	return stream.since
}

func (stream *Stream) State() State {
	return State(stream.state.Load())
}

// Start subscribes to the facility. It may succeed at most once. When the
// facility accepts the stream but fails to start it, the stream is closed.
func (stream *Stream) Start() error {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()

	if stream.closed.Load() {
		return ErrStreamClosed
	}
	if stream.native != nil {
		return ErrAlreadyStarted
	}

	handle := contexts.add(stream.ctx)
	nativeStream, err := stream.facility.CreateStream(fsapi.Context{
		Info:     handle,
		Callback: onNativeEvents,
		Release:  releaseContext,
	}, []string{stream.root}, stream.since, stream.latency, stream.flags)
	if err != nil {
		contexts.remove(handle)
		return fmt.Errorf("create native stream for %s: %w", stream.root, err)
	}
	stream.transferred = true

	nativeStream.SetDispatchQueue(stream.queue)
	if err := nativeStream.Start(); err != nil {
		stream.closed.Store(true)
		nativeStream.SetDispatchQueue(nil)
		nativeStream.Invalidate()
		stream.queue.Release()
		nativeStream.Release()
		stream.closePolled()
		stream.state.Store(int32(StateStopped))
		return fmt.Errorf("start native stream for %s: %w", stream.root, err)
	}

	stream.native = nativeStream
	stream.state.Store(int32(StateStarted))
	stream.metrics.IncStreamStarted()
	stream.logger.Info("stream started", map[string]string{
		"since": fmt.Sprint(uint64(stream.since)),
	})
	return nil
}

// Stop tears the stream down. Only the first call does anything; it does not
// wait for a callback that is already running.
func (stream *Stream) Stop() {
	if !stream.closed.CompareAndSwap(false, true) {
		return
	}
	stream.mutex.Lock()
	defer stream.mutex.Unlock()

	// A failed Start has already torn everything down.
	if stream.State() == StateStopped {
		return
	}

	wasStarted := stream.native != nil
	if wasStarted {
		stream.native.Stop()
		stream.native.SetDispatchQueue(nil)
		stream.native.Invalidate()
		stream.queue.Release()
		stream.native.Release()
		stream.native = nil
	} else {
		stream.queue.Release()
		if !stream.transferred {
			stream.ctx.reclaim("stream")
		}
	}
	stream.closePolled()
	stream.state.Store(int32(StateStopped))
	stream.metrics.IncStreamStopped(wasStarted)
	stream.logger.Info("stream stopped", map[string]string{
		"started": fmt.Sprint(wasStarted),
	})
}

// PollAll drains every queued event in arrival order. Direct streams always
// return nil.
func (stream *Stream) PollAll() []RawEvent {
	if stream.polled == nil {
		return nil
	}
	return stream.polled.DrainAll()
}

func (stream *Stream) IsEmpty() bool {
	if stream.polled == nil {
		return true
	}
	return stream.polled.IsEmpty()
}

func (stream *Stream) closePolled() {
	if stream.polled != nil {
		stream.polled.Close()
	}
}
