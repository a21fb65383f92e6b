package watcher

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"nativewatch/internal/logging"
	"nativewatch/internal/native"
	"nativewatch/internal/watch"
)

const (
	defaultMaxWatches  = 100
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond
)

var (
	ErrMaxWatchesExceeded = errors.New("max watches exceeded")
	ErrClosed             = errors.New("watcher is closed")
)

// New creates a Watcher with default options.
func New() (*Watcher, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a Watcher with custom options.
func NewWithOptions(options Options) (*Watcher, error) {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}

	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}

	facility := options.Facility
	if facility == nil {
		facility = native.Default(logger)
	}

	latency := options.Latency
	if latency <= 0 {
		latency = watch.DefaultLatency
	}

	return &Watcher{
		facility:     facility,
		latency:      latency,
		flags:        options.Flags,
		exists:       options.Exists,
		roots:        make(map[string]*rootEntry),
		logger:       logger.Category("watcher"),
		metrics:      options.Metrics,
		maxWatches:   maxWatches,
		errorHandler: options.ErrorHandler,
	}, nil
}

// Close stops every stream. Handles closed afterwards are no-ops.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	entries := make([]*rootEntry, 0, len(watcher.roots))
	streams := make([]*watch.Stream, 0, len(watcher.roots))
	for _, entry := range watcher.roots {
		entries = append(entries, entry)
		if entry.stream != nil {
			streams = append(streams, entry.stream)
		}
	}
	watcher.roots = make(map[string]*rootEntry)
	watcher.mutex.Unlock()

	for _, entry := range entries {
		entry.cancelRestart()
	}
	for _, stream := range streams {
		stream.Stop()
	}
	return nil
}

// openStream starts a stream whose events fan out to the callbacks of root.
func (watcher *Watcher) openStream(root string) (*watch.Stream, error) {
	stream, err := watch.New(root, rootHandler{watcher: watcher, root: root}, watch.Options{
		Facility: watcher.facility,
		Latency:  watcher.latency,
		Flags:    watcher.flags,
		Logger:   watcher.logger,
		Metrics:  watcher.metrics,
		Exists:   watcher.exists,
		OnFatal: func(err error) {
			watcher.handleStreamFatal(root, err)
		},
	})
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Stop()
		return nil, err
	}
	return stream, nil
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	watcher.logger.Warn(message, fields)
}

func (watcher *Watcher) logDebug(message, root string, activeCount int) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	watcher.logger.Debug(message, map[string]string{
		"root":           root,
		"active_watches": strconv.Itoa(activeCount),
	})
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	active := len(watcher.roots)
	entries := make([]*rootEntry, 0, active)
	for _, entry := range watcher.roots {
		entries = append(entries, entry)
	}
	watcher.mutex.Unlock()

	restartAttempts := 0
	for _, entry := range entries {
		entry.restartMutex.Lock()
		restartAttempts += entry.restartAttempts
		entry.restartMutex.Unlock()
	}
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: atomic.LoadUint64(&watcher.eventsDelivered),
		EventsDropped:   atomic.LoadUint64(&watcher.eventsDropped),
		Errors:          atomic.LoadUint64(&watcher.errorCount),
		RestartAttempts: restartAttempts,
	}
}
