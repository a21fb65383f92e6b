package watcher

import (
	"sync"
	"time"

	"nativewatch/internal/fsapi"
	"nativewatch/internal/logging"
	"nativewatch/internal/metrics"
	"nativewatch/internal/watch"
)

// Event represents a single classified filesystem change under a root.
type Event struct {
	Kind      watch.Kind
	Root      string
	Path      string
	Timestamp time.Time
}

// Handle releases watcher resources for a registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for filesystem events under a path.
type Watch interface {
	Watch(path string, callback func(Event), options WatchOptions) (Handle, error)
}

type Scope int

const (
	// ScopeAllDescendants reports changes anywhere below the root.
	ScopeAllDescendants Scope = iota
	// ScopeChildren reports the root and its direct entries only.
	ScopeChildren
)

func (scope Scope) String() string {
	if scope == ScopeChildren {
		return "children"
	}
	return "all_descendants"
}

// Approximation decides what a callback sees after an overflow.
type Approximation int

const (
	// ApproximationNone passes the overflow event through and nothing else.
	ApproximationNone Approximation = iota
	// ApproximationAll follows the overflow with a create event for every
	// entry in scope and a modify event for every non-empty regular file.
	ApproximationAll
)

func (approximation Approximation) String() string {
	if approximation == ApproximationAll {
		return "all"
	}
	return "none"
}

type WatchOptions struct {
	Scope         Scope
	Kinds         []watch.Kind
	Approximation Approximation
}

// Options controls watcher behavior.
type Options struct {
	Logger       *logging.Logger
	Metrics      *metrics.Registry
	Facility     fsapi.Facility
	Latency      time.Duration
	Flags        fsapi.CreateFlags
	MaxWatches   int
	ErrorHandler func(error)
	Exists       func(path string) bool
}

// Metrics reports current watcher stats.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsDropped   uint64
	Errors          uint64
	RestartAttempts int
}

// Watcher is the concrete stream-backed implementation.
type Watcher struct {
	facility     fsapi.Facility
	latency      time.Duration
	flags        fsapi.CreateFlags
	exists       func(string) bool
	mutex        sync.Mutex
	roots        map[string]*rootEntry
	closed       bool
	logger       *logging.Logger
	metrics      *metrics.Registry
	maxWatches   int
	nextID       uint64
	errorHandler func(error)

	eventsDelivered uint64
	eventsDropped   uint64
	errorCount      uint64
}

type callbackEntry struct {
	id       uint64
	callback func(Event)
	options  WatchOptions
	kinds    map[watch.Kind]bool
}

// rootEntry owns the stream for one root. Restart state lives here so that
// one failing root does not delay the others.
type rootEntry struct {
	root      string
	stream    *watch.Stream
	callbacks []callbackEntry

	// ready is closed once the first open finished; openErr is its failure.
	ready   chan struct{}
	openErr error

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int
}
