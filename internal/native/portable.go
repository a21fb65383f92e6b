package native

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"nativewatch/internal/fsapi"
	"nativewatch/internal/logging"
)

const defaultMaxWatches = 4096

var ErrMaxWatchesExceeded = errors.New("native watch limit exceeded")

// PortableFacility emulates FSEvents streams with fsnotify. Directories under
// each root are registered individually; event ids come from a counter shared
// by every stream of the facility.
type PortableFacility struct {
	logger     *logging.Logger
	maxWatches int
	clock      atomic.Uint64
}

type PortableOptions struct {
	Logger     *logging.Logger
	MaxWatches int
}

func NewPortableFacility(options PortableOptions) *PortableFacility {
	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}
	return &PortableFacility{
		logger:     options.Logger.Category("native"),
		maxWatches: maxWatches,
	}
}

func (facility *PortableFacility) CurrentEventID() fsapi.EventID {
	return fsapi.EventID(facility.clock.Load())
}

func (facility *PortableFacility) NewQueue(label string) fsapi.Queue {
	return NewSerialQueue(label, facility.logger)
}

func (facility *PortableFacility) CreateStream(ctx fsapi.Context, paths []string, since fsapi.EventID, latency time.Duration, flags fsapi.CreateFlags) (fsapi.Stream, error) {
	if len(paths) == 0 {
		return nil, errors.New("native stream needs at least one path")
	}
	roots := make([]string, 0, len(paths))
	for _, path := range paths {
		roots = append(roots, filepath.Clean(path))
	}
	return &portableStream{
		streamCore: newStreamCore(ctx),
		facility:   facility,
		roots:      roots,
		since:      since,
		latency:    latency,
		flags:      flags,
		dirs:       make(map[string]struct{}),
		fileRoots:  make(map[string]struct{}),
		quit:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}, nil
}

type portableStream struct {
	streamCore

	facility *PortableFacility
	roots    []string
	since    fsapi.EventID
	latency  time.Duration
	flags    fsapi.CreateFlags

	watcher  *fsnotify.Watcher
	dirMutex sync.Mutex
	dirs     map[string]struct{}
	// fileRoots are roots that are not directories; their parent is watched
	// and only the root path itself is reported.
	fileRoots map[string]struct{}

	quit     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
}

func (stream *portableStream) Start() error {
	first, err := stream.beginStart()
	if err != nil || !first {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		stream.markStopped()
		return err
	}
	stream.watcher = watcher
	for _, root := range stream.roots {
		if err := stream.addRoot(root); err != nil {
			// The loop never ran; a later Stop must not wait for it.
			stream.markStopped()
			_ = watcher.Close()
			return err
		}
	}
	go stream.loop()
	return nil
}

func (stream *portableStream) Stop() {
	if !stream.markStopped() {
		return
	}
	stream.stopOnce.Do(func() {
		close(stream.quit)
		<-stream.loopDone
		if stream.watcher != nil {
			_ = stream.watcher.Close()
		}
	})
}

// addRoot registers the tree under a directory root, or the parent directory
// of any other root.
func (stream *portableStream) addRoot(root string) error {
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return stream.addTree(root, nil)
	}
	stream.fileRoots[root] = struct{}{}
	return stream.addDir(filepath.Dir(root))
}

// addTree registers root and every directory below it. When created is not
// nil, entries found during the walk are reported as created so that files
// written before the watch landed are not lost.
func (stream *portableStream) addTree(root string, created *pendingBatch) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if created != nil && path != root {
			created.add(path, fsapi.ItemCreated|typeFlags(entry.Type()))
		}
		if !entry.IsDir() {
			return nil
		}
		return stream.addDir(path)
	})
}

func (stream *portableStream) addDir(path string) error {
	stream.dirMutex.Lock()
	if _, ok := stream.dirs[path]; ok {
		stream.dirMutex.Unlock()
		return nil
	}
	if len(stream.dirs) >= stream.facility.maxWatches {
		stream.dirMutex.Unlock()
		return ErrMaxWatchesExceeded
	}
	stream.dirs[path] = struct{}{}
	stream.dirMutex.Unlock()

	if err := stream.watcher.Add(path); err != nil {
		stream.forgetDir(path)
		return err
	}
	return nil
}

func (stream *portableStream) forgetDir(path string) bool {
	stream.dirMutex.Lock()
	defer stream.dirMutex.Unlock()
	if _, ok := stream.dirs[path]; !ok {
		return false
	}
	delete(stream.dirs, path)
	return true
}

func (stream *portableStream) isDir(path string) bool {
	stream.dirMutex.Lock()
	defer stream.dirMutex.Unlock()
	_, ok := stream.dirs[path]
	return ok
}

func (stream *portableStream) loop() {
	defer close(stream.loopDone)

	batch := newPendingBatch()
	var timer *time.Timer
	var timerC <-chan time.Time
	lastFlush := time.Time{}

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if batch.empty() {
			return
		}
		stream.deliver(stream, batch.drain(&stream.facility.clock))
		lastFlush = time.Now()
	}
	schedule := func() {
		if stream.flags.Has(fsapi.NoDefer) && time.Since(lastFlush) >= stream.latency {
			flush()
			return
		}
		if timer == nil {
			timer = time.NewTimer(stream.latency)
			timerC = timer.C
		}
	}

	for {
		select {
		case <-stream.quit:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-stream.watcher.Events:
			if !ok {
				return
			}
			if stream.translate(event, batch) {
				schedule()
			}
		case err, ok := <-stream.watcher.Errors:
			if !ok {
				return
			}
			stream.handleError(err, batch)
			flush()
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// translate folds one fsnotify event into batch and reports whether anything
// was added.
func (stream *portableStream) translate(event fsnotify.Event, batch *pendingBatch) bool {
	path := filepath.Clean(event.Name)
	if !stream.covers(path) {
		return false
	}

	flags := fsapi.EventFlags(0)
	if event.Has(fsnotify.Create) {
		flags |= fsapi.ItemCreated
	}
	if event.Has(fsnotify.Remove) {
		flags |= fsapi.ItemRemoved
	}
	if event.Has(fsnotify.Write) {
		flags |= fsapi.ItemModified
	}
	if event.Has(fsnotify.Chmod) {
		flags |= fsapi.ItemInodeMetaMod
	}
	if event.Has(fsnotify.Rename) {
		flags |= fsapi.ItemRenamed
	}
	if flags == 0 {
		return false
	}

	info, err := os.Lstat(path)
	switch {
	case err == nil:
		flags |= typeFlags(info.Mode().Type())
	case stream.isDir(path):
		flags |= fsapi.ItemIsDir
	default:
		flags |= fsapi.ItemIsFile
	}

	if flags.Any(fsapi.ItemRemoved|fsapi.ItemRenamed) && err != nil {
		if stream.forgetDir(path) && stream.watcher != nil {
			_ = stream.watcher.Remove(path)
		}
	}

	if !stream.flags.Has(fsapi.FileEvents) {
		batch.add(filepath.Dir(path), fsapi.None)
	} else {
		batch.add(path, flags)
	}

	if flags.Has(fsapi.ItemCreated) && err == nil && info.IsDir() && !stream.isFileRoot(path) {
		if addErr := stream.addTree(path, batch); addErr != nil {
			stream.logAddFailure(path, addErr)
			if errors.Is(addErr, ErrMaxWatchesExceeded) || isFatalWatchError(addErr) {
				batch.addMarker(path, fsapi.MustScanSubDirs|fsapi.UserDropped)
			}
		}
	}

	if stream.flags.Has(fsapi.WatchRoot) && stream.isRoot(path) && flags.Any(fsapi.ItemRemoved|fsapi.ItemRenamed) && err != nil {
		batch.addMarker(path, fsapi.RootChanged)
	}
	return true
}

func (stream *portableStream) handleError(err error, batch *pendingBatch) {
	reason := fsapi.KernelDropped
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		reason = fsapi.UserDropped
	}
	stream.facility.logger.Warn("native watch error", map[string]string{
		"error": err.Error(),
		"fatal": boolString(isFatalWatchError(err)),
	})
	for _, root := range stream.roots {
		batch.add(root, fsapi.MustScanSubDirs|reason)
	}
}

func (stream *portableStream) logAddFailure(path string, err error) {
	stream.facility.logger.Warn("watch add failed", map[string]string{
		"path":  path,
		"error": err.Error(),
	})
}

func (stream *portableStream) covers(path string) bool {
	for _, root := range stream.roots {
		if path == root {
			return true
		}
		if stream.isFileRoot(root) {
			continue
		}
		if strings.HasPrefix(path, root+string(filepath.Separator)) || root == string(filepath.Separator) {
			return true
		}
	}
	return false
}

// fileRoots is only written before the loop starts.
func (stream *portableStream) isFileRoot(path string) bool {
	_, ok := stream.fileRoots[path]
	return ok
}

func (stream *portableStream) isRoot(path string) bool {
	for _, root := range stream.roots {
		if path == root {
			return true
		}
	}
	return false
}

func typeFlags(mode fs.FileMode) fsapi.EventFlags {
	switch {
	case mode&fs.ModeSymlink != 0:
		return fsapi.ItemIsSymlink
	case mode.IsDir():
		return fsapi.ItemIsDir
	default:
		return fsapi.ItemIsFile
	}
}

func boolString(value bool) string {
	if value {
		return "true"
	}
	return "false"
}

// pendingBatch accumulates events between flushes. Repeated events for one
// path collapse into a single entry whose flags are OR-ed together, keeping
// the position of the first occurrence.
type pendingBatch struct {
	entries []pendingEntry
	index   map[string]int
}

type pendingEntry struct {
	path   string
	flags  fsapi.EventFlags
	marker bool
}

func newPendingBatch() *pendingBatch {
	return &pendingBatch{index: make(map[string]int)}
}

func (batch *pendingBatch) add(path string, flags fsapi.EventFlags) {
	if position, ok := batch.index[path]; ok {
		batch.entries[position].flags |= flags
		return
	}
	batch.index[path] = len(batch.entries)
	batch.entries = append(batch.entries, pendingEntry{path: path, flags: flags})
}

// addMarker appends an entry that is never merged and carries event id zero,
// the way FSEvents reports root and drop notifications.
func (batch *pendingBatch) addMarker(path string, flags fsapi.EventFlags) {
	batch.entries = append(batch.entries, pendingEntry{path: path, flags: flags, marker: true})
}

func (batch *pendingBatch) empty() bool {
	return len(batch.entries) == 0
}

func (batch *pendingBatch) drain(clock *atomic.Uint64) []fsapi.NativeEvent {
	events := make([]fsapi.NativeEvent, 0, len(batch.entries))
	for _, entry := range batch.entries {
		id := fsapi.EventID(0)
		if !entry.marker {
			id = fsapi.EventID(clock.Add(1))
		}
		events = append(events, fsapi.NativeEvent{ID: id, Flags: entry.flags, Path: []byte(entry.path)})
	}
	batch.entries = nil
	batch.index = make(map[string]int)
	return events
}
