package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nativewatch/internal/watch"
)

type watchHandle struct {
	watcher *Watcher
	root    string
	id      uint64
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	handle.once.Do(func() {
		handle.watcher.removeCallback(handle.root, handle.id)
	})
	return nil
}

// Watch registers a callback for changes under path. Callbacks on the same
// resolved root share one stream.
func (watcher *Watcher) Watch(path string, callback func(Event), options WatchOptions) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	root, err := watch.ResolvePath(path)
	if err != nil {
		return nil, err
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, ErrClosed
	}
	entry := watcher.roots[root]
	needsStream := entry == nil
	if needsStream && len(watcher.roots) >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return nil, ErrMaxWatchesExceeded
	}
	if needsStream {
		entry = &rootEntry{root: root, ready: make(chan struct{})}
		watcher.roots[root] = entry
	}
	watcher.nextID++
	registration := newCallbackEntry(watcher.nextID, callback, options)
	entry.callbacks = append(entry.callbacks, registration)
	activeCount := len(watcher.roots)
	watcher.mutex.Unlock()

	if !needsStream {
		// Joining a root whose first open may still be running.
		<-entry.ready
		if entry.openErr != nil {
			return nil, entry.openErr
		}
		return &watchHandle{watcher: watcher, root: root, id: registration.id}, nil
	}

	if err := watcher.attachStream(root, entry); err != nil {
		return nil, err
	}
	watcher.logDebug("watch added", root, activeCount)
	return &watchHandle{watcher: watcher, root: root, id: registration.id}, nil
}

// attachStream opens the stream for a new entry and wakes every caller
// waiting on it. On failure the entry is dropped along with all callbacks
// registered while the open ran.
func (watcher *Watcher) attachStream(root string, entry *rootEntry) (err error) {
	defer func() {
		entry.openErr = err
		close(entry.ready)
	}()

	stream, err := watcher.openStream(root)
	if err != nil {
		watcher.dropRoot(root, entry)
		watcher.logWarn("watch add failed", map[string]string{
			"root":  root,
			"error": err.Error(),
		})
		return err
	}
	watcher.mutex.Lock()
	attached := !watcher.closed && watcher.roots[root] == entry
	if attached {
		entry.stream = stream
	}
	watcher.mutex.Unlock()
	if !attached {
		stream.Stop()
		return ErrClosed
	}
	return nil
}

func newCallbackEntry(id uint64, callback func(Event), options WatchOptions) callbackEntry {
	entry := callbackEntry{id: id, callback: callback, options: options}
	if len(options.Kinds) > 0 {
		entry.kinds = make(map[watch.Kind]bool, len(options.Kinds))
		for _, kind := range options.Kinds {
			entry.kinds[kind] = true
		}
	}
	return entry
}

func (entry callbackEntry) wants(kind watch.Kind) bool {
	return entry.kinds == nil || entry.kinds[kind]
}

// covers applies the scope. Overflow concerns the whole root and always
// passes.
func (entry callbackEntry) covers(root string, kind watch.Kind, path string) bool {
	if kind == watch.KindOverflow || entry.options.Scope == ScopeAllDescendants {
		return isWithinPath(root, path)
	}
	clean := filepath.Clean(path)
	return clean == root || filepath.Dir(clean) == root
}

func (watcher *Watcher) removeCallback(root string, id uint64) {
	if watcher == nil {
		return
	}

	watcher.mutex.Lock()
	entry := watcher.roots[root]
	if entry == nil {
		watcher.mutex.Unlock()
		return
	}
	for index, candidate := range entry.callbacks {
		if candidate.id == id {
			entry.callbacks = append(entry.callbacks[:index], entry.callbacks[index+1:]...)
			break
		}
	}
	if len(entry.callbacks) > 0 {
		watcher.mutex.Unlock()
		return
	}
	delete(watcher.roots, root)
	activeCount := len(watcher.roots)
	stream := entry.stream
	watcher.mutex.Unlock()

	entry.cancelRestart()
	if stream != nil {
		stream.Stop()
	}
	watcher.logDebug("watch removed", root, activeCount)
}

func (watcher *Watcher) dropRoot(root string, entry *rootEntry) {
	watcher.mutex.Lock()
	if watcher.roots[root] == entry {
		delete(watcher.roots, root)
	}
	watcher.mutex.Unlock()
}

type rootHandler struct {
	watcher *Watcher
	root    string
}

func (handler rootHandler) HandleChange(kind watch.Kind, path string) error {
	handler.watcher.dispatch(handler.root, kind, path)
	return nil
}

func (watcher *Watcher) dispatch(root string, kind watch.Kind, path string) {
	watcher.mutex.Lock()
	var callbacks []callbackEntry
	if entry := watcher.roots[root]; entry != nil {
		callbacks = append(callbacks, entry.callbacks...)
	}
	watcher.mutex.Unlock()

	if len(callbacks) == 0 {
		atomic.AddUint64(&watcher.eventsDropped, 1)
		return
	}

	event := Event{Kind: kind, Root: root, Path: path, Timestamp: time.Now()}
	for _, registration := range callbacks {
		if registration.wants(kind) && registration.covers(root, kind, path) {
			registration.callback(event)
			atomic.AddUint64(&watcher.eventsDelivered, 1)
		} else {
			atomic.AddUint64(&watcher.eventsDropped, 1)
		}
		if kind == watch.KindOverflow && registration.options.Approximation == ApproximationAll {
			watcher.approximate(root, registration)
		}
	}
}

func isWithinPath(parent, child string) bool {
	parentPath := filepath.Clean(parent)
	childPath := filepath.Clean(child)
	rel, err := filepath.Rel(parentPath, childPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}
