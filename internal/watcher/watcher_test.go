package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nativewatch/internal/fsapi"
	"nativewatch/internal/native"
	"nativewatch/internal/watch"
)

type eventSink struct {
	mutex  sync.Mutex
	events []Event
}

func (sink *eventSink) add(event Event) {
	sink.mutex.Lock()
	sink.events = append(sink.events, event)
	sink.mutex.Unlock()
}

func (sink *eventSink) list() []Event {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	return append([]Event(nil), sink.events...)
}

func (sink *eventSink) summary() []string {
	events := sink.list()
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.Kind.String()+" "+event.Path)
	}
	return out
}

func newScriptedWatcher(t *testing.T, options Options) (*Watcher, *scriptedFacility) {
	t.Helper()
	facility := &scriptedFacility{}
	options.Facility = facility
	watcher, err := NewWithOptions(options)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() {
		_ = watcher.Close()
	})
	return watcher, facility
}

func resolvedTempDir(t *testing.T) string {
	t.Helper()
	root, err := watch.ResolvePath(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	return root
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestWatchSharesStreamPerRoot(t *testing.T) {
	watcher, facility := newScriptedWatcher(t, Options{})
	root := resolvedTempDir(t)

	first, second := &eventSink{}, &eventSink{}
	firstHandle, err := watcher.Watch(root, first.add, WatchOptions{})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	secondHandle, err := watcher.Watch(root, second.add, WatchOptions{})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if facility.count() != 1 {
		t.Fatalf("expected one shared stream, got %d", facility.count())
	}

	stream := facility.at(t, 0)
	stream.emit(t, nativeEvent(2, fsapi.ItemCreated, filepath.Join(root, "a")))
	if len(first.list()) != 1 || len(second.list()) != 1 {
		t.Fatalf("expected both callbacks to see the event, got %d and %d", len(first.list()), len(second.list()))
	}

	if err := firstHandle.Close(); err != nil {
		t.Fatalf("close handle: %v", err)
	}
	if err := firstHandle.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if stream.isStopped() {
		t.Fatal("stream stopped while a callback remains")
	}
	if err := secondHandle.Close(); err != nil {
		t.Fatalf("close handle: %v", err)
	}
	if !stream.isStopped() {
		t.Fatal("expected stream to stop after the last handle closed")
	}
	if got := watcher.Metrics().ActiveWatches; got != 0 {
		t.Fatalf("expected no active watches, got %d", got)
	}
}

func TestWatchLimit(t *testing.T) {
	watcher, _ := newScriptedWatcher(t, Options{MaxWatches: 1})

	if _, err := watcher.Watch(t.TempDir(), func(Event) {}, WatchOptions{}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if _, err := watcher.Watch(t.TempDir(), func(Event) {}, WatchOptions{}); !errors.Is(err, ErrMaxWatchesExceeded) {
		t.Fatalf("expected ErrMaxWatchesExceeded, got %v", err)
	}
}

func TestWatchValidation(t *testing.T) {
	watcher, _ := newScriptedWatcher(t, Options{})

	if _, err := watcher.Watch("relative", func(Event) {}, WatchOptions{}); !errors.Is(err, watch.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	if _, err := watcher.Watch(t.TempDir(), nil, WatchOptions{}); err == nil {
		t.Fatal("expected error for nil callback")
	}

	_ = watcher.Close()
	if _, err := watcher.Watch(t.TempDir(), func(Event) {}, WatchOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestScopeAndKindFilters(t *testing.T) {
	watcher, facility := newScriptedWatcher(t, Options{})
	root := resolvedTempDir(t)

	all, children, deletes := &eventSink{}, &eventSink{}, &eventSink{}
	for _, registration := range []struct {
		sink    *eventSink
		options WatchOptions
	}{
		{all, WatchOptions{}},
		{children, WatchOptions{Scope: ScopeChildren}},
		{deletes, WatchOptions{Kinds: []watch.Kind{watch.KindDelete}}},
	} {
		if _, err := watcher.Watch(root, registration.sink.add, registration.options); err != nil {
			t.Fatalf("watch: %v", err)
		}
	}

	child := filepath.Join(root, "child.txt")
	nested := filepath.Join(root, "sub", "nested.txt")
	facility.at(t, 0).emit(t,
		nativeEvent(2, fsapi.ItemCreated, child),
		nativeEvent(3, fsapi.ItemRemoved, nested),
	)

	if got, want := all.summary(), []string{"create " + child, "delete " + nested}; !equalStrings(got, want) {
		t.Fatalf("all descendants: got %v, want %v", got, want)
	}
	if got, want := children.summary(), []string{"create " + child}; !equalStrings(got, want) {
		t.Fatalf("children: got %v, want %v", got, want)
	}
	if got, want := deletes.summary(), []string{"delete " + nested}; !equalStrings(got, want) {
		t.Fatalf("kind filter: got %v, want %v", got, want)
	}
}

func TestOverflowApproximation(t *testing.T) {
	root := resolvedTempDir(t)
	mustWrite(t, filepath.Join(root, "a.txt"), "data")
	mustWrite(t, filepath.Join(root, "empty.txt"), "")
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mustWrite(t, filepath.Join(root, "sub", "b.txt"), "more")

	watcher, facility := newScriptedWatcher(t, Options{})
	passthrough, everything, shallow := &eventSink{}, &eventSink{}, &eventSink{}
	for _, registration := range []struct {
		sink    *eventSink
		options WatchOptions
	}{
		{passthrough, WatchOptions{}},
		{everything, WatchOptions{Approximation: ApproximationAll}},
		{shallow, WatchOptions{Approximation: ApproximationAll, Scope: ScopeChildren}},
	} {
		if _, err := watcher.Watch(root, registration.sink.add, registration.options); err != nil {
			t.Fatalf("watch: %v", err)
		}
	}

	facility.at(t, 0).emit(t, nativeEvent(5, fsapi.MustScanSubDirs, root))

	if got, want := passthrough.summary(), []string{"overflow " + root}; !equalStrings(got, want) {
		t.Fatalf("passthrough: got %v, want %v", got, want)
	}
	wantAll := []string{
		"overflow " + root,
		"create " + filepath.Join(root, "a.txt"),
		"modify " + filepath.Join(root, "a.txt"),
		"create " + filepath.Join(root, "empty.txt"),
		"create " + filepath.Join(root, "sub"),
		"create " + filepath.Join(root, "sub", "b.txt"),
		"modify " + filepath.Join(root, "sub", "b.txt"),
	}
	if got := everything.summary(); !equalStrings(got, wantAll) {
		t.Fatalf("all: got %v, want %v", got, wantAll)
	}
	wantShallow := []string{
		"overflow " + root,
		"create " + filepath.Join(root, "a.txt"),
		"modify " + filepath.Join(root, "a.txt"),
		"create " + filepath.Join(root, "empty.txt"),
		"create " + filepath.Join(root, "sub"),
	}
	if got := shallow.summary(); !equalStrings(got, wantShallow) {
		t.Fatalf("children: got %v, want %v", got, wantShallow)
	}
}

func TestWatcherDispatchesCreateEvent(t *testing.T) {
	watcher, err := NewWithOptions(Options{
		Facility: native.NewPortableFacility(native.PortableOptions{}),
		Latency:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	root := resolvedTempDir(t)
	events := make(chan Event, 16)
	handle, err := watcher.Watch(root, func(event Event) {
		select {
		case events <- event:
		default:
		}
	}, WatchOptions{Kinds: []watch.Kind{watch.KindCreate}})
	if err != nil {
		t.Fatalf("watch path: %v", err)
	}
	defer handle.Close()

	path := filepath.Join(root, "created.txt")
	mustWrite(t, path, "hello")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Path == path && event.Kind == watch.KindCreate && event.Root == root {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for create event")
		}
	}
}

func TestWatchPassesCreateFlags(t *testing.T) {
	flags := fsapi.WatchRoot | fsapi.FileEvents | fsapi.IgnoreSelf
	watcher, facility := newScriptedWatcher(t, Options{Flags: flags})

	if _, err := watcher.Watch(t.TempDir(), func(Event) {}, WatchOptions{}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if got := facility.at(t, 0).flags; got != flags {
		t.Fatalf("expected flags %v, got %v", flags, got)
	}
}

func TestFailedOpenReachesEveryWaitingCaller(t *testing.T) {
	watcher, facility := newScriptedWatcher(t, Options{})
	boom := errors.New("stream refused")
	facility.startGate = make(chan struct{})
	facility.startErr = boom
	root := resolvedTempDir(t)

	results := make(chan error, 2)
	watchRoot := func() {
		_, err := watcher.Watch(root, func(Event) {}, WatchOptions{})
		results <- err
	}
	go watchRoot()
	waitFor(t, func() bool { return facility.count() == 1 })
	go watchRoot()
	waitFor(t, func() bool {
		watcher.mutex.Lock()
		defer watcher.mutex.Unlock()
		entry := watcher.roots[root]
		return entry != nil && len(entry.callbacks) == 2
	})
	close(facility.startGate)

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if !errors.Is(err, boom) {
				t.Fatalf("expected the open failure, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("watch did not return")
		}
	}
	if got := watcher.Metrics().ActiveWatches; got != 0 {
		t.Fatalf("expected no active watches, got %d", got)
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
