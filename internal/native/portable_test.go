package native

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nativewatch/internal/fsapi"
)

type recordedBatch struct {
	mutex  sync.Mutex
	events []fsapi.NativeEvent
}

func (r *recordedBatch) callback(_ fsapi.Stream, _ uintptr, events []fsapi.NativeEvent) {
	r.mutex.Lock()
	r.events = append(r.events, events...)
	r.mutex.Unlock()
}

func (r *recordedBatch) find(path string, flag fsapi.EventFlags) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, event := range r.events {
		if string(event.Path) == path && event.Flags.Has(flag) {
			return true
		}
	}
	return false
}

func (r *recordedBatch) seen(path string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, event := range r.events {
		if string(event.Path) == path {
			return true
		}
	}
	return false
}

func (r *recordedBatch) ids() []fsapi.EventID {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	ids := make([]fsapi.EventID, 0, len(r.events))
	for _, event := range r.events {
		if event.ID != 0 {
			ids = append(ids, event.ID)
		}
	}
	return ids
}

func startPortable(t *testing.T, root string, recorder *recordedBatch, released chan struct{}) (fsapi.Stream, *SerialQueue) {
	t.Helper()
	facility := NewPortableFacility(PortableOptions{})
	queue := facility.NewQueue("portable-test").(*SerialQueue)
	stream, err := facility.CreateStream(fsapi.Context{
		Info:     1,
		Callback: recorder.callback,
		Release:  func(uintptr) { close(released) },
	}, []string{root}, facility.CurrentEventID(), 20*time.Millisecond, fsapi.NoDefer|fsapi.WatchRoot|fsapi.FileEvents)
	require.NoError(t, err)
	stream.SetDispatchQueue(queue)
	require.NoError(t, stream.Start())
	return stream, queue
}

func stopPortable(t *testing.T, stream fsapi.Stream, queue *SerialQueue, released chan struct{}) {
	t.Helper()
	stream.Stop()
	stream.SetDispatchQueue(nil)
	stream.Invalidate()
	queue.Release()
	stream.Release()
	waitDone(t, released)
}

func TestPortableFacilityReportsFileLifecycle(t *testing.T) {
	root := t.TempDir()
	recorder := &recordedBatch{}
	released := make(chan struct{})
	stream, queue := startPortable(t, root, recorder, released)
	defer stopPortable(t, stream, queue, released)

	file := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))
	require.Eventually(t, func() bool { return recorder.find(file, fsapi.ItemCreated|fsapi.ItemIsFile) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(file))
	require.Eventually(t, func() bool { return recorder.find(file, fsapi.ItemRemoved) }, 2*time.Second, 10*time.Millisecond)

	ids := recorder.ids()
	for i := 1; i < len(ids); i++ {
		require.Greater(t, ids[i], ids[i-1])
	}
}

func TestPortableFacilityFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	recorder := &recordedBatch{}
	released := make(chan struct{})
	stream, queue := startPortable(t, root, recorder, released)
	defer stopPortable(t, stream, queue, released)

	dir := filepath.Join(root, "nested")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.Eventually(t, func() bool { return recorder.find(dir, fsapi.ItemCreated|fsapi.ItemIsDir) }, 2*time.Second, 10*time.Millisecond)

	file := filepath.Join(dir, "inner.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	require.Eventually(t, func() bool { return recorder.find(file, fsapi.ItemCreated) }, 2*time.Second, 10*time.Millisecond)
}

func TestPendingBatchMergesFlagsPerPath(t *testing.T) {
	batch := newPendingBatch()
	batch.add("/a", fsapi.ItemCreated)
	batch.add("/b", fsapi.ItemModified)
	batch.add("/a", fsapi.ItemModified)
	batch.addMarker("/a", fsapi.RootChanged)

	var clock atomic.Uint64
	events := batch.drain(&clock)

	require.Len(t, events, 3)
	require.Equal(t, "/a", string(events[0].Path))
	require.Equal(t, fsapi.ItemCreated|fsapi.ItemModified, events[0].Flags)
	require.Equal(t, fsapi.EventID(1), events[0].ID)
	require.Equal(t, fsapi.EventID(2), events[1].ID)
	require.Equal(t, fsapi.EventID(0), events[2].ID)
	require.True(t, batch.empty())
}

func TestPortableStartFailureLeavesStopSafe(t *testing.T) {
	facility := NewPortableFacility(PortableOptions{})
	queue := facility.NewQueue("portable-missing").(*SerialQueue)
	released := make(chan struct{})
	stream, err := facility.CreateStream(fsapi.Context{
		Info:    1,
		Release: func(uintptr) { close(released) },
	}, []string{filepath.Join(t.TempDir(), "missing")}, 0, 20*time.Millisecond, fsapi.FileEvents)
	require.NoError(t, err)
	stream.SetDispatchQueue(queue)

	require.Error(t, stream.Start())

	stopPortable(t, stream, queue, released)
}

func TestPortableFacilityWatchesFileRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(root, []byte("a: 1\n"), 0o644))
	recorder := &recordedBatch{}
	released := make(chan struct{})
	stream, queue := startPortable(t, root, recorder, released)
	defer stopPortable(t, stream, queue, released)

	sibling := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(sibling, []byte("b: 2\n"), 0o644))
	require.NoError(t, os.WriteFile(root, []byte("a: 2\n"), 0o644))
	require.Eventually(t, func() bool { return recorder.find(root, fsapi.ItemModified|fsapi.ItemIsFile) }, 2*time.Second, 10*time.Millisecond)

	require.False(t, recorder.seen(sibling))
}
