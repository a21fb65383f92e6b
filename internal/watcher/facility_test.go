package watcher

import (
	"sync"
	"testing"
	"time"

	"nativewatch/internal/fsapi"
	"nativewatch/internal/native"
)

// scriptedFacility hands out streams whose events are injected by tests.
type scriptedFacility struct {
	// startGate, when set, holds every Start until it is closed.
	startGate chan struct{}
	startErr  error

	mutex   sync.Mutex
	streams []*scriptedStream
}

func (f *scriptedFacility) CurrentEventID() fsapi.EventID {
	return 1
}

func (f *scriptedFacility) NewQueue(label string) fsapi.Queue {
	return native.NewSerialQueue(label, nil)
}

func (f *scriptedFacility) CreateStream(ctx fsapi.Context, paths []string, since fsapi.EventID, latency time.Duration, flags fsapi.CreateFlags) (fsapi.Stream, error) {
	stream := &scriptedStream{ctx: ctx, root: paths[0], flags: flags, gate: f.startGate, startErr: f.startErr}
	f.mutex.Lock()
	f.streams = append(f.streams, stream)
	f.mutex.Unlock()
	return stream, nil
}

func (f *scriptedFacility) count() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.streams)
}

func (f *scriptedFacility) at(t *testing.T, index int) *scriptedStream {
	t.Helper()
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if index >= len(f.streams) {
		t.Fatalf("expected stream %d, have %d", index, len(f.streams))
	}
	return f.streams[index]
}

type scriptedStream struct {
	ctx      fsapi.Context
	root     string
	flags    fsapi.CreateFlags
	gate     chan struct{}
	startErr error

	mutex   sync.Mutex
	queue   *native.SerialQueue
	stopped bool
	once    sync.Once
}

func (s *scriptedStream) SetDispatchQueue(queue fsapi.Queue) {
	if queue == nil {
		return
	}
	s.mutex.Lock()
	s.queue = queue.(*native.SerialQueue)
	s.mutex.Unlock()
}

func (s *scriptedStream) Start() error {
	if s.gate != nil {
		<-s.gate
	}
	return s.startErr
}

func (s *scriptedStream) Stop() {
	s.mutex.Lock()
	s.stopped = true
	s.mutex.Unlock()
}

func (s *scriptedStream) Invalidate() {}

func (s *scriptedStream) Release() {
	s.once.Do(func() {
		s.mutex.Lock()
		queue := s.queue
		s.mutex.Unlock()
		if queue != nil {
			<-queue.Done()
		}
		s.ctx.Release(s.ctx.Info)
	})
}

func (s *scriptedStream) isStopped() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stopped
}

func (s *scriptedStream) emit(t *testing.T, events ...fsapi.NativeEvent) {
	t.Helper()
	s.mutex.Lock()
	queue := s.queue
	s.mutex.Unlock()
	done := make(chan struct{})
	queue.Dispatch(func() {
		defer close(done)
		s.ctx.Callback(s, s.ctx.Info, events)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not run")
	}
}

func nativeEvent(id fsapi.EventID, flags fsapi.EventFlags, path string) fsapi.NativeEvent {
	return fsapi.NativeEvent{ID: id, Flags: flags, Path: []byte(path)}
}
