package watch

import (
	"sync"
	"testing"
	"time"

	"nativewatch/internal/fsapi"
	"nativewatch/internal/native"
)

// opLog records facility calls in the order they happen.
type opLog struct {
	mutex sync.Mutex
	ops   []string
}

func (l *opLog) add(op string) {
	l.mutex.Lock()
	l.ops = append(l.ops, op)
	l.mutex.Unlock()
}

func (l *opLog) list() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeFacility struct {
	current  fsapi.EventID
	log      *opLog
	startErr error

	// beforeStartReturns runs inside the native Start call.
	beforeStartReturns func()

	mutex   sync.Mutex
	streams []*fakeStream
	queues  []*fakeQueue
}

func newFakeFacility(current fsapi.EventID) *fakeFacility {
	return &fakeFacility{current: current, log: &opLog{}}
}

func (f *fakeFacility) CurrentEventID() fsapi.EventID {
	return f.current
}

func (f *fakeFacility) NewQueue(label string) fsapi.Queue {
	q := &fakeQueue{SerialQueue: native.NewSerialQueue(label, nil), log: f.log}
	f.mutex.Lock()
	f.queues = append(f.queues, q)
	f.mutex.Unlock()
	return q
}

func (f *fakeFacility) CreateStream(ctx fsapi.Context, paths []string, since fsapi.EventID, latency time.Duration, flags fsapi.CreateFlags) (fsapi.Stream, error) {
	stream := &fakeStream{
		ctx:      ctx,
		paths:    paths,
		since:    since,
		latency:  latency,
		flags:    flags,
		log:      f.log,
		startErr: f.startErr,
		onStart:  f.beforeStartReturns,
	}
	f.mutex.Lock()
	f.streams = append(f.streams, stream)
	f.mutex.Unlock()
	return stream, nil
}

func (f *fakeFacility) stream(t *testing.T) *fakeStream {
	t.Helper()
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.streams) != 1 {
		t.Fatalf("expected one native stream, got %d", len(f.streams))
	}
	return f.streams[0]
}

func (f *fakeFacility) queue(t *testing.T) *fakeQueue {
	t.Helper()
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.queues) != 1 {
		t.Fatalf("expected one queue, got %d", len(f.queues))
	}
	return f.queues[0]
}

type fakeQueue struct {
	*native.SerialQueue
	log *opLog
}

func (q *fakeQueue) Release() {
	q.log.add("queue.release")
	q.SerialQueue.Release()
}

type fakeStream struct {
	ctx      fsapi.Context
	paths    []string
	since    fsapi.EventID
	latency  time.Duration
	flags    fsapi.CreateFlags
	log      *opLog
	startErr error
	onStart  func()

	mutex       sync.Mutex
	queue       fsapi.Queue
	releaseOnce sync.Once
}

func (s *fakeStream) SetDispatchQueue(queue fsapi.Queue) {
	if queue == nil {
		s.log.add("detach")
	} else {
		s.log.add("bind")
	}
	s.mutex.Lock()
	if queue != nil {
		s.queue = queue
	}
	s.mutex.Unlock()
}

func (s *fakeStream) Start() error {
	s.log.add("start")
	if s.onStart != nil {
		s.onStart()
	}
	return s.startErr
}

func (s *fakeStream) Stop() {
	s.log.add("stop")
}

func (s *fakeStream) Invalidate() {
	s.log.add("invalidate")
}

// Release waits for the bound queue to drain before running the release
// hook, the way the real facilities wait for in-flight callbacks.
func (s *fakeStream) Release() {
	s.log.add("release")
	s.releaseOnce.Do(func() {
		s.mutex.Lock()
		queue, _ := s.queue.(*fakeQueue)
		s.mutex.Unlock()
		if queue != nil {
			<-queue.Done()
		}
		if s.ctx.Release != nil {
			s.ctx.Release(s.ctx.Info)
		}
	})
}

// emit delivers one batch and waits until the callback has returned.
func (s *fakeStream) emit(t *testing.T, events ...fsapi.NativeEvent) {
	t.Helper()
	s.mutex.Lock()
	queue := s.queue
	s.mutex.Unlock()
	if queue == nil {
		t.Fatal("emit on a stream without a queue")
	}
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

func event(id fsapi.EventID, flags fsapi.EventFlags, path string) fsapi.NativeEvent {
	return fsapi.NativeEvent{ID: id, Flags: flags, Path: []byte(path)}
}
