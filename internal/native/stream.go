// Package native implements fsapi.Facility on top of the host's file-event
// source: FSEvents on darwin, fsnotify everywhere else.
package native

import (
	"sync"
	"sync/atomic"

	"nativewatch/internal/fsapi"
)

// streamCore carries the state every facility stream shares: the bound
// dispatch queue, the start/stop/invalidate flags and the retain count that
// decides when the release hook may run.
//
// The handle itself holds one reference; each dispatched callback holds one
// more until it returns. The release hook fires when the count reaches zero,
// so it can never run while a callback still observes Context.Info.
type streamCore struct {
	ctx fsapi.Context

	mutex       sync.Mutex
	queue       fsapi.Queue
	started     bool
	stopped     bool
	invalid     bool
	refs        atomic.Int64
	dropHandle  sync.Once
	releaseOnce sync.Once
}

func newStreamCore(ctx fsapi.Context) streamCore {
	core := streamCore{ctx: ctx}
	core.refs.Store(1)
	return core
}

func (core *streamCore) SetDispatchQueue(queue fsapi.Queue) {
	core.mutex.Lock()
	core.queue = queue
	core.mutex.Unlock()
}

// beginStart validates state and marks the stream started. It reports false
// when the stream was already started.
func (core *streamCore) beginStart() (bool, error) {
	core.mutex.Lock()
	defer core.mutex.Unlock()
	if core.invalid || core.stopped {
		return false, fsapi.ErrStreamInvalid
	}
	if core.queue == nil {
		return false, fsapi.ErrNoQueue
	}
	if core.started {
		return false, nil
	}
	core.started = true
	return true, nil
}

// markStopped reports whether this call performed the transition.
func (core *streamCore) markStopped() bool {
	core.mutex.Lock()
	defer core.mutex.Unlock()
	if core.stopped {
		return false
	}
	core.stopped = true
	return core.started
}

func (core *streamCore) Invalidate() {
	core.mutex.Lock()
	core.invalid = true
	core.stopped = true
	core.mutex.Unlock()
}

func (core *streamCore) Release() {
	core.dropHandle.Do(core.unref)
}

func (core *streamCore) deliverable() bool {
	core.mutex.Lock()
	defer core.mutex.Unlock()
	return !core.invalid && !core.stopped
}

// deliver schedules one callback invocation for batch on the bound queue.
func (core *streamCore) deliver(self fsapi.Stream, batch []fsapi.NativeEvent) {
	if len(batch) == 0 {
		return
	}
	core.mutex.Lock()
	if core.invalid || core.stopped || core.queue == nil {
		core.mutex.Unlock()
		return
	}
	queue := core.queue
	core.refs.Add(1)
	core.mutex.Unlock()

	scheduled := queue.Dispatch(func() {
		defer core.unref()
		if !core.deliverable() {
			return
		}
		if core.ctx.Callback != nil {
			core.ctx.Callback(self, core.ctx.Info, batch)
		}
	})
	if !scheduled {
		core.unref()
	}
}

func (core *streamCore) unref() {
	if core.refs.Add(-1) != 0 {
		return
	}
	core.releaseOnce.Do(func() {
		if core.ctx.Release != nil {
			core.ctx.Release(core.ctx.Info)
		}
	})
}
