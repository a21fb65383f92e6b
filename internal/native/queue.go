package native

import (
	"fmt"
	"sync/atomic"

	"nativewatch/internal/logging"
	"nativewatch/internal/queue"
)

// SerialQueue runs dispatched tasks one at a time, in dispatch order, on a
// single worker goroutine owned by the queue.
type SerialQueue struct {
	label    string
	tasks    *queue.Queue[func()]
	done     chan struct{}
	released atomic.Int32
	logger   *logging.Logger
}

func NewSerialQueue(label string, logger *logging.Logger) *SerialQueue {
	q := &SerialQueue{
		label:  label,
		tasks:  queue.New[func()](),
		done:   make(chan struct{}),
		logger: logger,
	}
	go q.work()
	return q
}

func (q *SerialQueue) Dispatch(task func()) bool {
	if q == nil || task == nil {
		return false
	}
	return q.tasks.Push(task)
}

// Release stops intake. Pending tasks still run before the worker exits.
func (q *SerialQueue) Release() {
	if q == nil {
		return
	}
	if q.released.Add(1) > 1 {
		q.logger.Warn("dispatch queue released twice", map[string]string{"queue": q.label})
		return
	}
	q.tasks.Close()
}

// ReleaseCount reports how many times Release was called.
func (q *SerialQueue) ReleaseCount() int {
	return int(q.released.Load())
}

// Done is closed once the queue is released and fully drained.
func (q *SerialQueue) Done() <-chan struct{} {
	return q.done
}

func (q *SerialQueue) work() {
	defer close(q.done)
	for {
		<-q.tasks.Signal()
		for _, task := range q.tasks.DrainAll() {
			q.run(task)
		}
		if q.tasks.Closed() && q.tasks.IsEmpty() {
			return
		}
	}
}

func (q *SerialQueue) run(task func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			q.logger.Error("dispatch queue task panicked", map[string]string{
				"queue": q.label,
				"panic": fmt.Sprint(recovered),
			})
		}
	}()
	task()
}
