// Package queue provides an unbounded FIFO that one or more producers can
// push to while a consumer drains it from another goroutine.
package queue

import "sync"

// Queue keeps items in push order. The zero value is not usable; use New.
type Queue[T any] struct {
	mutex  sync.Mutex
	items  []T
	signal chan struct{}
	closed bool
}

func New[T any]() *Queue[T] {
	return &Queue[T]{signal: make(chan struct{}, 1)}
}

// Push appends item and wakes a waiting consumer. It reports false after Close.
func (q *Queue[T]) Push(item T) bool {
	if q == nil {
		return false
	}
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mutex.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// DrainAll removes and returns everything queued so far, oldest first.
func (q *Queue[T]) DrainAll() []T {
	if q == nil {
		return nil
	}
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	drained := q.items
	q.items = nil
	return drained
}

func (q *Queue[T]) Len() int {
	if q == nil {
		return 0
	}
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Signal fires at least once after any Push. Consumers drain after receiving.
func (q *Queue[T]) Signal() <-chan struct{} {
	return q.signal
}

// Close rejects further pushes. Items already queued stay drainable.
func (q *Queue[T]) Close() {
	if q == nil {
		return
	}
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return
	}
	q.closed = true
	q.mutex.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) Closed() bool {
	if q == nil {
		return true
	}
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.closed
}
