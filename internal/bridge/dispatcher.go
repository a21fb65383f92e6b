package bridge

import (
	"errors"
	"fmt"

	"nativewatch/internal/logging"
	"nativewatch/internal/queue"
	"nativewatch/internal/watch"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

type DispatcherOptions struct {
	Logger  *logging.Logger
	OnError func(error)
}

type dispatchItem struct {
	kind   watch.Kind
	path   string
	notify bool
}

// Dispatcher decouples the native queue from a slow target. HandleChange only
// enqueues; one goroutine owns the target and calls it in arrival order.
type Dispatcher struct {
	target  watch.Handler
	items   *queue.Queue[dispatchItem]
	done    chan struct{}
	onError func(error)
	logger  *logging.Logger
}

func NewDispatcher(target watch.Handler, options DispatcherOptions) *Dispatcher {
	dispatcher := &Dispatcher{
		target:  target,
		items:   queue.New[dispatchItem](),
		done:    make(chan struct{}),
		onError: options.OnError,
		logger:  options.Logger.Category("dispatcher"),
	}
	go dispatcher.run()
	return dispatcher
}

func (dispatcher *Dispatcher) HandleChange(kind watch.Kind, path string) error {
	if !dispatcher.items.Push(dispatchItem{kind: kind, path: path}) {
		return ErrDispatcherClosed
	}
	return nil
}

func (dispatcher *Dispatcher) NewEvents() {
	if _, ok := dispatcher.target.(watch.Notifier); !ok {
		return
	}
	dispatcher.items.Push(dispatchItem{notify: true})
}

// Close stops intake, delivers what is already queued and waits for the
// consumer to finish.
func (dispatcher *Dispatcher) Close() {
	dispatcher.items.Close()
	<-dispatcher.done
}

func (dispatcher *Dispatcher) run() {
	defer close(dispatcher.done)
	for {
		<-dispatcher.items.Signal()
		for _, item := range dispatcher.items.DrainAll() {
			dispatcher.deliver(item)
		}
		if dispatcher.items.Closed() && dispatcher.items.IsEmpty() {
			return
		}
	}
}

func (dispatcher *Dispatcher) deliver(item dispatchItem) {
	if item.notify {
		if notifier, ok := dispatcher.target.(watch.Notifier); ok {
			notifier.NewEvents()
		}
		return
	}
	if err := dispatcher.target.HandleChange(item.kind, item.path); err != nil {
		dispatcher.report(fmt.Errorf("dispatch %s for %s: %w", item.kind, item.path, err))
	}
}

func (dispatcher *Dispatcher) report(err error) {
	if dispatcher.onError != nil {
		dispatcher.onError(err)
		return
	}
	dispatcher.logger.Error("dispatch failed", map[string]string{"error": err.Error()})
}
