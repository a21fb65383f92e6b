package watch

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"unicode/utf8"

	"nativewatch/internal/fsapi"
	"nativewatch/internal/logging"
	"nativewatch/internal/metrics"
	"nativewatch/internal/queue"
)

// RawEvent is one native event as seen by a polling consumer.
type RawEvent struct {
	ID    fsapi.EventID
	Flags fsapi.EventFlags
	Path  string
}

// callbackContext is everything the native callback needs to reach the
// handler. Until Start it belongs to the Stream; after Start only the
// registry handle refers to it and the release hook reclaims it.
type callbackContext struct {
	root    string
	since   fsapi.EventID
	handler Handler
	notify  func()
	polled  *queue.Queue[RawEvent]
	exists  func(string) bool
	onFatal func(error)

	logger   *logging.Logger
	metrics  *metrics.Registry
	reclaims atomic.Int32
}

// onNativeEvents is the single entry point the facility calls on the
// stream's serial queue.
func onNativeEvents(_ fsapi.Stream, info uintptr, events []fsapi.NativeEvent) {
	ctx := contexts.get(info)
	if ctx == nil {
		return
	}
	ctx.dispatch(events)
}

// releaseContext is the hook the facility runs once the last callback that
// could observe info has returned.
func releaseContext(info uintptr) {
	ctx, ok := contexts.remove(info)
	if !ok {
		return
	}
	ctx.reclaim("native")
}

func (ctx *callbackContext) reclaim(by string) {
	if ctx.reclaims.Add(1) > 1 {
		ctx.logger.Error("callback context reclaimed twice", map[string]string{
			"root": ctx.root,
			"by":   by,
		})
		return
	}
	ctx.metrics.IncContextReleased(by)
	ctx.logger.Debug("callback context released", map[string]string{
		"root": ctx.root,
		"by":   by,
	})
}

func (ctx *callbackContext) dispatch(events []fsapi.NativeEvent) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ctx.abort("panic", fmt.Errorf("%w: %v", ErrCallbackPanic, recovered))
		}
	}()

	ctx.metrics.ObserveBatch(len(events))
	for _, event := range events {
		if !utf8.Valid(event.Path) {
			ctx.abort("malformed_path", fmt.Errorf("%w: event %d under %s", ErrMalformedPath, event.ID, ctx.root))
			return
		}
		if event.Flags.Has(fsapi.HistoryDone) {
			ctx.metrics.IncSkipped("history_done")
			continue
		}
		if event.ID != 0 && event.ID < ctx.since {
			ctx.metrics.IncSkipped("before_since")
			continue
		}

		path := string(event.Path)
		if ctx.polled != nil {
			ctx.polled.Push(RawEvent{ID: event.ID, Flags: event.Flags, Path: path})
			continue
		}
		for _, kind := range Classify(event.Flags, path, ctx.exists) {
			if err := ctx.handler.HandleChange(kind, path); err != nil {
				ctx.abort("handler_error", fmt.Errorf("deliver %s for %s: %w", kind, path, err))
				return
			}
			ctx.metrics.IncDelivered(kind.String())
		}
	}

	if len(events) > 0 && ctx.notify != nil {
		ctx.notify()
	}
}

// abort drops the rest of the batch. Events already handed over stay
// delivered.
func (ctx *callbackContext) abort(reason string, err error) {
	ctx.metrics.IncCallbackAbort(reason)
	ctx.logger.Error("native callback aborted", map[string]string{
		"root":   ctx.root,
		"reason": reason,
		"error":  err.Error(),
		"since":  strconv.FormatUint(uint64(ctx.since), 10),
	})
	if ctx.onFatal == nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			ctx.logger.Error("fatal handler panicked", map[string]string{
				"root":  ctx.root,
				"panic": fmt.Sprint(recovered),
			})
		}
	}()
	ctx.onFatal(err)
}
