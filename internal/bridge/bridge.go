package bridge

import (
	"errors"
	"fmt"
	"time"

	"nativewatch/internal/logging"
	"nativewatch/internal/metrics"
	"nativewatch/internal/watch"
)

type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	// WithNewEvents also resolves the optional batch notification method.
	WithNewEvents bool
}

// Bridge is a watch.Handler that forwards every event to a caller runtime.
type Bridge struct {
	runtime      Runtime
	root         string
	handle       MethodID
	newEvents    MethodID
	hasNewEvents bool
	logger       *logging.Logger
	metrics      *metrics.Registry
}

func New(runtime Runtime, root string, options Options) (*Bridge, error) {
	if runtime == nil {
		return nil, fmt.Errorf("%w: nil runtime", ErrResolve)
	}
	handle, err := runtime.Resolve(HandleMethod, HandleSignature)
	if err != nil {
		return nil, wrapResolve(HandleMethod, err)
	}
	bridge := &Bridge{
		runtime: runtime,
		root:    root,
		handle:  handle,
		logger:  options.Logger.Category("bridge").With(map[string]string{"root": root}),
		metrics: options.Metrics,
	}
	if options.WithNewEvents {
		newEvents, err := runtime.Resolve(NewEventsMethod, NewEventsSignature)
		if err != nil {
			return nil, wrapResolve(NewEventsMethod, err)
		}
		bridge.newEvents = newEvents
		bridge.hasNewEvents = true
	}
	return bridge, nil
}

func wrapResolve(name string, err error) error {
	if errors.Is(err, ErrResolve) {
		return err
	}
	return fmt.Errorf("%w %s: %w", ErrResolve, name, err)
}

func (bridge *Bridge) HandleChange(kind watch.Kind, path string) error {
	return bridge.invoke(HandleMethod, bridge.handle, Args{
		Kind: kind.Ordinal(),
		Root: bridge.root,
		Path: path,
	})
}

// NewEvents signals the caller that a batch was delivered. Failures are
// logged; there is no batch left to abort.
func (bridge *Bridge) NewEvents() {
	if !bridge.hasNewEvents {
		return
	}
	if err := bridge.invoke(NewEventsMethod, bridge.newEvents, Args{}); err != nil {
		bridge.logger.Warn("new events notification failed", map[string]string{
			"error": err.Error(),
		})
	}
}

func (bridge *Bridge) invoke(name string, method MethodID, args Args) (err error) {
	start := time.Now()
	defer func() {
		bridge.metrics.RecordBridgeCall(name, time.Since(start), err)
	}()

	env, err := bridge.runtime.Attach()
	if err != nil {
		return fmt.Errorf("%w %s: attach: %w", ErrInvoke, name, err)
	}
	defer func() {
		if detachErr := env.Detach(); detachErr != nil && err == nil {
			err = fmt.Errorf("%w %s: detach: %w", ErrInvoke, name, detachErr)
		}
	}()

	if err := env.Call(method, args); err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvoke, name, err)
	}
	return nil
}
