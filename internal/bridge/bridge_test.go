package bridge

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativewatch/internal/metrics"
	"nativewatch/internal/watch"
)

type callRecorder struct {
	mutex sync.Mutex
	calls []Args
	err   error
}

func (r *callRecorder) handle(args Args) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = append(r.calls, args)
	return r.err
}

func (r *callRecorder) list() []Args {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Args(nil), r.calls...)
}

func TestBridgeMarshalsOrdinalsAndPaths(t *testing.T) {
	recorder := &callRecorder{}
	runtime := NewLocalRuntime()
	runtime.Register(HandleMethod, HandleSignature, recorder.handle)

	bridge, err := New(runtime, "/watched", Options{Metrics: metrics.NewRegistry()})
	require.NoError(t, err)

	for _, kind := range watch.AllKinds() {
		require.NoError(t, bridge.HandleChange(kind, "/watched/file"))
	}

	assert.Equal(t, []Args{
		{Kind: 0, Root: "/watched", Path: "/watched/file"},
		{Kind: 1, Root: "/watched", Path: "/watched/file"},
		{Kind: 2, Root: "/watched", Path: "/watched/file"},
		{Kind: 3, Root: "/watched", Path: "/watched/file"},
	}, recorder.list())
	assert.Equal(t, 0, runtime.Attached())
}

func TestBridgeResolveFailures(t *testing.T) {
	_, err := New(NewLocalRuntime(), "/watched", Options{})
	assert.ErrorIs(t, err, ErrResolve)

	runtime := NewLocalRuntime()
	runtime.Register(HandleMethod, "(string)", nil)
	_, err = New(runtime, "/watched", Options{})
	assert.ErrorIs(t, err, ErrResolve)

	runtime.Register(HandleMethod, HandleSignature, nil)
	_, err = New(runtime, "/watched", Options{WithNewEvents: true})
	assert.ErrorIs(t, err, ErrResolve)

	_, err = New(nil, "/watched", Options{})
	assert.ErrorIs(t, err, ErrResolve)
}

func TestBridgeSurfacesCallFailure(t *testing.T) {
	boom := errors.New("caller threw")
	runtime := NewLocalRuntime()
	runtime.Register(HandleMethod, HandleSignature, (&callRecorder{err: boom}).handle)

	bridge, err := New(runtime, "/watched", Options{})
	require.NoError(t, err)

	err = bridge.HandleChange(watch.KindCreate, "/watched/a")
	assert.ErrorIs(t, err, ErrInvoke)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, runtime.Attached())
}

func TestBridgeDetachesWhenCallPanics(t *testing.T) {
	runtime := NewLocalRuntime()
	runtime.Register(HandleMethod, HandleSignature, func(Args) error {
		panic("handler blew up")
	})

	bridge, err := New(runtime, "/watched", Options{})
	require.NoError(t, err)

	assert.PanicsWithValue(t, "handler blew up", func() {
		_ = bridge.HandleChange(watch.KindModify, "/watched/a")
	})
	assert.Equal(t, 0, runtime.Attached())
}

func TestBridgeNewEvents(t *testing.T) {
	runtime := NewLocalRuntime()
	runtime.Register(HandleMethod, HandleSignature, nil)
	notified := 0
	runtime.Register(NewEventsMethod, NewEventsSignature, func(Args) error {
		notified++
		return nil
	})

	bridge, err := New(runtime, "/watched", Options{WithNewEvents: true})
	require.NoError(t, err)
	bridge.NewEvents()
	bridge.NewEvents()
	assert.Equal(t, 2, notified)

	silent, err := New(runtime, "/watched", Options{})
	require.NoError(t, err)
	silent.NewEvents()
	assert.Equal(t, 2, notified)
}

func TestLocalEnvDetachOnce(t *testing.T) {
	runtime := NewLocalRuntime()
	env, err := runtime.Attach()
	require.NoError(t, err)
	assert.Equal(t, 1, runtime.Attached())

	require.NoError(t, env.Detach())
	assert.Error(t, env.Detach())
	assert.Error(t, env.Call(1, Args{}))
	assert.Equal(t, 0, runtime.Attached())
}
