package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativewatch/internal/watch"
)

// startPeer serves methods as the caller runtime and returns a WSRuntime
// connected to it.
func startPeer(t *testing.T, methods *LocalRuntime, encoding Encoding) *WSRuntime {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer close(served)
		_ = ServePeer(ctx, conn, methods, nil)
	}))

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	runtime := NewWSRuntime(conn, WSOptions{Encoding: encoding, CallTimeout: 2 * time.Second})
	t.Cleanup(func() {
		_ = runtime.Close()
		cancel()
		<-served
		server.Close()
	})
	return runtime
}

func TestWSRuntimeRoundTrip(t *testing.T) {
	for _, encoding := range []Encoding{EncodingJSON, EncodingBinary} {
		t.Run(encoding.String(), func(t *testing.T) {
			recorder := &callRecorder{}
			methods := NewLocalRuntime()
			methods.Register(HandleMethod, HandleSignature, recorder.handle)

			runtime := startPeer(t, methods, encoding)
			assert.NotEmpty(t, runtime.Session())

			bridge, err := New(runtime, "/watched", Options{})
			require.NoError(t, err)

			require.NoError(t, bridge.HandleChange(watch.KindOverflow, "/watched"))
			require.NoError(t, bridge.HandleChange(watch.KindModify, "/watched/a b.txt"))

			assert.Equal(t, []Args{
				{Kind: 0, Root: "/watched", Path: "/watched"},
				{Kind: 3, Root: "/watched", Path: "/watched/a b.txt"},
			}, recorder.list())
			assert.Equal(t, 0, methods.Attached())
		})
	}
}

func TestWSRuntimeSurfacesPeerErrors(t *testing.T) {
	methods := NewLocalRuntime()
	methods.Register(HandleMethod, HandleSignature, func(Args) error {
		return errors.New("disk quota exceeded")
	})
	runtime := startPeer(t, methods, EncodingBinary)

	_, err := New(runtime, "/watched", Options{WithNewEvents: true})
	assert.ErrorIs(t, err, ErrResolve)

	bridge, err := New(runtime, "/watched", Options{})
	require.NoError(t, err)
	err = bridge.HandleChange(watch.KindCreate, "/watched/x")
	assert.ErrorIs(t, err, ErrInvoke)
	assert.Contains(t, err.Error(), "disk quota exceeded")
}

func TestWSRuntimeAfterClose(t *testing.T) {
	methods := NewLocalRuntime()
	methods.Register(HandleMethod, HandleSignature, nil)
	runtime := startPeer(t, methods, EncodingJSON)

	require.NoError(t, runtime.Close())
	select {
	case <-runtime.Done():
	case <-time.After(time.Second):
		t.Fatal("runtime did not close")
	}

	_, err := runtime.Attach()
	assert.ErrorIs(t, err, ErrPeerClosed)
	_, err = runtime.Resolve(HandleMethod, HandleSignature)
	assert.ErrorIs(t, err, ErrResolve)
	assert.ErrorIs(t, err, ErrPeerClosed)
}
