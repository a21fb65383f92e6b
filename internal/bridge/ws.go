package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nativewatch/internal/logging"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsCallTimeout  = 30 * time.Second
	wsReadLimit    = 1 << 20
)

type WSOptions struct {
	Encoding     Encoding
	CallTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *logging.Logger
}

// WSRuntime treats a websocket peer as the caller runtime. Requests carry a
// sequence number and block until the peer acknowledges it.
type WSRuntime struct {
	conn         *websocket.Conn
	encoding     Encoding
	callTimeout  time.Duration
	writeTimeout time.Duration
	session      string
	logger       *logging.Logger

	writeMutex sync.Mutex
	mutex      sync.Mutex
	pending    map[uint64]chan frame
	seq        uint64
	closed     bool
	closeErr   error
	done       chan struct{}
	closeOnce  sync.Once
}

func NewWSRuntime(conn *websocket.Conn, options WSOptions) *WSRuntime {
	callTimeout := options.CallTimeout
	if callTimeout <= 0 {
		callTimeout = wsCallTimeout
	}
	writeTimeout := options.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = wsWriteTimeout
	}
	session := uuid.NewString()
	runtime := &WSRuntime{
		conn:         conn,
		encoding:     options.Encoding,
		callTimeout:  callTimeout,
		writeTimeout: writeTimeout,
		session:      session,
		logger:       options.Logger.Category("bridge.ws").With(map[string]string{"session": session}),
		pending:      make(map[uint64]chan frame),
		done:         make(chan struct{}),
	}
	conn.SetReadLimit(wsReadLimit)
	go runtime.readLoop()
	return runtime
}

func (runtime *WSRuntime) Session() string {
	return runtime.session
}

// Done is closed once the connection is gone.
func (runtime *WSRuntime) Done() <-chan struct{} {
	return runtime.done
}

// Err reports why the connection ended.
func (runtime *WSRuntime) Err() error {
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()
	return runtime.closeErr
}

func (runtime *WSRuntime) Resolve(name, signature string) (MethodID, error) {
	reply, err := runtime.roundTrip(frame{Type: frameResolve, Name: name, Signature: signature})
	if err != nil {
		return 0, fmt.Errorf("%w %s%s: %w", ErrResolve, name, signature, err)
	}
	if reply.Error != "" {
		return 0, fmt.Errorf("%w %s%s: %s", ErrResolve, name, signature, reply.Error)
	}
	if reply.Method <= 0 {
		return 0, fmt.Errorf("%w %s%s: peer returned method id %d", ErrResolve, name, signature, reply.Method)
	}
	return reply.Method, nil
}

func (runtime *WSRuntime) Attach() (Env, error) {
	runtime.mutex.Lock()
	closed := runtime.closed
	runtime.mutex.Unlock()
	if closed {
		return nil, ErrPeerClosed
	}
	return &wsEnv{runtime: runtime}, nil
}

// Close sends a normal close frame and waits for the read loop to exit.
func (runtime *WSRuntime) Close() error {
	runtime.writeMutex.Lock()
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := runtime.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(runtime.writeTimeout))
	runtime.writeMutex.Unlock()

	runtime.shutdown(ErrPeerClosed)
	<-runtime.done
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

func (runtime *WSRuntime) roundTrip(request frame) (frame, error) {
	reply := make(chan frame, 1)

	runtime.mutex.Lock()
	if runtime.closed {
		runtime.mutex.Unlock()
		return frame{}, ErrPeerClosed
	}
	runtime.seq++
	request.Seq = runtime.seq
	request.Session = runtime.session
	runtime.pending[request.Seq] = reply
	runtime.mutex.Unlock()

	defer func() {
		runtime.mutex.Lock()
		delete(runtime.pending, request.Seq)
		runtime.mutex.Unlock()
	}()

	if err := runtime.write(request); err != nil {
		return frame{}, err
	}

	timer := time.NewTimer(runtime.callTimeout)
	defer timer.Stop()
	select {
	case response := <-reply:
		return response, nil
	case <-runtime.done:
		return frame{}, ErrPeerClosed
	case <-timer.C:
		return frame{}, fmt.Errorf("no ack for %s %d after %s", request.Type, request.Seq, runtime.callTimeout)
	}
}

func (runtime *WSRuntime) write(value frame) error {
	messageType, payload, err := encodeFrame(runtime.encoding, value)
	if err != nil {
		return err
	}
	runtime.writeMutex.Lock()
	defer runtime.writeMutex.Unlock()
	if err := runtime.conn.SetWriteDeadline(time.Now().Add(runtime.writeTimeout)); err != nil {
		return err
	}
	return runtime.conn.WriteMessage(messageType, payload)
}

func (runtime *WSRuntime) readLoop() {
	for {
		messageType, payload, err := runtime.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				runtime.logger.Warn("bridge peer read failed", map[string]string{"error": err.Error()})
			}
			runtime.shutdown(fmt.Errorf("%w: %w", ErrPeerClosed, err))
			return
		}
		reply, _, err := decodeFrame(messageType, payload)
		if err != nil {
			runtime.logger.Warn("bridge frame dropped", map[string]string{"error": err.Error()})
			continue
		}
		if reply.Type != frameAck {
			continue
		}
		runtime.mutex.Lock()
		waiter := runtime.pending[reply.Seq]
		runtime.mutex.Unlock()
		if waiter == nil {
			continue
		}
		select {
		case waiter <- reply:
		default:
		}
	}
}

func (runtime *WSRuntime) shutdown(cause error) {
	runtime.closeOnce.Do(func() {
		runtime.mutex.Lock()
		runtime.closed = true
		runtime.closeErr = cause
		runtime.mutex.Unlock()
		_ = runtime.conn.Close()
		close(runtime.done)
	})
}

type wsEnv struct {
	runtime  *WSRuntime
	detached atomic.Bool
}

func (env *wsEnv) Call(method MethodID, args Args) error {
	if env.detached.Load() {
		return errDetached
	}
	reply, err := env.runtime.roundTrip(frame{Type: frameInvoke, Method: method, Args: args})
	if err != nil {
		return err
	}
	if reply.Error != "" {
		return errors.New(reply.Error)
	}
	return nil
}

func (env *wsEnv) Detach() error {
	if !env.detached.CompareAndSwap(false, true) {
		return errDetached
	}
	return nil
}

// ServePeer answers resolve and invoke requests arriving on conn from the
// methods registered in methods. Replies use the encoding of each request.
// It returns when the connection closes or ctx is cancelled.
func ServePeer(ctx context.Context, conn *websocket.Conn, methods *LocalRuntime, logger *logging.Logger) error {
	logger = logger.Category("bridge.peer")
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	var writeMutex sync.Mutex
	reply := func(encoding Encoding, value frame) error {
		messageType, payload, err := encodeFrame(encoding, value)
		if err != nil {
			return err
		}
		writeMutex.Lock()
		defer writeMutex.Unlock()
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(messageType, payload)
	}

	conn.SetReadLimit(wsReadLimit)
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		request, encoding, err := decodeFrame(messageType, payload)
		if err != nil {
			logger.Warn("bridge frame dropped", map[string]string{"error": err.Error()})
			continue
		}

		ack := frame{Type: frameAck, Seq: request.Seq, Session: request.Session}
		switch request.Type {
		case frameResolve:
			method, err := methods.Resolve(request.Name, request.Signature)
			if err != nil {
				ack.Error = err.Error()
			}
			ack.Method = method
		case frameInvoke:
			ack.Method = request.Method
			if err := invokeLocal(methods, request); err != nil {
				ack.Error = err.Error()
			}
		default:
			continue
		}
		if err := reply(encoding, ack); err != nil {
			return err
		}
	}
}

func invokeLocal(methods *LocalRuntime, request frame) error {
	env, err := methods.Attach()
	if err != nil {
		return err
	}
	callErr := env.Call(request.Method, request.Args)
	if err := env.Detach(); err != nil && callErr == nil {
		return err
	}
	return callErr
}
