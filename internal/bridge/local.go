package bridge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var errDetached = errors.New("environment already detached")

type LocalFunc func(args Args) error

type localMethod struct {
	name      string
	signature string
	fn        LocalFunc
}

// LocalRuntime is an in-process method table. It also backs the peer side of
// a websocket runtime.
type LocalRuntime struct {
	mutex    sync.RWMutex
	methods  []localMethod
	byName   map[string]MethodID
	attached atomic.Int64
}

func NewLocalRuntime() *LocalRuntime {
	return &LocalRuntime{byName: make(map[string]MethodID)}
}

// Register adds or replaces name.
func (runtime *LocalRuntime) Register(name, signature string, fn LocalFunc) {
	runtime.mutex.Lock()
	defer runtime.mutex.Unlock()

	method := localMethod{name: name, signature: signature, fn: fn}
	if id, ok := runtime.byName[name]; ok {
		runtime.methods[id-1] = method
		return
	}
	runtime.methods = append(runtime.methods, method)
	runtime.byName[name] = MethodID(len(runtime.methods))
}

func (runtime *LocalRuntime) Resolve(name, signature string) (MethodID, error) {
	runtime.mutex.RLock()
	defer runtime.mutex.RUnlock()

	id, ok := runtime.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: no method %q", ErrResolve, name)
	}
	if got := runtime.methods[id-1].signature; got != signature {
		return 0, fmt.Errorf("%w: %s has signature %s, want %s", ErrResolve, name, got, signature)
	}
	return id, nil
}

func (runtime *LocalRuntime) Attach() (Env, error) {
	runtime.attached.Add(1)
	return &localEnv{runtime: runtime}, nil
}

// Attached reports environments that have not been detached yet.
func (runtime *LocalRuntime) Attached() int {
	return int(runtime.attached.Load())
}

func (runtime *LocalRuntime) lookup(method MethodID) (localMethod, bool) {
	runtime.mutex.RLock()
	defer runtime.mutex.RUnlock()

	if method <= 0 || int(method) > len(runtime.methods) {
		return localMethod{}, false
	}
	return runtime.methods[method-1], true
}

type localEnv struct {
	runtime  *LocalRuntime
	detached atomic.Bool
}

func (env *localEnv) Call(method MethodID, args Args) error {
	if env.detached.Load() {
		return errDetached
	}
	target, ok := env.runtime.lookup(method)
	if !ok {
		return fmt.Errorf("unknown method id %d", method)
	}
	if target.fn == nil {
		return nil
	}
	return target.fn(args)
}

func (env *localEnv) Detach() error {
	if !env.detached.CompareAndSwap(false, true) {
		return errDetached
	}
	env.runtime.attached.Add(-1)
	return nil
}
