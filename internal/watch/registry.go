package watch

import "sync"

// contextRegistry maps the integer handles given to the native layer back to
// callback contexts. The native layer never sees a Go pointer.
type contextRegistry struct {
	mutex   sync.Mutex
	entries map[uintptr]*callbackContext
	lastID  uintptr
}

var contexts = contextRegistry{entries: map[uintptr]*callbackContext{}}

func (registry *contextRegistry) add(ctx *callbackContext) uintptr {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	registry.lastID++
	registry.entries[registry.lastID] = ctx
	return registry.lastID
}

func (registry *contextRegistry) get(handle uintptr) *callbackContext {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	return registry.entries[handle]
}

func (registry *contextRegistry) remove(handle uintptr) (*callbackContext, bool) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	ctx, ok := registry.entries[handle]
	if ok {
		delete(registry.entries, handle)
	}
	return ctx, ok
}

func (registry *contextRegistry) len() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	return len(registry.entries)
}
