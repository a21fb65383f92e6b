package watcher

import (
	"sync/atomic"
	"time"
)

// handleStreamFatal runs on the failing stream's queue.
func (watcher *Watcher) handleStreamFatal(root string, err error) {
	if err == nil {
		return
	}
	atomic.AddUint64(&watcher.errorCount, 1)
	watcher.logWarn("watch stream aborted", map[string]string{
		"root":  root,
		"error": err.Error(),
	})

	watcher.mutex.Lock()
	entry := watcher.roots[root]
	watcher.mutex.Unlock()
	if entry == nil {
		return
	}
	watcher.scheduleRestart(entry, err)
}

func restartDelay(attempt int) time.Duration {
	return restartBaseDelay * time.Duration(1<<attempt)
}

func (watcher *Watcher) scheduleRestart(entry *rootEntry, err error) {
	if watcher == nil || entry == nil {
		return
	}
	watcher.mutex.Lock()
	closed := watcher.closed
	watcher.mutex.Unlock()
	if closed {
		return
	}

	entry.restartMutex.Lock()
	if entry.restartTimer != nil {
		entry.restartMutex.Unlock()
		return
	}
	if entry.restartAttempts >= maxRestartAttempts {
		entry.restartMutex.Unlock()
		watcher.notifyError(err)
		return
	}
	delay := restartDelay(entry.restartAttempts)
	entry.restartAttempts++
	entry.restartTimer = time.AfterFunc(delay, func() {
		watcher.performRestart(entry)
	})
	entry.restartMutex.Unlock()
}

func (watcher *Watcher) performRestart(entry *rootEntry) {
	if watcher == nil {
		return
	}
	restartErr := watcher.restart(entry)

	entry.restartMutex.Lock()
	entry.restartTimer = nil
	if restartErr == nil {
		entry.restartAttempts = 0
		entry.restartMutex.Unlock()
		return
	}
	entry.restartMutex.Unlock()

	watcher.logWarn("watch stream restart failed", map[string]string{
		"root":  entry.root,
		"error": restartErr.Error(),
	})
	watcher.scheduleRestart(entry, restartErr)
}

func (watcher *Watcher) notifyError(err error) {
	if watcher == nil || err == nil {
		return
	}
	watcher.mutex.Lock()
	handler := watcher.errorHandler
	watcher.mutex.Unlock()
	if handler != nil {
		handler(err)
	}
}

// restart replaces the stream of entry. The old stream is stopped first so
// the two never deliver side by side.
func (watcher *Watcher) restart(entry *rootEntry) error {
	watcher.mutex.Lock()
	if watcher.closed || watcher.roots[entry.root] != entry {
		watcher.mutex.Unlock()
		return nil
	}
	previous := entry.stream
	entry.stream = nil
	watcher.mutex.Unlock()

	if previous != nil {
		previous.Stop()
	}

	replacement, err := watcher.openStream(entry.root)
	if err != nil {
		return err
	}

	watcher.mutex.Lock()
	if watcher.closed || watcher.roots[entry.root] != entry {
		watcher.mutex.Unlock()
		replacement.Stop()
		return nil
	}
	entry.stream = replacement
	watcher.mutex.Unlock()

	watcher.metrics.IncRestart()
	watcher.logger.Info("watch stream restarted", map[string]string{"root": entry.root})
	return nil
}

func (entry *rootEntry) cancelRestart() {
	entry.restartMutex.Lock()
	if entry.restartTimer != nil {
		entry.restartTimer.Stop()
		entry.restartTimer = nil
	}
	entry.restartMutex.Unlock()
}
