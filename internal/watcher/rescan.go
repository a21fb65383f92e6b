package watcher

import (
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"nativewatch/internal/watch"
)

// rescan walks root without any memory of earlier state and reports a create
// for every entry in scope and a modify for every non-empty regular file.
// It cannot report deletions.
func rescan(root string, scope Scope, emit func(kind watch.Kind, path string)) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path == root {
			return nil
		}
		emit(watch.KindCreate, path)
		if entry.Type().IsRegular() {
			if info, err := entry.Info(); err == nil && info.Size() > 0 {
				emit(watch.KindModify, path)
			}
		}
		if entry.IsDir() && scope == ScopeChildren {
			return filepath.SkipDir
		}
		return nil
	})
}

func (watcher *Watcher) approximate(root string, registration callbackEntry) {
	err := rescan(root, registration.options.Scope, func(kind watch.Kind, path string) {
		if !registration.wants(kind) {
			return
		}
		registration.callback(Event{Kind: kind, Root: root, Path: path, Timestamp: time.Now()})
		atomic.AddUint64(&watcher.eventsDelivered, 1)
	})
	if err != nil {
		watcher.logWarn("overflow rescan failed", map[string]string{
			"root":  root,
			"error": err.Error(),
		})
	}
}
