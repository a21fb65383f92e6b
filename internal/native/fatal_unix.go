//go:build !windows

package native

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isFatalWatchError reports fsnotify errors after which the backend cannot
// keep its registrations: watch limit (ENOSPC), per-process (EMFILE) and
// system-wide (ENFILE) descriptor exhaustion.
func isFatalWatchError(err error) bool {
	return errors.Is(err, unix.ENOSPC) ||
		errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE)
}
