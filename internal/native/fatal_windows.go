//go:build windows

package native

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isFatalWatchError reports ReadDirectoryChangesW failures that leave the
// directory handle unusable.
func isFatalWatchError(err error) bool {
	return errors.Is(err, windows.ERROR_TOO_MANY_OPEN_FILES) ||
		errors.Is(err, windows.ERROR_INVALID_HANDLE) ||
		errors.Is(err, windows.ERROR_NOT_ENOUGH_MEMORY)
}
