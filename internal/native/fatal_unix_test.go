//go:build !windows

package native

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestIsFatalWatchError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "watch limit", err: unix.ENOSPC, want: true},
		{name: "process descriptors", err: unix.EMFILE, want: true},
		{name: "system descriptors", err: unix.ENFILE, want: true},
		{name: "wrapped watch limit", err: fmt.Errorf("fsnotify: %w", unix.ENOSPC), want: true},
		{name: "permission", err: unix.EACCES, want: false},
		{name: "plain error", err: fmt.Errorf("boom"), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isFatalWatchError(tt.err); got != tt.want {
				t.Errorf("isFatalWatchError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
