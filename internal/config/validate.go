package config

import (
	"errors"
	"fmt"
	"strings"

	"nativewatch/internal/bridge"
	"nativewatch/internal/fsapi"
	"nativewatch/internal/logging"
	"nativewatch/internal/watch"
)

var ErrInvalidSettings = errors.New("invalid settings")

// InvalidSettingsError lists every setting that failed to decode or
// validate.
type InvalidSettingsError struct {
	FieldErrors []error
}

func (e *InvalidSettingsError) Error() string {
	messages := make([]string, 0, len(e.FieldErrors))
	for _, fieldErr := range e.FieldErrors {
		messages = append(messages, fieldErr.Error())
	}
	return fmt.Sprintf("invalid settings (%d errors): %s", len(e.FieldErrors), strings.Join(messages, "; "))
}

func (e *InvalidSettingsError) Unwrap() error {
	return ErrInvalidSettings
}

func (e *InvalidSettingsError) add(key, message string) {
	e.FieldErrors = append(e.FieldErrors, fmt.Errorf("%s: %s", key, message))
}

// Validate checks ranges and enumerated values.
func (s Settings) Validate() error {
	problems := &InvalidSettingsError{}

	if s.Stream.Latency <= 0 {
		problems.add("stream.latency", "must be positive")
	}
	if _, err := fsapi.ParseCreateFlags(s.Stream.Flags); err != nil {
		problems.add("stream.flags", err.Error())
	}
	if s.Watcher.MaxWatches <= 0 {
		problems.add("watcher.max-watches", "must be positive")
	}
	if s.Watcher.MaxNativeWatches <= 0 {
		problems.add("watcher.max-native-watches", "must be positive")
	}
	switch s.Watcher.Scope {
	case "all-descendants", "children":
	default:
		problems.add("watcher.scope", fmt.Sprintf("unknown scope %q", s.Watcher.Scope))
	}
	switch s.Watcher.Approximation {
	case "none", "all":
	default:
		problems.add("watcher.approximation", fmt.Sprintf("unknown approximation %q", s.Watcher.Approximation))
	}
	for _, name := range s.Watcher.Kinds {
		if _, ok := watch.ParseKind(name); !ok {
			problems.add("watcher.kinds", fmt.Sprintf("unknown kind %q", name))
		}
	}
	switch s.Bridge.Mode {
	case "direct", "dispatch":
	default:
		problems.add("bridge.mode", fmt.Sprintf("unknown mode %q", s.Bridge.Mode))
	}
	if _, err := bridge.ParseEncoding(s.Bridge.Encoding); err != nil {
		problems.add("bridge.encoding", err.Error())
	}
	if s.Bridge.CallTimeout <= 0 {
		problems.add("bridge.call-timeout", "must be positive")
	}
	for key, path := range map[string]string{
		"server.metrics-path": s.Server.MetricsPath,
		"server.watch-path":   s.Server.WatchPath,
		"server.logs-path":    s.Server.LogsPath,
	} {
		if !strings.HasPrefix(path, "/") {
			problems.add(key, fmt.Sprintf("%q must start with /", path))
		}
	}
	if _, ok := logging.ParseLevel(s.Log.Level); !ok {
		problems.add("log.level", fmt.Sprintf("unknown level %q", s.Log.Level))
	}
	if s.Log.BufferSize <= 0 {
		problems.add("log.buffer-size", "must be positive")
	}

	if len(problems.FieldErrors) > 0 {
		return problems
	}
	return nil
}

// CreateFlags converts the configured flag names.
func (s StreamSettings) CreateFlags() fsapi.CreateFlags {
	flags, err := fsapi.ParseCreateFlags(s.Flags)
	if err != nil {
		return watch.DefaultFlags
	}
	return flags
}

// KindFilter converts the configured kind names; an empty list means every
// kind.
func (s WatcherSettings) KindFilter() []watch.Kind {
	kinds := make([]watch.Kind, 0, len(s.Kinds))
	for _, name := range s.Kinds {
		if kind, ok := watch.ParseKind(name); ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
