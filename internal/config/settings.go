package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Settings struct {
	Stream  StreamSettings
	Watcher WatcherSettings
	Bridge  BridgeSettings
	Server  ServerSettings
	Log     LogSettings
}

type StreamSettings struct {
	Latency time.Duration
	Flags   []string
}

type WatcherSettings struct {
	MaxWatches       int
	MaxNativeWatches int
	Scope            string
	Approximation    string
	Kinds            []string
}

type BridgeSettings struct {
	// Mode is "direct" (handler runs on the stream queue) or "dispatch"
	// (handler runs on a dedicated consumer).
	Mode        string
	Encoding    string
	CallTimeout time.Duration
}

type ServerSettings struct {
	Listen      string
	MetricsPath string
	WatchPath   string
	LogsPath    string
}

type LogSettings struct {
	Level      string
	BufferSize int
}

// LoadSettings layers the file at path over defaultsPayload, then applies
// overrides keyed by dotted setting names. A missing file is not an error.
// The result is validated.
func LoadSettings(path string, defaultsPayload []byte, overrides map[string]any) (Settings, error) {
	defaults, err := decodeStore(defaultsPayload)
	if err != nil {
		return Settings{}, fmt.Errorf("decode default settings: %w", err)
	}
	values := make(store, len(defaults))
	for key, value := range defaults {
		values[key] = value
	}

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, err
			}
		} else {
			file, err := decodeStore(payload)
			if err != nil {
				return Settings{}, fmt.Errorf("decode %s: %w", path, err)
			}
			for key, value := range file {
				values[key] = value
			}
		}
	}

	for key, value := range overrides {
		normalized := NormalizeKey(key)
		if normalized == "" {
			continue
		}
		values[normalized] = value
	}

	problems := &InvalidSettingsError{}
	settings := Settings{}
	settings.Stream.Latency = values.duration("stream.latency", problems)
	settings.Stream.Flags = values.strings("stream.flags", problems)
	settings.Watcher.MaxWatches = values.int("watcher.max-watches", problems)
	settings.Watcher.MaxNativeWatches = values.int("watcher.max-native-watches", problems)
	settings.Watcher.Scope = values.string("watcher.scope", problems)
	settings.Watcher.Approximation = values.string("watcher.approximation", problems)
	settings.Watcher.Kinds = values.strings("watcher.kinds", problems)
	settings.Bridge.Mode = values.string("bridge.mode", problems)
	settings.Bridge.Encoding = values.string("bridge.encoding", problems)
	settings.Bridge.CallTimeout = values.duration("bridge.call-timeout", problems)
	settings.Server.Listen = values.string("server.listen", problems)
	settings.Server.MetricsPath = values.string("server.metrics-path", problems)
	settings.Server.WatchPath = values.string("server.watch-path", problems)
	settings.Server.LogsPath = values.string("server.logs-path", problems)
	settings.Log.Level = values.string("log.level", problems)
	settings.Log.BufferSize = values.int("log.buffer-size", problems)
	if len(problems.FieldErrors) > 0 {
		return Settings{}, problems
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (values store) string(key string, problems *InvalidSettingsError) string {
	value, ok := values[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	}
	problems.add(key, fmt.Sprintf("expected a string, got %T", value))
	return ""
}

func (values store) int(key string, problems *InvalidSettingsError) int {
	value, ok := values[key]
	if !ok || value == nil {
		return 0
	}
	if parsed, ok := asInt64(value); ok {
		return int(parsed)
	}
	problems.add(key, fmt.Sprintf("expected an integer, got %T", value))
	return 0
}

// duration accepts Go duration strings ("150ms") or integer milliseconds.
func (values store) duration(key string, problems *InvalidSettingsError) time.Duration {
	value, ok := values[key]
	if !ok || value == nil {
		return 0
	}
	switch typed := value.(type) {
	case time.Duration:
		return typed
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(typed))
		if err != nil {
			problems.add(key, err.Error())
			return 0
		}
		return parsed
	}
	if millis, ok := asInt64(value); ok {
		return time.Duration(millis) * time.Millisecond
	}
	problems.add(key, fmt.Sprintf("expected a duration, got %T", value))
	return 0
}

// strings accepts a YAML list or a comma-separated string.
func (values store) strings(key string, problems *InvalidSettingsError) []string {
	value, ok := values[key]
	if !ok || value == nil {
		return nil
	}
	var items []string
	switch typed := value.(type) {
	case string:
		for _, part := range strings.Split(typed, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	case []string:
		for _, part := range typed {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	case []any:
		for _, element := range typed {
			text, ok := element.(string)
			if !ok {
				problems.add(key, fmt.Sprintf("expected a list of strings, found %T", element))
				return nil
			}
			if text = strings.TrimSpace(text); text != "" {
				items = append(items, text)
			}
		}
	default:
		problems.add(key, fmt.Sprintf("expected a list, got %T", value))
	}
	return items
}

func asInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case uint:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	}
	return 0, false
}
