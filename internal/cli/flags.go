package cli

import (
	"flag"
	"fmt"
	"sort"
	"strings"
)

const (
	defaultHelpDesc    = "Show help"
	defaultVersionDesc = "Print version and exit"
)

type HelpVersionFlags struct {
	Help    bool
	Version bool
}

func AddHelpVersionFlags(fs *flag.FlagSet, helpDesc, versionDesc string) *HelpVersionFlags {
	if fs == nil {
		return &HelpVersionFlags{}
	}
	if helpDesc == "" {
		helpDesc = defaultHelpDesc
	}
	if versionDesc == "" {
		versionDesc = defaultVersionDesc
	}
	flags := &HelpVersionFlags{}
	fs.BoolVar(&flags.Help, "help", false, helpDesc)
	fs.BoolVar(&flags.Help, "h", false, helpDesc)
	fs.BoolVar(&flags.Version, "version", false, versionDesc)
	fs.BoolVar(&flags.Version, "v", false, versionDesc)
	return flags
}

// SettingOverrides collects repeated -set key=value flags into the override
// map accepted by config.LoadSettings.
type SettingOverrides map[string]any

func AddSettingOverrides(fs *flag.FlagSet, name, usage string) SettingOverrides {
	overrides := SettingOverrides{}
	if fs == nil {
		return overrides
	}
	fs.Var(overrides, name, usage)
	return overrides
}

func (overrides SettingOverrides) String() string {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, overrides[key]))
	}
	return strings.Join(parts, ",")
}

func (overrides SettingOverrides) Set(value string) error {
	key, raw, ok := strings.Cut(value, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	overrides[key] = strings.TrimSpace(raw)
	return nil
}
