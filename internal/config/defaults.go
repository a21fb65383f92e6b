package config

import _ "embed"

// DefaultsYAML is the built-in settings document every load starts from.
//
//go:embed defaults.yaml
var DefaultsYAML []byte
