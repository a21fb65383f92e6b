package config

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// store is a flattened view of a YAML document: nested mappings become
// dotted keys, list and scalar values stay as decoded.
type store map[string]any

func decodeStore(data []byte) (store, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	flat := make(map[string]any)
	flattenMap("", raw, flat)

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	normalized := make(store, len(flat))
	for _, key := range keys {
		normalizedKey := NormalizeKey(key)
		if _, exists := normalized[normalizedKey]; exists {
			continue
		}
		normalized[normalizedKey] = flat[key]
	}
	return normalized, nil
}

// NormalizeKey lowercases every segment and maps underscores to dashes so
// "Bridge.call_timeout" and "bridge.call-timeout" name the same setting.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		parts[i] = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(part)), "_", "-")
	}
	return strings.Join(parts, ".")
}

func flattenMap(prefix string, raw map[string]any, out map[string]any) {
	for key, value := range raw {
		joined := key
		if prefix != "" {
			joined = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenMap(joined, nested, out)
			continue
		}
		out[joined] = value
	}
}
