package config

import (
	"strings"
)

// Only the LLM credential is sensitive in this config; everything else is
// safe to echo in listings.
var secretKeys = map[string]bool{
	"llm.api_key": true,
}

// IsSecretKey reports whether the dotted key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns the nested config map into dotted keys, so
// {"summarizer": {"lease_seconds": 120}} reads as "summarizer.lease_seconds".
func Flatten(nested map[string]any) map[string]any {
	flat := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			name := k
			if prefix != "" {
				name = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(name, child)
				continue
			}
			flat[name] = v
		}
	}
	walk("", nested)
	return flat
}

// Unflatten rebuilds the nested shape from dotted keys.
func Unflatten(flat map[string]any) map[string]any {
	nested := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		node := nested
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return nested
}

// MaskSecrets replaces credential values with a "***xxxx" tail so listings
// stay safe to paste into a bug report. Empty credentials stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	masked := make(map[string]any, len(flat))
	for k, v := range flat {
		if !secretKeys[k] {
			masked[k] = v
			continue
		}
		s, _ := v.(string)
		if s == "" {
			masked[k] = v
			continue
		}
		tail := s
		if len(s) > 4 {
			tail = s[len(s)-4:]
		}
		masked[k] = "***" + tail
	}
	return masked
}
