package core

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Channel config maps arrive from JSON (numbers as float64), YAML (int) or
// the database, so the accessors below accept each of those shapes.

// ConfigString returns cfg[key] as a trimmed string, or "".
func ConfigString(cfg map[string]any, key string) string {
	switch v := cfg[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case int, int64, float64:
		if n, ok := ConfigInt(cfg, key); ok {
			return strconv.FormatInt(n, 10)
		}
	}
	return ""
}

// ConfigStrings returns cfg[key] as a list. A single string, a comma
// separated string and a list of strings are all accepted.
func ConfigStrings(cfg map[string]any, key string) []string {
	var out []string
	switch v := cfg[key].(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	case []string:
		for _, s := range v {
			if p := strings.TrimSpace(s); p != "" {
				out = append(out, p)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

// ConfigInt returns cfg[key] as an integer.
func ConfigInt(cfg map[string]any, key string) (int64, bool) {
	switch v := cfg[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// ConfigBool returns cfg[key] as a bool, or def when absent or malformed.
func ConfigBool(cfg map[string]any, key string, def bool) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// ConfigMap returns cfg[key] as a nested map, or nil.
func ConfigMap(cfg map[string]any, key string) map[string]any {
	switch v := cfg[key].(type) {
	case map[string]any:
		return v
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out
	}
	return nil
}
