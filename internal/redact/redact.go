// Package redact masks sensitive fields in collaborator responses before they
// are rendered or logged.
package redact

import (
	"strings"

	"github.com/marcusrbrown/ocdiag/internal/tree"
)

// Marker replaces the value of every sensitive key.
const Marker = "[redacted]"

// sensitiveSubstrings match anywhere in a lower-cased key.
var sensitiveSubstrings = []string{
	"token",
	"secret",
	"password",
	"passwd",
	"bearer",
	"credential",
	"apikey",
	"api_key",
	"api-key",
	"privatekey",
	"private_key",
	"accesskey",
	"access_key",
	"cookie",
}

// sensitiveExact only match the whole key. "auth" must not catch "author".
var sensitiveExact = map[string]bool{
	"auth":          true,
	"authorization": true,
	"key":           true,
	"session_key":   true,
}

// IsSensitiveKey reports whether values stored under name must be masked.
func IsSensitiveKey(name string) bool {
	key := strings.ToLower(strings.TrimSpace(name))
	if sensitiveExact[key] {
		return true
	}

	for _, pattern := range sensitiveSubstrings {
		if strings.Contains(key, pattern) {
			return true
		}
	}

	return false
}

// Value returns a copy of v with every sensitive key's value replaced by Marker.
// Arrays keep their order and length; scalars pass through unchanged.
func Value(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Value(item)
		}

		return out
	case *tree.Object:
		if val == nil {
			return val
		}

		out := tree.NewObject()

		val.Range(func(key string, item any) bool {
			if IsSensitiveKey(key) {
				out.Set(key, Marker)
			} else {
				out.Set(key, Value(item))
			}

			return true
		})

		return out
	default:
		return v
	}
}
