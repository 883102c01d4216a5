// Package summary truncates large section values for the text report.
package summary

import "github.com/marcusrbrown/ocdiag/internal/tree"

// Value returns v truncated to at most limit top-level elements or entries.
// Objects keep their first limit entries in key order. Anything else, and any
// non-positive limit, passes through unchanged.
func Value(v any, limit int) any {
	if limit <= 0 {
		return v
	}

	switch val := v.(type) {
	case []any:
		if len(val) <= limit {
			return val
		}

		return append([]any(nil), val[:limit]...)
	case *tree.Object:
		if val.Len() <= limit {
			return val
		}

		out := tree.NewObject()

		val.Range(func(key string, item any) bool {
			out.Set(key, item)
			return out.Len() < limit
		})

		return out
	default:
		return v
	}
}
