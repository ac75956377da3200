// Package filter strips null, placeholder and empty values from result
// trees. Filtering is recursive, never mutates its input, and is idempotent.
package filter

import (
	"strings"

	"docsieve/internal/logging"
)

// placeholders are values treated as absent, compared case-insensitively
// after trimming.
var placeholders = map[string]bool{
	"n/a":            true,
	"na":             true,
	"not available":  true,
	"not applicable": true,
	"unknown":        true,
}

// Options control filtering behavior.
type Options struct {
	// PreserveMetadata keeps keys prefixed with "_" regardless of value.
	PreserveMetadata bool

	// PreserveFields names keys whose entries survive even when their
	// filtered value is an empty map.
	PreserveFields []string

	// DropZeros additionally removes numeric zeros.
	DropZeros bool
}

// Apply returns a filtered copy of the tree. Keys with null, placeholder or
// empty values are removed; maps emptied by filtering cascade away unless
// their key is preserved.
func Apply(values map[string]interface{}, opts Options) map[string]interface{} {
	timer := logging.StartTimer(logging.CategoryFilter, "Apply")
	defer timer.Stop()

	preserve := make(map[string]bool, len(opts.PreserveFields))
	for _, f := range opts.PreserveFields {
		preserve[f] = true
	}

	out := filterMap(values, opts, preserve)
	if out == nil {
		out = map[string]interface{}{}
	}
	return out
}

func filterMap(values map[string]interface{}, opts Options, preserve map[string]bool) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for key, value := range values {
		if strings.HasPrefix(key, "_") {
			if opts.PreserveMetadata {
				out[key] = value
			}
			continue
		}

		filtered, keep := filterValue(value, opts, preserve)
		if !keep {
			continue
		}
		// A map emptied by filtering disappears with its key, unless the
		// key is explicitly preserved.
		if m, ok := filtered.(map[string]interface{}); ok && len(m) == 0 && !preserve[key] {
			continue
		}
		out[key] = filtered
	}
	return out
}

func filterValue(value interface{}, opts Options, preserve map[string]bool) (interface{}, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" || placeholders[strings.ToLower(trimmed)] {
			return nil, false
		}
		return v, true
	case float64:
		if opts.DropZeros && v == 0 {
			return nil, false
		}
		return v, true
	case int:
		if opts.DropZeros && v == 0 {
			return nil, false
		}
		return v, true
	case map[string]interface{}:
		return filterMap(v, opts, preserve), true
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			filtered, keep := filterValue(item, opts, preserve)
			if !keep {
				continue
			}
			if m, ok := filtered.(map[string]interface{}); ok && len(m) == 0 {
				continue
			}
			out = append(out, filtered)
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	default:
		return v, true
	}
}
