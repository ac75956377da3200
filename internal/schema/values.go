package schema

import (
	"fmt"
	"strconv"
)

// =============================================================================
// FIELD VALUE EXTRACTION UTILITIES
// =============================================================================
//
// Field values are heterogeneous: after JSON decoding a value can be any of
//   - nil:                    absent field
//   - string:                 scalar text
//   - float64:                numbers (JSON default)
//   - bool:                   booleans
//   - []interface{}:          multi-valued fields
//   - map[string]interface{}: nested objects
// These helpers provide safe, type-aware access; the merger and formatters
// dispatch on them instead of using bare type assertions.

// IsNullValue reports whether a decoded field value is absent.
func IsNullValue(v interface{}) bool {
	return v == nil
}

// ValueString extracts a string representation from a field value.
func ValueString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ValueList extracts a list from a field value. Scalars are wrapped into a
// single-element list; nil yields an empty list.
func ValueList(v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		return t
	case nil:
		return nil
	default:
		return []interface{}{t}
	}
}

// ValueObject extracts a nested object from a field value.
// Returns (nil, false) for any non-map value.
func ValueObject(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

// ValueFloat extracts a float64 from a field value.
// Returns (0, false) if the type is incompatible.
func ValueFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ValueBool extracts a bool from a field value.
// Returns (false, false) if the type is incompatible.
func ValueBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		if t == "true" {
			return true, true
		}
		if t == "false" {
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// ValueEqual reports deep equality of two decoded field values.
// Used for equality-based deduplication of non-string values.
func ValueEqual(a, b interface{}) bool {
	switch at := a.(type) {
	case []interface{}:
		bt, ok := b.([]interface{})
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !ValueEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bt, ok := b.(map[string]interface{})
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, exists := bt[k]
			if !exists || !ValueEqual(av, bv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
