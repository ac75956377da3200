package schema

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"docsieve/internal/logging"
)

// Function is a named callable referenced by field definitions: formatters,
// validators, post-processors and higher-level merge hooks.
type Function func(args ...interface{}) (interface{}, error)

// FunctionRegistry maps function IDs to callables. Lifecycle mirrors
// Registry: populate during init, read-only afterwards.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewFunctionRegistry creates a registry seeded with the default
// formatter/validator/post-processor implementations.
func NewFunctionRegistry() *FunctionRegistry {
	r := &FunctionRegistry{functions: make(map[string]Function)}
	r.seedDefaults()
	return r
}

// Register adds or replaces a function. Last-writer-wins.
func (r *FunctionRegistry) Register(id string, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[id] = fn
	logging.RegistryDebug("Registered function %q", id)
}

// Has reports whether a function ID resolves.
func (r *FunctionRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.functions[id]
	return ok
}

// Call invokes the named function. Unknown IDs fail with ErrUnknownFunction.
func (r *FunctionRegistry) Call(id string, args ...interface{}) (interface{}, error) {
	r.mu.RLock()
	fn, ok := r.functions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, id)
	}
	return fn(args...)
}

// Names returns the registered function IDs (unordered).
func (r *FunctionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.functions))
	for id := range r.functions {
		out = append(out, id)
	}
	return out
}

// =============================================================================
// SEEDED FUNCTIONS
// =============================================================================

func (r *FunctionRegistry) seedDefaults() {
	r.functions["format_date_iso"] = stringFunc(func(s string) string {
		if t, ok := parseCommonDate(s, false); ok {
			return t.Format("2006-01-02")
		}
		return s
	})
	r.functions["format_date_us"] = stringFunc(func(s string) string {
		if t, ok := parseCommonDate(s, false); ok {
			return t.Format("01/02/2006")
		}
		return s
	})
	r.functions["format_date_eu"] = stringFunc(func(s string) string {
		if t, ok := parseCommonDate(s, true); ok {
			return t.Format("02/01/2006")
		}
		return s
	})
	r.functions["validate_date"] = boolFunc(func(s string) bool {
		_, ok := parseCommonDate(s, false)
		return ok
	})
	r.functions["validate_email"] = boolFunc(func(s string) bool {
		return emailPattern.MatchString(strings.TrimSpace(s))
	})
	r.functions["validate_phone"] = boolFunc(func(s string) bool {
		digits := 0
		for _, c := range s {
			if c >= '0' && c <= '9' {
				digits++
			} else if !strings.ContainsRune(" ()-+.", c) {
				return false
			}
		}
		return digits >= 7 && digits <= 15
	})
	r.functions["normalize_whitespace"] = stringFunc(func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	})
	r.functions["capitalize_names"] = stringFunc(capitalizeNames)
	r.functions["extract_numbers"] = func(args ...interface{}) (interface{}, error) {
		s, err := oneStringArg(args)
		if err != nil {
			return nil, err
		}
		matches := numberPattern.FindAllString(s, -1)
		out := make([]interface{}, len(matches))
		for i, m := range matches {
			out[i] = m
		}
		return out, nil
	}
}

var (
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

func oneStringArg(args []interface{}) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	s, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("expected string argument, got %T", args[0])
	}
	return s, nil
}

func stringFunc(fn func(string) string) Function {
	return func(args ...interface{}) (interface{}, error) {
		s, err := oneStringArg(args)
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

func boolFunc(fn func(string) bool) Function {
	return func(args ...interface{}) (interface{}, error) {
		s, err := oneStringArg(args)
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

// commonDateLayouts are tried in order. Slash-separated layouts are
// interpreted month-first by default; dayFirst flips the preference.
var commonDateLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2 2006",
}

func parseCommonDate(s string, dayFirst bool) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range commonDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	slashLayouts := []string{"01/02/2006", "02/01/2006"}
	if dayFirst {
		slashLayouts = []string{"02/01/2006", "01/02/2006"}
	}
	for _, layout := range slashLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// capitalizeNames capitalizes each whitespace-separated token, preserving
// hyphenated sub-tokens and Mc/Mac prefixes.
func capitalizeNames(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		parts := strings.Split(w, "-")
		for j, p := range parts {
			parts[j] = capitalizeNamePart(p)
		}
		words[i] = strings.Join(parts, "-")
	}
	return strings.Join(words, " ")
}

func capitalizeNamePart(p string) string {
	if p == "" {
		return p
	}
	lower := strings.ToLower(p)
	if strings.HasPrefix(lower, "mac") && len(lower) > 3 {
		return "Mac" + title(lower[3:])
	}
	if strings.HasPrefix(lower, "mc") && len(lower) > 2 {
		return "Mc" + title(lower[2:])
	}
	return title(lower)
}

func title(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
