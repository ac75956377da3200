// Package temporal normalizes date values to ISO-8601 and builds sorted
// timelines. Parsing tries explicit layouts, then the dateparser library,
// then a single-shot LLM conversion when a client is configured.
package temporal

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	dateparser "github.com/markusmobius/go-dateparser"

	"docsieve/internal/llm"
	"docsieve/internal/logging"
	"docsieve/internal/schema"
)

// isoDate matches an already-normalized value; such strings pass through
// unchanged so normalization is idempotent.
var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// explicitLayouts are tried before the fuzzy parser. Slash dates are
// interpreted month-first, matching the US-style records this tool mostly
// sees; day-first slash dates resolve via the fuzzy parser when the
// month-first read is impossible.
var explicitLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2 2006",
	"2006/01/02",
	"02.01.2006",
}

// Normalizer converts heterogeneous date strings to YYYY-MM-DD. The LLM
// client is optional; without one, unparseable dates simply stay
// unnormalized.
type Normalizer struct {
	client llm.Client
}

// New creates a Normalizer. client may be nil.
func New(client llm.Client) *Normalizer {
	return &Normalizer{client: client}
}

// NormalizeDate returns the ISO-8601 form of s, or ("", false) when s is
// empty or cannot be parsed by any strategy.
func (n *Normalizer) NormalizeDate(ctx context.Context, s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if isoDate.MatchString(s) {
		return s, true
	}

	for _, layout := range explicitLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}

	if d, err := dateparser.Parse(nil, s); err == nil && !d.Time.IsZero() {
		return d.Time.Format("2006-01-02"), true
	}

	if n.client != nil {
		if iso, ok := n.normalizeViaLLM(ctx, s); ok {
			return iso, true
		}
	}

	logging.TemporalDebug("NormalizeDate: could not parse %q", s)
	return "", false
}

// normalizeViaLLM asks the model for a one-line conversion. Anything that
// does not come back as a bare ISO date is treated as a failure.
func (n *Normalizer) normalizeViaLLM(ctx context.Context, s string) (string, bool) {
	prompt := "Convert the following date to YYYY-MM-DD format. " +
		"Respond with only the date, or the word null if it is not a date.\n\n" + s
	response, err := n.client.Complete(ctx, prompt)
	if err != nil {
		logging.TemporalDebug("normalizeViaLLM: %v", err)
		return "", false
	}
	candidate := strings.TrimSpace(response)
	if isoDate.MatchString(candidate) {
		return candidate, true
	}
	return "", false
}

// NormalizeFields rewrites date values in place: every field the schema
// types as date, and every field whose name ends with _date, is normalized.
// Values that fail to parse become nil so the null filter drops them.
func (n *Normalizer) NormalizeFields(ctx context.Context, domain *schema.DomainDefinition, values map[string]interface{}) {
	timer := logging.StartTimer(logging.CategoryTemporal, "NormalizeFields")
	defer timer.Stop()

	for field, value := range values {
		if !n.isDateField(domain, field) {
			continue
		}
		values[field] = n.normalizeValue(ctx, value)
	}
}

func (n *Normalizer) isDateField(domain *schema.DomainDefinition, field string) bool {
	if strings.HasSuffix(field, "_date") {
		return true
	}
	if domain == nil {
		return false
	}
	if _, f, ok := domain.FieldByName(field); ok {
		return f.Type == schema.TypeDate
	}
	return false
}

func (n *Normalizer) normalizeValue(ctx context.Context, value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		if iso, ok := n.NormalizeDate(ctx, v); ok {
			return iso
		}
		return nil
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			if normalized := n.normalizeValue(ctx, item); normalized != nil {
				out = append(out, normalized)
			}
		}
		return out
	default:
		return value
	}
}

// BuildTimeline returns the events sorted ascending by their normalized
// date. Each event with a parseable "date" key gains a "normalized_date"
// attribute; events without one sort last in input order. The input slice is
// not modified.
func (n *Normalizer) BuildTimeline(ctx context.Context, events []map[string]interface{}) []map[string]interface{} {
	type dated struct {
		event map[string]interface{}
		iso   string
		pos   int
	}

	out := make([]dated, 0, len(events))
	for i, ev := range events {
		copied := make(map[string]interface{}, len(ev)+1)
		for k, v := range ev {
			copied[k] = v
		}
		iso := ""
		if raw, ok := ev["date"].(string); ok {
			if normalized, ok := n.NormalizeDate(ctx, raw); ok {
				copied["normalized_date"] = normalized
				iso = normalized
			}
		}
		out = append(out, dated{event: copied, iso: iso, pos: i})
	}

	sort.SliceStable(out, func(i, j int) bool {
		// Undated events sort last, keeping their input order.
		if out[i].iso == "" || out[j].iso == "" {
			return out[j].iso == "" && out[i].iso != ""
		}
		return out[i].iso < out[j].iso
	})

	result := make([]map[string]interface{}, len(out))
	for i, d := range out {
		result[i] = d.event
	}
	return result
}
