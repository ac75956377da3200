// Package format renders a final result as a structured tree, flat text, or
// tagged markup. Renderers never mutate their input; the structured and
// tagged forms carry identical non-metadata content.
package format

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"docsieve/internal/logging"
	"docsieve/internal/schema"
)

// ErrInvalidOutputFormat is returned for unknown format flags.
var ErrInvalidOutputFormat = errors.New("invalid_output_format")

// Format identifies one output rendering.
type Format string

const (
	FormatStructured   Format = "structured"
	FormatFlatText     Format = "flat_text"
	FormatTaggedMarkup Format = "tagged_markup"
)

// ValidateFormats parses format flags. At least one must be requested and
// every flag must be known.
func ValidateFormats(flags []string) ([]Format, error) {
	if len(flags) == 0 {
		return nil, fmt.Errorf("%w: no output format requested", ErrInvalidOutputFormat)
	}
	out := make([]Format, 0, len(flags))
	for _, flag := range flags {
		switch f := Format(flag); f {
		case FormatStructured, FormatFlatText, FormatTaggedMarkup:
			out = append(out, f)
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidOutputFormat, flag)
		}
	}
	return out, nil
}

// Output holds the requested renderings. Unrequested fields stay zero.
type Output struct {
	Structured   map[string]interface{} `json:"structured,omitempty"`
	FlatText     string                 `json:"flat_text,omitempty"`
	TaggedMarkup string                 `json:"tagged_markup,omitempty"`
}

// Render produces every requested format from the same field values.
// metadata may be nil; when present it lands under _metadata in the
// structured form and under Metadata in the tagged form.
func Render(values map[string]interface{}, metadata map[string]interface{}, formats []Format) (Output, error) {
	timer := logging.StartTimer(logging.CategoryFormat, "Render")
	defer timer.Stop()

	validated, err := ValidateFormats(formatStrings(formats))
	if err != nil {
		return Output{}, err
	}

	var out Output
	for _, f := range validated {
		switch f {
		case FormatStructured:
			out.Structured = renderStructured(values, metadata)
		case FormatFlatText:
			out.FlatText = renderFlatText(values)
		case FormatTaggedMarkup:
			out.TaggedMarkup = renderTagged(values, metadata)
		}
	}
	return out, nil
}

func formatStrings(formats []Format) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = string(f)
	}
	return out
}

// =============================================================================
// STRUCTURED
// =============================================================================

func renderStructured(values, metadata map[string]interface{}) map[string]interface{} {
	out := deepCopyMap(values)
	if len(metadata) > 0 {
		out["_metadata"] = deepCopyMap(metadata)
	}
	return out
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// =============================================================================
// FLAT TEXT
// =============================================================================

// renderFlatText emits one "key: value" line per leaf, nested maps as
// parent.child paths and lists of maps inline. A timeline field renders as
// its own section at the end.
func renderFlatText(values map[string]interface{}) string {
	var sb strings.Builder

	keys := sortedKeys(values)
	for _, key := range keys {
		if key == "timeline" {
			continue
		}
		writeFlatEntry(&sb, key, values[key])
	}

	if timeline, ok := values["timeline"].([]interface{}); ok && len(timeline) > 0 {
		sb.WriteString("\nTimeline:\n")
		for _, entry := range timeline {
			if m, ok := entry.(map[string]interface{}); ok {
				fmt.Fprintf(&sb, "  %s\n", inlineMap(m))
			} else {
				fmt.Fprintf(&sb, "  %s\n", schema.ValueString(entry))
			}
		}
	}

	return sb.String()
}

func writeFlatEntry(sb *strings.Builder, path string, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		for _, k := range sortedKeys(v) {
			writeFlatEntry(sb, path+"."+k, v[k])
		}
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				parts = append(parts, inlineMap(m))
			} else {
				parts = append(parts, schema.ValueString(item))
			}
		}
		fmt.Fprintf(sb, "%s: %s\n", path, strings.Join(parts, "; "))
	default:
		fmt.Fprintf(sb, "%s: %s\n", path, schema.ValueString(value))
	}
}

func inlineMap(m map[string]interface{}) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s: %s", k, schema.ValueString(m[k])))
	}
	return strings.Join(parts, ", ")
}

// =============================================================================
// TAGGED MARKUP
// =============================================================================

// renderTagged emits a pretty-printed XML-style document: a Document root
// holding Fields then Metadata, lists as indexed Item elements, nulls as
// empty elements marked null="true".
func renderTagged(values, metadata map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString("<Document>\n")

	sb.WriteString("  <Fields>\n")
	for _, key := range sortedKeys(values) {
		writeTaggedElement(&sb, key, values[key], 2)
	}
	sb.WriteString("  </Fields>\n")

	if len(metadata) > 0 {
		sb.WriteString("  <Metadata>\n")
		for _, key := range sortedKeys(metadata) {
			writeTaggedElement(&sb, key, metadata[key], 2)
		}
		sb.WriteString("  </Metadata>\n")
	}

	sb.WriteString("</Document>\n")
	return sb.String()
}

func writeTaggedElement(sb *strings.Builder, name string, value interface{}, depth int) {
	pad := strings.Repeat("  ", depth)
	tag := elementName(name)

	switch v := value.(type) {
	case nil:
		fmt.Fprintf(sb, "%s<%s null=\"true\"/>\n", pad, tag)
	case map[string]interface{}:
		fmt.Fprintf(sb, "%s<%s>\n", pad, tag)
		for _, k := range sortedKeys(v) {
			writeTaggedElement(sb, k, v[k], depth+1)
		}
		fmt.Fprintf(sb, "%s</%s>\n", pad, tag)
	case []interface{}:
		fmt.Fprintf(sb, "%s<%s>\n", pad, tag)
		itemPad := strings.Repeat("  ", depth+1)
		for i, item := range v {
			switch it := item.(type) {
			case map[string]interface{}:
				fmt.Fprintf(sb, "%s<Item index=\"%d\">\n", itemPad, i)
				for _, k := range sortedKeys(it) {
					writeTaggedElement(sb, k, it[k], depth+2)
				}
				fmt.Fprintf(sb, "%s</Item>\n", itemPad)
			case nil:
				fmt.Fprintf(sb, "%s<Item index=\"%d\" null=\"true\"/>\n", itemPad, i)
			default:
				fmt.Fprintf(sb, "%s<Item index=\"%d\">%s</Item>\n", itemPad, i, escapeXML(schema.ValueString(item)))
			}
		}
		fmt.Fprintf(sb, "%s</%s>\n", pad, tag)
	default:
		fmt.Fprintf(sb, "%s<%s>%s</%s>\n", pad, tag, escapeXML(schema.ValueString(value)), tag)
	}
}

// elementName sanitizes a field name into a valid element name.
func elementName(name string) string {
	var sb strings.Builder
	for i, r := range name {
		valid := r == '_' || r == '-' || r == '.' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') ||
			(i > 0 && '0' <= r && r <= '9')
		if valid {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "field"
	}
	return sb.String()
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
	)
	return r.Replace(s)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
