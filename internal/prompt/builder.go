// Package prompt renders deterministic extraction prompts from a domain
// schema and a chunk of document text. Prompt text is assembled in a fixed
// order so identical inputs always produce identical prompts.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"docsieve/internal/schema"
)

// Core anti-hallucination instructions included in every prompt, before any
// domain- or sub-domain-specific additions.
var coreAntiHallucination = []string{
	"Extract ONLY information explicitly stated in the text.",
	"Do NOT infer, guess, or fabricate values that are not present.",
	"If a field's value is not found in the text, return null for that field.",
	"Do NOT use placeholder values such as \"N/A\" or \"Unknown\"; use null.",
	"Quote values as they appear; do not paraphrase extracted values.",
}

// Builder renders extraction prompts from registry-held schema definitions.
type Builder struct {
	registry *schema.Registry
}

// NewBuilder creates a Builder bound to a registry.
func NewBuilder(registry *schema.Registry) *Builder {
	return &Builder{registry: registry}
}

// Build renders the full extraction prompt for one chunk of text against the
// given domain and sub-domain selection. If fields is non-empty, only the
// listed fields belonging to the selected sub-domains are rendered. Fails
// with schema_empty when the sub-domain selection is empty.
func (b *Builder) Build(text, domainName string, subDomainNames []string, fields []string) (string, error) {
	domain, ok := b.registry.Get(domainName)
	if !ok {
		return "", fmt.Errorf("%w: %s", schema.ErrDomainNotFound, domainName)
	}

	subDomains, err := b.selectSubDomains(domain, subDomainNames)
	if err != nil {
		return "", err
	}

	var sb strings.Builder

	// (1) Domain header.
	fmt.Fprintf(&sb, "You are extracting structured information from a document in the %q domain.\n", domain.Name)
	if domain.Description != "" {
		fmt.Fprintf(&sb, "Domain description: %s\n", domain.Description)
	}
	if domain.ExtractionInstructions != "" {
		fmt.Fprintf(&sb, "Domain instructions: %s\n", domain.ExtractionInstructions)
	}
	sb.WriteString("\n")

	// (2) Sub-domain sections with field bullets.
	renderedFields := 0
	for _, sd := range subDomains {
		fmt.Fprintf(&sb, "## Section: %s\n", sd.Name)
		if sd.Description != "" {
			fmt.Fprintf(&sb, "%s\n", sd.Description)
		}
		if sd.ExtractionInstructions != "" {
			fmt.Fprintf(&sb, "Instructions: %s\n", sd.ExtractionInstructions)
		}
		sb.WriteString("Fields to extract:\n")
		for _, f := range orderFields(sd.Fields, fields) {
			renderFieldBullet(&sb, f)
			renderedFields++
		}
		sb.WriteString("\n")
	}
	if renderedFields == 0 {
		return "", fmt.Errorf("%w: no fields selected for domain %s", schema.ErrSchemaEmpty, domain.Name)
	}

	// (3) Anti-hallucination block.
	renderAntiHallucination(&sb, domain, subDomains)

	// (4) Output format block.
	renderOutputFormat(&sb)

	// (5) Chunk text verbatim.
	sb.WriteString("## Document Text\n")
	sb.WriteString(text)

	return sb.String(), nil
}

// BuildFallback renders a minimal prompt: header, field bullets, core
// anti-hallucination block, and the text. Used by the pipeline when Build
// fails for any reason other than schema errors.
func (b *Builder) BuildFallback(text, domainName string, subDomainNames []string) (string, error) {
	domain, ok := b.registry.Get(domainName)
	if !ok {
		return "", fmt.Errorf("%w: %s", schema.ErrDomainNotFound, domainName)
	}

	subDomains, err := b.selectSubDomains(domain, subDomainNames)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract the following fields from the %q document below.\n\n", domain.Name)
	for _, sd := range subDomains {
		for _, f := range orderFields(sd.Fields, nil) {
			fmt.Fprintf(&sb, "- %s: %s\n", f.Name, f.Description)
		}
	}
	sb.WriteString("\n")
	for _, line := range coreAntiHallucination {
		fmt.Fprintf(&sb, "- %s\n", line)
	}
	renderOutputFormat(&sb)
	sb.WriteString("## Document Text\n")
	sb.WriteString(text)

	return sb.String(), nil
}

func (b *Builder) selectSubDomains(domain *schema.DomainDefinition, names []string) ([]*schema.SubDomainDefinition, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no sub-domains selected for %s", schema.ErrSchemaEmpty, domain.Name)
	}
	out := make([]*schema.SubDomainDefinition, 0, len(names))
	for _, name := range names {
		sd, ok := domain.SubDomain(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", schema.ErrSubDomainNotFound, domain.Name, name)
		}
		out = append(out, sd)
	}
	return out, nil
}

// orderFields returns fields sorted by extraction_priority descending with
// ties broken by declaration order, restricted to requested when non-empty.
func orderFields(fields []schema.FieldDefinition, requested []string) []schema.FieldDefinition {
	selected := fields
	if len(requested) > 0 {
		want := make(map[string]bool, len(requested))
		for _, name := range requested {
			want[name] = true
		}
		selected = nil
		for _, f := range fields {
			if want[f.Name] {
				selected = append(selected, f)
			}
		}
	}

	out := make([]schema.FieldDefinition, len(selected))
	copy(out, selected)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExtractionPriority > out[j].ExtractionPriority
	})
	return out
}

func renderFieldBullet(sb *strings.Builder, f schema.FieldDefinition) {
	fmt.Fprintf(sb, "- %s (%s)", f.Name, f.Type)
	if f.Required {
		sb.WriteString(" [required]")
	}
	if f.Unique {
		sb.WriteString(" [single value]")
	}
	if f.Description != "" {
		fmt.Fprintf(sb, ": %s", f.Description)
	}
	sb.WriteString("\n")
	if len(f.Examples) > 0 {
		fmt.Fprintf(sb, "  Examples: %s\n", strings.Join(f.Examples, "; "))
	}
	if f.ExtractionInstructions != "" {
		fmt.Fprintf(sb, "  Hint: %s\n", f.ExtractionInstructions)
	}
}

func renderAntiHallucination(sb *strings.Builder, domain *schema.DomainDefinition, subDomains []*schema.SubDomainDefinition) {
	sb.WriteString("## Extraction Rules\n")
	for _, line := range coreAntiHallucination {
		fmt.Fprintf(sb, "- %s\n", line)
	}
	if domain.AntiHallucinationInstructions != "" {
		fmt.Fprintf(sb, "- %s\n", domain.AntiHallucinationInstructions)
	}
	for _, sd := range subDomains {
		if sd.AntiHallucinationInstructions != "" {
			fmt.Fprintf(sb, "- %s\n", sd.AntiHallucinationInstructions)
		}
	}
	sb.WriteString("\n")
}

func renderOutputFormat(sb *strings.Builder) {
	sb.WriteString("## Output Format\n")
	sb.WriteString("Respond with a single JSON object keyed by field name.\n")
	sb.WriteString("- Dates must be formatted as ISO-8601 (YYYY-MM-DD).\n")
	sb.WriteString("- Multi-valued fields must be JSON arrays.\n")
	sb.WriteString("- Absent fields must be null.\n")
	sb.WriteString("- Do not include any text outside the JSON object.\n\n")
}
