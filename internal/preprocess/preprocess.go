// Package preprocess rewrites free-form user queries into a structured form
// using one LLM call, identifying the likely domain and fields. Failures
// degrade to the unmodified query rather than erroring.
package preprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"docsieve/internal/llm"
	"docsieve/internal/logging"
	"docsieve/internal/schema"
)

// ConfidenceThreshold is the minimum preprocessor confidence at which the
// pipeline trusts the identified domain and fields.
const ConfidenceThreshold = 0.7

// PreprocessedQuery is the structured form of a user query.
type PreprocessedQuery struct {
	Original         string            `json:"original"`
	Reformulated     string            `json:"reformulated"`
	IdentifiedDomain string            `json:"identified_domain,omitempty"`
	IdentifiedFields []string          `json:"identified_fields,omitempty"`
	Requirements     map[string]string `json:"requirements,omitempty"`
	Confidence       float64           `json:"confidence"`
}

// Degraded reports whether the preprocessor fell back to the raw query.
func (q PreprocessedQuery) Degraded() bool {
	return q.Confidence < ConfidenceThreshold
}

// Preprocessor analyzes queries against the registered domain catalog.
type Preprocessor struct {
	registry *schema.Registry
	client   llm.Client

	catalogOnce sync.Once
	catalog     string
}

// New creates a Preprocessor. The domain catalog description is derived
// lazily from the registry on first use and cached; the registry is
// read-only after init so no invalidation is needed.
func New(registry *schema.Registry, client llm.Client) *Preprocessor {
	return &Preprocessor{registry: registry, client: client}
}

// llmReply is the structured response the preprocessor asks the model for.
type llmReply struct {
	ReformulatedQuery      string            `json:"reformulated_query"`
	IdentifiedDomain       string            `json:"identified_domain"`
	IdentifiedFields       []string          `json:"identified_fields"`
	ExtractionRequirements map[string]string `json:"extraction_requirements"`
	Confidence             float64           `json:"confidence"`
}

// Process runs the single LLM analysis call. The degraded result
// {reformulated = original, confidence = 0} is returned on any parse
// failure; cancellation propagates as an error.
func (p *Preprocessor) Process(ctx context.Context, query string) (PreprocessedQuery, error) {
	timer := logging.StartTimer(logging.CategoryPreprocess, "Process")
	defer timer.Stop()

	degraded := PreprocessedQuery{Original: query, Reformulated: query, Confidence: 0}
	if strings.TrimSpace(query) == "" {
		return degraded, nil
	}

	response, err := p.client.CompleteWithSystem(ctx, p.systemInstruction(), p.userPrompt(query))
	if err != nil {
		if ctx.Err() != nil {
			return degraded, ctx.Err()
		}
		logging.Preprocess("Process: LLM call failed, degrading: %v", err)
		return degraded, nil
	}

	raw := llm.ExtractJSON(response)
	if raw == "" {
		logging.Preprocess("Process: no JSON in response, degrading")
		return degraded, nil
	}

	var reply llmReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		logging.Preprocess("Process: unparseable reply, degrading: %v", err)
		return degraded, nil
	}

	if reply.Confidence < ConfidenceThreshold {
		logging.Preprocess("Process: confidence %.2f below threshold, degrading", reply.Confidence)
		return degraded, nil
	}

	reformulated := strings.TrimSpace(reply.ReformulatedQuery)
	if reformulated == "" {
		reformulated = query
	}

	result := PreprocessedQuery{
		Original:         query,
		Reformulated:     reformulated,
		IdentifiedDomain: reply.IdentifiedDomain,
		IdentifiedFields: reply.IdentifiedFields,
		Requirements:     reply.ExtractionRequirements,
		Confidence:       reply.Confidence,
	}
	logging.Preprocess("Process: domain=%q fields=%d confidence=%.2f", result.IdentifiedDomain, len(result.IdentifiedFields), result.Confidence)
	return result, nil
}

func (p *Preprocessor) userPrompt(query string) string {
	return fmt.Sprintf("Analyze this extraction query and respond with JSON:\n\n%s", query)
}

// systemInstruction enumerates the available domains, sub-domains and
// fields so the model can only pick names that actually exist.
func (p *Preprocessor) systemInstruction() string {
	p.catalogOnce.Do(func() {
		var sb strings.Builder
		sb.WriteString("You analyze document-extraction queries. Available domains:\n\n")
		for _, d := range p.registry.List() {
			fmt.Fprintf(&sb, "- %s: %s\n", d.Name, d.Description)
			for _, sd := range d.SubDomains {
				fieldNames := make([]string, len(sd.Fields))
				for i, f := range sd.Fields {
					fieldNames[i] = f.Name
				}
				fmt.Fprintf(&sb, "  - %s: fields [%s]\n", sd.Name, strings.Join(fieldNames, ", "))
			}
		}
		sb.WriteString("\nRespond with a single JSON object with keys: ")
		sb.WriteString(`"reformulated_query" (string), "identified_domain" (string or null, must be one of the domains above), `)
		sb.WriteString(`"identified_fields" (array of field names from the domain above), `)
		sb.WriteString(`"extraction_requirements" (object of string to string), `)
		sb.WriteString(`"confidence" (number 0 to 1, how certain you are of the domain identification).`)
		p.catalog = sb.String()
	})
	return p.catalog
}
