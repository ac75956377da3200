// Package identify scores registered domains and fields against a user
// query and produces an extraction plan. Scoring is deterministic; the
// identifier never fails, it only produces emptier plans.
package identify

import (
	"sort"
	"strings"

	"docsieve/internal/logging"
	"docsieve/internal/schema"
)

// Scoring constants.
const (
	// DomainThreshold is the minimum composite confidence for a domain to
	// be considered a candidate.
	DomainThreshold = 0.6

	// DefaultMinFieldConfidence is the default retention threshold for
	// fields; tunable down to 0.6 via Options.
	DefaultMinFieldConfidence = 0.8

	// FieldConfidenceOverride retains a field regardless of term overlap.
	FieldConfidenceOverride = 0.85

	// FieldOverlapFloor is the minimum query-term overlap ratio for a
	// field below the confidence override.
	FieldOverlapFloor = 0.2

	// LLMDomainBoost is the floor applied to a domain the preprocessor
	// identified.
	LLMDomainBoost = 0.9

	maxDomains = 2
	maxFields  = 6
)

// Options tune the identifier.
type Options struct {
	// MinFieldConfidence overrides DefaultMinFieldConfidence when in
	// [0.6, 1.0].
	MinFieldConfidence float64

	// LLMDomain is the domain the preprocessor identified, if any.
	LLMDomain string
}

// DomainScore is one scored candidate domain.
type DomainScore struct {
	Name       string
	Confidence float64
	Overlap    float64
}

// FieldScore is one scored candidate field.
type FieldScore struct {
	Name       string
	SubDomain  string
	Domain     string
	Confidence float64
	Overlap    float64
}

// ExtractionPlan is the identifier's output. Fields is an optional
// restriction; when empty, all fields of the selected sub-domains apply.
type ExtractionPlan struct {
	Domain           string
	SubDomains       []string
	Fields           []string
	FieldConfidences map[string]float64
	Candidates       []DomainScore
	OutputFormats    []string
}

// Empty reports whether the plan selected no domain.
func (p ExtractionPlan) Empty() bool {
	return p.Domain == ""
}

// Identifier scores queries against the registry catalog.
type Identifier struct {
	registry *schema.Registry
}

// New creates an Identifier.
func New(registry *schema.Registry) *Identifier {
	return &Identifier{registry: registry}
}

// Identify computes an extraction plan for the query. Never errors; an
// empty plan means no domain scored above threshold and no fallback
// candidate existed.
func (id *Identifier) Identify(query string, opts Options) ExtractionPlan {
	timer := logging.StartTimer(logging.CategoryIdentify, "Identify")
	defer timer.Stop()

	queryLower := strings.ToLower(query)
	queryTerms := termSet(queryLower)

	// Score every domain; order follows registration order so equal
	// confidence breaks deterministically.
	var scores []DomainScore
	for _, d := range id.registry.List() {
		s := id.scoreDomain(queryLower, queryTerms, d, opts.LLMDomain)
		scores = append(scores, s)
	}

	candidates := make([]DomainScore, 0, len(scores))
	for _, s := range scores {
		if s.Confidence >= DomainThreshold {
			candidates = append(candidates, s)
		}
	}

	// No candidate above threshold: fall back to the single
	// highest-confidence domain with any signal at all.
	if len(candidates) == 0 {
		best := DomainScore{}
		for _, s := range scores {
			if s.Confidence > best.Confidence {
				best = s
			}
		}
		if best.Confidence > 0 {
			candidates = []DomainScore{best}
		}
	}

	if len(candidates) == 0 {
		logging.Identify("Identify: no domain matched %q", query)
		return ExtractionPlan{}
	}

	// Rank by combined relevance: confidence plus overlap-weighted bonus.
	sort.SliceStable(candidates, func(i, j int) bool {
		return relevance(candidates[i]) > relevance(candidates[j])
	})
	if len(candidates) > maxDomains {
		candidates = candidates[:maxDomains]
	}

	minConf := DefaultMinFieldConfidence
	if opts.MinFieldConfidence >= 0.6 && opts.MinFieldConfidence <= 1.0 {
		minConf = opts.MinFieldConfidence
	}

	// Score fields of the candidate domains.
	var retained []FieldScore
	for _, cand := range candidates {
		d, ok := id.registry.Get(cand.Name)
		if !ok {
			continue
		}
		for i := range d.SubDomains {
			sd := &d.SubDomains[i]
			for _, f := range sd.Fields {
				fs := scoreField(queryLower, queryTerms, f, sd.Name, d.Name)
				if fs.Confidence >= minConf && (fs.Overlap >= FieldOverlapFloor || fs.Confidence >= FieldConfidenceOverride) {
					retained = append(retained, fs)
				}
			}
		}
	}

	sort.SliceStable(retained, func(i, j int) bool {
		return retained[i].Confidence > retained[j].Confidence
	})
	if len(retained) > maxFields {
		retained = retained[:maxFields]
	}

	primary := candidates[0]
	plan := ExtractionPlan{
		Domain:           primary.Name,
		FieldConfidences: make(map[string]float64),
		Candidates:       candidates,
	}

	// Sub-domain selection: those owning retained fields of the primary
	// domain, in declaration order; all of them when no field survived.
	subDomainSet := make(map[string]bool)
	for _, fs := range retained {
		plan.FieldConfidences[fs.Name] = fs.Confidence
		if fs.Domain == primary.Name {
			plan.Fields = append(plan.Fields, fs.Name)
			subDomainSet[fs.SubDomain] = true
		}
	}
	if d, ok := id.registry.Get(primary.Name); ok {
		for _, name := range d.SubDomainNames() {
			if len(subDomainSet) == 0 || subDomainSet[name] {
				plan.SubDomains = append(plan.SubDomains, name)
			}
		}
	}
	// A field restriction narrower than the sub-domain set would starve
	// unrelated sub-domains; keep the restriction only when it covers
	// every selected sub-domain.
	if len(subDomainSet) == 0 {
		plan.Fields = nil
	}

	logging.Identify("Identify: domain=%s confidence=%.2f sub_domains=%v fields=%v",
		plan.Domain, primary.Confidence, plan.SubDomains, plan.Fields)
	return plan
}

func relevance(s DomainScore) float64 {
	return s.Confidence + 0.2*s.Overlap
}

// scoreDomain combines name match, keyword matches and description-term
// overlap into a confidence in [0,1].
func (id *Identifier) scoreDomain(queryLower string, queryTerms map[string]bool, d *schema.DomainDefinition, llmDomain string) DomainScore {
	var conf float64

	if strings.Contains(queryLower, strings.ToLower(d.Name)) {
		conf += 0.5
	}

	for _, kw := range d.Keywords {
		kwLower := strings.ToLower(kw)
		if !strings.Contains(queryLower, kwLower) {
			continue
		}
		if strings.Contains(kwLower, " ") {
			conf += 0.3 // multi-word matches are stronger signal
		} else {
			conf += 0.15
		}
	}

	overlap := overlapRatio(queryTerms, termSet(strings.ToLower(d.Description)))
	conf += 0.3 * overlap

	if conf > 1.0 {
		conf = 1.0
	}
	if llmDomain != "" && llmDomain == d.Name && conf < LLMDomainBoost {
		conf = LLMDomainBoost
	}

	return DomainScore{Name: d.Name, Confidence: conf, Overlap: overlap}
}

// scoreField combines field-name, description-term, keyword and
// sub-domain-name signals.
func scoreField(queryLower string, queryTerms map[string]bool, f schema.FieldDefinition, subDomain, domain string) FieldScore {
	var conf float64

	nameTerms := termSet(strings.ReplaceAll(strings.ToLower(f.Name), "_", " "))
	if strings.Contains(queryLower, strings.ReplaceAll(strings.ToLower(f.Name), "_", " ")) {
		conf += 0.6
	}

	descOverlap := overlapRatio(queryTerms, termSet(strings.ToLower(f.Description)))
	conf += 0.3 * descOverlap

	for _, kw := range f.Keywords {
		if strings.Contains(queryLower, strings.ToLower(kw)) {
			conf += 0.2
		}
	}
	for _, kw := range f.NegativeKeywords {
		if strings.Contains(queryLower, strings.ToLower(kw)) {
			conf -= 0.3
		}
	}

	for term := range termSet(strings.ReplaceAll(strings.ToLower(subDomain), "_", " ")) {
		if queryTerms[term] {
			conf += 0.1
			break
		}
	}

	if conf > 1.0 {
		conf = 1.0
	}
	if conf < 0 {
		conf = 0
	}

	return FieldScore{
		Name:       f.Name,
		SubDomain:  subDomain,
		Domain:     domain,
		Confidence: conf,
		Overlap:    overlapRatio(queryTerms, nameTerms),
	}
}

// termSet tokenizes on whitespace and punctuation, dropping short tokens.
func termSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	}) {
		if len(tok) >= 3 {
			out[strings.ToLower(tok)] = true
		}
	}
	return out
}

// overlapRatio is the fraction of b's terms present in a; 0 when b is empty.
func overlapRatio(a, b map[string]bool) float64 {
	if len(b) == 0 {
		return 0
	}
	matched := 0
	for term := range b {
		if a[term] {
			matched++
		}
	}
	return float64(matched) / float64(len(b))
}
