// Package merge reconciles per-job partials into a single result: first a
// per-chunk merge across sub-domains, then a cross-chunk merge with
// deduplication and confidence tracking.
package merge

import (
	"context"
	"fmt"
	"sort"

	"docsieve/internal/engine"
	"docsieve/internal/logging"
	"docsieve/internal/schema"
)

// MergedChunkResult is the reconciled output of one chunk across all
// sub-domain partials.
type MergedChunkResult struct {
	ChunkIndex  int
	FieldValues map[string]interface{}
	Provenance  map[string][]string
	Confidences map[string][]float64
}

// FinalResult is the cross-chunk merge outcome. Alternates retains the
// non-selected values of non-unique scalar fields for inspection.
type FinalResult struct {
	FieldValues map[string]interface{}
	Provenance  map[string][]string
	Confidences map[string][]float64
	Alternates  map[string][]interface{}
}

// Merger applies the merge policy. Field semantics (list-typed, unique) come
// from the registry; fields absent from the schema merge as non-unique
// scalars.
type Merger struct {
	registry *schema.Registry
}

// New creates a Merger.
func New(registry *schema.Registry) *Merger {
	return &Merger{registry: registry}
}

// MergeChunk folds all sub-domain partials of one chunk into a single
// result. Partials are consumed in sub-domain declaration order so the
// "first non-null wins" rule is deterministic.
func (m *Merger) MergeChunk(domain string, chunkIndex int, partials []engine.PartialResult) MergedChunkResult {
	out := MergedChunkResult{
		ChunkIndex:  chunkIndex,
		FieldValues: make(map[string]interface{}),
		Provenance:  make(map[string][]string),
		Confidences: make(map[string][]float64),
	}

	ordered := m.orderBySubDomain(domain, partials)
	for _, p := range ordered {
		if p.ChunkIndex != chunkIndex {
			continue
		}
		for field, value := range p.FieldValues {
			out.Provenance[field] = append(out.Provenance[field], p.SubDomainName)
			out.Confidences[field] = append(out.Confidences[field], p.SourceConfidence)

			existing, seen := out.FieldValues[field]
			switch {
			case !seen:
				out.FieldValues[field] = value
			case m.isListField(domain, field) || isBothLists(existing, value):
				out.FieldValues[field] = equalityDedup(append(schema.ValueList(existing), schema.ValueList(value)...))
			case schema.IsNullValue(existing) && !schema.IsNullValue(value):
				// Non-null supersedes null.
				out.FieldValues[field] = value
			default:
				// First non-null in sub-domain declaration order stands.
			}
		}
	}

	logging.MergeDebug("MergeChunk: chunk %d merged %d partials into %d fields", chunkIndex, len(partials), len(out.FieldValues))
	return out
}

// MergeAll reconciles every chunk result into the final result. Scalars
// marked unique keep the value with the highest aggregate confidence (ties
// broken by lowest chunk index); other scalars do the same but retain
// alternates; lists concatenate then deduplicate; objects merge recursively
// by key.
func (m *Merger) MergeAll(ctx context.Context, domain string, chunks []MergedChunkResult, deduper *Deduper) (FinalResult, error) {
	timer := logging.StartTimer(logging.CategoryMerge, "MergeAll")
	defer timer.Stop()

	final := FinalResult{
		FieldValues: make(map[string]interface{}),
		Provenance:  make(map[string][]string),
		Confidences: make(map[string][]float64),
		Alternates:  make(map[string][]interface{}),
	}

	// Chunk order is normalized so feeding chunks in any permutation yields
	// the same final result.
	sorted := make([]MergedChunkResult, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ChunkIndex < sorted[j].ChunkIndex })

	grouped := make(map[string][]candidate)
	var fieldOrder []string
	for _, ch := range sorted {
		for field, value := range ch.FieldValues {
			if _, seen := grouped[field]; !seen {
				fieldOrder = append(fieldOrder, field)
			}
			grouped[field] = append(grouped[field], candidate{
				value:      value,
				chunkIndex: ch.ChunkIndex,
				confidence: maxOf(ch.Confidences[field]),
			})
			final.Provenance[field] = append(final.Provenance[field],
				provenanceEntries(ch.ChunkIndex, ch.Provenance[field])...)
			final.Confidences[field] = append(final.Confidences[field], ch.Confidences[field]...)
		}
	}
	sort.Strings(fieldOrder)

	for _, field := range fieldOrder {
		cands := grouped[field]
		merged, alternates, err := m.mergeField(ctx, domain, field, cands, deduper)
		if err != nil {
			return final, err
		}
		final.FieldValues[field] = merged
		if len(alternates) > 0 {
			final.Alternates[field] = alternates
		}
	}

	logging.Merge("MergeAll: %d chunks -> %d fields", len(chunks), len(final.FieldValues))
	return final, nil
}

type candidate struct {
	value      interface{}
	chunkIndex int
	confidence float64
}

func (m *Merger) mergeField(ctx context.Context, domain, field string, cands []candidate, deduper *Deduper) (interface{}, []interface{}, error) {
	if m.isListField(domain, field) || allLists(cands) {
		var all []interface{}
		for _, c := range cands {
			all = append(all, schema.ValueList(c.value)...)
		}
		deduped, err := deduper.DedupList(ctx, all)
		return deduped, nil, err
	}

	if allObjects(cands) {
		return m.mergeObjects(ctx, domain, field, cands, deduper)
	}

	best, rest := selectScalar(cands)
	if m.isUniqueField(domain, field) {
		return best, nil, nil
	}
	return best, rest, nil
}

// mergeObjects merges map values key by key, applying scalar selection per
// leaf and recursing into nested maps.
func (m *Merger) mergeObjects(ctx context.Context, domain, field string, cands []candidate, deduper *Deduper) (interface{}, []interface{}, error) {
	keys := make(map[string][]candidate)
	var order []string
	for _, c := range cands {
		obj, _ := schema.ValueObject(c.value)
		for k, v := range obj {
			if _, seen := keys[k]; !seen {
				order = append(order, k)
			}
			keys[k] = append(keys[k], candidate{value: v, chunkIndex: c.chunkIndex, confidence: c.confidence})
		}
	}
	sort.Strings(order)

	out := make(map[string]interface{}, len(order))
	for _, k := range order {
		merged, _, err := m.mergeField(ctx, domain, field+"."+k, keys[k], deduper)
		if err != nil {
			return out, nil, err
		}
		out[k] = merged
	}
	return out, nil, nil
}

// selectScalar picks the highest-confidence non-null value; ties break by
// lowest chunk index. The remaining distinct non-null values are returned as
// alternates.
func selectScalar(cands []candidate) (interface{}, []interface{}) {
	bestIdx := -1
	for i, c := range cands {
		if schema.IsNullValue(c.value) {
			continue
		}
		if bestIdx == -1 ||
			c.confidence > cands[bestIdx].confidence ||
			(c.confidence == cands[bestIdx].confidence && c.chunkIndex < cands[bestIdx].chunkIndex) {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return nil, nil
	}

	best := cands[bestIdx].value
	var alternates []interface{}
	for i, c := range cands {
		if i == bestIdx || schema.IsNullValue(c.value) || schema.ValueEqual(c.value, best) {
			continue
		}
		duplicate := false
		for _, a := range alternates {
			if schema.ValueEqual(a, c.value) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			alternates = append(alternates, c.value)
		}
	}
	return best, alternates
}

func (m *Merger) isListField(domain, field string) bool {
	_, f, ok := m.registry.GetField(domain, field)
	return ok && f.Type == schema.TypeList
}

func (m *Merger) isUniqueField(domain, field string) bool {
	_, f, ok := m.registry.GetField(domain, field)
	return ok && f.Unique
}

func (m *Merger) orderBySubDomain(domain string, partials []engine.PartialResult) []engine.PartialResult {
	d, ok := m.registry.Get(domain)
	if !ok {
		return partials
	}
	rank := make(map[string]int, len(d.SubDomains))
	for i, name := range d.SubDomainNames() {
		rank[name] = i
	}
	out := make([]engine.PartialResult, len(partials))
	copy(out, partials)
	sort.SliceStable(out, func(i, j int) bool {
		return rank[out[i].SubDomainName] < rank[out[j].SubDomainName]
	})
	return out
}

func provenanceEntries(chunkIndex int, subDomains []string) []string {
	out := make([]string, len(subDomains))
	for i, sd := range subDomains {
		out[i] = fmt.Sprintf("chunk:%d/%s", chunkIndex, sd)
	}
	return out
}

func isBothLists(a, b interface{}) bool {
	_, aOk := a.([]interface{})
	_, bOk := b.([]interface{})
	return aOk && bOk
}

func allLists(cands []candidate) bool {
	any := false
	for _, c := range cands {
		if schema.IsNullValue(c.value) {
			continue
		}
		if _, ok := c.value.([]interface{}); !ok {
			return false
		}
		any = true
	}
	return any
}

func allObjects(cands []candidate) bool {
	any := false
	for _, c := range cands {
		if schema.IsNullValue(c.value) {
			continue
		}
		if _, ok := schema.ValueObject(c.value); !ok {
			return false
		}
		any = true
	}
	return any
}

func maxOf(values []float64) float64 {
	max := 0.0
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}
