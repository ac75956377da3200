package merge

import (
	"context"

	"github.com/agnivade/levenshtein"

	"docsieve/internal/embedding"
	"docsieve/internal/logging"
	"docsieve/internal/schema"
)

// DefaultDedupThreshold is the similarity above which a string value is
// dropped as a duplicate.
const DefaultDedupThreshold = 0.9

// Deduper removes near-duplicate list values within one extraction. Strings
// are compared by embedding cosine similarity; the convention is
// drop-if-similarity-above-threshold, first occurrence kept. When no
// embedding engine is configured, or the engine fails mid-pass, strings fall
// back to a levenshtein similarity ratio against the same threshold.
// Non-strings deduplicate by deep equality. Construct one Deduper per
// extraction; the similarity index is not reused across extractions.
//
// Comparison state is scoped to one DedupList call: a value kept for one
// field never shadows the same value appearing under another field. Only the
// text-to-vector cache and the degraded flag carry across calls.
type Deduper struct {
	index     *embedding.Index
	threshold float64

	// lexical fallback state: strings kept during the current list pass,
	// in first-seen order.
	kept    []string
	lexical bool
}

// NewDeduper creates a Deduper. A nil engine selects the lexical fallback
// from the start. Thresholds outside (0,1] fall back to the default.
func NewDeduper(engine embedding.Engine, threshold float64) *Deduper {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDedupThreshold
	}
	d := &Deduper{threshold: threshold}
	if engine != nil {
		d.index = embedding.NewIndex(engine)
	} else {
		d.lexical = true
	}
	return d
}

// DedupList removes duplicates from a list, preserving first-seen order.
// Strings go through the similarity path; everything else uses equality.
func (d *Deduper) DedupList(ctx context.Context, items []interface{}) ([]interface{}, error) {
	// Each list deduplicates against itself only.
	d.kept = d.kept[:0]
	if d.index != nil {
		d.index.Reset()
	}

	if len(items) < 2 {
		return items, nil
	}

	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		s, isString := item.(string)
		if !isString {
			if !containsEqual(out, item) {
				out = append(out, item)
			}
			continue
		}

		dup, err := d.isDuplicateString(ctx, s)
		if err != nil {
			return out, err
		}
		if !dup {
			out = append(out, item)
		}
	}

	if len(out) < len(items) {
		logging.MergeDebug("DedupList: %d -> %d items", len(items), len(out))
	}
	return out, nil
}

// isDuplicateString checks s against every kept string. A hit means drop;
// a miss records s as kept.
func (d *Deduper) isDuplicateString(ctx context.Context, s string) (bool, error) {
	// Exact repeats never need an embedding call.
	for _, k := range d.kept {
		if k == s {
			return true, nil
		}
	}

	if !d.lexical {
		sim, err := d.index.MaxSimilarity(ctx, s)
		switch {
		case err == nil:
			if sim > d.threshold {
				return true, nil
			}
			if err := d.index.Add(ctx, s); err != nil {
				d.degrade()
			}
			d.kept = append(d.kept, s)
			return false, nil
		case ctx.Err() != nil:
			return false, ctx.Err()
		default:
			d.degrade()
		}
	}

	for _, k := range d.kept {
		if lexicalSimilarity(s, k) > d.threshold {
			return true, nil
		}
	}
	d.kept = append(d.kept, s)
	return false, nil
}

// degrade switches to the lexical path for the rest of the pass. Values
// already kept stay kept; they are re-compared lexically from here on.
func (d *Deduper) degrade() {
	if d.lexical {
		return
	}
	logging.MergeDebug("Deduper: embedding engine unavailable, switching to lexical similarity")
	d.lexical = true
}

// lexicalSimilarity is 1 - levenshtein(a,b)/max(len). Case-sensitive; equal
// strings score 1.
func lexicalSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func containsEqual(items []interface{}, v interface{}) bool {
	for _, item := range items {
		if schema.ValueEqual(item, v) {
			return true
		}
	}
	return false
}

// equalityDedup removes exact duplicates preserving first-seen order. Used
// inside per-chunk merges where similarity dedup would be premature.
func equalityDedup(items []interface{}) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		if !containsEqual(out, item) {
			out = append(out, item)
		}
	}
	return out
}
