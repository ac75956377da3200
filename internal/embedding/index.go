package embedding

import (
	"context"
	"sync"

	"docsieve/internal/logging"
)

// =============================================================================
// SIMILARITY INDEX
// =============================================================================

// Index accumulates embeddings for accepted values during a single merge pass
// and answers "how close is this candidate to anything already kept". Vectors
// are cached per text so repeated values cost one engine call. Safe for
// concurrent use.
type Index struct {
	engine Engine

	mu      sync.Mutex
	kept    [][]float32
	cache   map[string][]float32
	failed  bool
	lastErr error
}

// NewIndex creates an empty index backed by the given engine.
func NewIndex(engine Engine) *Index {
	return &Index{
		engine: engine,
		cache:  make(map[string][]float32),
	}
}

// MaxSimilarity returns the highest cosine similarity between text and any
// value previously added. Returns 0 when the index is empty. Once the engine
// fails the index stays degraded for the rest of the pass and returns the
// error on every call, so callers can switch to a lexical fallback.
func (x *Index) MaxSimilarity(ctx context.Context, text string) (float64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.failed {
		return 0, x.lastErr
	}
	if len(x.kept) == 0 {
		return 0, nil
	}

	vec, err := x.embedLocked(ctx, text)
	if err != nil {
		return 0, err
	}

	max := -1.0
	for _, kept := range x.kept {
		sim, err := CosineSimilarity(vec, kept)
		if err != nil {
			continue
		}
		if sim > max {
			max = sim
		}
	}
	if max < 0 {
		max = 0
	}
	return max, nil
}

// Add embeds text and records it as a kept value.
func (x *Index) Add(ctx context.Context, text string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.failed {
		return x.lastErr
	}

	vec, err := x.embedLocked(ctx, text)
	if err != nil {
		return err
	}
	x.kept = append(x.kept, vec)
	return nil
}

// Reset clears the kept set so the index can serve another independent
// dedup pass. The vector cache survives, so texts seen before cost no new
// engine call; a degraded index stays degraded.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.kept = x.kept[:0]
}

// Len returns the number of kept values.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.kept)
}

func (x *Index) embedLocked(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := x.cache[text]; ok {
		return vec, nil
	}
	vec, err := x.engine.Embed(ctx, text)
	if err != nil {
		logging.EmbeddingWarn("Index: engine failed, degrading for remainder of pass: %v", err)
		x.failed = true
		x.lastErr = err
		return nil, err
	}
	x.cache[text] = vec
	return vec, nil
}
