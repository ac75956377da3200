package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsieve/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr bool
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0, false},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0, false},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0, false},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0, false},
		{"dimension mismatch", []float32{1}, []float32{1, 2}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestNewEngine_UnsupportedProvider(t *testing.T) {
	_, err := NewEngine(config.EmbeddingConfig{Provider: "quantum"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported embedding provider")
}

func TestOllamaEngine_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embeddinggemma", req.Model)

		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	engine, err := NewOllamaEngine(srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "ollama:embeddinggemma", engine.Name())

	vec, err := engine.Embed(context.Background(), "some value")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaEngine_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	engine, err := NewOllamaEngine(srv.URL, "missing")
	require.NoError(t, err)

	_, err = engine.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

// mockEngine returns deterministic vectors keyed by text.
type mockEngine struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (m *mockEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	vec, ok := m.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return vec, nil
}

func (m *mockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *mockEngine) Dimensions() int { return 3 }
func (m *mockEngine) Name() string    { return "mock" }

func TestIndex_MaxSimilarity(t *testing.T) {
	engine := &mockEngine{vectors: map[string][]float32{
		"aspirin":      {1, 0, 0},
		"aspirin 81mg": {0.95, 0.3, 0},
		"warfarin":     {0, 1, 0},
	}}
	idx := NewIndex(engine)
	ctx := context.Background()

	// Empty index never matches.
	sim, err := idx.MaxSimilarity(ctx, "aspirin")
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)

	require.NoError(t, idx.Add(ctx, "aspirin"))
	assert.Equal(t, 1, idx.Len())

	sim, err = idx.MaxSimilarity(ctx, "aspirin 81mg")
	require.NoError(t, err)
	assert.Greater(t, sim, 0.9)

	sim, err = idx.MaxSimilarity(ctx, "warfarin")
	require.NoError(t, err)
	assert.Less(t, sim, 0.1)
}

func TestIndex_CachesEmbeddings(t *testing.T) {
	engine := &mockEngine{vectors: map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
	}}
	idx := NewIndex(engine)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "a"))
	_, err := idx.MaxSimilarity(ctx, "b")
	require.NoError(t, err)
	_, err = idx.MaxSimilarity(ctx, "b")
	require.NoError(t, err)

	// "a" once, "b" once; second lookup of "b" hits the cache.
	assert.Equal(t, 2, engine.calls)
}

func TestIndex_DegradesAfterEngineFailure(t *testing.T) {
	engine := &mockEngine{err: fmt.Errorf("connection refused")}
	idx := NewIndex(engine)
	ctx := context.Background()

	err := idx.Add(ctx, "x")
	require.Error(t, err)

	// All subsequent calls fail fast without touching the engine again.
	calls := engine.calls
	_, err = idx.MaxSimilarity(ctx, "y")
	require.Error(t, err)
	assert.Equal(t, calls, engine.calls)
}
