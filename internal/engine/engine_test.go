package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"docsieve/internal/chunker"
	"docsieve/internal/progress"
	"docsieve/internal/prompt"
	"docsieve/internal/schema"
)

// stubClient answers every completion with the same body, optionally
// failing for prompts containing failOn or blocking until cancellation.
type stubClient struct {
	mu       sync.Mutex
	response string
	failOn   string
	block    bool
	calls    int
}

func (c *stubClient) Complete(ctx context.Context, p string) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.failOn != "" && strings.Contains(p, c.failOn) {
		return "", fmt.Errorf("provider exploded")
	}
	return c.response, nil
}

func (c *stubClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return c.Complete(ctx, user)
}

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newEngine(t *testing.T, client *stubClient) *Engine {
	t.Helper()
	r := schema.NewRegistry(schema.NewFunctionRegistry())
	require.NoError(t, schema.RegisterBuiltins(r))
	return New(prompt.NewBuilder(r), client)
}

func makeChunks(n int) []chunker.Chunk {
	chunks := make([]chunker.Chunk, n)
	for i := range chunks {
		chunks[i] = chunker.Chunk{Index: i, Text: fmt.Sprintf("chunk body %d", i)}
	}
	return chunks
}

func TestBuildJobs_CrossProduct(t *testing.T) {
	chunks := makeChunks(3)
	subDomains := []string{"patient_info", "diagnoses"}

	jobs := BuildJobs(chunks, subDomains)
	require.Len(t, jobs, 6)

	// Declared order: chunk-major, sub-domain-minor.
	assert.Equal(t, 0, jobs[0].Chunk.Index)
	assert.Equal(t, "patient_info", jobs[0].SubDomain)
	assert.Equal(t, 0, jobs[1].Chunk.Index)
	assert.Equal(t, "diagnoses", jobs[1].SubDomain)
	assert.Equal(t, 2, jobs[5].Chunk.Index)
	assert.Equal(t, "diagnoses", jobs[5].SubDomain)
}

func TestRun_CollectsAllPartials(t *testing.T) {
	client := &stubClient{response: `{"patient_name": "john doe"}`}
	e := newEngine(t, client)

	jobs := BuildJobs(makeChunks(3), []string{"patient_info", "diagnoses"})
	partials, err := e.Run(context.Background(), "medical", nil, jobs, Options{MaxConcurrency: 4}, progress.NewTracker(nil))
	require.NoError(t, err)
	require.Len(t, partials, 6)

	seen := make(map[string]bool)
	for _, p := range partials {
		seen[fmt.Sprintf("%d/%s", p.ChunkIndex, p.SubDomainName)] = true
		assert.Equal(t, "john doe", p.FieldValues["patient_name"])
		assert.Equal(t, 1.0, p.SourceConfidence)
	}
	assert.Len(t, seen, 6, "every (chunk, sub-domain) pair must appear exactly once")
}

func TestRun_ProviderFailureAbsorbed(t *testing.T) {
	client := &stubClient{
		response: `{"diagnoses": ["flu"]}`,
		failOn:   "chunk body 1",
	}
	e := newEngine(t, client)

	jobs := BuildJobs(makeChunks(3), []string{"diagnoses"})
	partials, err := e.Run(context.Background(), "medical", nil, jobs, Options{MaxConcurrency: 2}, progress.NewTracker(nil))
	require.NoError(t, err, "a job failure must not abort the run")
	require.Len(t, partials, 3)

	for _, p := range partials {
		if p.ChunkIndex == 1 {
			assert.Empty(t, p.FieldValues, "failed job yields an empty partial")
		} else {
			assert.Equal(t, []interface{}{"flu"}, p.FieldValues["diagnoses"])
		}
	}
}

func TestRun_UnparseableResponseAbsorbed(t *testing.T) {
	client := &stubClient{response: "I could not find any fields, sorry."}
	e := newEngine(t, client)

	jobs := BuildJobs(makeChunks(1), []string{"patient_info"})
	partials, err := e.Run(context.Background(), "medical", nil, jobs, Options{}, progress.NewTracker(nil))
	require.NoError(t, err)
	require.Len(t, partials, 1)
	assert.Empty(t, partials[0].FieldValues)
}

func TestRun_EmptyJobs(t *testing.T) {
	e := newEngine(t, &stubClient{})
	_, err := e.Run(context.Background(), "medical", nil, nil, Options{}, progress.NewTracker(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrSchemaEmpty)
}

func TestRun_Cancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &stubClient{block: true}
	e := newEngine(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	jobs := BuildJobs(makeChunks(50), []string{"patient_info", "diagnoses"})

	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		_, runErr = e.Run(ctx, "medical", nil, jobs, Options{MaxConcurrency: 5}, progress.NewTracker(nil))
	}()

	// Let a few workers enter their blocking calls, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.ErrorIs(t, runErr, ErrCancelled)
	assert.Less(t, client.callCount(), len(jobs), "no new jobs may be dispatched after cancel")
}

func TestRun_DeadlineMapsToTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &stubClient{block: true}
	e := newEngine(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	jobs := BuildJobs(makeChunks(4), []string{"patient_info"})
	_, err := e.Run(ctx, "medical", nil, jobs, Options{MaxConcurrency: 2, RequestTimeout: 10 * time.Second}, progress.NewTracker(nil))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRun_PerJobTimeoutAbsorbed(t *testing.T) {
	client := &stubClient{block: true}
	e := newEngine(t, client)

	jobs := BuildJobs(makeChunks(2), []string{"patient_info"})
	partials, err := e.Run(context.Background(), "medical", nil, jobs,
		Options{MaxConcurrency: 2, RequestTimeout: 30 * time.Millisecond}, progress.NewTracker(nil))
	require.NoError(t, err, "per-job timeouts are provider errors, not fatal")
	require.Len(t, partials, 2)
	for _, p := range partials {
		assert.Empty(t, p.FieldValues)
	}
}

func TestRun_ProgressEvents(t *testing.T) {
	client := &stubClient{response: `{"patient_name": "x"}`}
	e := newEngine(t, client)

	var mu sync.Mutex
	var events []progress.Event
	sink := progress.SinkFunc(func(ev progress.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	jobs := BuildJobs(makeChunks(2), []string{"patient_info", "diagnoses"})
	_, err := e.Run(context.Background(), "medical", nil, jobs, Options{MaxConcurrency: 2}, progress.NewTracker(sink))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)

	last := -1
	completions := 0
	for _, ev := range events {
		assert.Equal(t, progress.PhaseFieldExtract, ev.Phase)
		assert.GreaterOrEqual(t, ev.Percent, last, "percent must be non-decreasing")
		last = ev.Percent
		if ev.Attrs["jobs_completed"] != nil {
			completions++
		}
	}
	assert.Equal(t, len(jobs), completions)
}
