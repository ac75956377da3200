// Package engine fans extraction out across (chunk x sub-domain) jobs with
// bounded concurrency. Job faults are absorbed as empty partials; the engine
// only fails as a whole on cancellation or an empty job set.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"docsieve/internal/chunker"
	"docsieve/internal/llm"
	"docsieve/internal/logging"
	"docsieve/internal/progress"
	"docsieve/internal/prompt"
	"docsieve/internal/schema"
)

// Terminal errors exposed at the engine boundary.
var (
	ErrCancelled = errors.New("cancelled")
	ErrTimeout   = errors.New("timeout")
)

// Job is one (chunk, sub-domain) pair to be sent to the LLM.
type Job struct {
	Chunk     chunker.Chunk
	SubDomain string
}

// PartialResult is the parsed outcome of one job. FieldValues is empty when
// the provider call or the parse failed.
type PartialResult struct {
	ChunkIndex       int
	SubDomainName    string
	FieldValues      map[string]interface{}
	SourceConfidence float64
}

// Options tune one engine run.
type Options struct {
	// MaxConcurrency is the worker pool size. Defaults to 20.
	MaxConcurrency int

	// RequestTimeout is the per-job deadline. Defaults to 60s. Expiry is
	// treated like a provider error: empty partial, no retry.
	RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 20
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	return o
}

// BuildJobs crosses chunks with sub-domains in declared order.
func BuildJobs(chunks []chunker.Chunk, subDomains []string) []Job {
	jobs := make([]Job, 0, len(chunks)*len(subDomains))
	for _, ch := range chunks {
		for _, sd := range subDomains {
			jobs = append(jobs, Job{Chunk: ch, SubDomain: sd})
		}
	}
	return jobs
}

// Engine drains a job queue through a worker pool.
type Engine struct {
	builder *prompt.Builder
	client  llm.Client
}

// New creates an Engine.
func New(builder *prompt.Builder, client llm.Client) *Engine {
	return &Engine{builder: builder, client: client}
}

// Run executes all jobs for one extraction and returns their partials. Jobs
// are dispatched in declared order; completion order is unspecified and the
// partials carry (chunk_index, sub_domain_name) so downstream merging is
// order-independent. Returns ErrCancelled or ErrTimeout when ctx ends early;
// every worker has exited by the time Run returns.
func (e *Engine) Run(ctx context.Context, domain string, fields []string, jobs []Job, opts Options, tracker *progress.Tracker) ([]PartialResult, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Run")
	defer timer.StopWithInfo()

	opts = opts.withDefaults()
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: no jobs to run", schema.ErrSchemaEmpty)
	}

	logging.Engine("Run: %d jobs, concurrency=%d, timeout=%v", len(jobs), opts.MaxConcurrency, opts.RequestTimeout)
	tracker.StartJobs(len(jobs))

	// Bounded queue: producers block when workers fall behind, capping both
	// memory and LLM fan-out.
	queue := make(chan Job, opts.MaxConcurrency*2)
	results := make(chan PartialResult, opts.MaxConcurrency)

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		for _, job := range jobs {
			select {
			case queue <- job:
			case <-runCtx.Done():
				return runCtx.Err()
			}
		}
		return nil
	})

	workers := opts.MaxConcurrency
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-runCtx.Done():
					return runCtx.Err()
				case job, ok := <-queue:
					if !ok {
						return nil
					}
					partial := e.runJob(runCtx, domain, fields, job, opts.RequestTimeout)
					select {
					case results <- partial:
					case <-runCtx.Done():
						return runCtx.Err()
					}
					tracker.JobCompleted(fmt.Sprintf("chunk %d / %s", job.Chunk.Index, job.SubDomain))
				}
			}
		})
	}

	// Collector runs outside the group so Wait can close the results
	// channel once every worker has exited.
	var partials []PartialResult
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for p := range results {
			partials = append(partials, p)
		}
	}()

	err := g.Wait()
	close(results)
	<-collected

	if err != nil {
		logging.EngineWarn("Run: aborted after %d/%d jobs: %v", len(partials), len(jobs), err)
		if errors.Is(err, context.DeadlineExceeded) {
			return partials, ErrTimeout
		}
		return partials, ErrCancelled
	}

	logging.Engine("Run: completed %d jobs", len(partials))
	return partials, nil
}

// runJob builds the prompt, calls the provider and parses the reply. Any
// failure yields an empty partial; only the overall run context aborts the
// engine.
func (e *Engine) runJob(ctx context.Context, domain string, fields []string, job Job, timeout time.Duration) PartialResult {
	empty := PartialResult{
		ChunkIndex:       job.Chunk.Index,
		SubDomainName:    job.SubDomain,
		FieldValues:      map[string]interface{}{},
		SourceConfidence: 1.0,
	}

	text, err := e.builder.Build(job.Chunk.Text, domain, []string{job.SubDomain}, fields)
	if err != nil {
		logging.EngineWarn("runJob: Build failed for chunk %d / %s, using fallback: %v", job.Chunk.Index, job.SubDomain, err)
		text, err = e.builder.BuildFallback(job.Chunk.Text, domain, []string{job.SubDomain})
		if err != nil {
			logging.EngineWarn("runJob: fallback build failed for chunk %d / %s: %v", job.Chunk.Index, job.SubDomain, err)
			return empty
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := e.client.Complete(jobCtx, text)
	if err != nil {
		logging.EngineWarn("runJob: completion failed for chunk %d / %s: %v", job.Chunk.Index, job.SubDomain, err)
		return empty
	}

	values, ok := parseFieldValues(response)
	if !ok {
		logging.EngineWarn("runJob: unparseable response for chunk %d / %s", job.Chunk.Index, job.SubDomain)
		return empty
	}

	logging.EngineDebug("runJob: chunk %d / %s produced %d fields", job.Chunk.Index, job.SubDomain, len(values))
	return PartialResult{
		ChunkIndex:       job.Chunk.Index,
		SubDomainName:    job.SubDomain,
		FieldValues:      values,
		SourceConfidence: 1.0,
	}
}

// parseFieldValues decodes the model reply as a JSON object keyed by field
// name.
func parseFieldValues(response string) (map[string]interface{}, bool) {
	raw := llm.ExtractJSON(response)
	if raw == "" {
		return nil, false
	}
	var values map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, false
	}
	return values, true
}
