// Package pipeline composes the extraction stages behind a single Extract
// entry point: preprocess, identify, chunk, fan out, merge, normalize,
// filter and format.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"docsieve/internal/chunker"
	"docsieve/internal/embedding"
	"docsieve/internal/engine"
	"docsieve/internal/filter"
	"docsieve/internal/format"
	"docsieve/internal/identify"
	"docsieve/internal/llm"
	"docsieve/internal/logging"
	"docsieve/internal/merge"
	"docsieve/internal/preprocess"
	"docsieve/internal/progress"
	"docsieve/internal/prompt"
	"docsieve/internal/schema"
	"docsieve/internal/temporal"
)

// Options tune one extraction. Zero values select the defaults noted per
// field.
type Options struct {
	// Query drives preprocessing and domain identification. Optional when
	// Domain is set.
	Query string

	// Domain pins the extraction to a registered domain. A user-specified
	// domain is never demoted by the preprocessor.
	Domain string

	// SubDomains restricts extraction to the named sub-domains. Empty
	// means all sub-domains of the resolved domain (or the identifier's
	// selection).
	SubDomains []string

	// Fields optionally restricts prompts to the named fields.
	Fields []string

	// OutputFormats selects renderings; at least one is required.
	// Defaults to structured.
	OutputFormats []string

	ChunkSize    int // default 4000
	ChunkOverlap int // default 200

	MaxConcurrency int           // default 20
	RequestTimeout time.Duration // per-job, default 60s
	Deadline       time.Duration // whole extraction, 0 = none

	DedupThreshold float64 // default 0.9

	// DisablePreprocess skips the LLM query-analysis call.
	DisablePreprocess bool

	// MinFieldConfidence tunes the identifier's field retention threshold.
	MinFieldConfidence float64

	// IncludeMetadata adds the _metadata block to structured and tagged
	// output.
	IncludeMetadata bool
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 4000
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 200
	}
	if len(o.OutputFormats) == 0 {
		o.OutputFormats = []string{string(format.FormatStructured)}
	}
	return o
}

// Result is the outcome of one extraction.
type Result struct {
	ExtractionID string
	Domain       string
	SubDomains   []string
	Query        preprocess.PreprocessedQuery
	Output       format.Output
	Final        merge.FinalResult
	Chunks       int
	Jobs         int
	Elapsed      time.Duration
}

// Pipeline owns the composed extraction stages. Construct once and reuse;
// per-extraction state (similarity index, tracker) is created inside
// Extract.
type Pipeline struct {
	registry     *schema.Registry
	builder      *prompt.Builder
	identifier   *identify.Identifier
	preprocessor *preprocess.Preprocessor
	engine       *engine.Engine
	merger       *merge.Merger
	normalizer   *temporal.Normalizer
	embedder     embedding.Engine
}

// New wires a pipeline. The embedder may be nil; dedup then falls back to
// lexical similarity.
func New(registry *schema.Registry, client llm.Client, embedder embedding.Engine) *Pipeline {
	builder := prompt.NewBuilder(registry)
	return &Pipeline{
		registry:     registry,
		builder:      builder,
		identifier:   identify.New(registry),
		preprocessor: preprocess.New(registry, client),
		engine:       engine.New(builder, client),
		merger:       merge.New(registry),
		normalizer:   temporal.New(client),
		embedder:     embedder,
	}
}

// Extract runs the full pipeline over one document. All suspension points
// observe ctx; on early exit no worker goroutine remains live. Failures are
// reported both as the returned error and as a terminal Error event through
// the sink.
func (p *Pipeline) Extract(ctx context.Context, source DocumentSource, opts Options, sink progress.Sink) (*Result, error) {
	started := time.Now()
	opts = opts.withDefaults()
	tracker := progress.NewTracker(sink)
	extractionID := uuid.NewString()

	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	logging.Pipeline("Extract %s: starting (query=%q domain=%q)", extractionID, opts.Query, opts.Domain)

	// Init: validate options before any work happens.
	tracker.UpdateWithAttrs(progress.PhaseInit, "validating options", 0,
		map[string]interface{}{"extraction_id": extractionID})
	formats, err := format.ValidateFormats(opts.OutputFormats)
	if err != nil {
		return nil, p.fail(tracker, err)
	}
	tracker.Update(progress.PhaseInit, "options validated", 100)

	// Load the document early so an unreadable source fails before any LLM
	// call is spent.
	tracker.Update(progress.PhaseLoadDoc, "loading document", 0)
	segments, err := source.Load(ctx)
	if err != nil {
		return nil, p.fail(tracker, p.mapContextErr(ctx, err))
	}
	document, segmentID := joinSegments(segments)
	tracker.UpdateWithAttrs(progress.PhaseLoadDoc, "document loaded", 100,
		map[string]interface{}{"segments": len(segments), "chars": len(document)})

	// Chunk.
	tracker.Update(progress.PhaseChunk, "chunking document", 0)
	chunks, err := chunker.New(opts.ChunkSize, opts.ChunkOverlap).Split(document, segmentID)
	if err != nil {
		return nil, p.fail(tracker, err)
	}
	tracker.UpdateWithAttrs(progress.PhaseChunk, "document chunked", 100,
		map[string]interface{}{"chunks": len(chunks)})

	// Preprocess + identify.
	tracker.Update(progress.PhaseIdentifyDomain, "identifying domain", 0)
	pre, domain, subDomains, fields, err := p.resolvePlan(ctx, opts)
	if err != nil {
		return nil, p.fail(tracker, err)
	}
	tracker.UpdateWithAttrs(progress.PhaseIdentifyDomain, fmt.Sprintf("domain %s selected", domain.Name), 100,
		map[string]interface{}{"domain": domain.Name, "sub_domains": subDomains})

	// Fan out.
	jobs := engine.BuildJobs(chunks, subDomains)
	partials, err := p.engine.Run(ctx, domain.Name, fields, jobs, engine.Options{
		MaxConcurrency: opts.MaxConcurrency,
		RequestTimeout: opts.RequestTimeout,
	}, tracker)
	if err != nil {
		return nil, p.fail(tracker, err)
	}

	// Per-chunk merge, then temporal normalization per chunk.
	tracker.Update(progress.PhaseTemporalNormalize, "normalizing dates", 0)
	merged := p.mergeChunks(domain.Name, chunks, partials)
	for i := range merged {
		p.normalizer.NormalizeFields(ctx, domain, merged[i].FieldValues)
	}
	if err := ctx.Err(); err != nil {
		return nil, p.fail(tracker, p.mapContextErr(ctx, err))
	}
	tracker.Update(progress.PhaseTemporalNormalize, "dates normalized", 100)

	// Cross-chunk merge with dedup. The similarity index lives and dies
	// with this extraction.
	tracker.Update(progress.PhaseResultMerging, "merging chunk results", 0)
	deduper := merge.NewDeduper(p.embedder, opts.DedupThreshold)
	final, err := p.merger.MergeAll(ctx, domain.Name, merged, deduper)
	if err != nil {
		return nil, p.fail(tracker, p.mapContextErr(ctx, err))
	}
	tracker.Update(progress.PhaseResultMerging, "chunk results merged", 100)
	tracker.UpdateWithAttrs(progress.PhaseDedup, "deduplication complete", 100,
		map[string]interface{}{"fields": len(final.FieldValues)})

	p.applyFieldFunctions(domain, final.FieldValues)
	p.applyConfidenceThresholds(domain, final)
	p.buildTimeline(ctx, final.FieldValues)

	// Filter and format.
	tracker.Update(progress.PhaseFormat, "formatting output", 0)
	values := filter.Apply(final.FieldValues, filter.Options{PreserveMetadata: opts.IncludeMetadata})

	var metadata map[string]interface{}
	if opts.IncludeMetadata {
		metadata = map[string]interface{}{
			"extraction_id": extractionID,
			"domain":        domain.Name,
			"sub_domains":   subDomains,
			"chunks":        len(chunks),
			"jobs":          len(jobs),
			"separator":     segmentSeparator,
		}
	}
	output, err := format.Render(values, metadata, formats)
	if err != nil {
		return nil, p.fail(tracker, err)
	}
	tracker.Update(progress.PhaseFormat, "output formatted", 100)

	elapsed := time.Since(started)
	tracker.Complete("extraction complete", elapsed)
	logging.Pipeline("Extract %s: done in %v (%d chunks, %d jobs, %d fields)",
		extractionID, elapsed, len(chunks), len(jobs), len(final.FieldValues))

	final.FieldValues = values
	return &Result{
		ExtractionID: extractionID,
		Domain:       domain.Name,
		SubDomains:   subDomains,
		Query:        pre,
		Output:       output,
		Final:        final,
		Chunks:       len(chunks),
		Jobs:         len(jobs),
		Elapsed:      elapsed,
	}, nil
}

// resolvePlan combines the optional preprocessor pass, the deterministic
// identifier and the user's explicit selections into the final (domain,
// sub-domains, fields) triple. A user-specified domain always wins; an
// empty identification upgrades to the general domain.
func (p *Pipeline) resolvePlan(ctx context.Context, opts Options) (preprocess.PreprocessedQuery, *schema.DomainDefinition, []string, []string, error) {
	pre := preprocess.PreprocessedQuery{Original: opts.Query, Reformulated: opts.Query}

	if !opts.DisablePreprocess && strings.TrimSpace(opts.Query) != "" {
		var err error
		pre, err = p.preprocessor.Process(ctx, opts.Query)
		if err != nil {
			return pre, nil, nil, nil, p.mapContextErr(ctx, err)
		}
	}

	domainName := opts.Domain
	subDomains := opts.SubDomains
	fields := opts.Fields

	if domainName == "" {
		plan := p.identifier.Identify(pre.Reformulated, identify.Options{
			MinFieldConfidence: opts.MinFieldConfidence,
			LLMDomain:          pre.IdentifiedDomain,
		})
		if plan.Empty() {
			logging.Pipeline("resolvePlan: no domain identified, falling back to general")
			plan = identify.ExtractionPlan{Domain: "general"}
		}
		domainName = plan.Domain
		if len(subDomains) == 0 {
			subDomains = plan.SubDomains
		}
		if len(fields) == 0 {
			fields = plan.Fields
		}
	}

	domain, ok := p.registry.Get(domainName)
	if !ok {
		return pre, nil, nil, nil, fmt.Errorf("%w: %s", schema.ErrDomainNotFound, domainName)
	}

	if len(subDomains) == 0 {
		subDomains = domain.SubDomainNames()
	}
	for _, name := range subDomains {
		if _, ok := domain.SubDomain(name); !ok {
			return pre, nil, nil, nil, fmt.Errorf("%w: %s/%s", schema.ErrSubDomainNotFound, domainName, name)
		}
	}
	if len(subDomains) == 0 {
		return pre, nil, nil, nil, fmt.Errorf("%w: domain %s has no sub-domains", schema.ErrSchemaEmpty, domainName)
	}

	return pre, domain, subDomains, fields, nil
}

// mergeChunks groups partials by chunk and folds each group. Chunks without
// any partial still produce an (empty) entry so accounting stays aligned.
func (p *Pipeline) mergeChunks(domain string, chunks []chunker.Chunk, partials []engine.PartialResult) []merge.MergedChunkResult {
	byChunk := make(map[int][]engine.PartialResult)
	for _, partial := range partials {
		byChunk[partial.ChunkIndex] = append(byChunk[partial.ChunkIndex], partial)
	}

	out := make([]merge.MergedChunkResult, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, p.merger.MergeChunk(domain, ch.Index, byChunk[ch.Index]))
	}
	return out
}

// applyFieldFunctions runs the schema's format and post-process hooks over
// the final values. Hook failures leave the value unchanged.
func (p *Pipeline) applyFieldFunctions(domain *schema.DomainDefinition, values map[string]interface{}) {
	functions := p.registry.Functions()
	for field, value := range values {
		_, def, ok := domain.FieldByName(field)
		if !ok {
			continue
		}
		for _, fnID := range []string{def.FormatFunctionID, def.PostProcessFunctionID} {
			if fnID == "" {
				continue
			}
			values[field] = applyFunction(functions, fnID, value)
			value = values[field]
		}
	}
}

func applyFunction(functions *schema.FunctionRegistry, fnID string, value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		out, err := functions.Call(fnID, v)
		if err != nil {
			return value
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = applyFunction(functions, fnID, item)
		}
		return out
	default:
		return value
	}
}

// applyConfidenceThresholds nulls out fields whose aggregate confidence
// falls below their declared threshold.
func (p *Pipeline) applyConfidenceThresholds(domain *schema.DomainDefinition, final merge.FinalResult) {
	for field := range final.FieldValues {
		_, def, ok := domain.FieldByName(field)
		if !ok || def.ConfidenceThreshold <= 0 {
			continue
		}
		best := 0.0
		for _, c := range final.Confidences[field] {
			if c > best {
				best = c
			}
		}
		if best < def.ConfidenceThreshold {
			logging.PipelineDebug("dropping %s: confidence %.2f below threshold %.2f", field, best, def.ConfidenceThreshold)
			final.FieldValues[field] = nil
		}
	}
}

// buildTimeline sorts an event list under the timeline key when present.
func (p *Pipeline) buildTimeline(ctx context.Context, values map[string]interface{}) {
	raw, ok := values["timeline"].([]interface{})
	if !ok || len(raw) == 0 {
		return
	}
	events := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			events = append(events, m)
		}
	}
	if len(events) != len(raw) {
		return
	}
	sorted := p.normalizer.BuildTimeline(ctx, events)
	out := make([]interface{}, len(sorted))
	for i, ev := range sorted {
		out[i] = ev
	}
	values["timeline"] = out
}

// fail reports err through the tracker and returns it. Typed sentinel
// errors pass through unwrapped so callers can errors.Is against them.
func (p *Pipeline) fail(tracker *progress.Tracker, err error) error {
	tracker.Fail(err.Error())
	return err
}

// mapContextErr converts context termination into the engine's terminal
// sentinels so boundary errors stay uniform.
func (p *Pipeline) mapContextErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return engine.ErrTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return engine.ErrCancelled
	default:
		return err
	}
}
