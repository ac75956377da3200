package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"docsieve/internal/engine"
	"docsieve/internal/format"
	"docsieve/internal/progress"
	"docsieve/internal/schema"
)

// routeClient dispatches completions through a routing function so tests can
// answer per sub-domain section and per chunk. Safe for concurrent use.
type routeClient struct {
	mu    sync.Mutex
	calls int
	route func(system, user string) (string, error)
}

func (c *routeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *routeClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.route(system, user)
}

// vectorEmbedder maps texts in the same group to the same unit vector.
type vectorEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	next    int
}

func newVectorEmbedder(groups ...[]string) *vectorEmbedder {
	e := &vectorEmbedder{vectors: make(map[string][]float32)}
	for i, group := range groups {
		vec := make([]float32, 32)
		vec[i] = 1
		for _, text := range group {
			e.vectors[text] = vec
		}
	}
	e.next = len(groups)
	return e
}

func (e *vectorEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	vec := make([]float32, 32)
	vec[e.next%32] = 1
	e.next++
	e.vectors[text] = vec
	return vec, nil
}

func (e *vectorEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *vectorEmbedder) Dimensions() int { return 32 }
func (e *vectorEmbedder) Name() string    { return "vector" }

func newTestRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry(schema.NewFunctionRegistry())
	require.NoError(t, schema.RegisterBuiltins(r))
	return r
}

// section extracts which sub-domain section an extraction prompt targets.
func section(user string) string {
	idx := strings.Index(user, "## Section: ")
	if idx < 0 {
		return ""
	}
	rest := user[idx+len("## Section: "):]
	if end := strings.IndexByte(rest, '\n'); end >= 0 {
		return rest[:end]
	}
	return rest
}

func TestExtract_MedicalSingleChunk(t *testing.T) {
	client := &routeClient{route: func(system, user string) (string, error) {
		switch section(user) {
		case "patient_info":
			return `{"patient_name": "john doe", "date_of_birth": "05/15/1980", "gender": null, "medical_record_number": "N/A"}`, nil
		case "diagnoses":
			return `{"diagnoses": ["Diabetes mellitus Type II"], "diagnosis_date": null}`, nil
		default:
			return "", nil
		}
	}}

	p := New(newTestRegistry(t), client, nil)
	result, err := p.Extract(context.Background(),
		TextSource{Text: "Patient: John Doe\nDOB: 05/15/1980\nDiagnosis: Diabetes mellitus Type II"},
		Options{
			Domain:            "medical",
			SubDomains:        []string{"patient_info", "diagnoses"},
			OutputFormats:     []string{"structured", "flat_text"},
			DisablePreprocess: true,
		}, nil)
	require.NoError(t, err)

	assert.Equal(t, "medical", result.Domain)
	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, 2, result.Jobs)

	values := result.Output.Structured
	assert.Equal(t, "John Doe", values["patient_name"], "format function capitalizes the name")
	assert.Equal(t, "1980-05-15", values["date_of_birth"])
	assert.Equal(t, []interface{}{"Diabetes mellitus Type II"}, values["diagnoses"])
	assert.NotContains(t, values, "gender", "nulls are filtered")
	assert.NotContains(t, values, "medical_record_number", "placeholders are filtered")

	assert.Contains(t, result.Output.FlatText, "patient_name: John Doe")
}

func TestExtract_LegalTwoChunksDedup(t *testing.T) {
	para1 := "SERVICE AGREEMENT\n\nEffective Date: January 15, 2023. This agreement sets out the terms below in detail."
	para2 := "The parties: ABC Corporation and XYZ Consulting LLC, as restated for clarity between the parties hereto."
	document := para1 + "\n\n" + para2

	client := &routeClient{route: func(system, user string) (string, error) {
		chunkHasDate := strings.Contains(user, "January 15, 2023")
		chunkHasParties := strings.Contains(user, "ABC Corporation")
		switch section(user) {
		case "contract_info":
			if chunkHasDate {
				return `{"effective_date": "January 15, 2023"}`, nil
			}
			return `{"effective_date": null}`, nil
		case "parties":
			if chunkHasParties {
				return `{"parties": ["ABC Corporation", "XYZ Consulting LLC"]}`, nil
			}
			return `{"parties": null}`, nil
		default:
			return "{}", nil
		}
	}}

	p := New(newTestRegistry(t), client, nil)
	result, err := p.Extract(context.Background(),
		TextSource{Text: document},
		Options{
			Domain:            "legal",
			SubDomains:        []string{"contract_info", "parties"},
			OutputFormats:     []string{"structured"},
			ChunkSize:         120,
			ChunkOverlap:      20,
			DisablePreprocess: true,
		}, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.Chunks, 2, "document must split into at least two chunks")

	values := result.Output.Structured
	assert.Equal(t, "2023-01-15", values["effective_date"], "unique date appears exactly once, normalized")
	assert.Equal(t, []interface{}{"ABC Corporation", "XYZ Consulting LLC"}, values["parties"],
		"restated parties deduplicate across chunks")
}

func TestExtract_EmbeddingDedup(t *testing.T) {
	para1 := "Allergy list part one: patient reports a severe penicillin allergy documented on admission."
	para2 := "Allergy list part two: PCN noted again by nursing staff, plus a peanut allergy from childhood."
	document := para1 + "\n\n" + para2

	client := &routeClient{route: func(system, user string) (string, error) {
		if section(user) != "allergies" {
			return "{}", nil
		}
		if strings.Contains(user, "part one") {
			return `{"allergies": ["Penicillin"]}`, nil
		}
		return `{"allergies": ["PCN", "Peanuts"]}`, nil
	}}
	embedder := newVectorEmbedder([]string{"Penicillin", "PCN"}, []string{"Peanuts"})

	p := New(newTestRegistry(t), client, embedder)
	result, err := p.Extract(context.Background(),
		TextSource{Text: document},
		Options{
			Domain:            "medical",
			SubDomains:        []string{"allergies"},
			OutputFormats:     []string{"structured"},
			ChunkSize:         100,
			ChunkOverlap:      0,
			DedupThreshold:    0.9,
			DisablePreprocess: true,
		}, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.Chunks, 2)

	assert.Equal(t, []interface{}{"Penicillin", "Peanuts"}, result.Output.Structured["allergies"],
		"PCN drops as an embedding near-duplicate of Penicillin; first occurrence survives")
}

func TestExtract_CancellationMidFlight(t *testing.T) {
	// The opencensus stats worker is started by a transitive dependency's
	// init and lives for the whole process; it is not a pipeline leak.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first jobs answer instantly; later ones park on the context so
	// cancellation catches the run with work still in flight.
	client := &routeClient{}
	client.route = func(system, user string) (string, error) {
		client.mu.Lock()
		n := client.calls
		client.mu.Unlock()
		if n > 10 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return `{"patient_name": "x"}`, nil
	}

	// 50 paragraphs -> many chunks x 2 sub-domains.
	document := strings.Repeat("Patient paragraph with enough text to fill a chunk on its own here.\n\n", 50)

	var mu sync.Mutex
	var events []progress.Event
	sink := progress.SinkFunc(func(ev progress.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		if n, ok := ev.Attrs["jobs_completed"].(int); ok && n >= 5 {
			cancel()
		}
	})

	p := New(newTestRegistry(t), client, nil)
	done := make(chan error, 1)
	go func() {
		_, err := p.Extract(ctx, TextSource{Text: document}, Options{
			Domain:            "medical",
			SubDomains:        []string{"patient_info", "diagnoses"},
			ChunkSize:         80,
			ChunkOverlap:      0,
			MaxConcurrency:    8,
			RequestTimeout:    time.Second,
			DisablePreprocess: true,
		}, sink)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, engine.ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("Extract did not return after cancellation")
	}

	client.mu.Lock()
	calls := client.calls
	client.mu.Unlock()
	assert.Less(t, calls, 100, "cancellation must stop the job fan-out early")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, progress.PhaseError, last.Phase)
	assert.Equal(t, "cancelled", last.Attrs["cause"])
}

func TestExtract_MetadataPreserved(t *testing.T) {
	client := &routeClient{route: func(system, user string) (string, error) {
		return `{"content": "the gist", "summary": null}`, nil
	}}

	p := New(newTestRegistry(t), client, nil)
	result, err := p.Extract(context.Background(),
		TextSource{Text: "some document"},
		Options{
			Domain:            "general",
			OutputFormats:     []string{"structured", "tagged_markup"},
			DisablePreprocess: true,
			IncludeMetadata:   true,
		}, nil)
	require.NoError(t, err)

	meta, ok := result.Output.Structured["_metadata"].(map[string]interface{})
	require.True(t, ok, "metadata block must survive filtering")
	assert.Equal(t, "general", meta["domain"])
	assert.NotContains(t, result.Output.Structured, "summary")
	assert.Contains(t, result.Output.TaggedMarkup, "<Metadata>")
}

func TestExtract_EmptyPlanFallsBackToGeneral(t *testing.T) {
	client := &routeClient{route: func(system, user string) (string, error) {
		if strings.Contains(system, "document-extraction queries") {
			// Preprocessor reply that fails to parse -> degraded.
			return "no structured reply here", nil
		}
		if section(user) == "general_content" {
			return `{"content": "whatever was found", "summary": null, "key_points": null, "dates_mentioned": null}`, nil
		}
		return "{}", nil
	}}

	p := New(newTestRegistry(t), client, nil)
	result, err := p.Extract(context.Background(),
		TextSource{Text: "an unremarkable blob of text"},
		Options{
			Query:         "extract stuff",
			OutputFormats: []string{"structured"},
		}, nil)
	require.NoError(t, err)

	assert.Equal(t, "general", result.Domain)
	assert.Contains(t, result.SubDomains, "general_content")
	assert.Equal(t, "whatever was found", result.Output.Structured["content"])
}

func TestExtract_InvalidFormatFailsDuringValidation(t *testing.T) {
	client := &routeClient{route: func(system, user string) (string, error) {
		t.Error("no LLM call may happen for an invalid format")
		return "{}", nil
	}}

	p := New(newTestRegistry(t), client, nil)
	_, err := p.Extract(context.Background(), TextSource{Text: "doc"}, Options{
		Domain:            "general",
		OutputFormats:     []string{"carrier_pigeon"},
		DisablePreprocess: true,
	}, nil)
	assert.ErrorIs(t, err, format.ErrInvalidOutputFormat)
}

func TestExtract_UnknownDomain(t *testing.T) {
	client := &routeClient{route: func(system, user string) (string, error) { return "{}", nil }}
	p := New(newTestRegistry(t), client, nil)

	_, err := p.Extract(context.Background(), TextSource{Text: "doc"}, Options{
		Domain:            "astrology",
		DisablePreprocess: true,
	}, nil)
	assert.ErrorIs(t, err, schema.ErrDomainNotFound)
}

func TestExtract_UnknownSubDomain(t *testing.T) {
	client := &routeClient{route: func(system, user string) (string, error) { return "{}", nil }}
	p := New(newTestRegistry(t), client, nil)

	_, err := p.Extract(context.Background(), TextSource{Text: "doc"}, Options{
		Domain:            "medical",
		SubDomains:        []string{"horoscopes"},
		DisablePreprocess: true,
	}, nil)
	assert.ErrorIs(t, err, schema.ErrSubDomainNotFound)
}

func TestExtract_ProgressMonotonicEndsComplete(t *testing.T) {
	client := &routeClient{route: func(system, user string) (string, error) {
		return `{"content": "c"}`, nil
	}}

	var mu sync.Mutex
	var events []progress.Event
	sink := progress.SinkFunc(func(ev progress.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	p := New(newTestRegistry(t), client, nil)
	_, err := p.Extract(context.Background(), TextSource{Text: "doc"}, Options{
		Domain:            "general",
		DisablePreprocess: true,
	}, sink)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)

	last := -1
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, last, "percent must never decrease")
		last = ev.Percent
	}
	final := events[len(events)-1]
	assert.Equal(t, progress.PhaseCompletion, final.Phase)
	assert.Equal(t, 100, final.Percent)
	assert.NotEmpty(t, final.Attrs["elapsed"])
}

func TestExtract_PreprocessorOverridesDomain(t *testing.T) {
	client := &routeClient{route: func(system, user string) (string, error) {
		if strings.Contains(system, "document-extraction queries") {
			return `{"reformulated_query": "extract all diagnoses from the record",
				"identified_domain": "medical", "identified_fields": ["diagnoses"],
				"extraction_requirements": {}, "confidence": 0.95}`, nil
		}
		if section(user) == "diagnoses" {
			return `{"diagnoses": ["Hypertension"]}`, nil
		}
		return "{}", nil
	}}

	p := New(newTestRegistry(t), client, nil)
	result, err := p.Extract(context.Background(),
		TextSource{Text: "Diagnosis: Hypertension"},
		Options{Query: "what conditions does the record mention"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "medical", result.Domain, "LLM-identified domain boosts identification")
	assert.Contains(t, result.Output.Structured, "diagnoses")
}

func TestExtract_NoLeaksOnHappyPath(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	client := &routeClient{route: func(system, user string) (string, error) {
		return `{"content": "c"}`, nil
	}}
	p := New(newTestRegistry(t), client, nil)
	_, err := p.Extract(context.Background(), TextSource{Text: "doc"}, Options{
		Domain:            "general",
		DisablePreprocess: true,
	}, nil)
	require.NoError(t, err)
}
