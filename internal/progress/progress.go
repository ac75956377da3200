// Package progress tracks phase-weighted completion for one extraction and
// delivers ordered events to a sink.
package progress

import (
	"sync"
	"time"

	"docsieve/internal/logging"
)

// Phase identifies one stage of the extraction pipeline.
type Phase string

const (
	PhaseInit              Phase = "init"
	PhaseLoadDoc           Phase = "load_document"
	PhaseChunk             Phase = "chunking"
	PhaseIdentifyDomain    Phase = "identify_domain"
	PhaseFieldExtract      Phase = "field_extraction"
	PhaseTemporalNormalize Phase = "temporal_normalize"
	PhaseResultMerging     Phase = "result_merging"
	PhaseDedup             Phase = "deduplication"
	PhaseFormat            Phase = "formatting"
	PhaseCompletion        Phase = "completion"
	PhaseError             Phase = "error"
)

// Phase weights as percent of the whole extraction. Completion and Error
// carry no weight; they are terminal markers.
var phaseWeights = map[Phase]int{
	PhaseInit:              5,
	PhaseLoadDoc:           5,
	PhaseChunk:             5,
	PhaseIdentifyDomain:    10,
	PhaseFieldExtract:      50,
	PhaseTemporalNormalize: 5,
	PhaseResultMerging:     10,
	PhaseDedup:             5,
	PhaseFormat:            5,
	PhaseCompletion:        0,
	PhaseError:             0,
}

// phaseOrder fixes the cumulative base percent of each phase.
var phaseOrder = []Phase{
	PhaseInit,
	PhaseLoadDoc,
	PhaseChunk,
	PhaseIdentifyDomain,
	PhaseFieldExtract,
	PhaseTemporalNormalize,
	PhaseResultMerging,
	PhaseDedup,
	PhaseFormat,
}

// Event is one progress report. Emission is ordered per extraction.
type Event struct {
	Phase     Phase                  `json:"phase"`
	Message   string                 `json:"message"`
	Percent   int                    `json:"percent"`
	Timestamp time.Time              `json:"timestamp"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// Sink receives progress events. It may drop or buffer; the tracker never
// waits for acknowledgment beyond the Emit call returning.
type Sink interface {
	Emit(event Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event Event)

// Emit calls f.
func (f SinkFunc) Emit(event Event) { f(event) }

// NullSink discards all events.
type NullSink struct{}

// Emit does nothing.
func (NullSink) Emit(Event) {}

// ChannelSink forwards events to a channel, dropping when the channel is
// full so a slow consumer cannot stall the extraction.
type ChannelSink struct {
	C chan Event
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 16
	}
	return &ChannelSink{C: make(chan Event, buffer)}
}

// Emit sends without blocking; events are dropped when the buffer is full.
func (s *ChannelSink) Emit(event Event) {
	select {
	case s.C <- event:
	default:
	}
}

// Tracker converts per-phase progress into a monotonic overall percent and
// emits events. Safe for concurrent use by many workers.
type Tracker struct {
	sink Sink

	mu          sync.Mutex
	bases       map[Phase]int
	lastPercent int

	// FieldExtract sub-counters.
	jobsCompleted int
	jobsTotal     int
}

// NewTracker creates a tracker bound to a sink. A nil sink discards events.
func NewTracker(sink Sink) *Tracker {
	if sink == nil {
		sink = NullSink{}
	}
	bases := make(map[Phase]int, len(phaseOrder))
	base := 0
	for _, p := range phaseOrder {
		bases[p] = base
		base += phaseWeights[p]
	}
	return &Tracker{sink: sink, bases: bases}
}

// Update emits an event for the phase at the given phase-local progress
// (0..100). The overall percent is base(phase) + weight(phase) * progress
// / 100, clamped so it never decreases within one extraction.
func (t *Tracker) Update(phase Phase, message string, phaseProgress int) {
	t.emit(phase, message, phaseProgress, nil)
}

// UpdateWithAttrs is Update with extra event attributes.
func (t *Tracker) UpdateWithAttrs(phase Phase, message string, phaseProgress int, attrs map[string]interface{}) {
	t.emit(phase, message, phaseProgress, attrs)
}

// StartJobs sets the FieldExtract job total and resets the completed count.
func (t *Tracker) StartJobs(total int) {
	t.mu.Lock()
	t.jobsTotal = total
	t.jobsCompleted = 0
	t.mu.Unlock()
	t.emit(PhaseFieldExtract, "field extraction started", 0,
		map[string]interface{}{"jobs_total": total})
}

// JobCompleted advances the FieldExtract phase by one job.
func (t *Tracker) JobCompleted(message string) {
	t.mu.Lock()
	t.jobsCompleted++
	completed, total := t.jobsCompleted, t.jobsTotal
	t.mu.Unlock()

	phasePct := 100
	if total > 0 {
		phasePct = completed * 100 / total
	}
	t.emit(PhaseFieldExtract, message, phasePct,
		map[string]interface{}{"jobs_completed": completed, "jobs_total": total})
}

// Complete emits the terminal Completion event at 100 percent.
func (t *Tracker) Complete(message string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastPercent = 100
	t.sink.Emit(Event{
		Phase:     PhaseCompletion,
		Message:   message,
		Percent:   100,
		Timestamp: time.Now(),
		Attrs:     map[string]interface{}{"elapsed": elapsed.String()},
	})
}

// Fail emits the terminal Error event. The percent freezes at the last
// reported value.
func (t *Tracker) Fail(cause string) {
	logging.Pipeline("extraction failed: %s", cause)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink.Emit(Event{
		Phase:     PhaseError,
		Message:   cause,
		Percent:   t.lastPercent,
		Timestamp: time.Now(),
		Attrs:     map[string]interface{}{"cause": cause},
	})
}

func (t *Tracker) emit(phase Phase, message string, phaseProgress int, attrs map[string]interface{}) {
	if phaseProgress < 0 {
		phaseProgress = 0
	}
	if phaseProgress > 100 {
		phaseProgress = 100
	}

	// The sink is called under the mutex so event order matches percent
	// order even when many workers report at once.
	t.mu.Lock()
	defer t.mu.Unlock()

	base, ok := t.bases[phase]
	if !ok {
		base = t.lastPercent
	}
	percent := base + phaseWeights[phase]*phaseProgress/100
	if percent > 100 {
		percent = 100
	}
	// Never go backwards within one extraction.
	if percent < t.lastPercent {
		percent = t.lastPercent
	}
	t.lastPercent = percent

	t.sink.Emit(Event{
		Phase:     phase,
		Message:   message,
		Percent:   percent,
		Timestamp: time.Now(),
		Attrs:     attrs,
	})
}
