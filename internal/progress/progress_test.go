package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestTracker_PhaseBases(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink)

	tr.Update(PhaseInit, "starting", 0)
	tr.Update(PhaseInit, "done", 100)
	tr.Update(PhaseLoadDoc, "loaded", 100)
	tr.Update(PhaseChunk, "chunked", 100)
	tr.Update(PhaseIdentifyDomain, "identified", 100)

	events := sink.all()
	require.Len(t, events, 5)
	assert.Equal(t, 0, events[0].Percent)
	assert.Equal(t, 5, events[1].Percent)   // Init complete
	assert.Equal(t, 10, events[2].Percent)  // + LoadDoc
	assert.Equal(t, 15, events[3].Percent)  // + Chunk
	assert.Equal(t, 25, events[4].Percent)  // + IdentifyDomain
}

func TestTracker_FieldExtractSubCounters(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink)
	tr.Update(PhaseIdentifyDomain, "", 100) // 25%

	tr.StartJobs(4)
	for i := 0; i < 4; i++ {
		tr.JobCompleted("job done")
	}

	events := sink.all()
	last := events[len(events)-1]
	// FieldExtract spans 25..75; all jobs complete lands at 75.
	assert.Equal(t, 75, last.Percent)
	assert.Equal(t, 4, last.Attrs["jobs_completed"])
}

func TestTracker_MonotonicPercent(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink)

	tr.Update(PhaseChunk, "", 100)
	tr.Update(PhaseInit, "late init event", 0) // would regress without clamping
	tr.Update(PhaseFieldExtract, "", 50)

	events := sink.all()
	prev := -1
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Percent, prev)
		prev = e.Percent
	}
}

func TestTracker_ConcurrentJobCompletions(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink)
	tr.StartJobs(64)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.JobCompleted("done")
		}()
	}
	wg.Wait()

	events := sink.all()
	prev := -1
	for _, e := range events {
		require.GreaterOrEqual(t, e.Percent, prev)
		prev = e.Percent
	}
}

func TestTracker_CompleteAndFail(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink)

	tr.Update(PhaseFormat, "", 100)
	tr.Complete("extraction complete", 1500*time.Millisecond)

	events := sink.all()
	last := events[len(events)-1]
	assert.Equal(t, PhaseCompletion, last.Phase)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, "1.5s", last.Attrs["elapsed"])

	t.Run("fail freezes percent", func(t *testing.T) {
		sink := &recordingSink{}
		tr := NewTracker(sink)
		tr.Update(PhaseChunk, "", 100) // 15%
		tr.Fail("cancelled")

		events := sink.all()
		last := events[len(events)-1]
		assert.Equal(t, PhaseError, last.Phase)
		assert.Equal(t, 15, last.Percent)
		assert.Equal(t, "cancelled", last.Attrs["cause"])
	})
}

func TestChannelSink_DropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(Event{Message: "first"})
	sink.Emit(Event{Message: "dropped"})

	e := <-sink.C
	assert.Equal(t, "first", e.Message)
	select {
	case <-sink.C:
		t.Fatal("expected no second event")
	default:
	}
}
