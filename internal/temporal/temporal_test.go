package temporal

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsieve/internal/schema"
)

// fixedClient answers every completion with the same string.
type fixedClient struct {
	response string
	err      error
	calls    int
}

func (c *fixedClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func (c *fixedClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return c.Complete(ctx, user)
}

func TestNormalizeDate_Formats(t *testing.T) {
	n := New(nil)
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1980-05-15", "1980-05-15", true},
		{"05/15/1980", "1980-05-15", true},
		{"January 15, 2023", "2023-01-15", true},
		{"Jan 15, 2023", "2023-01-15", true},
		{"15 January 2023", "2023-01-15", true},
		{"2023/01/15", "2023-01-15", true},
		{"", "", false},
		{"not a date", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := n.NormalizeDate(context.Background(), tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeDate_IdempotentOnISO(t *testing.T) {
	n := New(nil)
	iso, ok := n.NormalizeDate(context.Background(), "2024-02-29")
	require.True(t, ok)

	again, ok := n.NormalizeDate(context.Background(), iso)
	require.True(t, ok)
	assert.Equal(t, iso, again)
}

func TestNormalizeDate_LLMFallback(t *testing.T) {
	client := &fixedClient{response: "1999-12-31"}
	n := New(client)

	got, ok := n.NormalizeDate(context.Background(), "the eve of the millennium celebrations")
	require.True(t, ok)
	assert.Equal(t, "1999-12-31", got)
	assert.Equal(t, 1, client.calls)
}

func TestNormalizeDate_LLMRefusalIsFailure(t *testing.T) {
	client := &fixedClient{response: "null"}
	n := New(client)

	_, ok := n.NormalizeDate(context.Background(), "gibberish that is not a date at all xyzzy")
	assert.False(t, ok)
}

func TestNormalizeFields(t *testing.T) {
	r := schema.NewRegistry(schema.NewFunctionRegistry())
	require.NoError(t, schema.RegisterBuiltins(r))
	domain, _ := r.Get("medical")

	n := New(nil)
	values := map[string]interface{}{
		"date_of_birth":  "05/15/1980",             // date-typed in schema
		"procedure_date": "January 3, 2020",        // *_date suffix
		"patient_name":   "05/15/1980",             // string-typed: untouched
		"diagnosis_date": []interface{}{"Jan 1, 2021", "garbage"},
	}
	n.NormalizeFields(context.Background(), domain, values)

	assert.Equal(t, "1980-05-15", values["date_of_birth"])
	assert.Equal(t, "2020-01-03", values["procedure_date"])
	assert.Equal(t, "05/15/1980", values["patient_name"])
	assert.Equal(t, []interface{}{"2021-01-01"}, values["diagnosis_date"], "unparseable list entries are dropped")
}

func TestNormalizeFields_UnparseableBecomesNil(t *testing.T) {
	n := New(nil)
	values := map[string]interface{}{"effective_date": "upon mutual execution hereof"}
	n.NormalizeFields(context.Background(), nil, values)
	assert.Nil(t, values["effective_date"])
}

func TestBuildTimeline(t *testing.T) {
	n := New(nil)
	events := []map[string]interface{}{
		{"date": "03/10/2021", "event": "second"},
		{"event": "undated-a"},
		{"date": "2020-01-01", "event": "first"},
		{"event": "undated-b"},
	}

	timeline := n.BuildTimeline(context.Background(), events)
	require.Len(t, timeline, 4)

	assert.Equal(t, "first", timeline[0]["event"])
	assert.Equal(t, "2020-01-01", timeline[0]["normalized_date"])
	assert.Equal(t, "second", timeline[1]["event"])
	assert.Equal(t, "2021-03-10", timeline[1]["normalized_date"])
	// Undated events sort last in input order.
	assert.Equal(t, "undated-a", timeline[2]["event"])
	assert.Equal(t, "undated-b", timeline[3]["event"])

	// Input untouched.
	_, has := events[0]["normalized_date"]
	assert.False(t, has)
}

func TestBuildTimeline_StableForEqualDates(t *testing.T) {
	n := New(nil)
	var events []map[string]interface{}
	for i := 0; i < 5; i++ {
		events = append(events, map[string]interface{}{
			"date": "2022-06-01",
			"seq":  fmt.Sprintf("%d", i),
		})
	}

	timeline := n.BuildTimeline(context.Background(), events)
	for i, ev := range timeline {
		assert.Equal(t, fmt.Sprintf("%d", i), ev["seq"])
	}
}
