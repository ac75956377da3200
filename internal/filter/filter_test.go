package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestApply_DropsNullsAndPlaceholders(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]interface{}
		want map[string]interface{}
	}{
		{
			name: "nulls",
			in:   map[string]interface{}{"a": nil, "b": "x"},
			want: map[string]interface{}{"b": "x"},
		},
		{
			name: "placeholder variants",
			in: map[string]interface{}{
				"a": "N/A", "b": "n/a", "c": "NA", "d": "Not Available",
				"e": "not applicable", "f": "Unknown", "g": "kept",
			},
			want: map[string]interface{}{"g": "kept"},
		},
		{
			name: "empty and whitespace strings",
			in:   map[string]interface{}{"a": "", "b": "   ", "c": "x"},
			want: map[string]interface{}{"c": "x"},
		},
		{
			name: "zeros survive by default",
			in:   map[string]interface{}{"count": float64(0)},
			want: map[string]interface{}{"count": float64(0)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(tt.in, Options{})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Apply mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApply_DropZeros(t *testing.T) {
	got := Apply(map[string]interface{}{"count": float64(0), "total": float64(3)}, Options{DropZeros: true})
	assert.Equal(t, map[string]interface{}{"total": float64(3)}, got)
}

func TestApply_RecursesIntoListsAndMaps(t *testing.T) {
	in := map[string]interface{}{
		"items": []interface{}{"a", nil, "N/A", "b"},
		"nested": map[string]interface{}{
			"keep": "v",
			"drop": "unknown",
		},
	}
	got := Apply(in, Options{})
	want := map[string]interface{}{
		"items":  []interface{}{"a", "b"},
		"nested": map[string]interface{}{"keep": "v"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_CascadingRemoval(t *testing.T) {
	in := map[string]interface{}{
		"outer": map[string]interface{}{
			"inner": map[string]interface{}{"a": nil},
		},
		"kept": "x",
	}
	got := Apply(in, Options{})
	assert.Equal(t, map[string]interface{}{"kept": "x"}, got,
		"maps emptied by filtering cascade away")
}

func TestApply_PreserveFieldsStopsCascade(t *testing.T) {
	in := map[string]interface{}{
		"outer": map[string]interface{}{"a": nil},
	}
	got := Apply(in, Options{PreserveFields: []string{"outer"}})
	assert.Equal(t, map[string]interface{}{"outer": map[string]interface{}{}}, got)
}

func TestApply_PreserveMetadata(t *testing.T) {
	in := map[string]interface{}{
		"a":         nil,
		"b":         "x",
		"_metadata": map[string]interface{}{"c": float64(1)},
	}

	withMeta := Apply(in, Options{PreserveMetadata: true})
	want := map[string]interface{}{
		"b":         "x",
		"_metadata": map[string]interface{}{"c": float64(1)},
	}
	if diff := cmp.Diff(want, withMeta); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}

	withoutMeta := Apply(in, Options{})
	assert.Equal(t, map[string]interface{}{"b": "x"}, withoutMeta)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	in := map[string]interface{}{"a": nil, "b": "x"}
	_ = Apply(in, Options{})
	assert.Len(t, in, 2)
	assert.Contains(t, in, "a")
}

func TestApply_Idempotent(t *testing.T) {
	in := map[string]interface{}{
		"a": nil,
		"b": "N/A",
		"c": "value",
		"d": map[string]interface{}{"e": "", "f": "kept"},
		"g": []interface{}{"x", "unknown", nil},
	}
	once := Apply(in, Options{})
	twice := Apply(once, Options{})
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("filter not idempotent (-once +twice):\n%s", diff)
	}
}
