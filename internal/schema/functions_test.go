package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callString(t *testing.T, r *FunctionRegistry, id, in string) string {
	t.Helper()
	out, err := r.Call(id, in)
	require.NoError(t, err)
	s, ok := out.(string)
	require.True(t, ok, "expected string result from %s", id)
	return s
}

func callBool(t *testing.T, r *FunctionRegistry, id, in string) bool {
	t.Helper()
	out, err := r.Call(id, in)
	require.NoError(t, err)
	b, ok := out.(bool)
	require.True(t, ok, "expected bool result from %s", id)
	return b
}

func TestFunctionRegistry_UnknownFunction(t *testing.T) {
	r := NewFunctionRegistry()
	_, err := r.Call("does_not_exist", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownFunction)
}

func TestFormatDateISO(t *testing.T) {
	r := NewFunctionRegistry()

	tests := []struct {
		in, want string
	}{
		{"2023-01-15", "2023-01-15"},
		{"01/15/2023", "2023-01-15"},
		{"05/15/1980", "1980-05-15"},
		{"January 15, 2023", "2023-01-15"},
		{"Jan 15, 2023", "2023-01-15"},
		{"15 January 2023", "2023-01-15"},
		{"not a date", "not a date"}, // unparseable returned unchanged
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, callString(t, r, "format_date_iso", tt.in))
		})
	}
}

func TestFormatDateUSAndEU(t *testing.T) {
	r := NewFunctionRegistry()

	assert.Equal(t, "01/15/2023", callString(t, r, "format_date_us", "2023-01-15"))
	assert.Equal(t, "15/01/2023", callString(t, r, "format_date_eu", "2023-01-15"))

	// EU formatter prefers day-first when the slash form is ambiguous.
	assert.Equal(t, "05/03/2023", callString(t, r, "format_date_eu", "05/03/2023"))
}

func TestValidators(t *testing.T) {
	r := NewFunctionRegistry()

	t.Run("validate_date", func(t *testing.T) {
		assert.True(t, callBool(t, r, "validate_date", "2023-01-15"))
		assert.False(t, callBool(t, r, "validate_date", "yesterday"))
	})

	t.Run("validate_email", func(t *testing.T) {
		assert.True(t, callBool(t, r, "validate_email", "a.b@example.org"))
		assert.False(t, callBool(t, r, "validate_email", "not-an-email"))
	})

	t.Run("validate_phone", func(t *testing.T) {
		assert.True(t, callBool(t, r, "validate_phone", "+1 (555) 123-4567"))
		assert.False(t, callBool(t, r, "validate_phone", "call me maybe"))
		assert.False(t, callBool(t, r, "validate_phone", "123"))
	})
}

func TestCapitalizeNames(t *testing.T) {
	r := NewFunctionRegistry()

	tests := []struct {
		in, want string
	}{
		{"john doe", "John Doe"},
		{"JOHN DOE", "John Doe"},
		{"mary-jane watson", "Mary-Jane Watson"},
		{"james mcdonald", "James McDonald"},
		{"angus macleod", "Angus MacLeod"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, callString(t, r, "capitalize_names", tt.in))
		})
	}
}

func TestNormalizeWhitespaceAndExtractNumbers(t *testing.T) {
	r := NewFunctionRegistry()

	assert.Equal(t, "a b c", callString(t, r, "normalize_whitespace", "  a \t b\n\nc  "))

	out, err := r.Call("extract_numbers", "BP 120/80, temp 98.6, weight -2.5")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"120", "80", "98.6", "-2.5"}, out)
}

func TestValueHelpers(t *testing.T) {
	assert.True(t, IsNullValue(nil))
	assert.False(t, IsNullValue(""))

	assert.Equal(t, "42", ValueString(float64(42)))
	assert.Equal(t, []interface{}{"x"}, ValueList("x"))
	assert.Nil(t, ValueList(nil))

	obj, ok := ValueObject(map[string]interface{}{"k": "v"})
	require.True(t, ok)
	assert.Equal(t, "v", obj["k"])

	assert.True(t, ValueEqual(
		map[string]interface{}{"a": []interface{}{"1", "2"}},
		map[string]interface{}{"a": []interface{}{"1", "2"}},
	))
	assert.False(t, ValueEqual([]interface{}{"1"}, []interface{}{"2"}))
}
