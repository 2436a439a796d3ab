package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).options

	assert.False(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "identical objects",
			actual:   `{"a":1,"b":"x"}`,
			expected: `{"b":"x","a":1}`,
			match:    true,
		},
		{
			name:     "explicit null differs from missing key",
			actual:   `{"a":1}`,
			expected: `{"a":1,"b":null}`,
			match:    false,
		},
		{
			name:     "null matches null",
			actual:   `{"a":null}`,
			expected: `{"a":null}`,
			match:    true,
		},
		{
			name:     "extra keys fail by default",
			actual:   `{"a":1,"extra":true}`,
			expected: `{"a":1}`,
			match:    false,
		},
		{
			name:     "extra keys ignored when enabled",
			opts:     []Option{WithIgnoreExtraKeys(true)},
			actual:   `{"a":1,"nested":{"b":2,"c":3}}`,
			expected: `{"nested":{"b":2}, "a":1}`,
			match:    true,
		},
		{
			name:     "presence placeholder matches any value",
			actual:   `{"timestamp":"2024-01-01T00:00:00.000Z","v":1}`,
			expected: `{"timestamp":"<<PRESENCE>>","v":1}`,
			match:    true,
		},
		{
			name:     "presence placeholder requires the key",
			actual:   `{"v":1}`,
			expected: `{"timestamp":"<<PRESENCE>>","v":1}`,
			match:    false,
		},
		{
			name:     "ignored fields at any depth",
			opts:     []Option{WithIgnoredFields("id")},
			actual:   `{"items":[{"id":1,"v":2},{"id":7,"v":3}]}`,
			expected: `{"items":[{"id":9,"v":2},{"v":3}]}`,
			match:    true,
		},
		{
			name:     "root arrays",
			actual:   `[1,2,3]`,
			expected: `[1,2,3]`,
			match:    true,
		},
		{
			name:     "array order matters",
			actual:   `[1,3,2]`,
			expected: `[1,2,3]`,
			match:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ja := NewJSONAsserter(t)

	assert.Contains(t, ja.Diff(`{`, `{}`), "invalid actual JSON")
	assert.Contains(t, ja.Diff(`{}`, `nope`), "invalid expected JSON")
}

type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}
func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, format)
}

func TestJSONAsserter_AssertReportsFailure(t *testing.T) {
	rt := &recordingT{}
	NewJSONAsserter(rt).AssertValue(map[string]int{"a": 1}, `{"a":2}`)
	assert.Len(t, rt.errors, 1)

	rt = &recordingT{}
	NewJSONAsserter(rt).AssertValue(map[string]int{"a": 1}, `{"a":1}`)
	assert.Empty(t, rt.errors)
}
