package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value, as long as the key exists
const PresencePlaceholder = "<<PRESENCE>>"

func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"false"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

func WithIgnoreExtraKeys(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

func WithAllowPresencePlaceholder(allow bool) Option {
	return func(o *JSONAssertOptions) { o.AllowPresencePlaceholder = allow }
}

// WithIgnoredFields drops the named keys, at any depth, from both sides before comparing
func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) { o.IgnoredFields = append(o.IgnoredFields, fields...) }
}

// TestingT is the subset of testing.T used by JSONAsserter
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// JSONAsserter compares JSON documents structurally and reports a readable diff.
// Explicit nulls are significant: {"a":null} and {} are different documents.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the JSONAsserter
func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	ja.t.Helper()
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertValue marshals v and compares it against expectedJSON
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) {
	ja.t.Helper()
	ja.Assert(MustJSON(v), expectedJSON)
}

// Diff returns an empty string when the documents match, otherwise an ASCII diff
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if _, ok := expected.([]interface{}); ok {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	if len(ja.options.IgnoredFields) > 0 {
		ignored := make(map[string]struct{}, len(ja.options.IgnoredFields))
		for _, f := range ja.options.IgnoredFields {
			ignored[f] = struct{}{}
		}
		dropKeys(expected, ignored)
		dropKeys(actual, ignored)
	}
	if ja.options.AllowPresencePlaceholder {
		resolvePresence(expected, actual)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// walkPair visits matching object keys and array positions of expected and actual.
func walkPair(expected, actual interface{}, visit func(exp map[string]interface{}, act map[string]interface{})) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		visit(exp, act)
		for k, v := range exp {
			walkPair(v, act[k], visit)
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				walkPair(exp[i], act[i], visit)
			}
		}
	}
}

func resolvePresence(expected, actual interface{}) {
	walkPair(expected, actual, func(exp, act map[string]interface{}) {
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder {
				if av, present := act[k]; present {
					exp[k] = av
				}
			}
		}
	})
}

func pruneExtraKeys(actual, expected interface{}) {
	walkPair(expected, actual, func(exp, act map[string]interface{}) {
		for k := range act {
			if _, ok := exp[k]; !ok {
				delete(act, k)
			}
		}
	})
}

func dropKeys(v interface{}, keys map[string]struct{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k := range keys {
			delete(val, k)
		}
		for _, child := range val {
			dropKeys(child, keys)
		}
	case []interface{}:
		for _, child := range val {
			dropKeys(child, keys)
		}
	}
}
