package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// SnapshotAssertOptions configures JSON snapshot comparison.
type SnapshotAssertOptions struct {
	ShowArrayIndex bool     `default:"true"`
	IgnoredFields  []string `default:""`
}

// SnapshotAsserter compares values against expected JSON documents.
type SnapshotAsserter struct {
	t       TestingT
	options SnapshotAssertOptions
}

// NewSnapshotAsserter creates an asserter with default options.
func NewSnapshotAsserter(t TestingT) *SnapshotAsserter {
	opts := SnapshotAssertOptions{}
	defaults.SetDefaults(&opts)
	return &SnapshotAsserter{t: t, options: opts}
}

// WithIgnoredFields drops the named top-level fields from both sides
// before comparison.
func (sa *SnapshotAsserter) WithIgnoredFields(fields ...string) *SnapshotAsserter {
	sa.options.IgnoredFields = fields
	return sa
}

// Assert marshals actual and compares it against expectedJSON, failing the
// test with an ASCII diff on mismatch.
func (sa *SnapshotAsserter) Assert(actual interface{}, expectedJSON string) {
	sa.t.Helper()

	actualBytes, err := json.Marshal(actual)
	if err != nil {
		sa.t.Errorf("failed to marshal actual value: %v", err)
		return
	}

	var expected, got map[string]interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		sa.t.Errorf("invalid expected JSON: %v", err)
		return
	}
	if err := json.Unmarshal(actualBytes, &got); err != nil {
		sa.t.Errorf("actual value is not a JSON object: %v", err)
		return
	}

	for _, field := range sa.options.IgnoredFields {
		delete(expected, field)
		delete(got, field)
	}

	expectedBytes, _ := json.Marshal(expected)
	gotBytes, _ := json.Marshal(got)

	diff, err := gojsondiff.New().Compare(expectedBytes, gotBytes)
	if err != nil {
		sa.t.Errorf("JSON comparison failed: %v", err)
		return
	}
	if !diff.Modified() {
		return
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: sa.options.ShowArrayIndex,
		Coloring:       false,
	})
	diffString, _ := f.Format(diff)
	sa.t.Errorf("snapshot mismatch:\n%s", diffString)
}

// MustJSON marshals v or panics. Test helper.
func MustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal: %v", err))
	}
	return string(data)
}
