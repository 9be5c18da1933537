package streamer

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseFilter(t *testing.T, raw string) *Filter {
	t.Helper()
	f, err := ParseFilter(json.RawMessage(raw))
	require.NoError(t, err)
	return f
}

func TestParseFilterRejectsUnknownMatchPolicy(t *testing.T) {
	_, err := ParseFilter(json.RawMessage(`{"match_policy":"include_all","clauses":[]}`))
	assert.Error(t, err)
}

func TestParseFilterRejectsUnknownOperator(t *testing.T) {
	_, err := ParseFilter(json.RawMessage(
		`{"match_policy":"include_any","clauses":[{"field":"/id","operator":"matches","value":"x"}]}`))
	assert.Error(t, err)
}

func TestParseFilterRejectsWrongValueShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"equals with array", `{"match_policy":"include_any","clauses":[{"field":"/id","operator":"equals","value":["a"]}]}`},
		{"one_of with string", `{"match_policy":"include_any","clauses":[{"field":"/id","operator":"one_of","value":"a"}]}`},
		{"one_of with non-string element", `{"match_policy":"include_any","clauses":[{"field":"/id","operator":"one_of","value":["a",3]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(json.RawMessage(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestParseFilterIgnoresUnknownFields(t *testing.T) {
	f := mustParseFilter(t,
		`{"match_policy":"include_any","clauses":[{"field":"/wibble","operator":"equals","value":"x"}]}`)
	assert.Empty(t, f.clauses)
	assert.False(t, f.Matches(FilterTarget{ID: "x"}))
}

func TestParseFilterAcceptsActionsObject(t *testing.T) {
	f := mustParseFilter(t,
		`{"match_policy":"include_any","actions":{"create":true,"update":true,"delete":true},"clauses":[{"field":"/id","operator":"equals","value":"a1"}]}`)
	assert.True(t, f.Matches(FilterTarget{ID: "a1"}))
}

func TestFilterMatchesClauseOr(t *testing.T) {
	f := mustParseFilter(t, `{"match_policy":"include_any","clauses":[
		{"field":"/id","operator":"equals","value":"a1"},
		{"field":"/group","operator":"one_of","value":["g1","g2"]}
	]}`)

	assert.True(t, f.Matches(FilterTarget{ID: "a1", Group: "other"}))
	assert.True(t, f.Matches(FilterTarget{ID: "other", Group: "g2"}))
	assert.False(t, f.Matches(FilterTarget{ID: "other", Group: "other"}))
}

func TestFilterMatchesReferences(t *testing.T) {
	f := mustParseFilter(t,
		`{"match_policy":"include_any","clauses":[{"field":"/references","operator":"one_of","value":["parent1"]}]}`)

	assert.True(t, f.Matches(FilterTarget{References: []string{"other", "parent1"}}))
	assert.False(t, f.Matches(FilterTarget{References: []string{"other"}}))
	assert.False(t, f.Matches(FilterTarget{}))
}

func TestFilterURINormalizationAtCompileTime(t *testing.T) {
	f := mustParseFilter(t,
		`{"match_policy":"include_any","clauses":[{"field":"/uri","operator":"one_of","value":["HTTPS://Example.COM:443/page/#frag"]}]}`)

	// Target URIs are normalized upstream when the event's equivalence
	// set is built, so matching is plain equality against the
	// compile-time normalized clause values.
	assert.True(t, f.Matches(FilterTarget{URIs: []string{"https://example.com/page"}}))
	assert.False(t, f.Matches(FilterTarget{URIs: []string{"https://example.com:443/page#frag"}}))
	assert.False(t, f.Matches(FilterTarget{URIs: []string{"https://example.com/other"}}))
}

func TestFilterURIMatchesAnyEquivalent(t *testing.T) {
	f := mustParseFilter(t,
		`{"match_policy":"include_any","clauses":[{"field":"/uri","operator":"one_of","value":["http://example.com/alt"]}]}`)

	// The event entity carries every document-equivalent URI; matching
	// any one of them is enough.
	assert.True(t, f.Matches(FilterTarget{URIs: []string{"http://example.com/", "http://example.com/alt"}}))
	assert.False(t, f.Matches(FilterTarget{URIs: []string{"http://example.com/"}}))
}

func TestNilFilterNeverMatches(t *testing.T) {
	var f *Filter
	assert.False(t, f.Matches(FilterTarget{ID: "a1", Group: "g1", URIs: []string{"https://example.com"}}))
}

func TestEmptyClausesNeverMatch(t *testing.T) {
	f := mustParseFilter(t, `{"match_policy":"include_any","clauses":[]}`)
	assert.False(t, f.Matches(FilterTarget{ID: "a1"}))
}

func TestFilterMatchIsPure(t *testing.T) {
	f := mustParseFilter(t,
		`{"match_policy":"include_any","clauses":[{"field":"/id","operator":"equals","value":"a1"}]}`)
	target := FilterTarget{ID: "a1"}

	for i := 0; i < 3; i++ {
		assert.True(t, f.Matches(target), fmt.Sprintf("call %d", i))
	}
}

func TestFilterDeduplicatesValues(t *testing.T) {
	f := mustParseFilter(t,
		`{"match_policy":"include_any","clauses":[{"field":"/id","operator":"one_of","value":["a1","a1","a1"]}]}`)

	require.Len(t, f.clauses, 1)
	assert.Len(t, f.clauses[0].values, 1)
}
