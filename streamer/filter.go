package streamer

import (
	"encoding/json"
	"fmt"

	"github.com/hypothesis/h-sub005/errors"
	"github.com/hypothesis/h-sub005/pkg/uri"
)

// The only match policy the schema accepts. The wire format reserves room
// for others but no client ever sent one.
const matchPolicyIncludeAny = "include_any"

// Filter clause fields. Unknown fields in a client filter are ignored.
const (
	fieldID         = "/id"
	fieldGroup      = "/group"
	fieldURI        = "/uri"
	fieldReferences = "/references"
)

// filterPayload is the client filter wire format.
type filterPayload struct {
	MatchPolicy string          `json:"match_policy"`
	Actions     json.RawMessage `json:"actions"`
	Clauses     []clausePayload `json:"clauses"`
}

type clausePayload struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// clause is a compiled filter clause: a known field plus the set of
// acceptable values. Values are de-duplicated and, for uri clauses,
// normalized at compile time so matching is plain set lookup.
type clause struct {
	field  string
	values map[string]struct{}
}

// Filter is a compiled per-connection subscription. A nil Filter never
// matches. Match is read-only and safe to call concurrently.
type Filter struct {
	clauses []clause
}

// FilterTarget exposes the matchable attributes of one annotation event.
// URIs holds every URI considered document-equivalent to the annotation's
// target so a subscriber's URL variant still matches. URIs must already
// be normalized; clause values are normalized at compile time, so
// matching is plain set membership.
type FilterTarget struct {
	ID         string
	Group      string
	URIs       []string
	References []string
}

// ParseFilter validates raw against the filter schema and compiles it.
// Schema violations (wrong match policy, unknown operator, wrong value
// type) are rejected; clauses naming unknown fields are silently dropped.
func ParseFilter(raw json.RawMessage) (*Filter, error) {
	var payload filterPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.WrapInvalid(err, "streamer", "ParseFilter", "decode filter")
	}

	if payload.MatchPolicy != matchPolicyIncludeAny {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: match_policy %q", errors.ErrInvalidData, payload.MatchPolicy),
			"streamer", "ParseFilter", "validate match policy")
	}

	f := &Filter{}
	for _, cp := range payload.Clauses {
		values, err := clauseValues(cp)
		if err != nil {
			return nil, err
		}

		switch cp.Field {
		case fieldID, fieldGroup, fieldReferences:
		case fieldURI:
			normalized := make(map[string]struct{}, len(values))
			for v := range values {
				normalized[uri.Normalize(v)] = struct{}{}
			}
			values = normalized
		default:
			// Unknown fields are ignored, not errors.
			continue
		}

		f.clauses = append(f.clauses, clause{field: cp.Field, values: values})
	}

	return f, nil
}

// clauseValues extracts the value set for one clause, enforcing the
// operator's value shape: equals takes a single string, one_of an array
// of strings.
func clauseValues(cp clausePayload) (map[string]struct{}, error) {
	values := make(map[string]struct{})

	switch cp.Operator {
	case "equals":
		s, ok := cp.Value.(string)
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: equals clause for %s requires a string value", errors.ErrInvalidData, cp.Field),
				"streamer", "ParseFilter", "validate clause value")
		}
		values[s] = struct{}{}
	case "one_of":
		list, ok := cp.Value.([]any)
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: one_of clause for %s requires an array value", errors.ErrInvalidData, cp.Field),
				"streamer", "ParseFilter", "validate clause value")
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: one_of clause for %s contains a non-string value", errors.ErrInvalidData, cp.Field),
					"streamer", "ParseFilter", "validate clause value")
			}
			values[s] = struct{}{}
		}
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: operator %q", errors.ErrInvalidData, cp.Operator),
			"streamer", "ParseFilter", "validate operator")
	}

	return values, nil
}

// Matches reports whether target satisfies any clause of the filter.
// A filter with no clauses matches nothing.
func (f *Filter) Matches(target FilterTarget) bool {
	if f == nil {
		return false
	}
	for _, c := range f.clauses {
		switch c.field {
		case fieldID:
			if _, ok := c.values[target.ID]; ok {
				return true
			}
		case fieldGroup:
			if _, ok := c.values[target.Group]; ok {
				return true
			}
		case fieldURI:
			for _, u := range target.URIs {
				if _, ok := c.values[u]; ok {
					return true
				}
			}
		case fieldReferences:
			for _, ref := range target.References {
				if _, ok := c.values[ref]; ok {
					return true
				}
			}
		}
	}
	return false
}
