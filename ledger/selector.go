package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedSelector is returned for selector queries outside the supported subset.
var ErrUnsupportedSelector = errors.New("unsupported selector")

// Selector is a conjunction of field equality predicates over JSON documents.
type Selector map[string]string

// ParseSelector parses a query of the form {"selector": {"field": "value", ...}}.
// Only top-level string equality is supported.
func ParseSelector(query string) (Selector, error) {
	var q struct {
		Selector map[string]json.RawMessage `json:"selector"`
	}
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSelector, err)
	}
	if len(q.Selector) == 0 {
		return nil, fmt.Errorf("%w: empty selector", ErrUnsupportedSelector)
	}
	sel := make(Selector, len(q.Selector))
	for field, raw := range q.Selector {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: field %q must be a string equality", ErrUnsupportedSelector, field)
		}
		sel[field] = v
	}
	return sel, nil
}

// Matches reports whether doc is a JSON object satisfying every predicate.
func (s Selector) Matches(doc []byte) bool {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false
	}
	for field, want := range s {
		got, ok := fields[field].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Containment renders the selector as a JSON object usable for document containment checks.
func (s Selector) Containment() (string, error) {
	b, err := json.Marshal(map[string]string(s))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
