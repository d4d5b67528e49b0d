package contract

import (
	"encoding/json"
	"strings"
)

// ParsedMetadata is the result of parsing the advisory metadata passed to InitializeRecord.
// It is either StructuredMetadata or RawMetadata; use a type switch.
type ParsedMetadata interface {
	isParsedMetadata()
}

// StructuredMetadata holds metadata that parsed as a JSON object.
type StructuredMetadata map[string]any

// RawMetadata holds metadata that was not a JSON object, kept verbatim.
type RawMetadata string

func (StructuredMetadata) isParsedMetadata() {}
func (RawMetadata) isParsedMetadata()        {}

// ParseMetadata never fails: anything that is not a JSON object degrades to RawMetadata.
// Blank input and JSON null parse as empty structured metadata.
func ParseMetadata(s string) ParsedMetadata {
	if strings.TrimSpace(s) == "" {
		return StructuredMetadata{}
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return RawMetadata(s)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return StructuredMetadata(fields)
}

// String returns the named field when it is a non-empty string.
func (m StructuredMetadata) String(field string) (string, bool) {
	v, ok := m[field].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
