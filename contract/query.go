package contract

import (
	"encoding/json"
	"iter"
)

// QueryByStatus yields every record whose current_status equals status, as returned by the store.
func QueryByStatus(ws WorldState, status string) iter.Seq2[Decoded[CensusRecord], error] {
	return queryRecords(ws, "current_status", status)
}

// QueryByFlagStatus yields every record whose flag_status equals flagStatus, as returned by the store.
func QueryByFlagStatus(ws WorldState, flagStatus string) iter.Seq2[Decoded[CensusRecord], error] {
	return queryRecords(ws, "flag_status", flagStatus)
}

// RecordSelector builds the selector query matching census records whose field equals value.
func RecordSelector(field, value string) (string, error) {
	query := struct {
		Selector map[string]string `json:"selector"`
	}{
		Selector: map[string]string{"doc_type": DocTypeRecord, field: value},
	}
	b, err := json.Marshal(query)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// queryRecords delegates filtering entirely to the store; results are not re-filtered or re-ordered.
func queryRecords(ws WorldState, field, value string) iter.Seq2[Decoded[CensusRecord], error] {
	return func(yield func(Decoded[CensusRecord], error) bool) {
		query, err := RecordSelector(field, value)
		if err != nil {
			yield(Decoded[CensusRecord]{}, fatal("build selector", err))
			return
		}
		for kv, err := range ws.GetQueryResult(query) {
			if err != nil {
				yield(Decoded[CensusRecord]{}, fatal("selector query", err))
				return
			}
			if !yield(decode[CensusRecord](kv), nil) {
				return
			}
		}
	}
}
