package models

import (
	"encoding/json"
	"time"

	"censustwin/ledger"
)

// LedgerEvent is the message published for every committed contract event
type LedgerEvent struct {
	Name        string          `json:"name"`
	RecordID    string          `json:"record_id"`
	TxID        string          `json:"tx_id"`
	BlockHeight uint64          `json:"block_height"`
	Timestamp   string          `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// NewLedgerEvent converts a runtime event. The record id is lifted from the payload when it
// carries one; a payload that is not JSON is published as a JSON string.
func NewLedgerEvent(ev ledger.Event) *LedgerEvent {
	out := &LedgerEvent{
		Name:        ev.Name,
		TxID:        ev.TxID,
		BlockHeight: ev.BlockHeight,
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	var probe struct {
		RecordID string `json:"record_id"`
	}
	if json.Valid(ev.Payload) {
		out.Payload = json.RawMessage(ev.Payload)
		if err := json.Unmarshal(ev.Payload, &probe); err == nil {
			out.RecordID = probe.RecordID
		}
	} else {
		out.Payload, _ = json.Marshal(string(ev.Payload))
	}
	return out
}
