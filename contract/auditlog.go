package contract

import (
	"encoding/json"
	"fmt"
	"iter"
	"time"
)

// LogAccess appends an immutable audit entry for recordID. The only failure mode is a store failure,
// which aborts the invocation.
func LogAccess(ws WorldState, caller Identity, recordID, accessorID string, action ActionType, details string) (*AccessLogEntry, error) {
	ts, err := ws.GetTxTimestamp()
	if err != nil {
		return nil, fatal("read tx timestamp", err)
	}
	txID := ws.GetTxID()
	if accessorID == "" {
		accessorID = caller.IdentityID
	}

	// The tx id keeps log ids distinct even when two transactions share a timestamp.
	logID := fmt.Sprintf("%s_%d_%s", recordID, ts.AsTime().UnixNano(), txID)
	entry := &AccessLogEntry{
		DocType:           DocTypeAccessLog,
		LogID:             logID,
		RecordID:          recordID,
		AccessorID:        accessorID,
		AccessorAuthority: caller.AuthorityID,
		ActionType:        action,
		Details:           details,
		Timestamp:         formatTimestamp(ts.AsTime()),
		TransactionID:     txID,
	}

	key, err := ws.CreateCompositeKey(AccessLogNamespace, []string{recordID, logID})
	if err != nil {
		return nil, fmt.Errorf("%w: access log key: %v", ErrInvalidArgument, err)
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fatal("marshal access log entry", err)
	}
	if err := ws.PutState(key, payload); err != nil {
		return nil, fatal("put access log entry", err)
	}
	return entry, nil
}

// GetAccessLogs yields every entry under the record's key prefix. Entries that fail to decode are
// yielded with their raw content so one bad entry never aborts the scan.
func GetAccessLogs(ws WorldState, recordID string) iter.Seq2[Decoded[AccessLogEntry], error] {
	return func(yield func(Decoded[AccessLogEntry], error) bool) {
		for kv, err := range ws.GetStateByPartialCompositeKey(AccessLogNamespace, []string{recordID}) {
			if err != nil {
				yield(Decoded[AccessLogEntry]{}, fatal("scan access logs", err))
				return
			}
			if !yield(decode[AccessLogEntry](kv), nil) {
				return
			}
		}
	}
}

func decode[T any](kv KV) Decoded[T] {
	var v T
	if err := json.Unmarshal(kv.Value, &v); err != nil {
		return Decoded[T]{Key: kv.Key, Raw: string(kv.Value)}
	}
	return Decoded[T]{Key: kv.Key, Value: &v}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
