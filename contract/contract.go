// Package contract implements the census record lifecycle and its audit trail as ledger contract logic:
// a state machine over CensusRecord, an append-only access log, an integrity verifier and
// selector-backed status queries. It runs inside a transactional runtime that supplies a WorldState.
package contract

import (
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"strconv"
)

// Function names exposed by the contract.
const (
	FnInitializeRecord  = "InitializeRecord"
	FnReviewRecord      = "ReviewRecord"
	FnVerifyIntegrity   = "VerifyIntegrity"
	FnLogAccess         = "LogAccess"
	FnGetRecord         = "GetRecord"
	FnRecordExists      = "RecordExists"
	FnGetRecordHistory  = "GetRecordHistory"
	FnGetAccessLogs     = "GetAccessLogs"
	FnQueryByStatus     = "QueryByStatus"
	FnQueryByFlagStatus = "QueryByFlagStatus"
)

// Named invocation parameters.
const (
	ParamRecordID     = "record_id"
	ParamDataHash     = "data_hash"
	ParamMetadata     = "metadata"
	ParamReviewerID   = "reviewer_id"
	ParamDecision     = "decision"
	ParamNewHash      = "new_hash"
	ParamProvidedHash = "provided_hash"
	ParamAccessorID   = "accessor_id"
	ParamReason       = "reason"
	ParamStatus       = "status"
	ParamFlagStatus   = "flag_status"
)

// Function describes one invocable contract function.
type Function struct {
	Name     string
	Params   []string
	ReadOnly bool // read-only functions append nothing and may run as evaluate transactions

	call func(ws WorldState, caller Identity, args map[string]string) ([]byte, error)
}

var functions = map[string]Function{
	FnInitializeRecord: {
		Params: []string{ParamRecordID, ParamDataHash, ParamMetadata},
		call: func(ws WorldState, caller Identity, args map[string]string) ([]byte, error) {
			txID, err := InitializeRecord(ws, caller, args[ParamRecordID], args[ParamDataHash], args[ParamMetadata])
			return []byte(txID), err
		},
	},
	FnReviewRecord: {
		Params: []string{ParamRecordID, ParamReviewerID, ParamDecision, ParamNewHash},
		call: func(ws WorldState, caller Identity, args map[string]string) ([]byte, error) {
			txID, err := ReviewRecord(ws, caller, args[ParamRecordID], args[ParamReviewerID], args[ParamDecision], args[ParamNewHash])
			return []byte(txID), err
		},
	},
	FnVerifyIntegrity: {
		Params: []string{ParamRecordID, ParamProvidedHash},
		call: func(ws WorldState, caller Identity, args map[string]string) ([]byte, error) {
			result, err := VerifyIntegrity(ws, caller, args[ParamRecordID], args[ParamProvidedHash])
			if err != nil {
				return nil, err
			}
			return marshal(result)
		},
	},
	FnLogAccess: {
		Params: []string{ParamRecordID, ParamAccessorID, ParamReason},
		call: func(ws WorldState, caller Identity, args map[string]string) ([]byte, error) {
			txID, err := RecordAccess(ws, caller, args[ParamRecordID], args[ParamAccessorID], args[ParamReason])
			return []byte(txID), err
		},
	},
	FnGetRecord: {
		Params: []string{ParamRecordID},
		call: func(ws WorldState, caller Identity, args map[string]string) ([]byte, error) {
			record, err := GetRecord(ws, caller, args[ParamRecordID])
			if err != nil {
				return nil, err
			}
			return marshal(record)
		},
	},
	FnRecordExists: {
		Params:   []string{ParamRecordID},
		ReadOnly: true,
		call: func(ws WorldState, _ Identity, args map[string]string) ([]byte, error) {
			ok, err := RecordExists(ws, args[ParamRecordID])
			if err != nil {
				return nil, err
			}
			return []byte(strconv.FormatBool(ok)), nil
		},
	},
	FnGetRecordHistory: {
		Params:   []string{ParamRecordID},
		ReadOnly: true,
		call: func(ws WorldState, _ Identity, args map[string]string) ([]byte, error) {
			return marshalSeq(GetRecordHistory(ws, args[ParamRecordID]))
		},
	},
	FnGetAccessLogs: {
		Params:   []string{ParamRecordID},
		ReadOnly: true,
		call: func(ws WorldState, _ Identity, args map[string]string) ([]byte, error) {
			return marshalSeq(GetAccessLogs(ws, args[ParamRecordID]))
		},
	},
	FnQueryByStatus: {
		Params:   []string{ParamStatus},
		ReadOnly: true,
		call: func(ws WorldState, _ Identity, args map[string]string) ([]byte, error) {
			return marshalSeq(QueryByStatus(ws, args[ParamStatus]))
		},
	},
	FnQueryByFlagStatus: {
		Params:   []string{ParamFlagStatus},
		ReadOnly: true,
		call: func(ws WorldState, _ Identity, args map[string]string) ([]byte, error) {
			return marshalSeq(QueryByFlagStatus(ws, args[ParamFlagStatus]))
		},
	},
}

func init() {
	for name, fn := range functions {
		fn.Name = name
		functions[name] = fn
	}
}

// RecordAccess is the LogAccess operation: an explicit ACCESS entry with a free-text reason.
func RecordAccess(ws WorldState, caller Identity, recordID, accessorID, reason string) (string, error) {
	if err := validateRecordID(recordID); err != nil {
		return "", err
	}
	entry, err := LogAccess(ws, caller, recordID, accessorID, ActionAccess, reason)
	if err != nil {
		return "", err
	}
	if err := emit(ws, EventAccessLogged, RecordEvent{
		RecordID: recordID, Action: ActionAccess, Timestamp: entry.Timestamp,
	}); err != nil {
		return "", err
	}
	return ws.GetTxID(), nil
}

// Lookup returns the named function.
func Lookup(name string) (Function, error) {
	fn, ok := functions[name]
	if !ok {
		return Function{}, fmt.Errorf("%w: unknown function %q", ErrInvalidArgument, name)
	}
	return fn, nil
}

// FunctionNames lists every invocable function, sorted.
func FunctionNames() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke dispatches a named function with named string arguments, attributing it to the
// caller exposed by ws. Sequence results are materialised as JSON arrays.
func Invoke(ws WorldState, function string, args map[string]string) ([]byte, error) {
	fn, err := Lookup(function)
	if err != nil {
		return nil, err
	}
	caller, err := CallerIdentity(ws)
	if err != nil {
		return nil, err
	}
	return fn.call(ws, caller, args)
}

func marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fatal("marshal result", err)
	}
	return b, nil
}

func marshalSeq[T any](seq iter.Seq2[T, error]) ([]byte, error) {
	items, err := Collect(seq)
	if err != nil {
		return nil, err
	}
	return marshal(items)
}

// Collect drains seq into a slice, stopping at the first error. The result is never nil.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	items := make([]T, 0)
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
