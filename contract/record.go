package contract

import (
	"encoding/json"
	"fmt"
	"iter"
	"unicode/utf8"
)

// Event names set on the transaction for off-chain consumers.
const (
	EventRecordInitialized = "RecordInitialized"
	EventRecordReviewed    = "RecordReviewed"
	EventRecordRead        = "RecordRead"
	EventIntegrityVerified = "IntegrityVerified"
	EventAccessLogged      = "AccessLogged"
)

// RecordEvent is the payload of every event emitted by the contract.
type RecordEvent struct {
	RecordID  string       `json:"record_id"`
	TxID      string       `json:"tx_id"`
	Action    ActionType   `json:"action_type"`
	Status    RecordStatus `json:"current_status,omitempty"`
	Version   int          `json:"version,omitempty"`
	Verified  *bool        `json:"verified,omitempty"`
	Timestamp string       `json:"timestamp"`
}

// InitializeRecord creates the digital twin of an off-chain record in PENDING_REVIEW.
func InitializeRecord(ws WorldState, caller Identity, recordID, dataHash, metadataJSON string) (string, error) {
	if err := validateRecordID(recordID); err != nil {
		return "", err
	}
	existing, err := ws.GetState(recordID)
	if err != nil {
		return "", fatal("read record", err)
	}
	if existing != nil {
		return "", fmt.Errorf("%w: record %s already exists on ledger", ErrAlreadyExists, recordID)
	}

	ts, err := ws.GetTxTimestamp()
	if err != nil {
		return "", fatal("read tx timestamp", err)
	}
	now := formatTimestamp(ts.AsTime())

	record := &CensusRecord{
		DocType:                DocTypeRecord,
		RecordID:               recordID,
		DataHash:               dataHash,
		CurrentStatus:          StatusPendingReview,
		FlagStatus:             FlagNormal,
		CreatedBy:              caller.IdentityID,
		CreatedByAuthority:     caller.AuthorityID,
		CreatedAt:              now,
		LastUpdatedBy:          caller.IdentityID,
		LastUpdatedByAuthority: caller.AuthorityID,
		LastUpdatedAt:          now,
		Version:                1,
	}
	switch md := ParseMetadata(metadataJSON).(type) {
	case StructuredMetadata:
		if household, ok := md.String("household_id"); ok {
			record.OwnerHouseholdID = household
		}
		if flag, ok := md.String("flag_status"); ok {
			record.FlagStatus = flag
		}
		if len(md) > 0 {
			record.Metadata = md
		}
	case RawMetadata:
		record.RawMetadata = string(md)
	}

	if err := putRecord(ws, record); err != nil {
		return "", err
	}
	if _, err := LogAccess(ws, caller, recordID, caller.IdentityID, ActionInitialize, "Record initialized on ledger"); err != nil {
		return "", err
	}
	if err := emit(ws, EventRecordInitialized, RecordEvent{
		RecordID: recordID, Action: ActionInitialize, Status: record.CurrentStatus, Version: record.Version, Timestamp: now,
	}); err != nil {
		return "", err
	}
	return ws.GetTxID(), nil
}

// ReviewRecord moves a record into one of the decision states. Transitions are re-entrant.
// A non-empty newHash rotates the current hash into previous_hash.
func ReviewRecord(ws WorldState, caller Identity, recordID, reviewerID, decision, newHash string) (string, error) {
	record, err := readRecord(ws, recordID)
	if err != nil {
		return "", err
	}
	status, err := ParseDecision(decision)
	if err != nil {
		return "", err
	}

	ts, err := ws.GetTxTimestamp()
	if err != nil {
		return "", fatal("read tx timestamp", err)
	}
	now := formatTimestamp(ts.AsTime())

	updater := caller.IdentityID
	if reviewerID != "" {
		updater = reviewerID
	}
	if newHash != "" {
		record.PreviousHash = record.DataHash
		record.DataHash = newHash
	}
	record.CurrentStatus = status
	record.Version++
	record.LastUpdatedBy = updater
	record.LastUpdatedByAuthority = caller.AuthorityID
	record.LastUpdatedAt = now

	if err := putRecord(ws, record); err != nil {
		return "", err
	}
	if _, err := LogAccess(ws, caller, recordID, updater, ActionReview, "Decision: "+string(status)); err != nil {
		return "", err
	}
	if err := emit(ws, EventRecordReviewed, RecordEvent{
		RecordID: recordID, Action: ActionReview, Status: status, Version: record.Version, Timestamp: now,
	}); err != nil {
		return "", err
	}
	return ws.GetTxID(), nil
}

// GetRecord returns the record and logs the read.
func GetRecord(ws WorldState, caller Identity, recordID string) (*CensusRecord, error) {
	record, err := readRecord(ws, recordID)
	if err != nil {
		return nil, err
	}
	entry, err := LogAccess(ws, caller, recordID, caller.IdentityID, ActionRead, "Record read")
	if err != nil {
		return nil, err
	}
	if err := emit(ws, EventRecordRead, RecordEvent{
		RecordID: recordID, Action: ActionRead, Status: record.CurrentStatus, Version: record.Version, Timestamp: entry.Timestamp,
	}); err != nil {
		return nil, err
	}
	return record, nil
}

// RecordExists is a side-effect-free probe.
func RecordExists(ws WorldState, recordID string) (bool, error) {
	data, err := ws.GetState(recordID)
	if err != nil {
		return false, fatal("read record", err)
	}
	return data != nil, nil
}

// GetRecordHistory yields every stored version of the record in the order the store keeps them.
// It does not append an audit entry.
func GetRecordHistory(ws WorldState, recordID string) iter.Seq2[HistoryEntry, error] {
	return func(yield func(HistoryEntry, error) bool) {
		for mod, err := range ws.GetHistoryForKey(recordID) {
			if err != nil {
				yield(HistoryEntry{}, fatal("scan record history", err))
				return
			}
			entry := HistoryEntry{TxID: mod.TxID, IsDelete: mod.IsDelete}
			if mod.Timestamp != nil {
				entry.Timestamp = formatTimestamp(mod.Timestamp.AsTime())
			}
			if !mod.IsDelete {
				var record CensusRecord
				if err := json.Unmarshal(mod.Value, &record); err != nil {
					entry.Raw = string(mod.Value)
				} else {
					entry.Value = &record
				}
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func readRecord(ws WorldState, recordID string) (*CensusRecord, error) {
	if err := validateRecordID(recordID); err != nil {
		return nil, err
	}
	data, err := ws.GetState(recordID)
	if err != nil {
		return nil, fatal("read record", err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: record %s not found on ledger", ErrNotFound, recordID)
	}
	var record CensusRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fatal("decode record "+recordID, err)
	}
	return &record, nil
}

func putRecord(ws WorldState, record *CensusRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fatal("marshal record", err)
	}
	if err := ws.PutState(record.RecordID, data); err != nil {
		return fatal("put record", err)
	}
	return nil
}

func emit(ws WorldState, name string, ev RecordEvent) error {
	ev.TxID = ws.GetTxID()
	payload, err := json.Marshal(ev)
	if err != nil {
		return fatal("marshal event", err)
	}
	if err := ws.SetEvent(name, payload); err != nil {
		return fatal("set event", err)
	}
	return nil
}

// validateRecordID rejects ids that cannot be used as a plain key or a composite key attribute.
func validateRecordID(recordID string) error {
	if recordID == "" {
		return fmt.Errorf("%w: record_id is required", ErrInvalidArgument)
	}
	if !utf8.ValidString(recordID) {
		return fmt.Errorf("%w: record_id must be valid UTF-8", ErrInvalidArgument)
	}
	for _, r := range recordID {
		if r == 0 || r == utf8.MaxRune {
			return fmt.Errorf("%w: record_id must not contain U+0000 or U+10FFFF", ErrInvalidArgument)
		}
	}
	return nil
}
