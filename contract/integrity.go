package contract

import (
	"errors"
)

const errRecordNotOnLedger = "Record not found on ledger"

// VerifyIntegrity compares providedHash with the stored data_hash byte for byte.
// A missing record yields verified=false with Error set. A VERIFY entry is appended in every case.
func VerifyIntegrity(ws WorldState, caller Identity, recordID, providedHash string) (*IntegrityResult, error) {
	record, err := readRecord(ws, recordID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var result *IntegrityResult
	details := "Integrity check: FAILED"
	if record == nil {
		result = &IntegrityResult{RecordID: recordID, Verified: false, Error: errRecordNotOnLedger}
		details += " (record not found)"
	} else {
		result = &IntegrityResult{
			RecordID:      recordID,
			Verified:      providedHash == record.DataHash,
			OnChainHash:   record.DataHash,
			ProvidedHash:  providedHash,
			CurrentStatus: record.CurrentStatus,
			LastUpdatedAt: record.LastUpdatedAt,
		}
		if result.Verified {
			details = "Integrity check: PASSED"
		}
	}

	entry, err := LogAccess(ws, caller, recordID, caller.IdentityID, ActionVerify, details)
	if err != nil {
		return nil, err
	}
	verified := result.Verified
	ev := RecordEvent{RecordID: recordID, Action: ActionVerify, Verified: &verified, Timestamp: entry.Timestamp}
	if record != nil {
		ev.Status = record.CurrentStatus
		ev.Version = record.Version
	}
	if err := emit(ws, EventIntegrityVerified, ev); err != nil {
		return nil, err
	}
	return result, nil
}
