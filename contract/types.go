package contract

import (
	"fmt"
	"strings"
)

// Document types stored in the world state. Selector queries filter on doc_type.
const (
	DocTypeRecord    = "census_record"
	DocTypeAccessLog = "access_log"

	// AccessLogNamespace is the object type of the composite key ("access_log", record_id, log_id).
	AccessLogNamespace = "access_log"

	FlagNormal = "NORMAL"
)

// RecordStatus is the lifecycle state of a CensusRecord.
type RecordStatus string

const (
	StatusPendingReview     RecordStatus = "PENDING_REVIEW"
	StatusApproved          RecordStatus = "APPROVED"
	StatusRejected          RecordStatus = "REJECTED"
	StatusNeedsVerification RecordStatus = "NEEDS_VERIFICATION"
	StatusPriority          RecordStatus = "PRIORITY"
)

// Decisions lists the states ReviewRecord may move a record into.
var Decisions = []RecordStatus{StatusApproved, StatusRejected, StatusNeedsVerification, StatusPriority}

// IsDecision reports whether s is one of the four review decisions.
func (s RecordStatus) IsDecision() bool {
	for _, d := range Decisions {
		if s == d {
			return true
		}
	}
	return false
}

// ParseDecision validates a review decision. Matching is exact.
func ParseDecision(s string) (RecordStatus, error) {
	status := RecordStatus(s)
	if !status.IsDecision() {
		names := make([]string, len(Decisions))
		for i, d := range Decisions {
			names[i] = string(d)
		}
		return "", fmt.Errorf("%w: decision %q must be one of %s", ErrInvalidArgument, s, strings.Join(names, ", "))
	}
	return status, nil
}

// ActionType classifies an AccessLogEntry.
type ActionType string

const (
	ActionInitialize ActionType = "INITIALIZE"
	ActionReview     ActionType = "REVIEW"
	ActionVerify     ActionType = "VERIFY"
	ActionAccess     ActionType = "ACCESS"
	ActionRead       ActionType = "READ"
)

// CensusRecord is the on-ledger digital twin of one off-chain census record.
type CensusRecord struct {
	DocType                string         `json:"doc_type"`
	RecordID               string         `json:"record_id"`
	DataHash               string         `json:"data_hash"`
	PreviousHash           string         `json:"previous_hash"`
	OwnerHouseholdID       string         `json:"owner_household_id"`
	CurrentStatus          RecordStatus   `json:"current_status"`
	FlagStatus             string         `json:"flag_status"`
	Metadata               map[string]any `json:"metadata,omitempty"`
	RawMetadata            string         `json:"raw_metadata,omitempty"` // set when metadata was not a JSON object
	CreatedBy              string         `json:"created_by"`
	CreatedByAuthority     string         `json:"created_by_authority"`
	CreatedAt              string         `json:"created_at"`
	LastUpdatedBy          string         `json:"last_updated_by"`
	LastUpdatedByAuthority string         `json:"last_updated_by_authority"`
	LastUpdatedAt          string         `json:"last_updated_at"`
	Version                int            `json:"version"`
}

// AccessLogEntry is one immutable audit entry.
type AccessLogEntry struct {
	DocType           string     `json:"doc_type"`
	LogID             string     `json:"log_id"`
	RecordID          string     `json:"record_id"`
	AccessorID        string     `json:"accessor_id"`
	AccessorAuthority string     `json:"accessor_authority"`
	ActionType        ActionType `json:"action_type"`
	Details           string     `json:"details"`
	Timestamp         string     `json:"timestamp"`
	TransactionID     string     `json:"transaction_id"`
}

// IntegrityResult is the verdict of VerifyIntegrity. A missing record is reported through Error, not as a failure.
type IntegrityResult struct {
	RecordID      string       `json:"record_id"`
	Verified      bool         `json:"verified"`
	OnChainHash   string       `json:"on_chain_hash,omitempty"`
	ProvidedHash  string       `json:"provided_hash,omitempty"`
	CurrentStatus RecordStatus `json:"current_status,omitempty"`
	LastUpdatedAt string       `json:"last_updated_at,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// HistoryEntry is one historical version of a record. Value is nil for deletions and for
// payloads that failed to decode, in which case Raw carries the stored bytes.
type HistoryEntry struct {
	TxID      string        `json:"tx_id"`
	Timestamp string        `json:"timestamp"`
	IsDelete  bool          `json:"is_delete"`
	Value     *CensusRecord `json:"value,omitempty"`
	Raw       string        `json:"raw_value,omitempty"`
}

// Decoded is a world-state value decoded as T, or the raw content when decoding failed.
type Decoded[T any] struct {
	Key   string `json:"key"`
	Value *T     `json:"value,omitempty"`
	Raw   string `json:"raw,omitempty"`
}
