package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	blockchain "censustwin/blockchain/client"
	"censustwin/blockchain/types"
	"censustwin/contract"
	"censustwin/internal/censushash"
	"censustwin/internal/metrics"
	"censustwin/internal/models"

	"github.com/google/uuid"
)

// ErrQueueDisabled is returned by Enqueue when no invocation producer is configured
var ErrQueueDisabled = errors.New("invocation queue not configured")

// Flag statuses accepted when anchoring a record; anything else becomes NORMAL
var FlagStatuses = []string{contract.FlagNormal, "REVIEW", "PRIORITY"}

// TxReceipt identifies a committed transaction
type TxReceipt struct {
	TxID        string `json:"tx_id"`
	BlockHeight uint64 `json:"block_height"`
}

// AnchorResult is returned after a census record is anchored on the ledger
type AnchorResult struct {
	TxID           string                `json:"tx_id"`
	RecordID       string                `json:"record_id"`
	DataHash       string                `json:"data_hash"`
	Status         contract.RecordStatus `json:"status"`
	FlagStatus     string                `json:"flag_status"`
	LedgerAnchored bool                  `json:"ledger_anchored"`
}

// ReviewResult is returned after a review decision is committed
type ReviewResult struct {
	TxID      string                `json:"tx_id"`
	RecordID  string                `json:"record_id"`
	NewStatus contract.RecordStatus `json:"new_status"`
	NewHash   string                `json:"new_hash,omitempty"`
}

// VerifyResult is the integrity verdict plus the transaction that logged it
type VerifyResult struct {
	contract.IntegrityResult
	TxID      string `json:"tx_id"`
	Timestamp string `json:"timestamp"`
}

// AccessResult is returned after an explicit access is logged
type AccessResult struct {
	TxID     string `json:"tx_id"`
	RecordID string `json:"record_id"`
	Logged   bool   `json:"logged"`
}

// LedgerStatus describes the ledger the gateway is bound to
type LedgerStatus struct {
	types.LedgerDescription
	AuthorityID  string `json:"authority_id"`
	RecordsCount int    `json:"records_count"`
	LogsCount    int    `json:"logs_count"`
}

// QueuedInvocation acknowledges an invocation handed to the engine
type QueuedInvocation struct {
	RequestID string `json:"request_id"`
	Function  string `json:"function"`
	Status    string `json:"status"`
}

// Service encapsulates the gateway's business logic on top of a ledger client
type Service struct {
	client  blockchain.LedgerClient
	queue   *BatchProcessor
	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time
}

// NewService creates a Service. queue may be nil, in which case Enqueue is unavailable.
func NewService(c blockchain.LedgerClient, queue *BatchProcessor, m *metrics.Metrics, l *log.Logger) *Service {
	return &Service{client: c, queue: queue, metrics: m, logger: l, now: time.Now}
}

// InitializeRecord anchors a record under a caller-computed hash
func (s *Service) InitializeRecord(ctx context.Context, caller contract.Identity, recordID, dataHash, metadata string) (receipt *TxReceipt, err error) {
	ctx, end := startSpan(ctx, contract.FnInitializeRecord, caller, recordID)
	defer func() { end(err) }()

	res, err := s.invoke(ctx, caller, contract.FnInitializeRecord, map[string]string{
		contract.ParamRecordID: recordID,
		contract.ParamDataHash: dataHash,
		contract.ParamMetadata: metadata,
	})
	if err != nil {
		return nil, err
	}
	return receiptOf(res), nil
}

// AnchorRecord hashes an off-chain census record and anchors it. The flag status is normalised
// and stored with the household id as record metadata.
func (s *Service) AnchorRecord(ctx context.Context, caller contract.Identity, record censushash.Record) (result *AnchorResult, err error) {
	recordID := record.String("record_id")
	ctx, end := startSpan(ctx, "AnchorRecord", caller, recordID)
	defer func() { end(err) }()

	flag := NormalizeFlag(record.String("flag_status"))
	dataHash := censushash.Compute(record)
	metadata, err := json.Marshal(map[string]string{
		"household_id": record.String("household_id"),
		"flag_status":  flag,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode record metadata: %w", err)
	}

	res, err := s.invoke(ctx, caller, contract.FnInitializeRecord, map[string]string{
		contract.ParamRecordID: recordID,
		contract.ParamDataHash: dataHash,
		contract.ParamMetadata: string(metadata),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Printf("Record %s anchored (tx %s, hash %s)", recordID, res.TransactionID, dataHash)
	return &AnchorResult{
		TxID:           res.TransactionID,
		RecordID:       recordID,
		DataHash:       dataHash,
		Status:         contract.StatusPendingReview,
		FlagStatus:     flag,
		LedgerAnchored: true,
	}, nil
}

// ReviewRecord commits a review decision. The decision is upper-cased before it reaches the contract.
func (s *Service) ReviewRecord(ctx context.Context, caller contract.Identity, recordID, reviewerID, decision, newHash string) (result *ReviewResult, err error) {
	ctx, end := startSpan(ctx, contract.FnReviewRecord, caller, recordID)
	defer func() { end(err) }()

	decision = NormalizeDecision(decision)
	res, err := s.invoke(ctx, caller, contract.FnReviewRecord, map[string]string{
		contract.ParamRecordID:   recordID,
		contract.ParamReviewerID: reviewerID,
		contract.ParamDecision:   decision,
		contract.ParamNewHash:    newHash,
	})
	if err != nil {
		return nil, err
	}
	return &ReviewResult{
		TxID:      res.TransactionID,
		RecordID:  recordID,
		NewStatus: contract.RecordStatus(decision),
		NewHash:   newHash,
	}, nil
}

// SubmitReview commits a review decision; when a corrected record is supplied its hash
// replaces the anchored one.
func (s *Service) SubmitReview(ctx context.Context, caller contract.Identity, recordID, reviewerID, decision string, updated censushash.Record) (*ReviewResult, error) {
	newHash := ""
	if len(updated) > 0 {
		newHash = censushash.Compute(updated)
	}
	return s.ReviewRecord(ctx, caller, recordID, reviewerID, decision, newHash)
}

// VerifyIntegrity compares providedHash with the anchored hash. A missing record is a verdict, not an error.
func (s *Service) VerifyIntegrity(ctx context.Context, caller contract.Identity, recordID, providedHash string) (result *VerifyResult, err error) {
	ctx, end := startSpan(ctx, contract.FnVerifyIntegrity, caller, recordID)
	defer func() { end(err) }()

	res, err := s.invoke(ctx, caller, contract.FnVerifyIntegrity, map[string]string{
		contract.ParamRecordID:     recordID,
		contract.ParamProvidedHash: providedHash,
	})
	if err != nil {
		return nil, err
	}

	result = &VerifyResult{TxID: res.TransactionID, Timestamp: s.now().UTC().Format(time.RFC3339Nano)}
	if err := decodePayload(res, &result.IntegrityResult); err != nil {
		return nil, err
	}

	switch {
	case result.Error != "":
		s.metrics.IncrementIntegrity(metrics.IntegrityNotFound)
	case result.Verified:
		s.metrics.IncrementIntegrity(metrics.IntegrityPassed)
	default:
		s.metrics.IncrementIntegrity(metrics.IntegrityFailed)
		s.logger.Printf("Integrity check FAILED for record %s (caller %s)", recordID, caller)
	}
	return result, nil
}

// VerifyRecord hashes the current off-chain record and verifies it against the ledger
func (s *Service) VerifyRecord(ctx context.Context, caller contract.Identity, recordID string, record censushash.Record) (*VerifyResult, error) {
	return s.VerifyIntegrity(ctx, caller, recordID, censushash.Compute(record))
}

// LogAccess records an explicit access to a record with a free-text reason
func (s *Service) LogAccess(ctx context.Context, caller contract.Identity, recordID, accessorID, reason string) (result *AccessResult, err error) {
	ctx, end := startSpan(ctx, contract.FnLogAccess, caller, recordID)
	defer func() { end(err) }()

	res, err := s.invoke(ctx, caller, contract.FnLogAccess, map[string]string{
		contract.ParamRecordID:   recordID,
		contract.ParamAccessorID: accessorID,
		contract.ParamReason:     reason,
	})
	if err != nil {
		return nil, err
	}
	return &AccessResult{TxID: res.TransactionID, RecordID: recordID, Logged: true}, nil
}

// GetRecord reads a record; the read itself is logged on the ledger
func (s *Service) GetRecord(ctx context.Context, caller contract.Identity, recordID string) (record *contract.CensusRecord, err error) {
	ctx, end := startSpan(ctx, contract.FnGetRecord, caller, recordID)
	defer func() { end(err) }()

	res, err := s.invoke(ctx, caller, contract.FnGetRecord, map[string]string{contract.ParamRecordID: recordID})
	if err != nil {
		return nil, err
	}
	record = &contract.CensusRecord{}
	if err := decodePayload(res, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RecordExists probes for a record without logging
func (s *Service) RecordExists(ctx context.Context, caller contract.Identity, recordID string) (exists bool, err error) {
	ctx, end := startSpan(ctx, contract.FnRecordExists, caller, recordID)
	defer func() { end(err) }()

	res, err := s.invoke(ctx, caller, contract.FnRecordExists, map[string]string{contract.ParamRecordID: recordID})
	if err != nil {
		return false, err
	}
	exists, err = strconv.ParseBool(string(res.Payload))
	if err != nil {
		return false, fmt.Errorf("unexpected %s payload %q: %w", contract.FnRecordExists, res.Payload, err)
	}
	return exists, nil
}

// GetRecordHistory returns every committed version of a record
func (s *Service) GetRecordHistory(ctx context.Context, caller contract.Identity, recordID string) (history []contract.HistoryEntry, err error) {
	ctx, end := startSpan(ctx, contract.FnGetRecordHistory, caller, recordID)
	defer func() { end(err) }()

	res, err := s.invoke(ctx, caller, contract.FnGetRecordHistory, map[string]string{contract.ParamRecordID: recordID})
	if err != nil {
		return nil, err
	}
	if err := decodePayload(res, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// GetAccessLogs returns the audit trail of a record
func (s *Service) GetAccessLogs(ctx context.Context, caller contract.Identity, recordID string) (logs []contract.Decoded[contract.AccessLogEntry], err error) {
	ctx, end := startSpan(ctx, contract.FnGetAccessLogs, caller, recordID)
	defer func() { end(err) }()

	res, err := s.invoke(ctx, caller, contract.FnGetAccessLogs, map[string]string{contract.ParamRecordID: recordID})
	if err != nil {
		return nil, err
	}
	if err := decodePayload(res, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// QueryByStatus returns the records currently in status
func (s *Service) QueryByStatus(ctx context.Context, caller contract.Identity, status string) ([]contract.Decoded[contract.CensusRecord], error) {
	return s.query(ctx, caller, contract.FnQueryByStatus, contract.ParamStatus, status)
}

// QueryByFlagStatus returns the records carrying flagStatus
func (s *Service) QueryByFlagStatus(ctx context.Context, caller contract.Identity, flagStatus string) ([]contract.Decoded[contract.CensusRecord], error) {
	return s.query(ctx, caller, contract.FnQueryByFlagStatus, contract.ParamFlagStatus, flagStatus)
}

func (s *Service) query(ctx context.Context, caller contract.Identity, function, param, value string) (records []contract.Decoded[contract.CensusRecord], err error) {
	ctx, end := startSpan(ctx, function, caller, "")
	defer func() { end(err) }()

	res, err := s.invoke(ctx, caller, function, map[string]string{param: value})
	if err != nil {
		return nil, err
	}
	if err := decodePayload(res, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// LedgerStatus reports the bound ledger and its world-state counters
func (s *Service) LedgerStatus(ctx context.Context, caller contract.Identity) (status *LedgerStatus, err error) {
	ctx, end := startSpan(ctx, "LedgerStatus", caller, "")
	defer func() { end(err) }()

	stats, err := s.client.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &LedgerStatus{
		LedgerDescription: s.client.Describe(),
		AuthorityID:       caller.AuthorityID,
		RecordsCount:      stats.RecordsCount,
		LogsCount:         stats.LogsCount,
	}, nil
}

// Enqueue queues a state-changing invocation for the engine and returns immediately
func (s *Service) Enqueue(ctx context.Context, caller contract.Identity, function string, args map[string]string) (queued *QueuedInvocation, err error) {
	_, end := startSpan(ctx, "Enqueue", caller, args[contract.ParamRecordID])
	defer func() { end(err) }()

	if s.queue == nil {
		return nil, ErrQueueDisabled
	}
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	fn, err := contract.Lookup(function)
	if err != nil {
		return nil, err
	}
	if fn.ReadOnly {
		return nil, fmt.Errorf("%w: %s is read-only and cannot be queued", contract.ErrInvalidArgument, function)
	}
	queuedArgs := make(map[string]string, len(args))
	for k, v := range args {
		queuedArgs[k] = v
	}
	if function == contract.FnReviewRecord {
		queuedArgs[contract.ParamDecision] = NormalizeDecision(queuedArgs[contract.ParamDecision])
	}

	inv := &models.Invocation{
		RequestID:   uuid.NewString(),
		Function:    function,
		Args:        queuedArgs,
		AuthorityID: caller.AuthorityID,
		IdentityID:  caller.IdentityID,
		SubmittedAt: s.now().UTC().Format(time.RFC3339),
	}
	s.queue.Submit(inv)
	return &QueuedInvocation{RequestID: inv.RequestID, Function: function, Status: "QUEUED"}, nil
}

// Close flushes queued invocations
func (s *Service) Close() {
	if s.queue != nil {
		s.queue.Close()
	}
}

func (s *Service) invoke(ctx context.Context, caller contract.Identity, function string, args map[string]string) (*types.TxResult, error) {
	start := time.Now()
	res, err := blockchain.Invoke(ctx, s.client, caller, function, args)
	s.metrics.ObserveInvocation(function, blockchain.Classify(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// NormalizeFlag upper-cases a flag status, falling back to NORMAL for unknown values
func NormalizeFlag(flag string) string {
	flag = strings.ToUpper(strings.TrimSpace(flag))
	for _, known := range FlagStatuses {
		if flag == known {
			return flag
		}
	}
	return contract.FlagNormal
}

// NormalizeDecision upper-cases a review decision; validity is left to the contract
func NormalizeDecision(decision string) string {
	return strings.ToUpper(strings.TrimSpace(decision))
}

func receiptOf(res *types.TxResult) *TxReceipt {
	return &TxReceipt{TxID: res.TransactionID, BlockHeight: res.BlockHeight}
}

func decodePayload(res *types.TxResult, v any) error {
	if err := json.Unmarshal(res.Payload, v); err != nil {
		return &contract.FatalError{Op: "decode contract payload", Err: err}
	}
	return nil
}
