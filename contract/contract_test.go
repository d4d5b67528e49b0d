package contract_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"testing"
	"time"

	"censustwin/contract"
	"censustwin/ledger"
	"censustwin/ledger/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	enumerator = contract.Identity{AuthorityID: "CensusAuthorityMSP", IdentityID: "enumerator-1"}
	auditor    = contract.Identity{AuthorityID: "AuditAuthorityMSP", IdentityID: "auditor-1"}
)

type fixture struct {
	t     *testing.T
	store *memory.Store
	rt    *ledger.Runtime

	mu     sync.Mutex
	events []ledger.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, store: memory.New()}

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var tick, txSeq int
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	txIDs := func() string {
		clockMu.Lock()
		defer clockMu.Unlock()
		txSeq++
		return fmt.Sprintf("tx%04d", txSeq)
	}
	sink := ledger.EventSinkFunc(func(_ context.Context, ev ledger.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
		return nil
	})

	f.rt = ledger.NewRuntime(f.store, log.New(io.Discard, "", 0),
		ledger.WithClock(clock), ledger.WithTxIDGenerator(txIDs), ledger.WithEventSink(sink))
	return f
}

func (f *fixture) invoke(caller contract.Identity, function string, args map[string]string) (*ledger.Result, error) {
	return f.rt.Invoke(context.Background(), caller, function, args)
}

func (f *fixture) mustInvoke(caller contract.Identity, function string, args map[string]string) *ledger.Result {
	f.t.Helper()
	res, err := f.invoke(caller, function, args)
	require.NoError(f.t, err, function)
	return res
}

func (f *fixture) initialize(recordID, hash, metadata string) *ledger.Result {
	f.t.Helper()
	return f.mustInvoke(enumerator, contract.FnInitializeRecord, map[string]string{
		contract.ParamRecordID: recordID, contract.ParamDataHash: hash, contract.ParamMetadata: metadata,
	})
}

func (f *fixture) review(recordID, reviewer, decision, newHash string) (*ledger.Result, error) {
	return f.invoke(auditor, contract.FnReviewRecord, map[string]string{
		contract.ParamRecordID: recordID, contract.ParamReviewerID: reviewer,
		contract.ParamDecision: decision, contract.ParamNewHash: newHash,
	})
}

// stored reads the committed record directly from the backend, bypassing the audit trail
func (f *fixture) stored(recordID string) *contract.CensusRecord {
	f.t.Helper()
	data, _, err := f.store.Get(context.Background(), recordID)
	require.NoError(f.t, err)
	require.NotNil(f.t, data, "record %s not stored", recordID)
	var rec contract.CensusRecord
	require.NoError(f.t, json.Unmarshal(data, &rec))
	return &rec
}

func (f *fixture) verify(recordID, hash string) *contract.IntegrityResult {
	f.t.Helper()
	res := f.mustInvoke(auditor, contract.FnVerifyIntegrity, map[string]string{
		contract.ParamRecordID: recordID, contract.ParamProvidedHash: hash,
	})
	var out contract.IntegrityResult
	require.NoError(f.t, json.Unmarshal(res.Payload, &out))
	return &out
}

func (f *fixture) accessLogs(recordID string) []contract.Decoded[contract.AccessLogEntry] {
	f.t.Helper()
	res := f.mustInvoke(auditor, contract.FnGetAccessLogs, map[string]string{contract.ParamRecordID: recordID})
	var logs []contract.Decoded[contract.AccessLogEntry]
	require.NoError(f.t, json.Unmarshal(res.Payload, &logs))
	return logs
}

func actions(logs []contract.Decoded[contract.AccessLogEntry]) map[contract.ActionType]int {
	out := make(map[contract.ActionType]int)
	for _, l := range logs {
		if l.Value != nil {
			out[l.Value.ActionType]++
		}
	}
	return out
}

func TestScenario_InitializeReviewVerify(t *testing.T) {
	f := newFixture(t)

	res := f.initialize("REC1", "h1", `{"household_id":"HH1"}`)
	assert.Equal(t, "tx0001", string(res.Payload))

	rec := f.stored("REC1")
	assert.Equal(t, contract.StatusPendingReview, rec.CurrentStatus)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, contract.FlagNormal, rec.FlagStatus)
	assert.Equal(t, "HH1", rec.OwnerHouseholdID)
	assert.Equal(t, contract.DocTypeRecord, rec.DocType)
	assert.Equal(t, "enumerator-1", rec.CreatedBy)
	assert.Equal(t, "CensusAuthorityMSP", rec.CreatedByAuthority)

	_, err := f.review("REC1", "rev1", "APPROVED", "")
	require.NoError(t, err)
	rec = f.stored("REC1")
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, contract.StatusApproved, rec.CurrentStatus)
	assert.Equal(t, "h1", rec.DataHash)
	assert.Empty(t, rec.PreviousHash)
	assert.Equal(t, "rev1", rec.LastUpdatedBy)
	assert.Equal(t, "AuditAuthorityMSP", rec.LastUpdatedByAuthority)

	ok := f.verify("REC1", "h1")
	assert.True(t, ok.Verified)
	assert.Equal(t, "h1", ok.OnChainHash)
	assert.Equal(t, contract.StatusApproved, ok.CurrentStatus)
	assert.Equal(t, rec.LastUpdatedAt, ok.LastUpdatedAt)

	bad := f.verify("REC1", "wrong")
	assert.False(t, bad.Verified)
	assert.Equal(t, "wrong", bad.ProvidedHash)
	assert.Empty(t, bad.Error)
}

func TestInitializeRecord_DuplicateLeavesOriginal(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", "")
	heightBefore := f.store.Height()

	_, err := f.invoke(enumerator, contract.FnInitializeRecord, map[string]string{
		contract.ParamRecordID: "REC1", contract.ParamDataHash: "h2",
	})
	require.ErrorIs(t, err, contract.ErrAlreadyExists)

	rec := f.stored("REC1")
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, "h1", rec.DataHash)
	assert.Equal(t, heightBefore, f.store.Height(), "failed invocation must not commit")
	assert.Len(t, f.accessLogs("REC1"), 1)
}

func TestInitializeRecord_Metadata(t *testing.T) {
	tests := []struct {
		name      string
		metadata  string
		household string
		flag      string
		raw       string
	}{
		{name: "empty", metadata: "", flag: "NORMAL"},
		{name: "flag and household", metadata: `{"household_id":"HH9","flag_status":"PRIORITY"}`, household: "HH9", flag: "PRIORITY"},
		{name: "non-string household ignored", metadata: `{"household_id":42}`, flag: "NORMAL"},
		{name: "malformed kept raw", metadata: `{household`, flag: "NORMAL", raw: `{household`},
		{name: "array kept raw", metadata: `["a"]`, flag: "NORMAL", raw: `["a"]`},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := "REC-META-" + strconv.Itoa(i)
			f.initialize(id, "h", tt.metadata)

			rec := f.stored(id)
			assert.Equal(t, tt.household, rec.OwnerHouseholdID)
			assert.Equal(t, tt.flag, rec.FlagStatus)
			assert.Equal(t, tt.raw, rec.RawMetadata)
		})
	}
}

func TestInitializeRecord_InvalidRecordID(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"", "bad\x00id", "REC\U0010FFFF", string([]byte{0xff, 0xfe})} {
		_, err := f.invoke(enumerator, contract.FnInitializeRecord, map[string]string{
			contract.ParamRecordID: id, contract.ParamDataHash: "h",
		})
		assert.ErrorIs(t, err, contract.ErrInvalidArgument, "id %q", id)
	}
	assert.Zero(t, f.store.Height())
}

func TestReviewRecord_Failures(t *testing.T) {
	f := newFixture(t)

	_, err := f.review("MISSING", "rev1", "APPROVED", "")
	require.ErrorIs(t, err, contract.ErrNotFound)

	f.initialize("REC1", "h1", "")
	for _, decision := range []string{"INVALID", "approved", "", "PENDING_REVIEW"} {
		_, err := f.review("REC1", "rev1", decision, "hX")
		assert.ErrorIs(t, err, contract.ErrInvalidArgument, "decision %q", decision)
	}

	rec := f.stored("REC1")
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, contract.StatusPendingReview, rec.CurrentStatus)
	assert.Equal(t, "h1", rec.DataHash)
	assert.Len(t, f.accessLogs("REC1"), 1)
}

func TestReviewRecord_ReentrantAndVersionMonotonic(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", "")

	decisions := []string{"APPROVED", "REJECTED", "NEEDS_VERIFICATION", "PRIORITY", "APPROVED", "APPROVED"}
	for i, d := range decisions {
		_, err := f.review("REC1", "", d, "")
		require.NoError(t, err)
		rec := f.stored("REC1")
		assert.Equal(t, 2+i, rec.Version)
		assert.Equal(t, contract.RecordStatus(d), rec.CurrentStatus)
		// No reviewer id: the caller is attributed
		assert.Equal(t, "auditor-1", rec.LastUpdatedBy)
	}
}

func TestReviewRecord_HashRotation(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "hashA", "")

	_, err := f.review("REC1", "r1", "APPROVED", "hashB")
	require.NoError(t, err)
	rec := f.stored("REC1")
	assert.Equal(t, "hashA", rec.PreviousHash)
	assert.Equal(t, "hashB", rec.DataHash)

	// An empty new hash leaves both hashes alone
	_, err = f.review("REC1", "r1", "REJECTED", "")
	require.NoError(t, err)
	rec = f.stored("REC1")
	assert.Equal(t, "hashA", rec.PreviousHash)
	assert.Equal(t, "hashB", rec.DataHash)

	assert.True(t, f.verify("REC1", "hashB").Verified)
	assert.False(t, f.verify("REC1", "hashA").Verified)
}

func TestVerifyIntegrity_ExactMatchOnly(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "AbC123", "")

	assert.True(t, f.verify("REC1", "AbC123").Verified)
	for _, h := range []string{"abc123", "ABC123", "AbC123 ", "", "AbC12"} {
		assert.False(t, f.verify("REC1", h).Verified, "hash %q", h)
	}
}

func TestVerifyIntegrity_MissingRecordIsAVerdict(t *testing.T) {
	f := newFixture(t)

	res := f.verify("GHOST", "h")
	assert.False(t, res.Verified)
	assert.Equal(t, "GHOST", res.RecordID)
	assert.Equal(t, "Record not found on ledger", res.Error)

	logs := f.accessLogs("GHOST")
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].Value)
	assert.Equal(t, contract.ActionVerify, logs[0].Value.ActionType)
	assert.Contains(t, logs[0].Value.Details, "FAILED")
}

func TestVerifyIntegrity_UnkeyableRecordID(t *testing.T) {
	f := newFixture(t)

	_, err := f.invoke(auditor, contract.FnVerifyIntegrity, map[string]string{
		contract.ParamRecordID: "REC\U0010FFFF", contract.ParamProvidedHash: "h",
	})
	require.ErrorIs(t, err, contract.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "record_id must not contain")
	assert.NotContains(t, err.Error(), "access log key")
	assert.Zero(t, f.store.Height())
}

func TestVerifyIntegrity_LogsPassAndFail(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", "")
	f.verify("REC1", "h1")
	f.verify("REC1", "nope")

	var details []string
	for _, l := range f.accessLogs("REC1") {
		if l.Value.ActionType == contract.ActionVerify {
			details = append(details, l.Value.Details)
		}
	}
	assert.ElementsMatch(t, []string{"Integrity check: PASSED", "Integrity check: FAILED"}, details)
}

func TestGetRecord_ReadsAreLoggedTwice(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", "")

	first := f.mustInvoke(auditor, contract.FnGetRecord, map[string]string{contract.ParamRecordID: "REC1"})
	second := f.mustInvoke(auditor, contract.FnGetRecord, map[string]string{contract.ParamRecordID: "REC1"})
	assert.JSONEq(t, string(first.Payload), string(second.Payload))

	logs := f.accessLogs("REC1")
	counts := actions(logs)
	assert.Equal(t, 2, counts[contract.ActionRead])

	ids := map[string]bool{}
	for _, l := range logs {
		ids[l.Value.LogID] = true
		if l.Value.ActionType == contract.ActionRead {
			assert.Equal(t, "auditor-1", l.Value.AccessorID)
			assert.Equal(t, "AuditAuthorityMSP", l.Value.AccessorAuthority)
		}
	}
	assert.Len(t, ids, len(logs), "log ids must be unique")

	_, err := f.invoke(auditor, contract.FnGetRecord, map[string]string{contract.ParamRecordID: "MISSING"})
	assert.ErrorIs(t, err, contract.ErrNotFound)
}

func TestRecordExists_NoAuditEntry(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", "")
	height := f.store.Height()

	res := f.mustInvoke(auditor, contract.FnRecordExists, map[string]string{contract.ParamRecordID: "REC1"})
	assert.Equal(t, "true", string(res.Payload))
	res = f.mustInvoke(auditor, contract.FnRecordExists, map[string]string{contract.ParamRecordID: "NOPE"})
	assert.Equal(t, "false", string(res.Payload))

	assert.Equal(t, height, f.store.Height())
	assert.Len(t, f.accessLogs("REC1"), 1)
}

func TestAuditCompleteness(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", "")
	_, err := f.review("REC1", "rev1", "APPROVED", "")
	require.NoError(t, err)
	_, err = f.review("REC1", "rev1", "PRIORITY", "h2")
	require.NoError(t, err)
	f.mustInvoke(auditor, contract.FnGetRecord, map[string]string{contract.ParamRecordID: "REC1"})
	f.verify("REC1", "h2")
	f.mustInvoke(auditor, contract.FnLogAccess, map[string]string{
		contract.ParamRecordID: "REC1", contract.ParamAccessorID: "analyst-3", contract.ParamReason: "quarterly audit",
	})
	// Not logged
	f.mustInvoke(auditor, contract.FnGetRecordHistory, map[string]string{contract.ParamRecordID: "REC1"})
	f.mustInvoke(auditor, contract.FnRecordExists, map[string]string{contract.ParamRecordID: "REC1"})

	logs := f.accessLogs("REC1")
	require.Len(t, logs, 6)
	assert.Equal(t, map[contract.ActionType]int{
		contract.ActionInitialize: 1,
		contract.ActionReview:     2,
		contract.ActionRead:       1,
		contract.ActionVerify:     1,
		contract.ActionAccess:     1,
	}, actions(logs))

	for _, l := range logs {
		if l.Value.ActionType == contract.ActionAccess {
			assert.Equal(t, "analyst-3", l.Value.AccessorID)
			assert.Equal(t, "quarterly audit", l.Value.Details)
		}
		if l.Value.ActionType == contract.ActionReview {
			assert.Equal(t, "rev1", l.Value.AccessorID)
		}
	}
}

func TestGetAccessLogs_ScopedToRecord(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", "")
	f.initialize("REC10", "h10", "")
	f.initialize("REC2", "h2", "")

	for _, id := range []string{"REC1", "REC10", "REC2"} {
		logs := f.accessLogs(id)
		require.Len(t, logs, 1, id)
		assert.Equal(t, id, logs[0].Value.RecordID)
	}
}

func TestGetAccessLogs_DegradesOnUndecodableEntry(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", "")

	key, err := ledger.CreateCompositeKey(contract.AccessLogNamespace, []string{"REC1", "corrupt"})
	require.NoError(t, err)
	_, err = f.store.Apply(context.Background(), &ledger.Commit{
		TxID: "manual", Timestamp: time.Now(), Writes: []ledger.Write{{Key: key, Value: []byte("not json")}},
	})
	require.NoError(t, err)

	logs := f.accessLogs("REC1")
	require.Len(t, logs, 2)
	var raw int
	for _, l := range logs {
		if l.Value == nil {
			raw++
			assert.Equal(t, "not json", l.Raw)
		}
	}
	assert.Equal(t, 1, raw)
}

func TestGetRecordHistory(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", "")
	_, err := f.review("REC1", "rev1", "APPROVED", "")
	require.NoError(t, err)
	_, err = f.review("REC1", "rev1", "REJECTED", "h2")
	require.NoError(t, err)

	res := f.mustInvoke(auditor, contract.FnGetRecordHistory, map[string]string{contract.ParamRecordID: "REC1"})
	var history []contract.HistoryEntry
	require.NoError(t, json.Unmarshal(res.Payload, &history))
	require.Len(t, history, 3)
	for i, h := range history {
		require.NotNil(t, h.Value)
		assert.Equal(t, i+1, h.Value.Version)
		assert.False(t, h.IsDelete)
		assert.NotEmpty(t, h.TxID)
		assert.NotEmpty(t, h.Timestamp)
	}
	assert.Equal(t, "h2", history[2].Value.DataHash)
	assert.Equal(t, "h1", history[2].Value.PreviousHash)

	res = f.mustInvoke(auditor, contract.FnGetRecordHistory, map[string]string{contract.ParamRecordID: "NONE"})
	assert.JSONEq(t, "[]", string(res.Payload))
}

func TestQueryByStatusAndFlag(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", `{"flag_status":"PRIORITY"}`)
	f.initialize("REC2", "h2", "")
	f.initialize("REC3", "h3", `{"flag_status":"PRIORITY"}`)
	_, err := f.review("REC2", "rev1", "APPROVED", "")
	require.NoError(t, err)

	query := func(fn, param, value string) []string {
		res := f.mustInvoke(auditor, fn, map[string]string{param: value})
		var records []contract.Decoded[contract.CensusRecord]
		require.NoError(t, json.Unmarshal(res.Payload, &records))
		var ids []string
		for _, r := range records {
			require.NotNil(t, r.Value)
			ids = append(ids, r.Value.RecordID)
		}
		return ids
	}

	assert.ElementsMatch(t, []string{"REC1", "REC3"}, query(contract.FnQueryByStatus, contract.ParamStatus, "PENDING_REVIEW"))
	assert.ElementsMatch(t, []string{"REC2"}, query(contract.FnQueryByStatus, contract.ParamStatus, "APPROVED"))
	assert.Empty(t, query(contract.FnQueryByStatus, contract.ParamStatus, "REJECTED"))
	assert.ElementsMatch(t, []string{"REC1", "REC3"}, query(contract.FnQueryByFlagStatus, contract.ParamFlagStatus, "PRIORITY"))
	assert.ElementsMatch(t, []string{"REC2"}, query(contract.FnQueryByFlagStatus, contract.ParamFlagStatus, "NORMAL"))
}

func TestRecordSelector(t *testing.T) {
	q, err := contract.RecordSelector("current_status", "APPROVED")
	require.NoError(t, err)
	assert.JSONEq(t, `{"selector":{"doc_type":"census_record","current_status":"APPROVED"}}`, q)
}

func TestEvents_PublishedAfterCommitOnly(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", "")
	_, err := f.review("REC1", "rev1", "BOGUS", "")
	require.Error(t, err)
	_, err = f.review("REC1", "rev1", "APPROVED", "")
	require.NoError(t, err)
	f.verify("REC1", "h1")
	f.mustInvoke(auditor, contract.FnRecordExists, map[string]string{contract.ParamRecordID: "REC1"})

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.events, 3)
	assert.Equal(t, contract.EventRecordInitialized, f.events[0].Name)
	assert.Equal(t, contract.EventRecordReviewed, f.events[1].Name)
	assert.Equal(t, contract.EventIntegrityVerified, f.events[2].Name)

	var ev contract.RecordEvent
	require.NoError(t, json.Unmarshal(f.events[1].Payload, &ev))
	assert.Equal(t, "REC1", ev.RecordID)
	assert.Equal(t, contract.StatusApproved, ev.Status)
	assert.Equal(t, 2, ev.Version)
	assert.Equal(t, f.events[1].TxID, ev.TxID)
	assert.NotZero(t, f.events[1].BlockHeight)
}

func TestTimestampsComeFromTransaction(t *testing.T) {
	f := newFixture(t)
	f.initialize("REC1", "h1", "")
	rec := f.stored("REC1")

	// First transaction of the fixture clock
	assert.Equal(t, "2026-03-01T09:00:01Z", rec.CreatedAt)
	assert.Equal(t, rec.CreatedAt, rec.LastUpdatedAt)

	logs := f.accessLogs("REC1")
	require.Len(t, logs, 1)
	assert.Equal(t, rec.CreatedAt, logs[0].Value.Timestamp)
	assert.Equal(t, "tx0001", logs[0].Value.TransactionID)
}

func TestInvoke_UnknownFunctionAndMissingIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.invoke(enumerator, "DeleteRecord", nil)
	assert.ErrorIs(t, err, contract.ErrInvalidArgument)

	_, err = f.invoke(contract.Identity{AuthorityID: "CensusAuthorityMSP"}, contract.FnRecordExists,
		map[string]string{contract.ParamRecordID: "REC1"})
	assert.ErrorIs(t, err, contract.ErrInvalidArgument)
}
