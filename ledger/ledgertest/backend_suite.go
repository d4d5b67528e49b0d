// Package ledgertest holds the conformance suite every ledger.Backend must pass.
package ledgertest

import (
	"context"
	"time"

	"censustwin/contract"
	"censustwin/ledger"

	"github.com/stretchr/testify/suite"
)

// BackendSuite exercises a ledger.Backend. NewBackend must return an empty store for every test.
type BackendSuite struct {
	suite.Suite
	NewBackend func() ledger.Backend

	ctx     context.Context
	backend ledger.Backend
}

func (s *BackendSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = s.NewBackend()
}

func (s *BackendSuite) TearDownTest() {
	s.Require().NoError(s.backend.Close())
}

func (s *BackendSuite) apply(txID string, reads []ledger.Read, writes ...ledger.Write) (uint64, error) {
	return s.backend.Apply(s.ctx, &ledger.Commit{
		TxID:      txID,
		Timestamp: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		Reads:     reads,
		Writes:    writes,
	})
}

func (s *BackendSuite) TestGetAbsent() {
	v, version, err := s.backend.Get(s.ctx, "missing")
	s.Require().NoError(err)
	s.Nil(v)
	s.Zero(version)
}

func (s *BackendSuite) TestApplyAdvancesHeightAndVersions() {
	h1, err := s.apply("tx1", nil, ledger.Write{Key: "REC1", Value: []byte(`{"v":1}`)})
	s.Require().NoError(err)
	h2, err := s.apply("tx2", []ledger.Read{{Key: "REC1", Version: h1}}, ledger.Write{Key: "REC1", Value: []byte(`{"v":2}`)})
	s.Require().NoError(err)
	s.Equal(h1+1, h2)

	v, version, err := s.backend.Get(s.ctx, "REC1")
	s.Require().NoError(err)
	s.JSONEq(`{"v":2}`, string(v))
	s.Equal(h2, version)
}

func (s *BackendSuite) TestApplyRejectsStaleReads() {
	h1, err := s.apply("tx1", nil, ledger.Write{Key: "REC1", Value: []byte(`{"v":1}`)})
	s.Require().NoError(err)
	_, err = s.apply("tx2", []ledger.Read{{Key: "REC1", Version: h1}}, ledger.Write{Key: "REC1", Value: []byte(`{"v":2}`)})
	s.Require().NoError(err)

	_, err = s.apply("tx3", []ledger.Read{{Key: "REC1", Version: h1}}, ledger.Write{Key: "REC1", Value: []byte(`{"v":3}`)})
	s.ErrorIs(err, ledger.ErrMVCCConflict)

	// A key read as absent conflicts once it exists
	_, err = s.apply("tx4", []ledger.Read{{Key: "REC1", Version: 0}}, ledger.Write{Key: "other", Value: []byte(`{}`)})
	s.ErrorIs(err, ledger.ErrMVCCConflict)

	v, _, err := s.backend.Get(s.ctx, "other")
	s.Require().NoError(err)
	s.Nil(v, "conflicting commit must not write")
}

func (s *BackendSuite) TestRangeIsPrefixScopedAndOrdered() {
	var writes []ledger.Write
	for _, attrs := range [][]string{{"REC1", "b"}, {"REC1", "a"}, {"REC10", "a"}, {"REC2", "a"}} {
		key, err := ledger.CreateCompositeKey("access_log", attrs)
		s.Require().NoError(err)
		writes = append(writes, ledger.Write{Key: key, Value: []byte(`{"doc_type":"access_log"}`)})
	}
	_, err := s.apply("tx1", nil, writes...)
	s.Require().NoError(err)

	prefix, err := ledger.CreateCompositeKey("access_log", []string{"REC1"})
	s.Require().NoError(err)
	start, end := ledger.PrefixRange(prefix)

	var attrs []string
	for kv, err := range s.backend.Range(s.ctx, start, end) {
		s.Require().NoError(err)
		_, parts, err := ledger.SplitCompositeKey(kv.Key)
		s.Require().NoError(err)
		attrs = append(attrs, parts[1])
	}
	s.Equal([]string{"a", "b"}, attrs)
}

func (s *BackendSuite) TestRangeStopsEarly() {
	for i, k := range []string{"k1", "k2", "k3"} {
		_, err := s.apply("tx"+k, nil, ledger.Write{Key: k, Value: []byte{byte('0' + i)}})
		s.Require().NoError(err)
	}
	n := 0
	for _, err := range s.backend.Range(s.ctx, "k", "l") {
		s.Require().NoError(err)
		n++
		if n == 2 {
			break
		}
	}
	s.Equal(2, n)
}

func (s *BackendSuite) TestHistoryKeepsEveryVersion() {
	_, err := s.apply("tx1", nil, ledger.Write{Key: "REC1", Value: []byte(`{"v":1}`)})
	s.Require().NoError(err)
	_, err = s.apply("tx2", nil, ledger.Write{Key: "REC1", Value: []byte(`{"v":2}`)})
	s.Require().NoError(err)
	_, err = s.apply("tx3", nil, ledger.Write{Key: "REC1", IsDelete: true})
	s.Require().NoError(err)

	var mods []contract.KeyModification
	for m, err := range s.backend.History(s.ctx, "REC1") {
		s.Require().NoError(err)
		mods = append(mods, m)
	}
	s.Require().Len(mods, 3)
	s.Equal([]string{"tx1", "tx2", "tx3"}, []string{mods[0].TxID, mods[1].TxID, mods[2].TxID})
	s.JSONEq(`{"v":1}`, string(mods[0].Value))
	s.True(mods[2].IsDelete)
	s.NotNil(mods[0].Timestamp)

	v, _, err := s.backend.Get(s.ctx, "REC1")
	s.Require().NoError(err)
	s.Nil(v)
}

func (s *BackendSuite) TestQueryMatchesSelector() {
	_, err := s.apply("tx1", nil,
		ledger.Write{Key: "REC1", Value: []byte(`{"doc_type":"census_record","current_status":"APPROVED"}`)},
		ledger.Write{Key: "REC2", Value: []byte(`{"doc_type":"census_record","current_status":"REJECTED"}`)},
		ledger.Write{Key: "REC3", Value: []byte(`{"doc_type":"census_record","current_status":"APPROVED"}`)},
		ledger.Write{Key: "raw", Value: []byte(`not json`)},
	)
	s.Require().NoError(err)

	var keys []string
	for kv, err := range s.backend.Query(s.ctx, ledger.Selector{"doc_type": "census_record", "current_status": "APPROVED"}) {
		s.Require().NoError(err)
		keys = append(keys, kv.Key)
	}
	s.ElementsMatch([]string{"REC1", "REC3"}, keys)
}

func (s *BackendSuite) TestCountByDocType() {
	reporter, ok := s.backend.(ledger.StatsReporter)
	if !ok {
		s.T().Skip("backend does not report stats")
	}
	_, err := s.apply("tx1", nil,
		ledger.Write{Key: "REC1", Value: []byte(`{"doc_type":"census_record"}`)},
		ledger.Write{Key: "log1", Value: []byte(`{"doc_type":"access_log"}`)},
		ledger.Write{Key: "log2", Value: []byte(`{"doc_type":"access_log"}`)},
		ledger.Write{Key: "misc", Value: []byte(`{"other":1}`)},
	)
	s.Require().NoError(err)

	counts, err := reporter.CountByDocType(s.ctx)
	s.Require().NoError(err)
	s.Equal(map[string]int{"census_record": 1, "access_log": 2}, counts)
}
