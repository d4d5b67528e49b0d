package ledger

import (
	"context"
	"errors"
	"iter"
	"time"

	"censustwin/contract"
)

// ErrMVCCConflict is returned when a key read by the transaction changed before commit.
// Nothing is written; the caller must resubmit.
var ErrMVCCConflict = errors.New("mvcc read conflict")

// Read records the version of a key observed during execution. Version 0 means the key was absent.
type Read struct {
	Key     string
	Version uint64
}

// Write is one entry of a transaction's write-set.
type Write struct {
	Key      string
	Value    []byte
	IsDelete bool
}

// Commit is everything a backend needs to apply one transaction.
type Commit struct {
	TxID      string
	Timestamp time.Time
	Reads     []Read
	Writes    []Write
}

// Backend is the versioned store behind the runtime.
type Backend interface {
	// Get returns the committed value and version of key; a nil value and version 0 when absent.
	Get(ctx context.Context, key string) ([]byte, uint64, error)
	// Apply validates the read-set and applies the write-set atomically, returning the new height.
	Apply(ctx context.Context, c *Commit) (uint64, error)
	// Range yields committed keys in [start, end) in key order.
	Range(ctx context.Context, start, end string) iter.Seq2[contract.KV, error]
	// History yields every committed version of key, oldest first.
	History(ctx context.Context, key string) iter.Seq2[contract.KeyModification, error]
	// Query yields committed documents matching sel.
	Query(ctx context.Context, sel Selector) iter.Seq2[contract.KV, error]
	Close() error
}

// StatsReporter is implemented by backends that can count stored documents by doc_type.
type StatsReporter interface {
	CountByDocType(ctx context.Context) (map[string]int, error)
}
