// Package memory is an in-process versioned world-state backend. It keeps every committed version
// of every key, so history queries behave like a ledger's. Used for the local mock ledger and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"sync"

	"censustwin/contract"
	"censustwin/ledger"

	"google.golang.org/protobuf/types/known/timestamppb"
)

type entry struct {
	value   []byte
	version uint64
}

// Store implements ledger.Backend in memory.
type Store struct {
	mu      sync.RWMutex
	state   map[string]entry
	history map[string][]contract.KeyModification
	height  uint64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		state:   make(map[string]entry),
		history: make(map[string][]contract.KeyModification),
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state[key]
	if !ok {
		return nil, 0, nil
	}
	return clone(e.value), e.version, nil
}

// Apply commits c if every read version still matches. Versions are the block height of the
// transaction that last wrote the key.
func (s *Store) Apply(_ context.Context, c *ledger.Commit) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range c.Reads {
		if current := s.state[r.Key].version; current != r.Version {
			return 0, fmt.Errorf("%w: key %q read at version %d, now %d", ledger.ErrMVCCConflict, r.Key, r.Version, current)
		}
	}

	s.height++
	ts := timestamppb.New(c.Timestamp)
	for _, w := range c.Writes {
		if w.IsDelete {
			delete(s.state, w.Key)
		} else {
			s.state[w.Key] = entry{value: clone(w.Value), version: s.height}
		}
		s.history[w.Key] = append(s.history[w.Key], contract.KeyModification{
			TxID:      c.TxID,
			Timestamp: ts,
			IsDelete:  w.IsDelete,
			Value:     clone(w.Value),
		})
	}
	return s.height, nil
}

// Range snapshots the matching keys, then reads values lazily as the sequence is pulled.
func (s *Store) Range(ctx context.Context, start, end string) iter.Seq2[contract.KV, error] {
	return func(yield func(contract.KV, error) bool) {
		keys := s.keys(func(k string) bool { return k >= start && k < end })
		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				yield(contract.KV{}, err)
				return
			}
			value, _, _ := s.Get(ctx, k)
			if value == nil {
				continue
			}
			if !yield(contract.KV{Key: k, Value: value}, nil) {
				return
			}
		}
	}
}

func (s *Store) History(ctx context.Context, key string) iter.Seq2[contract.KeyModification, error] {
	return func(yield func(contract.KeyModification, error) bool) {
		s.mu.RLock()
		mods := append([]contract.KeyModification{}, s.history[key]...)
		s.mu.RUnlock()
		for _, m := range mods {
			if err := ctx.Err(); err != nil {
				yield(contract.KeyModification{}, err)
				return
			}
			m.Value = clone(m.Value)
			if !yield(m, nil) {
				return
			}
		}
	}
}

// Query evaluates sel over every stored document in key order.
func (s *Store) Query(ctx context.Context, sel ledger.Selector) iter.Seq2[contract.KV, error] {
	return func(yield func(contract.KV, error) bool) {
		keys := s.keys(func(string) bool { return true })
		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				yield(contract.KV{}, err)
				return
			}
			value, _, _ := s.Get(ctx, k)
			if value == nil || !sel.Matches(value) {
				continue
			}
			if !yield(contract.KV{Key: k, Value: value}, nil) {
				return
			}
		}
	}
}

// CountByDocType counts stored JSON documents by their doc_type field.
func (s *Store) CountByDocType(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, e := range s.state {
		var doc struct {
			DocType string `json:"doc_type"`
		}
		if json.Unmarshal(e.value, &doc) == nil && doc.DocType != "" {
			counts[doc.DocType]++
		}
	}
	return counts, nil
}

// Height returns the number of committed transactions.
func (s *Store) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func (s *Store) Close() error { return nil }

func (s *Store) keys(match func(string) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.state {
		if match(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

var (
	_ ledger.Backend       = (*Store)(nil)
	_ ledger.StatsReporter = (*Store)(nil)
)
