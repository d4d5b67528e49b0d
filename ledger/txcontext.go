package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"censustwin/contract"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// ErrReadOnly is returned when an evaluate transaction tries to write.
var ErrReadOnly = errors.New("write attempted in read-only transaction")

// TxContext is the WorldState of one invocation. Reads see the write-set first, then committed state;
// range scans, history and selector queries see committed state only.
type TxContext struct {
	ctx      context.Context
	backend  Backend
	txID     string
	ts       time.Time
	caller   contract.Identity
	readOnly bool

	reads  map[string]uint64
	writes map[string]Write
	order  []string
	event  *Event
}

func newTxContext(ctx context.Context, b Backend, txID string, ts time.Time, caller contract.Identity, readOnly bool) *TxContext {
	return &TxContext{
		ctx:      ctx,
		backend:  b,
		txID:     txID,
		ts:       ts,
		caller:   caller,
		readOnly: readOnly,
		reads:    make(map[string]uint64),
		writes:   make(map[string]Write),
	}
}

func (tx *TxContext) GetAuthorityID() (string, error) { return tx.caller.AuthorityID, nil }
func (tx *TxContext) GetIdentityID() (string, error)  { return tx.caller.IdentityID, nil }
func (tx *TxContext) GetTxID() string                 { return tx.txID }

func (tx *TxContext) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(tx.ts), nil
}

func (tx *TxContext) GetState(key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key must not be empty")
	}
	if w, ok := tx.writes[key]; ok {
		if w.IsDelete {
			return nil, nil
		}
		return clone(w.Value), nil
	}
	value, version, err := tx.backend.Get(tx.ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get state %q: %w", key, err)
	}
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = version
	}
	return value, nil
}

func (tx *TxContext) PutState(key string, value []byte) error {
	return tx.write(Write{Key: key, Value: clone(value)})
}

// DelState marks key deleted in the write-set.
func (tx *TxContext) DelState(key string) error {
	return tx.write(Write{Key: key, IsDelete: true})
}

func (tx *TxContext) write(w Write) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if w.Key == "" {
		return errors.New("key must not be empty")
	}
	if !w.IsDelete && w.Value == nil {
		w.Value = []byte{}
	}
	if _, ok := tx.writes[w.Key]; !ok {
		tx.order = append(tx.order, w.Key)
	}
	tx.writes[w.Key] = w
	return nil
}

func (tx *TxContext) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	return CreateCompositeKey(objectType, attributes)
}

func (tx *TxContext) GetStateByPartialCompositeKey(objectType string, attributes []string) iter.Seq2[contract.KV, error] {
	prefix, err := CreateCompositeKey(objectType, attributes)
	if err != nil {
		return errSeq[contract.KV](err)
	}
	start, end := PrefixRange(prefix)
	return tx.backend.Range(tx.ctx, start, end)
}

func (tx *TxContext) GetHistoryForKey(key string) iter.Seq2[contract.KeyModification, error] {
	return tx.backend.History(tx.ctx, key)
}

func (tx *TxContext) GetQueryResult(query string) iter.Seq2[contract.KV, error] {
	sel, err := ParseSelector(query)
	if err != nil {
		return errSeq[contract.KV](err)
	}
	return tx.backend.Query(tx.ctx, sel)
}

// SetEvent sets the transaction's event; a later call replaces an earlier one.
func (tx *TxContext) SetEvent(name string, payload []byte) error {
	if name == "" {
		return errors.New("event name must not be empty")
	}
	tx.event = &Event{Name: name, Payload: clone(payload), TxID: tx.txID, Timestamp: tx.ts}
	return nil
}

func (tx *TxContext) commit() *Commit {
	c := &Commit{TxID: tx.txID, Timestamp: tx.ts}
	for key, version := range tx.reads {
		c.Reads = append(c.Reads, Read{Key: key, Version: version})
	}
	for _, key := range tx.order {
		c.Writes = append(c.Writes, tx.writes[key])
	}
	return c
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func errSeq[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

var _ contract.WorldState = (*TxContext)(nil)
