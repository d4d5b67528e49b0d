package ledger_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"censustwin/contract"
	"censustwin/ledger"
	"censustwin/ledger/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var caller = contract.Identity{AuthorityID: "CensusAuthorityMSP", IdentityID: "svc-1"}

func newRuntime(t *testing.T, opts ...ledger.Option) (*ledger.Runtime, *memory.Store) {
	t.Helper()
	store := memory.New()
	return ledger.NewRuntime(store, log.New(io.Discard, "", 0), opts...), store
}

func TestSubmit_CommitsWriteSetAtomically(t *testing.T) {
	rt, store := newRuntime(t)
	ctx := context.Background()

	res, err := rt.Submit(ctx, caller, func(tx *ledger.TxContext) ([]byte, error) {
		require.NoError(t, tx.PutState("a", []byte("1")))
		require.NoError(t, tx.PutState("b", []byte("2")))
		// Reads see the transaction's own writes
		v, err := tx.GetState("a")
		require.NoError(t, err)
		assert.Equal(t, "1", string(v))
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.BlockHeight)
	assert.Equal(t, "ok", string(res.Payload))

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		v, _, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, string(v))
	}
}

func TestSubmit_FailureWritesNothing(t *testing.T) {
	published := 0
	rt, store := newRuntime(t, ledger.WithEventSink(
		ledger.EventSinkFunc(func(context.Context, ledger.Event) error { published++; return nil }),
	))

	boom := errors.New("boom")
	_, err := rt.Submit(context.Background(), caller, func(tx *ledger.TxContext) ([]byte, error) {
		require.NoError(t, tx.PutState("a", []byte("1")))
		require.NoError(t, tx.SetEvent("Ev", []byte(`{}`)))
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	v, _, err := store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Zero(t, store.Height())
	assert.Zero(t, published)
}

func TestSubmit_MVCCConflict(t *testing.T) {
	rt, store := newRuntime(t)
	ctx := context.Background()

	_, err := rt.Submit(ctx, caller, func(tx *ledger.TxContext) ([]byte, error) {
		return nil, tx.PutState("REC1", []byte(`{"version":1}`))
	})
	require.NoError(t, err)

	// The second transaction reads REC1, then a competing commit lands before it commits
	_, err = rt.Submit(ctx, caller, func(tx *ledger.TxContext) ([]byte, error) {
		_, err := tx.GetState("REC1")
		require.NoError(t, err)
		_, cerr := store.Apply(ctx, &ledger.Commit{
			TxID: "competing", Timestamp: time.Now(),
			Writes: []ledger.Write{{Key: "REC1", Value: []byte(`{"version":2}`)}},
		})
		require.NoError(t, cerr)
		return nil, tx.PutState("REC1", []byte(`{"version":99}`))
	})
	require.ErrorIs(t, err, ledger.ErrMVCCConflict)

	v, _, err := store.Get(ctx, "REC1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":2}`, string(v))
}

func TestSubmit_AbsentKeyReadConflictsWithCreate(t *testing.T) {
	rt, store := newRuntime(t)
	ctx := context.Background()

	_, err := rt.Submit(ctx, caller, func(tx *ledger.TxContext) ([]byte, error) {
		v, err := tx.GetState("REC1")
		require.NoError(t, err)
		require.Nil(t, v)
		_, cerr := store.Apply(ctx, &ledger.Commit{
			TxID: "competing", Timestamp: time.Now(),
			Writes: []ledger.Write{{Key: "REC1", Value: []byte(`{}`)}},
		})
		require.NoError(t, cerr)
		return nil, tx.PutState("REC1", []byte(`{"mine":true}`))
	})
	assert.ErrorIs(t, err, ledger.ErrMVCCConflict)
}

func TestEvaluate_RejectsWrites(t *testing.T) {
	rt, store := newRuntime(t)

	res, err := rt.Evaluate(context.Background(), caller, func(tx *ledger.TxContext) ([]byte, error) {
		assert.ErrorIs(t, tx.PutState("a", []byte("1")), ledger.ErrReadOnly)
		assert.ErrorIs(t, tx.DelState("a"), ledger.ErrReadOnly)
		return []byte("read"), nil
	})
	require.NoError(t, err)
	assert.Zero(t, res.BlockHeight)
	assert.Zero(t, store.Height())
}

func TestSubmit_PublishesEventWithHeight(t *testing.T) {
	var got []ledger.Event
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rt, _ := newRuntime(t,
		ledger.WithClock(func() time.Time { return ts }),
		ledger.WithTxIDGenerator(func() string { return "tx-fixed" }),
		ledger.WithEventSink(ledger.EventSinkFunc(func(_ context.Context, ev ledger.Event) error {
			got = append(got, ev)
			return errors.New("sink down")
		})),
	)

	res, err := rt.Submit(context.Background(), caller, func(tx *ledger.TxContext) ([]byte, error) {
		require.NoError(t, tx.SetEvent("First", []byte(`1`)))
		require.NoError(t, tx.SetEvent("Second", []byte(`2`)))
		stamp, err := tx.GetTxTimestamp()
		require.NoError(t, err)
		assert.True(t, stamp.AsTime().Equal(ts))
		return nil, tx.PutState("k", []byte("v"))
	})
	// A failing sink loses the event, not the commit
	require.NoError(t, err)
	assert.Equal(t, "tx-fixed", res.TxID)

	require.Len(t, got, 1)
	assert.Equal(t, "Second", got[0].Name)
	assert.Equal(t, res.BlockHeight, got[0].BlockHeight)
	assert.Equal(t, "tx-fixed", got[0].TxID)
	assert.True(t, got[0].Timestamp.Equal(ts))
}

func TestTxContext_DeleteAndHistory(t *testing.T) {
	rt, store := newRuntime(t)
	ctx := context.Background()

	for _, v := range []string{"v1", "v2"} {
		_, err := rt.Submit(ctx, caller, func(tx *ledger.TxContext) ([]byte, error) {
			return nil, tx.PutState("k", []byte(v))
		})
		require.NoError(t, err)
	}
	_, err := rt.Submit(ctx, caller, func(tx *ledger.TxContext) ([]byte, error) {
		if err := tx.DelState("k"); err != nil {
			return nil, err
		}
		v, err := tx.GetState("k")
		require.NoError(t, err)
		assert.Nil(t, v)
		return nil, nil
	})
	require.NoError(t, err)

	var mods []contract.KeyModification
	for m, err := range store.History(ctx, "k") {
		require.NoError(t, err)
		mods = append(mods, m)
	}
	require.Len(t, mods, 3)
	assert.Equal(t, "v1", string(mods[0].Value))
	assert.Equal(t, "v2", string(mods[1].Value))
	assert.True(t, mods[2].IsDelete)
}

func TestTxContext_QueryAndRangeUseCommittedState(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()

	_, err := rt.Submit(ctx, caller, func(tx *ledger.TxContext) ([]byte, error) {
		key, err := tx.CreateCompositeKey("access_log", []string{"REC1", "committed"})
		if err != nil {
			return nil, err
		}
		return nil, tx.PutState(key, []byte(`{"doc_type":"access_log"}`))
	})
	require.NoError(t, err)

	_, err = rt.Submit(ctx, caller, func(tx *ledger.TxContext) ([]byte, error) {
		key, _ := tx.CreateCompositeKey("access_log", []string{"REC1", "pending"})
		require.NoError(t, tx.PutState(key, []byte(`{"doc_type":"access_log"}`)))

		var keys []string
		for kv, err := range tx.GetStateByPartialCompositeKey("access_log", []string{"REC1"}) {
			require.NoError(t, err)
			keys = append(keys, kv.Key)
		}
		assert.Len(t, keys, 1, "uncommitted writes are not visible to range scans")

		var docs int
		for _, err := range tx.GetQueryResult(`{"selector":{"doc_type":"access_log"}}`) {
			require.NoError(t, err)
			docs++
		}
		assert.Equal(t, 1, docs)

		for _, err := range tx.GetQueryResult(`{"selector":{"version":{"$gt":1}}}`) {
			assert.ErrorIs(t, err, ledger.ErrUnsupportedSelector)
		}
		return nil, nil
	})
	require.NoError(t, err)
}

func TestRuntime_InvokeRoutesReadOnlyToEvaluate(t *testing.T) {
	rt, store := newRuntime(t)
	ctx := context.Background()

	res, err := rt.Invoke(ctx, caller, contract.FnRecordExists, map[string]string{contract.ParamRecordID: "REC1"})
	require.NoError(t, err)
	assert.Equal(t, "false", string(res.Payload))
	assert.Zero(t, store.Height())

	_, err = rt.Invoke(ctx, caller, contract.FnInitializeRecord, map[string]string{
		contract.ParamRecordID: "REC1", contract.ParamDataHash: "h1",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), store.Height())
}
