package contract

import (
	"iter"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// KV is one key/value pair produced by a range scan or a selector query.
type KV struct {
	Key   string
	Value []byte
}

// KeyModification is one historical version of a key.
type KeyModification struct {
	TxID      string
	Timestamp *timestamppb.Timestamp
	IsDelete  bool
	Value     []byte
}

// WorldState is the transactional view of the ledger handed to every invocation.
// Writes are buffered in the invocation's write-set and committed atomically by the runtime, or not at all.
// Sequences hold an underlying cursor that is released when iteration stops, on every exit path.
type WorldState interface {
	IdentityAccessor

	GetTxID() string
	// GetTxTimestamp is agreed before execution, so every executor stamps the same value.
	GetTxTimestamp() (*timestamppb.Timestamp, error)

	GetState(key string) ([]byte, error)
	PutState(key string, value []byte) error

	CreateCompositeKey(objectType string, attributes []string) (string, error)
	GetStateByPartialCompositeKey(objectType string, attributes []string) iter.Seq2[KV, error]
	GetHistoryForKey(key string) iter.Seq2[KeyModification, error]
	// GetQueryResult runs a selector query against the document store backing the world state.
	GetQueryResult(query string) iter.Seq2[KV, error]

	SetEvent(name string, payload []byte) error
}
