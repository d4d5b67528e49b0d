package types

// TxResult is the outcome of a contract invocation as seen by ledger clients.
// Independent of the ledger implementation behind the client.
type TxResult struct {
	TransactionID string // ledger transaction id
	BlockHeight   uint64 // height the transaction committed at; zero for evaluations
	Payload       []byte // contract return value
}

// InvocationStatus classifies how an invocation ended
type InvocationStatus string

const (
	StatusSuccess  InvocationStatus = "Success"
	StatusRejected InvocationStatus = "Rejected" // contract refused: already exists, not found, invalid argument
	StatusConflict InvocationStatus = "Conflict" // MVCC conflict at commit, safe to resubmit
	StatusFailed   InvocationStatus = "Failed"   // fatal: storage or transport failure
)

// LedgerStats summarises the world state of a ledger
type LedgerStats struct {
	RecordsCount int `json:"records_count"`
	LogsCount    int `json:"logs_count"`
}

// LedgerDescription identifies the ledger a client is bound to
type LedgerDescription struct {
	BlockchainType string `json:"blockchain_type"`
	Mode           string `json:"mode"` // "local" or "network"
	Channel        string `json:"channel"`
	Contract       string `json:"contract"`
}
