package models

// Invocation is a queued contract call, produced by the gateway and executed by the engine
type Invocation struct {
	RequestID   string            `json:"request_id"`
	Function    string            `json:"function"`
	Args        map[string]string `json:"args"`
	AuthorityID string            `json:"authority_id"`
	IdentityID  string            `json:"identity_id"`
	SubmittedAt string            `json:"submitted_at"` // RFC3339
}
