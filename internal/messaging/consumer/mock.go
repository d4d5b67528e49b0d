package consumer

import (
	"context"
	"errors"
	"log"
	"sync"

	"censustwin/contract"
	"censustwin/internal/models"
)

// MockConsumer replays a fixed set of invocations, re-queueing any that are NACKed.
type MockConsumer struct {
	logger   *log.Logger
	messages chan *models.Invocation

	mu   sync.Mutex
	acks map[string][]bool
}

// PredefinedInvocations is a small census workflow: anchor, duplicate anchor, review, verify, read.
var PredefinedInvocations = []*models.Invocation{
	{
		RequestID: "mock-0001", Function: contract.FnInitializeRecord,
		Args: map[string]string{
			contract.ParamRecordID: "REC-MOCK-1",
			contract.ParamDataHash: "4f2a9c0d1b7e",
			contract.ParamMetadata: `{"household_id":"HH-MOCK-1","flag_status":"REVIEW"}`,
		},
		AuthorityID: "CensusAuthorityMSP", IdentityID: "mock-enumerator",
	},
	{
		// Same record id: rejected with AlreadyExists and acknowledged, not retried
		RequestID: "mock-0002", Function: contract.FnInitializeRecord,
		Args: map[string]string{
			contract.ParamRecordID: "REC-MOCK-1",
			contract.ParamDataHash: "ffffffffffff",
		},
		AuthorityID: "CensusAuthorityMSP", IdentityID: "mock-enumerator",
	},
	{
		RequestID: "mock-0003", Function: contract.FnReviewRecord,
		Args: map[string]string{
			contract.ParamRecordID:   "REC-MOCK-1",
			contract.ParamReviewerID: "officer-7",
			contract.ParamDecision:   string(contract.StatusApproved),
		},
		AuthorityID: "AuditAuthorityMSP", IdentityID: "mock-review-service",
	},
	{
		RequestID: "mock-0004", Function: contract.FnVerifyIntegrity,
		Args: map[string]string{
			contract.ParamRecordID:     "REC-MOCK-1",
			contract.ParamProvidedHash: "4f2a9c0d1b7e",
		},
		AuthorityID: "AuditAuthorityMSP", IdentityID: "mock-auditor",
	},
	{
		RequestID: "mock-0005", Function: contract.FnGetRecord,
		Args:        map[string]string{contract.ParamRecordID: "REC-MOCK-1"},
		AuthorityID: "AuditAuthorityMSP", IdentityID: "mock-auditor",
	},
}

// NewMockConsumer creates a MockConsumer loaded with invs, or PredefinedInvocations when none are given.
func NewMockConsumer(logger *log.Logger, invs ...*models.Invocation) *MockConsumer {
	if len(invs) == 0 {
		invs = PredefinedInvocations
	}
	mc := &MockConsumer{
		logger:   logger,
		messages: make(chan *models.Invocation, len(invs)+5),
		acks:     make(map[string][]bool),
	}
	for _, inv := range invs {
		mc.messages <- inv
	}
	logger.Printf("[MockConsumer] Loaded %d invocations", len(invs))
	return mc
}

// Consume hands out the next queued invocation.
func (m *MockConsumer) Consume(ctx context.Context) (*models.Invocation, func(success bool), error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case inv, ok := <-m.messages:
		if !ok {
			return nil, nil, errors.New("message channel closed")
		}
		m.logger.Printf("[MockConsumer] Consumed invocation: request_id=%s function=%s", inv.RequestID, inv.Function)

		ack := func(success bool) {
			m.mu.Lock()
			m.acks[inv.RequestID] = append(m.acks[inv.RequestID], success)
			m.mu.Unlock()
			if success {
				return
			}
			select {
			case m.messages <- inv:
				m.logger.Printf("[MockConsumer] NACK, re-queued: request_id=%s", inv.RequestID)
			default:
				m.logger.Printf("[MockConsumer] Warning: NACK but queue full, dropping: request_id=%s", inv.RequestID)
			}
		}
		return inv, ack, nil
	}
}

// Acks returns the ack outcomes seen per request id, in order.
func (m *MockConsumer) Acks() map[string][]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]bool, len(m.acks))
	for k, v := range m.acks {
		out[k] = append([]bool(nil), v...)
	}
	return out
}

// Close closes the message channel.
func (m *MockConsumer) Close() error {
	m.logger.Println("[MockConsumer] Closing...")
	close(m.messages)
	return nil
}

var _ Consumer = (*MockConsumer)(nil)
