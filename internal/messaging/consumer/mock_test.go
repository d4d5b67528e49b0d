package consumer

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"censustwin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockConsumer_AckAndRequeue(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	mc := NewMockConsumer(logger,
		&models.Invocation{RequestID: "r1", Function: "GetRecord"},
		&models.Invocation{RequestID: "r2", Function: "GetRecord"},
	)
	ctx := context.Background()

	inv, ack, err := mc.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", inv.RequestID)
	ack(false)

	inv, ack, err = mc.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", inv.RequestID)
	ack(true)

	inv, ack, err = mc.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", inv.RequestID, "NACKed invocation is redelivered")
	ack(true)

	assert.Equal(t, map[string][]bool{"r1": {false, true}, "r2": {true}}, mc.Acks())
}

func TestMockConsumer_ContextAndClose(t *testing.T) {
	mc := NewMockConsumer(log.New(io.Discard, "", 0), &models.Invocation{RequestID: "r1"})
	_, _, err := mc.Consume(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = mc.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, mc.Close())
	_, _, err = mc.Consume(context.Background())
	assert.EqualError(t, err, "message channel closed")
}

func TestMockConsumer_DefaultsToPredefinedWorkflow(t *testing.T) {
	mc := NewMockConsumer(log.New(io.Discard, "", 0))
	for _, want := range PredefinedInvocations {
		inv, _, err := mc.Consume(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want.RequestID, inv.RequestID)
	}
}
