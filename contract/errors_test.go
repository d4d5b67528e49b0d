package contract_test

import (
	"errors"
	"fmt"
	"testing"

	"censustwin/contract"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageRoundTrip(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
		code     string
	}{
		{fmt.Errorf("%w: record REC1 already exists on ledger", contract.ErrAlreadyExists), contract.ErrAlreadyExists, contract.CodeAlreadyExists},
		{fmt.Errorf("%w: record REC9 not found on ledger", contract.ErrNotFound), contract.ErrNotFound, contract.CodeNotFound},
		{fmt.Errorf("%w: decision must be one of APPROVED, REJECTED", contract.ErrInvalidArgument), contract.ErrInvalidArgument, contract.CodeInvalidArgument},
	}
	for _, tc := range cases {
		msg := contract.EncodeError(tc.err)
		assert.Equal(t, tc.code+": "+tc.err.Error(), msg)

		restored := contract.ErrorFromMessage(msg)
		assert.ErrorIs(t, restored, tc.sentinel, msg)
		assert.Equal(t, tc.err.Error(), restored.Error())
	}
}

func TestErrorMessageRoundTrip_Fatal(t *testing.T) {
	msg := contract.EncodeError(&contract.FatalError{Op: "put record", Err: errors.New("disk full")})
	assert.Equal(t, "FATAL: fatal store failure: put record: disk full", msg)
	assert.ErrorIs(t, contract.ErrorFromMessage(msg), contract.ErrFatal)

	// errors without a sentinel are encoded as fatal
	assert.ErrorIs(t, contract.ErrorFromMessage(contract.EncodeError(errors.New("boom"))), contract.ErrFatal)
}

func TestErrorFromMessage_UnknownCode(t *testing.T) {
	for _, msg := range []string{"no separator", "OTHER: something"} {
		err := contract.ErrorFromMessage(msg)
		assert.EqualError(t, err, msg)
		assert.False(t, errors.Is(err, contract.ErrFatal))
		assert.Equal(t, contract.CodeFatal, contract.ErrorCode(err))
	}
}
