package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPrefersTypedError(t *testing.T) {
	typed := Execution("venue rejected swap").WithRetryable(true)
	wrapped := errors.New("wrapper: " + typed.Error())

	got := Classify(typed)
	require.Equal(t, typed, got)

	// a plain wrapped string should not match the typed fast path
	got2 := Classify(wrapped)
	assert.NotEqual(t, typed, got2)
}

func TestClassifySubstringHeuristics(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
		retr bool
	}{
		{"slippage", errors.New("slippage exceeded tolerance"), KindExecution, true},
		{"no quote", errors.New("no quote available from any venue"), KindRouting, true},
		{"invalid amount", errors.New("invalid amount: must be positive"), KindValidation, false},
		{"timeout", errors.New("dial tcp: i/o timeout"), KindSystem, true},
		{"unrecognized", errors.New("something unprecedented happened"), KindSystem, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			assert.Equal(t, tc.kind, got.Kind)
			assert.Equal(t, tc.retr, got.Retryable)
		})
	}
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	base := Routing("all venues failed")
	derived := base.WithContext("order_id", "abc123")

	assert.Empty(t, base.Context)
	assert.Equal(t, "abc123", derived.Context["order_id"])
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := System("redis write failed").WithCause(cause)

	assert.ErrorIs(t, wrapped, cause)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(System("db unavailable")))
	assert.False(t, IsRetryable(Validation("bad mint")))
}
