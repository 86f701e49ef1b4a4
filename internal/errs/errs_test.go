package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorStringIncludesContext(t *testing.T) {
	err := &Error{
		Kind:        KindConsistency,
		TenantID:    "bgu1",
		AggregateID: "course-7",
		EventType:   "grade.updated",
		Msg:         "version conflict",
	}
	s := err.Error()
	require.Contains(t, s, "consistency")
	require.Contains(t, s, "tenant=bgu1")
	require.Contains(t, s, "aggregate=course-7")
	require.Contains(t, s, "event=grade.updated")
}

func TestIsMatchesByKind(t *testing.T) {
	err := Connection("bgu1", "pool exhausted", errors.New("timeout"))
	require.True(t, errors.Is(err, &Error{Kind: KindConnection}))
	require.False(t, errors.Is(err, &Error{Kind: KindValidation}))
}

func TestIsKindSeesThroughWrapping(t *testing.T) {
	inner := Consistency("bgu1", "c1", "duplicate version")
	wrapped := fmt.Errorf("append failed: %w", inner)

	require.True(t, IsKind(wrapped, KindConsistency))
	require.False(t, IsKind(wrapped, KindConnection))
	require.False(t, IsKind(errors.New("plain"), KindConsistency))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Connection("tau1", "open pool", cause)
	require.ErrorIs(t, err, cause)
}

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(Connection("bgu1", "down", nil)))
	require.False(t, Retryable(Validation("bgu1", "bad id")))
	require.False(t, Retryable(Consistency("bgu1", "c1", "conflict")))
	require.False(t, Retryable(nil))
}

func TestEmptyHistoryIsConsistency(t *testing.T) {
	require.True(t, IsKind(EmptyHistory, KindConsistency))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "validation", KindValidation.String())
	require.Equal(t, "not_initialized", KindNotInitialized.String())
	require.Equal(t, "unknown", Kind(99).String())
}
