package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIs(t *testing.T) {
	err := New(KindQuery, "fetch", "game", errors.New("no such table"))
	wrapped := fmt.Errorf("pass failed: %w", err)

	assert.True(t, errors.Is(wrapped, ErrQuery))
	assert.False(t, errors.Is(wrapped, ErrSourceUnavailable))
	assert.Equal(t, KindQuery, KindOf(wrapped))
	assert.Equal(t, "QueryError during fetch on game: no such table", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected bool
	}{
		{KindSourceUnavailable, true},
		{KindQuery, true},
		{KindSinkUnavailable, true},
		{KindConfiguration, false},
		{KindDanglingReference, false},
		{KindPartialReplace, false},
		{KindData, false},
		{KindDependencyFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.Retryable())
		})
	}
}

func TestWithTable(t *testing.T) {
	err := WithTable(New(KindSinkUnavailable, "replace", "", errors.New("timeout")), "Game")
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "Game", e.Table)

	// 已有表名时不覆盖
	err = WithTable(New(KindSinkUnavailable, "replace", "Genre", nil), "Game")
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "Genre", e.Table)
}

func TestKindText(t *testing.T) {
	b, err := KindDanglingReference.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "DanglingReferenceError", string(b))
	assert.Equal(t, "Kind(99)", Kind(99).String())
}
