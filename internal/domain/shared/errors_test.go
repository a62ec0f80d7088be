package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"domain error", NewDomainError(ErrCodeSendRejectedEmpty, "empty"), ErrCodeSendRejectedEmpty},
		{"formatted domain error", NewDomainErrorf(ErrCodeNotFound, "%s missing", "venue"), ErrCodeNotFound},
		{"wrapped cause", WrapDomainError(errors.New("dial tcp"), ErrCodeChannelSubscription, "subscribe"), ErrCodeChannelSubscription},
		{"wrapped by fmt", fmt.Errorf("outer: %w", ErrInvalidInput("bad")), ErrCodeInvalidInput},
		{"plain error", errors.New("boom"), ErrCodeUnknown},
		{"nil", nil, ErrCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestWrapDomainError_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapDomainError(cause, ErrCodeSendFailedTransient, "publish failed")

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsCode(err, ErrCodeSendFailedTransient))
	assert.Equal(t, "SEND_FAILED_TRANSIENT", CodeString(err))
	assert.Contains(t, err.Error(), "publish failed")
}

func TestWrapDomainError_Nil(t *testing.T) {
	assert.Nil(t, WrapDomainError(nil, ErrCodeStoreFailure, "noop"))
	assert.False(t, IsCode(nil, ErrCodeStoreFailure))
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.False(t, a.IsEmpty())
	assert.True(t, ID("").IsEmpty())
}
