package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Contains(t, err.Error(), "upstream failed")
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("call engine: %w", NewRateLimitError("slow down"))

	e, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, e.HTTPStatus)
	assert.True(t, IsRetryable(wrapped))
	assert.True(t, IsErrorCode(wrapped, ErrRateLimit))
	assert.False(t, IsErrorCode(wrapped, ErrDeadlineExceeded))
}

func TestIsErrorCode_NestedCause(t *testing.T) {
	t.Parallel()

	inner := NewDeadlineError("deadline")
	outer := NewError(ErrUpstreamError, "engine").WithCause(inner)

	assert.True(t, IsErrorCode(outer, ErrDeadlineExceeded))
	assert.Equal(t, ErrUpstreamError, GetErrorCode(outer))
	assert.False(t, IsErrorCode(errors.New("plain"), ErrUpstreamError))
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))
}

func TestMessage_Text(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Message{Role: RoleAssistant}.Text())
	assert.Equal(t, "hi", NewMessage(RoleUser, "hi").Text())
}
