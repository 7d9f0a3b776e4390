package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitedProvider_PassThrough(t *testing.T) {
	t.Parallel()

	mock := NewMockProvider()
	mock.QueueResponse(&ChatResponse{Model: "m", Choices: []ChatChoice{{Message: Message{Role: RoleAssistant, Content: "hi"}}}})

	limited := NewRateLimitedProvider(mock, 0, 0) // limiting disabled
	resp, err := limited.Completion(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.OutputText())
	assert.Equal(t, "mock", limited.Name())
}

func TestRateLimitedProvider_CanceledWait(t *testing.T) {
	t.Parallel()

	mock := NewMockProvider()
	// Tiny rate with an exhausted burst forces Wait to block.
	limited := NewRateLimitedProvider(mock, 0.0001, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := limited.Completion(ctx, &ChatRequest{Model: "m"})
	require.NoError(t, err) // first call consumes the burst token

	_, err = limited.Completion(ctx, &ChatRequest{Model: "m"})
	require.Error(t, err)
	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrUpstreamTimeout, llmErr.Code)
}

func TestMockProvider_Script(t *testing.T) {
	t.Parallel()

	mock := NewMockProvider()
	mock.QueueResponse(&ChatResponse{Model: "a"})
	mock.QueueError(&Error{Code: ErrRateLimited, Message: "slow down"})

	resp, err := mock.Completion(context.Background(), &ChatRequest{Model: "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Model)

	_, err = mock.Completion(context.Background(), &ChatRequest{Model: "a"})
	require.Error(t, err)

	// Exhausted script fails loudly rather than hanging the caller.
	_, err = mock.Completion(context.Background(), &ChatRequest{Model: "a"})
	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrUpstreamError, llmErr.Code)

	assert.Len(t, mock.Requests(), 3)
}
