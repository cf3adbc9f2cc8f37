package provider

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("send: %w", &Error{
		Kind:       ErrUnreachable,
		Message:    "try later",
		Recipients: []string{"a@example.com"},
		Err:        io.ErrUnexpectedEOF,
	})

	require.ErrorIs(t, err, ErrUnreachable)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.False(t, errors.Is(err, ErrRejected))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{"a@example.com"}, perr.Recipients)
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: ErrRejected, StatusCode: 400, RequestID: "abc"}
	assert.Equal(t, "delivery: rejected by provider (HTTP 400) [opc-request-id abc]", err.Error())

	err = &Error{Kind: ErrConfiguration, Err: errors.New("no key")}
	assert.Equal(t, "delivery: configuration error: no key", err.Error())
}

func TestUnwrapSkipsNilCause(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: ErrRateLimited}
	assert.Equal(t, []error{ErrRateLimited}, err.Unwrap())
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "localized", UserMessage(&Error{Kind: ErrRejected, Message: "localized"}, "fallback"))
	assert.Equal(t, "fallback", UserMessage(errors.New("plain"), "fallback"))
	assert.Equal(t, "fallback", UserMessage(&Error{Kind: ErrRejected}, "fallback"))
}
