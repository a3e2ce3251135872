package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err      error
		expected int
	}{
		{err: nil, expected: http.StatusOK},
		{err: BadRequest("op", "x"), expected: http.StatusBadRequest},
		{err: New(KindInvalidIndex, "op", "x"), expected: http.StatusBadRequest},
		{err: Unauthenticated("op", "x"), expected: http.StatusUnauthorized},
		{err: NotFound("op", "x"), expected: http.StatusNotFound},
		{err: New(KindInternalFormat, "op", "x"), expected: http.StatusInternalServerError},
		{err: New(KindUpstreamUnavailable, "op", "x"), expected: http.StatusBadGateway},
		{err: New(KindUpstreamMalformed, "op", "x"), expected: http.StatusBadGateway},
		{err: errors.New("raw"), expected: http.StatusInternalServerError},
		{err: fmt.Errorf("outer: %w", NotFound("op", "x")), expected: http.StatusNotFound},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, StatusCode(c.err), fmt.Sprint(c.err))
	}
}

func TestMessage(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindUpstreamUnavailable, "content.semesters", "portal unreachable", cause)

	require.Equal(t, "portal unreachable", Message(err))
	require.ErrorIs(t, err, cause)
	require.True(t, Is(err, KindUpstreamUnavailable))
	require.Equal(t, "internal error", Message(cause))
}
