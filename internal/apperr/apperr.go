package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthenticated
	KindNotFound
	KindInvalidIndex
	KindInternalFormat
	KindUpstreamUnavailable
	KindUpstreamMalformed
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindInvalidIndex:
		return "invalid_index"
	case KindInternalFormat:
		return "internal_format"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUpstreamMalformed:
		return "upstream_malformed"
	default:
		return "internal"
	}
}

// Status is the http status a kind is reported with.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest, KindInvalidIndex:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstreamUnavailable, KindUpstreamMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Op names the operation it happened in and
// Message is safe to show to the caller.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func Unauthenticated(op, message string) *Error {
	return New(KindUnauthenticated, op, message)
}

func NotFound(op, message string) *Error {
	return New(KindNotFound, op, message)
}

func BadRequest(op, message string) *Error {
	return New(KindBadRequest, op, message)
}

func Internal(op string, err error) *Error {
	return Wrap(KindInternal, op, "internal error", err)
}

// KindOf returns the kind of the first *Error in err's chain, KindInternal
// when there is none.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindInternal
}

// StatusCode maps err onto an http status, nil is 200.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return KindOf(err).Status()
}

// Message is the caller facing text for err, unclassified errors never leak
// their text.
func Message(err error) string {
	var target *Error
	if errors.As(err, &target) {
		return target.Message
	}
	return "internal error"
}

func Is(err error, kind Kind) bool {
	var target *Error
	return errors.As(err, &target) && target.Kind == kind
}
