package chat

import (
	"errors"
	"net/http"

	"chat-relay/internal/auth"
)

var (
	ErrUnauthenticated  = auth.ErrUnauthenticated
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreFailed      = errors.New("store failed")
	ErrConnectionClosed = errors.New("connection closed")
)

// Error pairs a taxonomy sentinel with a human readable message and the
// underlying cause. errors.Is matches both the sentinel and the cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func newError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Code maps an error to the reason code sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConnectionClosed):
		return "connection_closed"
	default:
		return "store_failed"
	}
}

func HTTPStatus(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case "unauthenticated":
		return http.StatusUnauthorized
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "invalid_input":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to show a client. Store failures never
// leak their cause.
func PublicMessage(err error) string {
	var e *Error
	if Code(err) != "store_failed" && errors.As(err, &e) {
		return e.Message
	}
	switch Code(err) {
	case "unauthenticated":
		return "missing or invalid credential"
	case "store_failed":
		return "internal server error"
	default:
		return err.Error()
	}
}
