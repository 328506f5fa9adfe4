package serviceerr

import (
	"errors"
	"net/http"
)

type Code string

const (
	// RFC6749 errors
	CodeInvalidRequest         Code = "invalid_request"
	CodeAccessDenied           Code = "access_denied"
	CodeServerError            Code = "server_error"
	CodeTemporarilyUnavailable Code = "temporarily_unavailable"
	CodeInvalidGrant           Code = "invalid_grant"

	// Custom codes
	CodeUnknown      Code = "unknown"
	CodeConflict     Code = "conflict"
	CodeNotFound     Code = "not_found"
	CodeInvalidState Code = "invalid_state"
	CodeUnauthorized Code = "unauthorized"
	CodeUpstream     Code = "upstream_error"
)

// Error is a service error exposed to HTTP clients. Its code is the
// value of the "error" field in the JSON body.
type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeInvalidGrant, CodeInvalidState:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeAccessDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUpstream:
		return http.StatusBadGateway
	case CodeTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrInvalidRequest = &Error{Err: CodeInvalidRequest}
	ErrServerError    = &Error{Err: CodeServerError}

	ErrUnknown      = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrConflict     = &Error{Err: CodeConflict, Description: "already exists"}
	ErrNotFound     = &Error{Err: CodeNotFound, Description: "not found"}
	ErrInvalidState = &Error{Err: CodeInvalidState, Description: "invalid or expired state parameter"}
	ErrUnauthorized = &Error{Err: CodeUnauthorized, Description: "invalid or expired token"}
	ErrUpstream     = &Error{Err: CodeUpstream, Description: "identity provider request failed"}
)

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var serviceErr *Error
	if !errors.As(err, &serviceErr) {
		return false
	}

	return serviceErr.Err == code
}
