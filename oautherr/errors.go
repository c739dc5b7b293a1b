// Package oautherr defines the closed set of OAuth 2.0 error kinds raised by the engine.
// It is a leaf package so that storage backends, grant handlers and transport adapters
// can all create and inspect protocol errors without import cycles.
package oautherr

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes (RFC 6749 §4.1.2.1, §5.2 and RFC 6750 §3.1)
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeInvalidScope            = "invalid_scope"
	CodeInvalidToken            = "invalid_token"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeAccessDenied            = "access_denied"
	CodeInsufficientScope       = "insufficient_scope"
	CodeUnauthorizedRequest     = "unauthorized_request"
	CodeServerError             = "server_error"
)

// Kind identifies one member of the error taxonomy.
type Kind int

// Error kinds. The zero value is deliberately not a valid kind.
const (
	_ Kind = iota
	KindInvalidRequest
	KindInvalidClient
	KindInvalidGrant
	KindInvalidScope
	KindInvalidToken
	KindUnauthorizedClient
	KindUnsupportedGrantType
	KindUnsupportedResponseType
	KindAccessDenied
	KindInsufficientScope
	KindUnauthorizedRequest
	KindServerError
)

var kindInfo = map[Kind]struct {
	code   string
	status int
}{
	KindInvalidRequest:          {CodeInvalidRequest, http.StatusBadRequest},
	KindInvalidClient:           {CodeInvalidClient, http.StatusUnauthorized},
	KindInvalidGrant:            {CodeInvalidGrant, http.StatusBadRequest},
	KindInvalidScope:            {CodeInvalidScope, http.StatusBadRequest},
	KindInvalidToken:            {CodeInvalidToken, http.StatusUnauthorized},
	KindUnauthorizedClient:      {CodeUnauthorizedClient, http.StatusBadRequest},
	KindUnsupportedGrantType:    {CodeUnsupportedGrantType, http.StatusBadRequest},
	KindUnsupportedResponseType: {CodeUnsupportedResponseType, http.StatusBadRequest},
	KindAccessDenied:            {CodeAccessDenied, http.StatusForbidden},
	KindInsufficientScope:       {CodeInsufficientScope, http.StatusForbidden},
	KindUnauthorizedRequest:     {CodeUnauthorizedRequest, http.StatusUnauthorized},
	KindServerError:             {CodeServerError, http.StatusInternalServerError},
}

// Code returns the machine-readable OAuth error code for the kind.
func (k Kind) Code() string {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return CodeServerError
}

// Status returns the canonical HTTP status for the kind.
func (k Kind) Status() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

func (k Kind) String() string {
	return k.Code()
}

// Error is an OAuth 2.0 protocol error. Every failure the engine reports is an *Error,
// so adapters need a single mapping rule: status from Status, body from Code and Description.
type Error struct {
	Kind        Kind
	Description string // Human-readable error description
	Cause       error  // Underlying error, never rendered to clients
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Description)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. This lets callers match
// with the sentinel values below regardless of description.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Code returns the OAuth error code, e.g. "invalid_grant".
func (e *Error) Code() string {
	return e.Kind.Code()
}

// Status returns the HTTP status code associated with the error kind.
func (e *Error) Status() int {
	return e.Kind.Status()
}

// New creates an error of the given kind.
func New(kind Kind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}

// Wrap creates an error of the given kind that records cause.
func Wrap(kind Kind, description string, cause error) *Error {
	return &Error{Kind: kind, Description: description, Cause: cause}
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidRequest          = &Error{Kind: KindInvalidRequest}
	ErrInvalidClient           = &Error{Kind: KindInvalidClient}
	ErrInvalidGrant            = &Error{Kind: KindInvalidGrant}
	ErrInvalidScope            = &Error{Kind: KindInvalidScope}
	ErrInvalidToken            = &Error{Kind: KindInvalidToken}
	ErrUnauthorizedClient      = &Error{Kind: KindUnauthorizedClient}
	ErrUnsupportedGrantType    = &Error{Kind: KindUnsupportedGrantType}
	ErrUnsupportedResponseType = &Error{Kind: KindUnsupportedResponseType}
	ErrAccessDenied            = &Error{Kind: KindAccessDenied}
	ErrInsufficientScope       = &Error{Kind: KindInsufficientScope}
	ErrUnauthorizedRequest     = &Error{Kind: KindUnauthorizedRequest}
	ErrServerError             = &Error{Kind: KindServerError}
)

// InvalidRequest indicates the request is malformed or missing required parameters
func InvalidRequest(desc string) *Error { return New(KindInvalidRequest, desc) }

// InvalidClient indicates client authentication failed
func InvalidClient(desc string) *Error { return New(KindInvalidClient, desc) }

// InvalidGrant indicates the authorization code or refresh token is invalid or expired
func InvalidGrant(desc string) *Error { return New(KindInvalidGrant, desc) }

// InvalidScope indicates the requested scope is invalid, unknown or exceeds what is allowed
func InvalidScope(desc string) *Error { return New(KindInvalidScope, desc) }

// InvalidToken indicates the access token is unknown or expired
func InvalidToken(desc string) *Error { return New(KindInvalidToken, desc) }

// UnauthorizedClient indicates the client may not use the requested grant or response type
func UnauthorizedClient(desc string) *Error { return New(KindUnauthorizedClient, desc) }

// UnsupportedGrantType indicates the grant type is not supported
func UnsupportedGrantType(desc string) *Error { return New(KindUnsupportedGrantType, desc) }

// UnsupportedResponseType indicates the response type is not supported
func UnsupportedResponseType(desc string) *Error { return New(KindUnsupportedResponseType, desc) }

// AccessDenied indicates the resource owner or authorization server denied the request
func AccessDenied(desc string) *Error { return New(KindAccessDenied, desc) }

// InsufficientScope indicates the token lacks a scope required by the resource
func InsufficientScope(desc string) *Error { return New(KindInsufficientScope, desc) }

// UnauthorizedRequest indicates the request lacks an authenticated resource owner
func UnauthorizedRequest(desc string) *Error { return New(KindUnauthorizedRequest, desc) }

// ServerError indicates an internal failure, typically in the store
func ServerError(desc string, cause error) *Error { return Wrap(KindServerError, desc, cause) }

// From converts any error into an *Error. Protocol errors pass through unchanged;
// everything else becomes a ServerError that keeps the original as its cause.
// From(nil) returns nil.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return ServerError("internal server error", err)
}
