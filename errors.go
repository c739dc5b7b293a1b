package oauth

import (
	"github.com/giantswarm/oauth2-engine/oautherr"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = oautherr.CodeInvalidRequest
	ErrorCodeInvalidClient           = oautherr.CodeInvalidClient
	ErrorCodeInvalidGrant            = oautherr.CodeInvalidGrant
	ErrorCodeInvalidScope            = oautherr.CodeInvalidScope
	ErrorCodeInvalidToken            = oautherr.CodeInvalidToken
	ErrorCodeUnauthorizedClient      = oautherr.CodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType    = oautherr.CodeUnsupportedGrantType
	ErrorCodeUnsupportedResponseType = oautherr.CodeUnsupportedResponseType
	ErrorCodeAccessDenied            = oautherr.CodeAccessDenied
	ErrorCodeInsufficientScope       = oautherr.CodeInsufficientScope
	ErrorCodeUnauthorizedRequest     = oautherr.CodeUnauthorizedRequest
	ErrorCodeServerError             = oautherr.CodeServerError

	// ErrorCodeRateLimitExceeded is adapter-only; the engine never returns it
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// OAuthError is the error type every engine operation returns
type OAuthError = oautherr.Error

// Sentinels for errors.Is matching by kind
var (
	ErrInvalidRequest          = oautherr.ErrInvalidRequest
	ErrInvalidClient           = oautherr.ErrInvalidClient
	ErrInvalidGrant            = oautherr.ErrInvalidGrant
	ErrInvalidScope            = oautherr.ErrInvalidScope
	ErrInvalidToken            = oautherr.ErrInvalidToken
	ErrUnauthorizedClient      = oautherr.ErrUnauthorizedClient
	ErrUnsupportedGrantType    = oautherr.ErrUnsupportedGrantType
	ErrUnsupportedResponseType = oautherr.ErrUnsupportedResponseType
	ErrAccessDenied            = oautherr.ErrAccessDenied
	ErrInsufficientScope       = oautherr.ErrInsufficientScope
	ErrUnauthorizedRequest     = oautherr.ErrUnauthorizedRequest
	ErrServerError             = oautherr.ErrServerError
)

// newErrorResponse renders err as the RFC 6749 §5.2 body. Server errors keep
// their cause out of the description.
func newErrorResponse(err *OAuthError) ErrorResponse {
	return ErrorResponse{
		Error:            err.Code(),
		ErrorDescription: err.Description,
	}
}
