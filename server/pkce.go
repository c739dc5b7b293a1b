package server

import (
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
)

// PKCE parameters (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// isPKCEString reports whether s is 43-128 characters of [A-Za-z0-9-._~].
// Both code_verifier and code_challenge share this grammar.
func isPKCEString(s string) bool {
	if len(s) < MinCodeVerifierLength || len(s) > MaxCodeVerifierLength {
		return false
	}
	for _, ch := range s {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return false
		}
	}
	return true
}

// validateCodeChallenge checks the PKCE parameters of an authorization request and
// returns the effective method. An empty challenge returns an empty method.
func (s *Server) validateCodeChallenge(challenge, method string, publicClient bool) (string, error) {
	if challenge == "" {
		if method != "" {
			return "", oautherr.InvalidRequest("invalid request: code_challenge_method requires code_challenge")
		}
		if publicClient && s.Config.RequirePKCEForPublicClients {
			return "", oautherr.InvalidRequest("invalid request: code_challenge is required for public clients")
		}
		return "", nil
	}

	if !isPKCEString(challenge) {
		return "", oautherr.InvalidRequest("invalid parameter: code_challenge")
	}

	// RFC 7636 §4.3: defaults to plain when omitted
	if method == "" {
		method = PKCEMethodPlain
	}
	switch method {
	case PKCEMethodS256:
	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return "", oautherr.InvalidRequest("invalid request: 'plain' code_challenge_method is not allowed")
		}
	default:
		return "", oautherr.InvalidRequest("invalid parameter: code_challenge_method")
	}
	return method, nil
}

// verifyCodeVerifier checks a code_verifier against the challenge stored with the code.
func verifyCodeVerifier(challenge, method, verifier string) error {
	if challenge == "" {
		if verifier != "" {
			return oautherr.InvalidGrant("invalid grant: code_verifier sent for a code issued without code_challenge")
		}
		return nil
	}
	if verifier == "" {
		return oautherr.InvalidGrant("invalid grant: code_verifier is required")
	}
	if !isPKCEString(verifier) {
		return oautherr.InvalidGrant("invalid grant: malformed code_verifier")
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case PKCEMethodPlain:
		computed = verifier
	default:
		return oautherr.InvalidGrant("invalid grant: unsupported code_challenge_method")
	}

	if !security.ConstantTimeEqual(computed, challenge) {
		return oautherr.InvalidGrant("invalid grant: code_verifier does not match code_challenge")
	}
	return nil
}
