package server

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/oauth2-engine/oautherr"
)

// DangerousSchemes are never accepted as redirect targets.
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about", "blob"}

// Parameters each endpoint accepts at most once (RFC 6749 §3.1, §3.2).
var (
	authorizeParams = []string{
		"client_id", "response_type", "redirect_uri", "scope", "state",
		"code_challenge", "code_challenge_method", "allowed",
	}
	tokenParams = []string{
		"grant_type", "client_id", "client_secret", "scope", "code", "redirect_uri",
		"code_verifier", "refresh_token", "username", "password",
	}
	revokeParams = []string{"token", "token_type_hint", "client_id", "client_secret"}
)

// rejectRepeated fails with invalid_request when one of keys was sent more than once.
func rejectRepeated(req *Request, keys ...string) error {
	if key := req.repeated(keys...); key != "" {
		return oautherr.InvalidRequest("invalid parameter: " + key + " must not be repeated")
	}
	return nil
}

// isVSChar reports whether s is non-empty and consists of RFC 6749 Appendix A VSCHAR
// (%x20-7E). client_id and state use this grammar.
func isVSChar(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// isUnicodeCharNoCRLF reports whether s contains no control characters that could
// split a header or log line. Used for username and password.
func isUnicodeCharNoCRLF(s string) bool {
	return !strings.ContainsAny(s, "\r\n\x00")
}

// validateRedirectURI checks that uri is an absolute URI without a fragment
// (RFC 6749 §3.1.2) and does not use a scheme that could run script.
func validateRedirectURI(uri string) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("redirect_uri is not a valid URI: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("redirect_uri must be an absolute URI")
	}
	if u.Fragment != "" {
		return nil, fmt.Errorf("redirect_uri must not contain a fragment")
	}
	scheme := strings.ToLower(u.Scheme)
	for _, dangerous := range DangerousSchemes {
		if scheme == dangerous {
			return nil, fmt.Errorf("redirect_uri scheme '%s' is not allowed for security reasons", u.Scheme)
		}
	}
	return u, nil
}

// buildRedirect appends params to the query of base, keeping any existing query.
func buildRedirect(base *url.URL, params url.Values) string {
	u := *base
	q := u.Query()
	for key, values := range params {
		q[key] = values
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// buildFragmentRedirect puts params into the fragment of base (implicit grant, RFC 6749 §4.2.2).
func buildFragmentRedirect(base *url.URL, params url.Values) string {
	u := *base
	u.Fragment = ""
	u.RawFragment = ""
	return u.String() + "#" + params.Encode()
}
