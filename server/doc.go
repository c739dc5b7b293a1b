// Package server implements the OAuth 2.0 authorization server engine.
//
// The engine is transport-neutral: every flow takes a Request snapshot and fills in a
// Response, and all persistence goes through a storage.Store. It never writes to a
// network connection itself; the root oauth package adapts it to net/http.
//
// Flows:
//   - Authenticate validates bearer tokens on protected resources (RFC 6750)
//   - Authorize issues authorization codes and implicit tokens (RFC 6749 §4.1, §4.2)
//   - Token exchanges grants for tokens (RFC 6749 §4.1.3, §4.3, §4.4, §6)
//   - Revoke invalidates access and refresh tokens (RFC 7009)
//
// Grant types are dispatched through a registry of GrantHandler values. The four
// built-in grants are always present; Config.ExtensionGrants adds more, keyed by an
// absolute URI. Every failure is an *oautherr.Error, so callers need one mapping rule
// for status and body.
//
// Key Features:
//   - Single-use authorization codes via the store's atomic revoke
//   - Refresh token rotation via the store's atomic RotateRefreshToken
//   - PKCE (RFC 7636), required for public clients by default
//   - Security auditing and OpenTelemetry metrics and spans
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store, server.DefaultConfig(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	req, _ := server.RequestFromHTTP(r)
//	res := server.NewResponse()
//	token, err := srv.Token(ctx, req, res, nil)
package server
