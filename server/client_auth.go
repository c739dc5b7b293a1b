package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"

	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

type clientCredentials struct {
	id     string
	secret string
}

// parseBasicAuth decodes an RFC 6749 §2.3.1 Basic header. Both parts are
// form-urlencoded before being joined, so they are unescaped here.
func parseBasicAuth(header string) (clientCredentials, bool) {
	scheme, encoded, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return clientCredentials{}, false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return clientCredentials{}, false
	}
	rawID, rawSecret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return clientCredentials{}, false
	}
	id, err := url.QueryUnescape(rawID)
	if err != nil {
		return clientCredentials{}, false
	}
	secret, err := url.QueryUnescape(rawSecret)
	if err != nil {
		return clientCredentials{}, false
	}
	return clientCredentials{id: id, secret: secret}, true
}

// readClientCredentials takes credentials from the Basic header or the body, never both.
func readClientCredentials(req *Request) (clientCredentials, error) {
	bodyID := req.Body("client_id")
	bodySecret := req.Body("client_secret")

	if header := req.Header("Authorization"); header != "" {
		creds, ok := parseBasicAuth(header)
		if !ok {
			return clientCredentials{}, oautherr.InvalidClient("invalid client: malformed authorization header")
		}
		if bodySecret != "" {
			return clientCredentials{}, oautherr.InvalidRequest("invalid request: client credentials sent in both header and body")
		}
		if bodyID != "" && bodyID != creds.id {
			return clientCredentials{}, oautherr.InvalidRequest("invalid request: client_id does not match authorization header")
		}
		return creds, nil
	}

	return clientCredentials{id: bodyID, secret: bodySecret}, nil
}

// authenticateClient identifies and, when required for grantType, authenticates the
// client of a token or revocation request.
func (s *Server) authenticateClient(ctx context.Context, req *Request, grantType string) (*storage.Client, error) {
	creds, err := readClientCredentials(req)
	if err != nil {
		return nil, err
	}
	if creds.id == "" {
		return nil, oautherr.InvalidRequest("missing parameter: client_id")
	}
	if !isVSChar(creds.id) {
		return nil, oautherr.InvalidRequest("invalid parameter: client_id")
	}
	if creds.secret != "" && !isVSChar(creds.secret) {
		return nil, oautherr.InvalidRequest("invalid parameter: client_secret")
	}

	required := s.Config.clientAuthenticationRequired(grantType)
	if creds.secret == "" && required {
		s.Auditor.LogAuthFailure(ctx, "", creds.id, req.ClientIP(), "missing_client_secret")
		return nil, oautherr.InvalidClient("invalid client: cannot retrieve client credentials")
	}

	// Secrets are checked before the lookup so unknown and known clients cost the same bcrypt round.
	if creds.secret != "" {
		if err := s.store.ValidateClientSecret(ctx, creds.id, creds.secret); err != nil {
			if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrClientNotFound) {
				s.Auditor.LogAuthFailure(ctx, "", creds.id, req.ClientIP(), "invalid_client_secret")
				return nil, oautherr.InvalidClient("invalid client: client credentials are invalid")
			}
			return nil, storeError("validate client secret", err)
		}
	}

	client, err := s.store.GetClient(ctx, creds.id)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.Auditor.LogAuthFailure(ctx, "", creds.id, req.ClientIP(), "unknown_client")
			return nil, oautherr.InvalidClient("invalid client: client is invalid")
		}
		return nil, storeError("get client", err)
	}
	if client == nil {
		return nil, oautherr.InvalidClient("invalid client: client is invalid")
	}

	// A confidential client always has to prove itself, whatever the grant allows.
	if creds.secret == "" && client.IsConfidential() {
		s.Auditor.LogAuthFailure(ctx, "", creds.id, req.ClientIP(), "missing_client_secret")
		return nil, oautherr.InvalidClient("invalid client: cannot retrieve client credentials")
	}

	s.Logger.Debug("Client authenticated",
		"client_id", client.ID,
		"grant_type", grantType,
		"confidential", client.IsConfidential())

	return client, nil
}
