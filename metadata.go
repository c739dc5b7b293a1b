package oauth

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-engine/server"
)

// Default routes the metadata document advertises. cmd/oauth2d mounts the
// handlers on the same paths.
const (
	AuthorizePath = "/oauth/authorize"
	TokenPath     = "/oauth/token"
	RevokePath    = "/oauth/revoke"
	MetadataPath  = "/.well-known/oauth-authorization-server"
)

// Metadata builds the RFC 8414 document for the handler's server.
func (h *Handler) Metadata() AuthorizationServerMetadata {
	issuer := strings.TrimSuffix(h.config.Issuer, "/")
	cfg := h.server.Config

	grantTypes := h.server.GrantTypes()
	slices.Sort(grantTypes)

	authMethods := []string{"client_secret_basic", "client_secret_post"}
	for _, grantType := range grantTypes {
		if grantType != "client_credentials" && !requiresClientAuth(cfg, grantType) {
			authMethods = append(authMethods, "none")
			break
		}
	}

	revokeMethods := []string{"client_secret_basic", "client_secret_post"}
	if !requiresClientAuth(cfg, server.EndpointRevocation) {
		revokeMethods = append(revokeMethods, "none")
	}

	challengeMethods := []string{server.PKCEMethodS256}
	if cfg.AllowPKCEPlain {
		challengeMethods = append(challengeMethods, server.PKCEMethodPlain)
	}

	return AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + AuthorizePath,
		TokenEndpoint:                     issuer + TokenPath,
		RevocationEndpoint:                issuer + RevokePath,
		ScopesSupported:                   cfg.SupportedScopes,
		ResponseTypesSupported:            []string{"code", "token"},
		GrantTypesSupported:               grantTypes,
		TokenEndpointAuthMethodsSupported: authMethods,
		CodeChallengeMethodsSupported:     challengeMethods,

		RevocationEndpointAuthMethodsSupported: revokeMethods,
	}
}

func requiresClientAuth(cfg *server.Config, grantType string) bool {
	required, ok := cfg.RequireClientAuthentication[grantType]
	return !ok || required
}

// ServeMetadata handles the authorization server metadata endpoint (RFC 8414 §3).
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := &Outcome{Endpoint: EndpointMetadata}
	defer h.finish(r, outcome, start)

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		outcome.Status = http.StatusMethodNotAllowed
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	outcome.Status = http.StatusOK
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(h.Metadata()); err != nil {
		h.logger.Error("Failed to encode metadata", "error", err)
	}
}
