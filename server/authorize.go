package server

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-engine/generator"
	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Response types (RFC 6749 §3.1.1)
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

var responseTypeGrants = map[string]string{
	ResponseTypeCode:  GrantTypeAuthorizationCode,
	ResponseTypeToken: GrantTypeImplicit,
}

// ErrAccessDenied can be returned by a UserResolver when the resource owner refuses
// the authorization request.
var ErrAccessDenied = errors.New("access denied by resource owner")

// UserResolver returns the resource owner behind an authorization request, typically
// from a session. Returning ErrAccessDenied denies the request; returning a nil user
// without an error means nobody is logged in.
type UserResolver func(ctx context.Context, req *Request) (*storage.User, error)

// AuthorizeOptions tunes Authorize.
type AuthorizeOptions struct {
	// UserResolver identifies the resource owner. If nil, the request must carry a
	// bearer token and its user is used.
	UserResolver UserResolver

	// AuthorizationCodeLifetime overrides Config.AuthorizationCodeLifetime when positive.
	AuthorizationCodeLifetime time.Duration
}

// AuthorizationResult describes a successful authorization.
// Exactly one of Code and Token is set, depending on the response type.
type AuthorizationResult struct {
	Code        *storage.AuthorizationCode
	Token       *storage.Token
	RedirectURI string
	State       string
}

// Authorize handles an authorization endpoint request (RFC 6749 §4.1.1 and §4.2.1).
//
// Errors found before the redirect URI is known are returned without touching res.
// Once the redirect URI has been validated every error is also written to res as a
// redirect carrying error, error_description and state, in the query for the code
// response type and in the fragment for the token response type.
func (s *Server) Authorize(ctx context.Context, req *Request, res *Response, opts *AuthorizeOptions) (result *AuthorizationResult, err error) {
	responseType := ""
	ctx, span := s.startSpan(ctx, "oauth.authorize")
	defer func() {
		s.metrics.RecordAuthorize(ctx, responseType, errorCode(err))
		endSpan(span, err)
	}()

	if req == nil || res == nil {
		return nil, errNilEnvelope
	}
	res.reset()
	if opts == nil {
		opts = &AuthorizeOptions{}
	}
	if err := rejectRepeated(req, authorizeParams...); err != nil {
		return nil, err
	}

	clientID := req.param("client_id")
	if clientID == "" {
		return nil, oautherr.InvalidRequest("missing parameter: client_id")
	}
	if !isVSChar(clientID) {
		return nil, oautherr.InvalidRequest("invalid parameter: client_id")
	}

	requestedType := req.param("response_type")
	if requestedType == "" {
		return nil, oautherr.InvalidRequest("missing parameter: response_type")
	}
	grantType, ok := responseTypeGrants[requestedType]
	if !ok {
		return nil, oautherr.UnsupportedResponseType("unsupported response type: response_type is not supported")
	}
	responseType = requestedType
	span.SetAttributes(attribute.String(instrumentation.AttrResponseType, responseType))

	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, oautherr.InvalidClient("invalid client: client credentials are invalid")
		}
		return nil, storeError("get client", err)
	}
	if client == nil {
		return nil, oautherr.InvalidClient("invalid client: client credentials are invalid")
	}
	if !client.HasGrant(grantType) {
		return nil, oautherr.UnauthorizedClient("unauthorized client: grant_type is invalid")
	}

	redirectURI, err := s.resolveRedirectURI(ctx, req, client)
	if err != nil {
		return nil, err
	}
	target, err := validateRedirectURI(redirectURI)
	if err != nil {
		return nil, oautherr.Wrap(oautherr.KindInvalidRequest, "invalid request: redirect_uri is invalid", err)
	}

	state := req.param("state")
	result, err = s.authorizeClient(ctx, req, res, opts, client, responseType, redirectURI, target, state)
	if err != nil {
		redirectError(res, target, responseType, state, err)
		return nil, err
	}
	return result, nil
}

// resolveRedirectURI picks the redirect URI for an authorization request.
func (s *Server) resolveRedirectURI(ctx context.Context, req *Request, client *storage.Client) (string, error) {
	redirectURI := req.param("redirect_uri")
	if redirectURI == "" {
		switch len(client.RedirectURIs) {
		case 0:
			return "", oautherr.InvalidClient("invalid client: missing client redirect_uri")
		case 1:
			return client.RedirectURIs[0], nil
		default:
			return "", oautherr.InvalidRequest("missing parameter: redirect_uri")
		}
	}
	if !client.HasRedirectURI(redirectURI) {
		s.Auditor.LogSecurityViolation(ctx, security.EventInvalidRedirect, client.ID, req.ClientIP(), "redirect_uri not registered")
		return "", oautherr.InvalidClient("invalid client: redirect_uri does not match client value")
	}
	return redirectURI, nil
}

// authorizeClient runs the checks whose failures are reported to the client by redirect
// and issues the code or token.
func (s *Server) authorizeClient(ctx context.Context, req *Request, res *Response, opts *AuthorizeOptions, client *storage.Client, responseType, redirectURI string, target *url.URL, state string) (*AuthorizationResult, error) {
	if state == "" && !s.Config.AllowEmptyState {
		return nil, oautherr.InvalidRequest("missing parameter: state")
	}
	if state != "" && !isVSChar(state) {
		return nil, oautherr.InvalidRequest("invalid parameter: state")
	}

	if req.param("allowed") == "false" {
		s.Auditor.LogSecurityViolation(ctx, security.EventAccessDenied, client.ID, req.ClientIP(), "resource owner denied access")
		return nil, oautherr.AccessDenied("access denied: user denied access to application")
	}

	user, err := s.resolveUser(ctx, req, opts)
	if err != nil {
		if errors.Is(err, oautherr.ErrAccessDenied) {
			s.Auditor.LogSecurityViolation(ctx, security.EventAccessDenied, client.ID, req.ClientIP(), "user resolver denied access")
		}
		return nil, err
	}

	requested, err := parseScope(req.param("scope"))
	if err != nil {
		return nil, err
	}
	scope, err := s.validateScope(ctx, req, user, client, requested)
	if err != nil {
		return nil, err
	}

	result := &AuthorizationResult{RedirectURI: redirectURI, State: state}
	switch responseType {
	case ResponseTypeCode:
		code, err := s.issueAuthorizationCode(ctx, req, opts, client, user, scope, redirectURI)
		if err != nil {
			return nil, err
		}
		params := url.Values{"code": {code.Code}}
		if state != "" {
			params.Set("state", state)
		}
		res.Redirect(buildRedirect(target, params))
		result.Code = code

	case ResponseTypeToken:
		now := s.now()
		token, err := s.issueImplicitToken(ctx, req, client, user, scope, now)
		if err != nil {
			return nil, err
		}
		params := url.Values{
			"access_token": {token.AccessToken},
			"token_type":   {TokenTypeBearer},
			"expires_in":   {strconv.FormatInt(security.SecondsUntil(token.AccessTokenExpiresAt, now), 10)},
		}
		if len(token.Scope) > 0 {
			params.Set("scope", token.Scope.String())
		}
		if state != "" {
			params.Set("state", state)
		}
		res.Redirect(buildFragmentRedirect(target, params))
		result.Token = token
	}

	instrumentation.AddOAuthFlowAttributes(trace.SpanFromContext(ctx), client.ID, userID(user), scope.String())
	return result, nil
}

// resolveUser finds the resource owner through opts.UserResolver, or from the
// request's bearer token when no resolver is configured.
func (s *Server) resolveUser(ctx context.Context, req *Request, opts *AuthorizeOptions) (*storage.User, error) {
	var (
		user *storage.User
		err  error
	)
	if opts.UserResolver != nil {
		user, err = opts.UserResolver(ctx, req)
	} else {
		var token *storage.Token
		token, err = s.Authenticate(ctx, req, NewResponse(), nil)
		if token != nil {
			user = token.User
		}
	}

	if err != nil {
		if errors.Is(err, ErrAccessDenied) || errors.Is(err, oautherr.ErrAccessDenied) {
			return nil, oautherr.Wrap(oautherr.KindAccessDenied, "access denied: user denied access to application", err)
		}
		var oe *oautherr.Error
		if errors.As(err, &oe) {
			return nil, oe
		}
		return nil, oautherr.ServerError("failed to resolve user", err)
	}
	if user == nil {
		return nil, oautherr.UnauthorizedRequest("unauthorized request: no user was authenticated")
	}
	return user, nil
}

func (s *Server) issueAuthorizationCode(ctx context.Context, req *Request, opts *AuthorizeOptions, client *storage.Client, user *storage.User, scope storage.Scope, redirectURI string) (*storage.AuthorizationCode, error) {
	method, err := s.validateCodeChallenge(req.param("code_challenge"), req.param("code_challenge_method"), !client.IsConfidential())
	if err != nil {
		if req.param("code_challenge") == "" && !client.IsConfidential() {
			s.Auditor.LogSecurityViolation(ctx, security.EventPKCERequiredForPublicClient, client.ID, req.ClientIP(), "missing code_challenge")
		}
		return nil, err
	}

	lifetime := s.Config.authorizationCodeLifetime()
	if opts.AuthorizationCodeLifetime > 0 {
		lifetime = opts.AuthorizationCodeLifetime
	}
	now := s.now()
	params := generator.Params{
		Client:    client,
		User:      user,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime),
	}
	value, err := s.Config.Generator.AuthorizationCode(ctx, params)
	if err != nil {
		return nil, oautherr.ServerError("failed to generate authorization code", err)
	}
	if len(value) < generator.MinCodeLength {
		return nil, oautherr.ServerError("generated authorization code is too short", nil)
	}

	code := &storage.AuthorizationCode{
		Code:        value,
		ClientID:    client.ID,
		RedirectURI: redirectURI,
		Scope:       scope.Clone(),
		User:        user.Clone(),
		ExpiresAt:   params.ExpiresAt,
	}
	if method != "" {
		code.CodeChallenge = req.param("code_challenge")
		code.CodeChallengeMethod = method
	}

	if err := s.store.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, storeError("save authorization code", err)
	}

	instrumentation.AddPKCEAttributes(trace.SpanFromContext(ctx), method)
	s.Auditor.LogCodeIssued(ctx, user.ID, client.ID, req.ClientIP(), method)
	return code, nil
}

// issueImplicitToken mints an access token for the implicit grant (RFC 6749 §4.2.2).
// Refresh tokens are never issued on this path. Persistence is the store's choice
// when it implements storage.ImplicitTokenSaver.
func (s *Server) issueImplicitToken(ctx context.Context, req *Request, client *storage.Client, user *storage.User, scope storage.Scope, now time.Time) (*storage.Token, error) {
	access, _ := s.lifetimes(client, nil)
	token, err := s.mintToken(ctx, client, user, scope, now, access, 0, false)
	if err != nil {
		return nil, err
	}

	if s.implicitSaver != nil {
		err = s.implicitSaver.SaveImplicitToken(ctx, token)
	} else {
		err = s.store.SaveToken(ctx, token)
	}
	if err != nil {
		return nil, storeError("save token", err)
	}

	s.Auditor.LogTokenIssued(ctx, GrantTypeImplicit, user.ID, client.ID, req.ClientIP(), scope.String())
	return token, nil
}

// redirectError writes err into res as a redirect to target.
func redirectError(res *Response, target *url.URL, responseType, state string, err error) {
	oe := oautherr.From(err)
	params := url.Values{"error": {oe.Code()}}
	if oe.Description != "" {
		params.Set("error_description", oe.Description)
	}
	if isVSChar(state) {
		params.Set("state", state)
	}

	res.Body = make(map[string]any)
	if responseType == ResponseTypeToken {
		res.Redirect(buildFragmentRedirect(target, params))
		return
	}
	res.Redirect(buildRedirect(target, params))
}
