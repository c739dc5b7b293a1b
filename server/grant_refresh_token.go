package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// handleRefreshToken exchanges a refresh token for a new access token (RFC 6749 §6).
//
// The old refresh token is retired through the store's atomic RotateRefreshToken, so
// two concurrent refreshes with the same token cannot both succeed. With
// AlwaysIssueNewRefreshToken disabled the same refresh token is carried over to the
// new token.
func (s *Server) handleRefreshToken(ctx context.Context, gc *GrantContext) (*storage.Token, error) {
	req := gc.Request
	refreshToken := req.Body("refresh_token")
	if refreshToken == "" {
		return nil, oautherr.InvalidRequest("missing parameter: refresh_token")
	}
	if !isVSChar(refreshToken) {
		return nil, oautherr.InvalidRequest("invalid parameter: refresh_token")
	}

	old, err := s.store.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.Auditor.LogAuthFailure(ctx, "", gc.Client.ID, req.ClientIP(), "unknown_refresh_token")
			return nil, oautherr.InvalidGrant("invalid grant: refresh token is invalid")
		}
		return nil, storeError("get refresh token", err)
	}
	if old == nil || old.RefreshToken == "" {
		return nil, oautherr.InvalidGrant("invalid grant: refresh token is invalid")
	}
	if old.ClientID != gc.Client.ID {
		s.Auditor.LogAuthFailure(ctx, old.UserID(), gc.Client.ID, req.ClientIP(), "refresh_token_client_mismatch")
		return nil, oautherr.InvalidGrant("invalid grant: refresh token was issued to another client")
	}
	if security.IsExpired(old.RefreshTokenExpiresAt, gc.Now) {
		return nil, oautherr.InvalidGrant("invalid grant: refresh token has expired")
	}

	// RFC 6749 §6: the scope may only narrow
	scope, err := gc.RequestedScope()
	if err != nil {
		return nil, err
	}
	if len(scope) == 0 {
		scope = old.Scope.Clone()
	} else if !old.Scope.Contains(scope) {
		s.Auditor.LogSecurityViolation(ctx, security.EventScopeEscalationAttempt, gc.Client.ID, req.ClientIP(), "refresh scope exceeds original grant")
		return nil, oautherr.InvalidScope("invalid scope: requested scope exceeds the original grant")
	}

	rotate := s.Config.AlwaysIssueNewRefreshToken
	next, err := gc.NewToken(ctx, old.User, scope, rotate)
	if err != nil {
		return nil, err
	}
	if !rotate {
		next.RefreshToken = old.RefreshToken
		next.RefreshTokenExpiresAt = old.RefreshTokenExpiresAt
	}

	if err := s.store.RotateRefreshToken(ctx, old.RefreshToken, next); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.metrics.RecordTokenReuseDetected(ctx)
			s.Auditor.LogSecurityViolation(ctx, security.EventRefreshTokenReuseDetected, gc.Client.ID, req.ClientIP(), "refresh token already rotated")
			s.Logger.Warn("Refresh token reuse detected",
				"client_id", gc.Client.ID,
				"refresh_prefix", util.SafeTruncate(old.RefreshToken, 8))
			return nil, oautherr.InvalidGrant("invalid grant: refresh token is invalid")
		}
		return nil, storeError("rotate refresh token", err)
	}

	// The replaced access token goes too. The new token is already committed, so a
	// failure here is logged rather than returned.
	if err := s.store.RevokeAccessToken(ctx, old.AccessToken); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		s.Logger.Warn("Failed to revoke replaced access token",
			"client_id", gc.Client.ID,
			"error", err)
	}

	s.metrics.RecordTokenRefresh(ctx, gc.Client.ID, rotate)
	instrumentation.SetSpanAttributes(trace.SpanFromContext(ctx), attribute.Bool(instrumentation.AttrTokenRotated, rotate))
	s.Auditor.LogTokenRefreshed(ctx, next.UserID(), gc.Client.ID, req.ClientIP(), rotate)

	return next, nil
}
