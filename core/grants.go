package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type StoreGrantInput struct {
	Key           GrantKey
	WorkspaceSlug string
	Grant         TokenGrant
	ConnectionID  string
}

// StoreGrant upserts a provider grant for the key. An empty refresh token in
// the grant leaves the durable stored one untouched.
func (s *Service) StoreGrant(ctx context.Context, in StoreGrantInput) (conn Connection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"user_id":      in.Key.UserID,
		"workspace_id": in.Key.WorkspaceID,
		"agent_id":     in.Key.AgentID,
		"service":      in.Key.Service,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "grant_store", err, fields)
	}()

	if s == nil {
		return Connection{}, fmt.Errorf("core: service is nil")
	}
	if err = in.Key.Validate(); err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}
	if strings.TrimSpace(in.Grant.AccessToken) == "" && strings.TrimSpace(in.Grant.RefreshToken) == "" {
		err = s.mapError(fmt.Errorf("core: a grant requires an access or refresh token"))
		return Connection{}, err
	}
	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return Connection{}, err
	}

	conn, upsertErr := s.connectionStore.Upsert(ctx, UpsertConnectionInput{
		Key:           in.Key,
		WorkspaceSlug: strings.TrimSpace(in.WorkspaceSlug),
		AccessToken:   strings.TrimSpace(in.Grant.AccessToken),
		RefreshToken:  strings.TrimSpace(in.Grant.RefreshToken),
		ExpiresAtMs:   in.Grant.ExpiresAtMs,
		Scopes:        strings.TrimSpace(in.Grant.Scope),
		ConnectionID:  strings.TrimSpace(in.ConnectionID),
	})
	if upsertErr != nil {
		err = s.mapError(upsertErr)
		return Connection{}, err
	}
	return conn, nil
}

type CompleteGrantRequest struct {
	Key           GrantKey
	WorkspaceSlug string
	Code          string
	RedirectURI   string
	ConnectionID  string
}

type CompleteGrantResult struct {
	Connection Connection
	User       User
	Session    IssuedSession
}

// CompleteGrant finishes an authorization: exchanges the code with the
// provider, refreshes the user's profile record, upserts the connection, and
// issues a rotating session. The profile fetch is optional enrichment; its
// failure is logged but never aborts the grant.
func (s *Service) CompleteGrant(ctx context.Context, req CompleteGrantRequest) (result CompleteGrantResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"user_id":      req.Key.UserID,
		"workspace_id": req.Key.WorkspaceID,
		"agent_id":     req.Key.AgentID,
		"service":      req.Key.Service,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "grant_complete", err, fields)
	}()

	if s == nil {
		return CompleteGrantResult{}, fmt.Errorf("core: service is nil")
	}
	if err = req.Key.Validate(); err != nil {
		err = s.mapError(err)
		return CompleteGrantResult{}, err
	}
	if strings.TrimSpace(req.Code) == "" {
		err = s.mapError(fmt.Errorf("core: authorization code is required"))
		return CompleteGrantResult{}, err
	}
	if s.userStore == nil || s.connectionStore == nil || s.sessionStore == nil {
		err = s.mapError(fmt.Errorf("core: user, connection, and session stores are required"))
		return CompleteGrantResult{}, err
	}

	client, resolveErr := s.resolveProvider(req.Key.Service)
	if resolveErr != nil {
		err = resolveErr
		return CompleteGrantResult{}, err
	}

	grant, exchangeErr := client.ExchangeCode(ctx, strings.TrimSpace(req.Code), strings.TrimSpace(req.RedirectURI))
	if exchangeErr != nil {
		err = s.mapError(fmt.Errorf("core: provider exchange for %s: %w", req.Key, exchangeErr))
		return CompleteGrantResult{}, err
	}

	// A failed fetch must not erase a previously stored profile, so the
	// fallback only ensures the identity row exists.
	var user User
	var userErr error
	if profile, profileErr := client.FetchProfile(ctx, grant.AccessToken); profileErr != nil {
		s.logWarn(ctx, "profile fetch failed", map[string]any{
			"user_id": req.Key.UserID,
			"service": req.Key.Service,
			"error":   profileErr.Error(),
		})
		s.recordCounter(ctx, "connections.profile_fetch.failures", 1, map[string]string{
			"service": strings.TrimSpace(req.Key.Service),
		})
		user, userErr = s.userStore.Ensure(ctx, req.Key.UserID)
	} else {
		user, userErr = s.userStore.Upsert(ctx, UpsertUserInput{
			ID:      req.Key.UserID,
			Email:   strings.TrimSpace(profile.Email),
			Name:    strings.TrimSpace(profile.Name),
			Picture: strings.TrimSpace(profile.Picture),
		})
	}
	if userErr != nil {
		err = s.mapError(userErr)
		return CompleteGrantResult{}, err
	}

	conn, storeErr := s.StoreGrant(ctx, StoreGrantInput{
		Key:           req.Key,
		WorkspaceSlug: req.WorkspaceSlug,
		Grant:         grant,
		ConnectionID:  req.ConnectionID,
	})
	if storeErr != nil {
		err = storeErr
		return CompleteGrantResult{}, err
	}

	issued, sessionErr := s.IssueSession(ctx, req.Key.UserID)
	if sessionErr != nil {
		err = sessionErr
		return CompleteGrantResult{}, err
	}

	return CompleteGrantResult{
		Connection: conn,
		User:       user,
		Session:    issued,
	}, nil
}
