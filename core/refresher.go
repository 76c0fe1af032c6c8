package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidAccessToken returns a currently usable provider access token for the
// grant key, refreshing lazily. A token within the skew window of its expiry
// is treated as stale. Refreshes for the same key are serialized through the
// grant locker; provider failures propagate to the caller with no retry and
// no fallback to the stale cached token.
func (s *Service) ValidAccessToken(ctx context.Context, key GrantKey) (token string, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"user_id":      key.UserID,
		"workspace_id": key.WorkspaceID,
		"agent_id":     key.AgentID,
		"service":      key.Service,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "access_token", err, fields)
	}()

	if s == nil {
		return "", fmt.Errorf("core: service is nil")
	}
	if err = key.Validate(); err != nil {
		err = s.mapError(err)
		return "", err
	}
	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return "", err
	}

	conn, getErr := s.connectionStore.Get(ctx, key)
	if getErr != nil {
		err = s.mapError(getErr)
		return "", err
	}
	if strings.TrimSpace(conn.RefreshToken) == "" {
		err = s.mapError(fmt.Errorf("%w: no refresh token for %s", ErrNotConnected, key))
		return "", err
	}

	skew := s.config.Refresh.Skew()
	if Usable(s.clock(), conn, skew) {
		fields["cache"] = "hit"
		return conn.AccessToken, nil
	}

	if s.grantLocker != nil {
		handle, lockErr := s.grantLocker.Acquire(ctx, key.String())
		if lockErr != nil {
			err = s.mapError(lockErr)
			return "", err
		}
		defer func() {
			_ = handle.Unlock(ctx)
		}()

		// Another caller may have refreshed while we waited for the lock.
		conn, getErr = s.connectionStore.Get(ctx, key)
		if getErr != nil {
			err = s.mapError(getErr)
			return "", err
		}
		if Usable(s.clock(), conn, skew) {
			fields["cache"] = "hit_after_wait"
			return conn.AccessToken, nil
		}
	}

	fields["cache"] = "miss"
	refreshed, refreshErr := s.refreshConnection(ctx, conn)
	if refreshErr != nil {
		err = s.mapError(refreshErr)
		return "", err
	}
	return refreshed.AccessToken, nil
}

// refreshConnection calls the provider with the stored refresh token and
// writes the result back. The store coalesces an omitted refresh token
// against the durable one; an omitted access token falls back to the prior
// value; connection metadata survives untouched.
func (s *Service) refreshConnection(ctx context.Context, conn Connection) (Connection, error) {
	client, err := s.resolveProvider(conn.Key.Service)
	if err != nil {
		return Connection{}, err
	}

	grant, err := client.Refresh(ctx, conn.RefreshToken, RefreshHints{
		AccessToken: conn.AccessToken,
		ExpiresAtMs: conn.ExpiresAtMs,
	})
	if err != nil {
		return Connection{}, fmt.Errorf("core: provider refresh for %s: %w", conn.Key, err)
	}

	accessToken := strings.TrimSpace(grant.AccessToken)
	if accessToken == "" {
		accessToken = conn.AccessToken
	}
	scopes := strings.TrimSpace(grant.Scope)
	if scopes == "" {
		scopes = conn.Scopes
	}

	updated, err := s.connectionStore.Upsert(ctx, UpsertConnectionInput{
		Key:           conn.Key,
		WorkspaceSlug: conn.WorkspaceSlug,
		AccessToken:   accessToken,
		RefreshToken:  grant.RefreshToken,
		ExpiresAtMs:   grant.ExpiresAtMs,
		Scopes:        scopes,
		ConnectionID:  conn.ConnectionID,
	})
	if err != nil {
		return Connection{}, err
	}
	return updated, nil
}

// Connected reports whether the grant key holds a usable authorization.
func (s *Service) Connected(ctx context.Context, key GrantKey) (bool, error) {
	if s == nil || s.connectionStore == nil {
		return false, fmt.Errorf("core: connection store is not configured")
	}
	if err := key.Validate(); err != nil {
		return false, s.mapError(err)
	}
	conn, err := s.connectionStore.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return false, nil
		}
		return false, s.mapError(err)
	}
	return strings.TrimSpace(conn.RefreshToken) != "", nil
}

// Connections lists the distinct (agent, service) pairs holding a usable
// refresh token for the user and workspace, ordered agent then service.
func (s *Service) Connections(ctx context.Context, userID int64, workspaceID int64) (refs []ConnectionRef, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"user_id":      userID,
		"workspace_id": workspaceID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "connections_list", err, fields)
	}()

	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	if userID <= 0 || workspaceID <= 0 {
		err = s.mapError(fmt.Errorf("core: positive user and workspace ids are required"))
		return nil, err
	}
	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return nil, err
	}

	refs, listErr := s.connectionStore.List(ctx, userID, workspaceID)
	if listErr != nil {
		err = s.mapError(listErr)
		return nil, err
	}
	return refs, nil
}
