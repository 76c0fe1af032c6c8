package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultSessionTTL is how long a rotating credential stays valid after
	// issuance or rotation.
	DefaultSessionTTL = 30 * 24 * time.Hour

	// DefaultSessionTokenLength is the entropy, in bytes, of a raw session
	// token before encoding.
	DefaultSessionTokenLength = 48
)

// IssuedSession carries the raw rotating token back to the caller. The raw
// token exists only here; the store keeps its hash.
type IssuedSession struct {
	Token       string
	SessionID   string
	UserID      int64
	ExpiresAtMs int64
}

// HashSessionToken maps a raw rotating token to the value persisted and
// looked up by the session store.
func HashSessionToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newSessionToken(length int) (string, error) {
	if length < DefaultSessionTokenLength {
		length = DefaultSessionTokenLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("core: session token generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IssueSession mints a fresh rotating credential for the user and persists
// only its hash.
func (s *Service) IssueSession(ctx context.Context, userID int64) (issued IssuedSession, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"user_id": userID}
	defer func() {
		s.observeOperation(ctx, startedAt, "session_issue", err, fields)
	}()

	if s == nil {
		return IssuedSession{}, fmt.Errorf("core: service is nil")
	}
	if userID <= 0 {
		err = s.mapError(fmt.Errorf("core: a positive user id is required"))
		return IssuedSession{}, err
	}
	if s.sessionStore == nil {
		err = s.mapError(fmt.Errorf("core: session store is not configured"))
		return IssuedSession{}, err
	}

	raw, tokenErr := newSessionToken(s.config.Session.TokenLength)
	if tokenErr != nil {
		err = s.mapError(tokenErr)
		return IssuedSession{}, err
	}

	now := s.clock()
	created, createErr := s.sessionStore.Create(ctx, CreateSessionInput{
		UserID:      userID,
		TokenHash:   HashSessionToken(raw),
		ExpiresAtMs: now.Add(s.config.Session.TTL()).UnixMilli(),
	})
	if createErr != nil {
		err = s.mapError(createErr)
		return IssuedSession{}, err
	}

	fields["session_id"] = created.ID
	return IssuedSession{
		Token:       raw,
		SessionID:   created.ID,
		UserID:      created.UserID,
		ExpiresAtMs: created.ExpiresAtMs,
	}, nil
}

// RotateSession exchanges a live rotating credential for a new one. The old
// session is marked used and revoked in the same atomic unit that creates
// the replacement, so a given raw token rotates at most once.
func (s *Service) RotateSession(ctx context.Context, rawToken string) (issued IssuedSession, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "session_rotate", err, fields)
	}()

	if s == nil {
		return IssuedSession{}, fmt.Errorf("core: service is nil")
	}
	if s.sessionStore == nil {
		err = s.mapError(fmt.Errorf("core: session store is not configured"))
		return IssuedSession{}, err
	}

	current, findErr := s.findLiveSession(ctx, rawToken)
	if findErr != nil {
		err = s.mapError(findErr)
		return IssuedSession{}, err
	}
	fields["user_id"] = current.UserID
	fields["session_id"] = current.ID

	raw, tokenErr := newSessionToken(s.config.Session.TokenLength)
	if tokenErr != nil {
		err = s.mapError(tokenErr)
		return IssuedSession{}, err
	}

	now := s.clock()
	next, rotateErr := s.sessionStore.Rotate(ctx, RotateSessionInput{
		RevokeID: current.ID,
		Now:      now,
		Next: CreateSessionInput{
			UserID:      current.UserID,
			TokenHash:   HashSessionToken(raw),
			ExpiresAtMs: now.Add(s.config.Session.TTL()).UnixMilli(),
		},
	})
	if rotateErr != nil {
		err = s.mapError(rotateErr)
		return IssuedSession{}, err
	}

	return IssuedSession{
		Token:       raw,
		SessionID:   next.ID,
		UserID:      next.UserID,
		ExpiresAtMs: next.ExpiresAtMs,
	}, nil
}

// RevokeSession marks the session for the given raw token revoked. Unknown,
// expired, and already-revoked tokens all report ErrSessionInvalid.
func (s *Service) RevokeSession(ctx context.Context, rawToken string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "session_revoke", err, fields)
	}()

	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if s.sessionStore == nil {
		err = s.mapError(fmt.Errorf("core: session store is not configured"))
		return err
	}

	current, findErr := s.findLiveSession(ctx, rawToken)
	if findErr != nil {
		err = s.mapError(findErr)
		return err
	}
	fields["user_id"] = current.UserID
	fields["session_id"] = current.ID

	live, revokeErr := s.sessionStore.Revoke(ctx, current.ID, s.clock())
	if revokeErr != nil {
		err = s.mapError(revokeErr)
		return err
	}
	if !live {
		err = s.mapError(fmt.Errorf("%w: already revoked", ErrSessionInvalid))
		return err
	}
	return nil
}

// LogoutResult reports the blast radius of a logout: every connection the
// user held, across all workspaces, agents, and services, is removed.
type LogoutResult struct {
	UserID             int64
	ConnectionsRemoved int64
}

// Logout revokes the session and deletes all of the user's connections.
func (s *Service) Logout(ctx context.Context, rawToken string) (result LogoutResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "logout", err, fields)
	}()

	if s == nil {
		return LogoutResult{}, fmt.Errorf("core: service is nil")
	}
	if s.sessionStore == nil || s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: session and connection stores are required"))
		return LogoutResult{}, err
	}

	current, findErr := s.findLiveSession(ctx, rawToken)
	if findErr != nil {
		err = s.mapError(findErr)
		return LogoutResult{}, err
	}
	fields["user_id"] = current.UserID
	fields["session_id"] = current.ID

	if _, revokeErr := s.sessionStore.Revoke(ctx, current.ID, s.clock()); revokeErr != nil {
		err = s.mapError(revokeErr)
		return LogoutResult{}, err
	}

	removed, deleteErr := s.connectionStore.DeleteAllForUser(ctx, current.UserID)
	if deleteErr != nil {
		err = s.mapError(deleteErr)
		return LogoutResult{}, err
	}
	fields["connections_removed"] = removed

	return LogoutResult{UserID: current.UserID, ConnectionsRemoved: removed}, nil
}

func (s *Service) findLiveSession(ctx context.Context, rawToken string) (Session, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Session{}, fmt.Errorf("%w: empty token", ErrSessionInvalid)
	}
	found, err := s.sessionStore.FindByHash(ctx, HashSessionToken(rawToken))
	if err != nil {
		return Session{}, err
	}
	if !found.Active(s.clock()) {
		return Session{}, fmt.Errorf("%w: revoked or expired", ErrSessionInvalid)
	}
	return found, nil
}
