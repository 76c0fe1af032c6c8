package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidGrantKey       = errors.New("core: invalid grant key")
	ErrNotConnected          = errors.New("core: not connected")
	ErrSessionInvalid        = errors.New("core: session invalid")
	ErrProviderNotRegistered = errors.New("core: provider not registered")
)

// GrantKey identifies one provider authorization: exactly one connection row
// exists per (user, workspace, agent, service) tuple.
type GrantKey struct {
	UserID      int64
	WorkspaceID int64
	AgentID     string
	Service     string
}

func (k GrantKey) Validate() error {
	if k.UserID <= 0 {
		return fmt.Errorf("%w: non-positive user id %d", ErrInvalidGrantKey, k.UserID)
	}
	if k.WorkspaceID <= 0 {
		return fmt.Errorf("%w: non-positive workspace id %d", ErrInvalidGrantKey, k.WorkspaceID)
	}
	if strings.TrimSpace(k.AgentID) == "" {
		return fmt.Errorf("%w: empty agent id", ErrInvalidGrantKey)
	}
	if strings.TrimSpace(k.Service) == "" {
		return fmt.Errorf("%w: empty service", ErrInvalidGrantKey)
	}
	return nil
}

// String renders the tuple in a stable form usable as a lock key.
func (k GrantKey) String() string {
	return fmt.Sprintf("%d/%d/%s/%s", k.UserID, k.WorkspaceID, strings.TrimSpace(k.AgentID), strings.TrimSpace(k.Service))
}

// Connection is one stored token grant. RefreshToken is the durable anchor;
// AccessToken and ExpiresAtMs are a short-lived cache layered on top of it.
type Connection struct {
	ID            string
	Key           GrantKey
	WorkspaceSlug string
	AccessToken   string
	RefreshToken  string
	ExpiresAtMs   int64
	Scopes        string
	ConnectionID  string
	UpdatedAt     time.Time
}

// ConnectionRef is a listing entry: one (agent, service) pair that currently
// holds a usable refresh token.
type ConnectionRef struct {
	AgentID string
	Service string
}

type User struct {
	ID        int64
	Email     string
	Name      string
	Picture   string
	CreatedAt time.Time
}

// Session is the persisted record of a rotating credential. Only the one-way
// hash of the raw token is ever stored.
type Session struct {
	ID           string
	UserID       int64
	TokenHash    string
	CreatedAt    time.Time
	ExpiresAtMs  int64
	RevokedAtMs  int64
	LastUsedAtMs int64
}

// Active reports whether the session is neither revoked nor past expiry.
func (s Session) Active(now time.Time) bool {
	if s.RevokedAtMs > 0 {
		return false
	}
	if s.ExpiresAtMs <= 0 {
		return false
	}
	return now.UTC().UnixMilli() < s.ExpiresAtMs
}
