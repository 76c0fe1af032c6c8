package sqlstore

import (
	"strings"
	"time"

	"github.com/dima-ai/go-connections/core"
	"github.com/google/uuid"
)

func newConnectionRecord(in core.UpsertConnectionInput, now time.Time) *connectionRecord {
	record := &connectionRecord{
		ID:            uuid.New().String(),
		UserID:        in.Key.UserID,
		WorkspaceID:   in.Key.WorkspaceID,
		WorkspaceSlug: strings.TrimSpace(in.WorkspaceSlug),
		AgentID:       strings.TrimSpace(in.Key.AgentID),
		Service:       strings.TrimSpace(in.Key.Service),
		AccessToken:   in.AccessToken,
		RefreshToken:  in.RefreshToken,
		ExpiresAtMs:   in.ExpiresAtMs,
		Scopes:        in.Scopes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if trimmed := strings.TrimSpace(in.ConnectionID); trimmed != "" {
		record.ConnectionID = &trimmed
	}
	return record
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	connection := core.Connection{
		ID: r.ID,
		Key: core.GrantKey{
			UserID:      r.UserID,
			WorkspaceID: r.WorkspaceID,
			AgentID:     r.AgentID,
			Service:     r.Service,
		},
		WorkspaceSlug: r.WorkspaceSlug,
		AccessToken:   r.AccessToken,
		RefreshToken:  r.RefreshToken,
		ExpiresAtMs:   r.ExpiresAtMs,
		Scopes:        r.Scopes,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ConnectionID != nil {
		connection.ConnectionID = *r.ConnectionID
	}
	return connection
}

func (r *userRecord) toDomain() core.User {
	if r == nil {
		return core.User{}
	}
	return core.User{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		Picture:   r.Picture,
		CreatedAt: r.CreatedAt,
	}
}

func newSessionRecord(in core.CreateSessionInput, now time.Time) *sessionRecord {
	return &sessionRecord{
		ID:          uuid.New().String(),
		UserID:      in.UserID,
		TokenHash:   strings.TrimSpace(in.TokenHash),
		ExpiresAtMs: in.ExpiresAtMs,
		CreatedAt:   now,
	}
}

func (r *sessionRecord) toDomain() core.Session {
	if r == nil {
		return core.Session{}
	}
	session := core.Session{
		ID:          r.ID,
		UserID:      r.UserID,
		TokenHash:   r.TokenHash,
		CreatedAt:   r.CreatedAt,
		ExpiresAtMs: r.ExpiresAtMs,
	}
	if r.RevokedAtMs != nil {
		session.RevokedAtMs = *r.RevokedAtMs
	}
	if r.LastUsedAtMs != nil {
		session.LastUsedAtMs = *r.LastUsedAtMs
	}
	return session
}
