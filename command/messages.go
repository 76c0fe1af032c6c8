package command

import (
	"strings"

	"github.com/dima-ai/go-connections/core"
)

const (
	TypeStoreGrant    = "connections.command.grant.store"
	TypeCompleteGrant = "connections.command.grant.complete"
	TypeRefreshToken  = "connections.command.token.refresh"
	TypeIssueSession  = "connections.command.session.issue"
	TypeRotateSession = "connections.command.session.rotate"
	TypeRevokeSession = "connections.command.session.revoke"
	TypeLogout        = "connections.command.logout"
	TypeWarmExpiring  = "connections.command.refresh.warm"
)

type StoreGrantMessage struct {
	Input core.StoreGrantInput
}

func (StoreGrantMessage) Type() string { return TypeStoreGrant }

func (m StoreGrantMessage) Validate() error {
	if err := m.Input.Key.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid grant key")
	}
	if strings.TrimSpace(m.Input.Grant.AccessToken) == "" && strings.TrimSpace(m.Input.Grant.RefreshToken) == "" {
		return commandValidationError("grant", "access or refresh token is required")
	}
	return nil
}

type CompleteGrantMessage struct {
	Request core.CompleteGrantRequest
}

func (CompleteGrantMessage) Type() string { return TypeCompleteGrant }

func (m CompleteGrantMessage) Validate() error {
	if err := m.Request.Key.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid grant key")
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

// RefreshTokenMessage requests a valid access token for the tuple. It rides
// the command bus rather than the query bus because a stale token makes it
// write back the refreshed grant.
type RefreshTokenMessage struct {
	Key core.GrantKey
}

func (RefreshTokenMessage) Type() string { return TypeRefreshToken }

func (m RefreshTokenMessage) Validate() error {
	if err := m.Key.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid grant key")
	}
	return nil
}

type IssueSessionMessage struct {
	UserID int64
}

func (IssueSessionMessage) Type() string { return TypeIssueSession }

func (m IssueSessionMessage) Validate() error {
	if m.UserID <= 0 {
		return commandValidationError("user_id", "positive user id is required")
	}
	return nil
}

type RotateSessionMessage struct {
	Token string
}

func (RotateSessionMessage) Type() string { return TypeRotateSession }

func (m RotateSessionMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return commandValidationError("token", "session token is required")
	}
	return nil
}

type RevokeSessionMessage struct {
	Token string
}

func (RevokeSessionMessage) Type() string { return TypeRevokeSession }

func (m RevokeSessionMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return commandValidationError("token", "session token is required")
	}
	return nil
}

type LogoutMessage struct {
	Token string
}

func (LogoutMessage) Type() string { return TypeLogout }

func (m LogoutMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return commandValidationError("token", "session token is required")
	}
	return nil
}

type WarmExpiringMessage struct {
	Options core.WarmOptions
}

func (WarmExpiringMessage) Type() string { return TypeWarmExpiring }

func (m WarmExpiringMessage) Validate() error {
	if m.Options.Limit < 0 {
		return commandValidationError("limit", "limit must not be negative")
	}
	if m.Options.MaxAttempts < 0 {
		return commandValidationError("max_attempts", "max attempts must not be negative")
	}
	return nil
}
