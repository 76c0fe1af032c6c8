package query

import (
	"strings"

	"github.com/dima-ai/go-connections/core"
)

const (
	TypeGetConnection    = "connections.query.connection.get"
	TypeListConnections  = "connections.query.connection.list"
	TypeConnected        = "connections.query.connection.connected"
	TypeValidateRedirect = "connections.query.redirect.validate"
)

type GetConnectionMessage struct {
	Key core.GrantKey
}

func (GetConnectionMessage) Type() string { return TypeGetConnection }

func (m GetConnectionMessage) Validate() error {
	if err := m.Key.Validate(); err != nil {
		return queryWrapValidation(err, "query: invalid grant key")
	}
	return nil
}

type ListConnectionsMessage struct {
	UserID      int64
	WorkspaceID int64
}

func (ListConnectionsMessage) Type() string { return TypeListConnections }

func (m ListConnectionsMessage) Validate() error {
	if m.UserID <= 0 {
		return queryValidationError("user_id", "positive user id is required")
	}
	if m.WorkspaceID <= 0 {
		return queryValidationError("workspace_id", "positive workspace id is required")
	}
	return nil
}

type ConnectedMessage struct {
	Key core.GrantKey
}

func (ConnectedMessage) Type() string { return TypeConnected }

func (m ConnectedMessage) Validate() error {
	if err := m.Key.Validate(); err != nil {
		return queryWrapValidation(err, "query: invalid grant key")
	}
	return nil
}

type ValidateRedirectMessage struct {
	URL string
}

func (ValidateRedirectMessage) Type() string { return TypeValidateRedirect }

func (m ValidateRedirectMessage) Validate() error {
	if strings.TrimSpace(m.URL) == "" {
		return queryValidationError("url", "redirect url is required")
	}
	return nil
}
