package query

import (
	"context"

	"github.com/dima-ai/go-connections/core"
	"github.com/dima-ai/go-connections/security"
)

// ConnectionReader is the read-only slice of the connection service the
// query bus consumes.
type ConnectionReader interface {
	Connections(ctx context.Context, userID int64, workspaceID int64) ([]core.ConnectionRef, error)
	Connected(ctx context.Context, key core.GrantKey) (bool, error)
}

type ConnectionStoreReader interface {
	Get(ctx context.Context, key core.GrantKey) (core.Connection, error)
}

type GetConnectionQuery struct {
	reader ConnectionStoreReader
}

func NewGetConnectionQuery(reader ConnectionStoreReader) *GetConnectionQuery {
	return &GetConnectionQuery{reader: reader}
}

func (q *GetConnectionQuery) Query(ctx context.Context, msg GetConnectionMessage) (core.Connection, error) {
	if q == nil || q.reader == nil {
		return core.Connection{}, queryDependencyError("query: connection reader is required")
	}
	return q.reader.Get(ctx, msg.Key)
}

type ListConnectionsQuery struct {
	reader ConnectionReader
}

func NewListConnectionsQuery(reader ConnectionReader) *ListConnectionsQuery {
	return &ListConnectionsQuery{reader: reader}
}

func (q *ListConnectionsQuery) Query(ctx context.Context, msg ListConnectionsMessage) ([]core.ConnectionRef, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: connection reader is required")
	}
	return q.reader.Connections(ctx, msg.UserID, msg.WorkspaceID)
}

type ConnectedQuery struct {
	reader ConnectionReader
}

func NewConnectedQuery(reader ConnectionReader) *ConnectedQuery {
	return &ConnectedQuery{reader: reader}
}

func (q *ConnectedQuery) Query(ctx context.Context, msg ConnectedMessage) (bool, error) {
	if q == nil || q.reader == nil {
		return false, queryDependencyError("query: connection reader is required")
	}
	return q.reader.Connected(ctx, msg.Key)
}

type ValidateRedirectQuery struct {
	policy security.RedirectPolicy
}

func NewValidateRedirectQuery(policy security.RedirectPolicy) *ValidateRedirectQuery {
	return &ValidateRedirectQuery{policy: policy}
}

func (q *ValidateRedirectQuery) Query(_ context.Context, msg ValidateRedirectMessage) (bool, error) {
	if q == nil {
		return false, queryDependencyError("query: redirect policy is required")
	}
	return q.policy.Allows(msg.URL), nil
}
