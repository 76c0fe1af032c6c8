package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/dima-ai/go-connections/core"
)

// ConnectionStore persists token grants keyed on the
// (user, workspace, agent, service) tuple. Writes run inside a transaction so
// the refresh-token coalesce against the previously stored row is atomic.
type ConnectionStore struct {
	db     *bun.DB
	repo   repository.Repository[*connectionRecord]
	cipher core.TokenCipher
}

func (s *ConnectionStore) Upsert(ctx context.Context, in core.UpsertConnectionInput) (core.Connection, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if err := in.Key.Validate(); err != nil {
		return core.Connection{}, err
	}

	now := writeTime()
	var saved *connectionRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := new(connectionRecord)
		findErr := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.user_id = ?", in.Key.UserID).
			Where("?TableAlias.workspace_id = ?", in.Key.WorkspaceID).
			Where("?TableAlias.agent_id = ?", strings.TrimSpace(in.Key.AgentID)).
			Where("?TableAlias.service = ?", strings.TrimSpace(in.Key.Service)).
			Limit(1).
			Scan(ctx)
		if findErr != nil && !errors.Is(findErr, sql.ErrNoRows) {
			return findErr
		}

		// Refresh token coalesce: an empty incoming value keeps the stored
		// one, since provider refresh responses frequently omit it.
		refreshToken := in.RefreshToken
		if errors.Is(findErr, sql.ErrNoRows) {
			sealed, sealErr := s.sealTokens(ctx, in.AccessToken, refreshToken)
			if sealErr != nil {
				return sealErr
			}
			record := newConnectionRecord(in, now)
			record.AccessToken = sealed.access
			record.RefreshToken = sealed.refresh
			inserted, createErr := s.repo.CreateTx(ctx, tx, record)
			if createErr != nil {
				return createErr
			}
			saved = inserted
			return nil
		}

		if strings.TrimSpace(refreshToken) == "" {
			stored, openErr := s.openToken(ctx, existing.RefreshToken)
			if openErr != nil {
				return openErr
			}
			refreshToken = stored
		}
		sealed, sealErr := s.sealTokens(ctx, in.AccessToken, refreshToken)
		if sealErr != nil {
			return sealErr
		}

		existing.WorkspaceSlug = strings.TrimSpace(in.WorkspaceSlug)
		existing.AccessToken = sealed.access
		existing.RefreshToken = sealed.refresh
		existing.ExpiresAtMs = in.ExpiresAtMs
		existing.Scopes = in.Scopes
		existing.ConnectionID = nil
		if trimmed := strings.TrimSpace(in.ConnectionID); trimmed != "" {
			existing.ConnectionID = &trimmed
		}
		existing.UpdatedAt = now

		if _, updateErr := tx.NewUpdate().
			Model(existing).
			WherePK().
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		saved = existing
		return nil
	})
	if err != nil {
		return core.Connection{}, err
	}
	return s.openConnection(ctx, saved)
}

func (s *ConnectionStore) Get(ctx context.Context, key core.GrantKey) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if err := key.Validate(); err != nil {
		return core.Connection{}, err
	}

	record := new(connectionRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", key.UserID).
		Where("?TableAlias.workspace_id = ?", key.WorkspaceID).
		Where("?TableAlias.agent_id = ?", strings.TrimSpace(key.AgentID)).
		Where("?TableAlias.service = ?", strings.TrimSpace(key.Service)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Connection{}, fmt.Errorf("%w: %s", core.ErrNotConnected, key.String())
	}
	if err != nil {
		return core.Connection{}, err
	}
	return s.openConnection(ctx, record)
}

func (s *ConnectionStore) List(ctx context.Context, userID int64, workspaceID int64) ([]core.ConnectionRef, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if userID <= 0 {
		return nil, fmt.Errorf("sqlstore: user id is required")
	}
	if workspaceID <= 0 {
		return nil, fmt.Errorf("sqlstore: workspace id is required")
	}

	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strconv.FormatInt(userID, 10)),
		repository.SelectBy("workspace_id", "=", strconv.FormatInt(workspaceID, 10)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.refresh_token IS NOT NULL AND ?TableAlias.refresh_token <> ''")
		}),
		repository.OrderBy("agent_id ASC"),
		repository.OrderBy("service ASC"),
	)
	if err != nil {
		return nil, err
	}

	out := make([]core.ConnectionRef, 0, len(records))
	for _, record := range records {
		out = append(out, core.ConnectionRef{
			AgentID: record.AgentID,
			Service: record.Service,
		})
	}
	return out, nil
}

func (s *ConnectionStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	cutoff := before.UTC().UnixMilli()

	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.refresh_token IS NOT NULL AND ?TableAlias.refresh_token <> ''").
				Where("?TableAlias.expires_at_ms > 0").
				Where("?TableAlias.expires_at_ms <= ?", cutoff)
		}),
		repository.OrderBy("expires_at_ms ASC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}

	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		connection, openErr := s.openConnection(ctx, record)
		if openErr != nil {
			return nil, openErr
		}
		out = append(out, connection)
	}
	return out, nil
}

func (s *ConnectionStore) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if userID <= 0 {
		return 0, fmt.Errorf("sqlstore: user id is required")
	}

	res, err := s.db.NewDelete().
		Model((*connectionRecord)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// KeysForUser enumerates the grant tuples currently stored for a user. The
// cached store uses it to drop point-lookup entries ahead of a bulk delete.
func (s *ConnectionStore) KeysForUser(ctx context.Context, userID int64) ([]core.GrantKey, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if userID <= 0 {
		return nil, fmt.Errorf("sqlstore: user id is required")
	}

	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strconv.FormatInt(userID, 10)),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.GrantKey, 0, len(records))
	for _, record := range records {
		out = append(out, core.GrantKey{
			UserID:      record.UserID,
			WorkspaceID: record.WorkspaceID,
			AgentID:     record.AgentID,
			Service:     record.Service,
		})
	}
	return out, nil
}

type sealedTokens struct {
	access  string
	refresh string
}

func (s *ConnectionStore) sealTokens(ctx context.Context, access, refresh string) (sealedTokens, error) {
	if s.cipher == nil {
		return sealedTokens{access: access, refresh: refresh}, nil
	}
	sealedAccess, err := s.cipher.EncryptToken(ctx, access)
	if err != nil {
		return sealedTokens{}, fmt.Errorf("sqlstore: seal access token: %w", err)
	}
	sealedRefresh, err := s.cipher.EncryptToken(ctx, refresh)
	if err != nil {
		return sealedTokens{}, fmt.Errorf("sqlstore: seal refresh token: %w", err)
	}
	return sealedTokens{access: sealedAccess, refresh: sealedRefresh}, nil
}

func (s *ConnectionStore) openToken(ctx context.Context, stored string) (string, error) {
	if s.cipher == nil {
		return stored, nil
	}
	opened, err := s.cipher.DecryptToken(ctx, stored)
	if err != nil {
		return "", fmt.Errorf("sqlstore: open token: %w", err)
	}
	return opened, nil
}

func (s *ConnectionStore) openConnection(ctx context.Context, record *connectionRecord) (core.Connection, error) {
	connection := record.toDomain()
	access, err := s.openToken(ctx, connection.AccessToken)
	if err != nil {
		return core.Connection{}, err
	}
	refresh, err := s.openToken(ctx, connection.RefreshToken)
	if err != nil {
		return core.Connection{}, err
	}
	connection.AccessToken = access
	connection.RefreshToken = refresh
	return connection, nil
}
