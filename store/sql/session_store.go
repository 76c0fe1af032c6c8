package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/dima-ai/go-connections/core"
)

// SessionStore persists rotating-credential records. Revoke is a
// compare-and-swap on the revoked marker so two concurrent rotations of the
// same session resolve to exactly one winner.
type SessionStore struct {
	db   *bun.DB
	repo repository.Repository[*sessionRecord]
}

func (s *SessionStore) Create(ctx context.Context, in core.CreateSessionInput) (core.Session, error) {
	if s == nil || s.repo == nil {
		return core.Session{}, fmt.Errorf("sqlstore: session store is not configured")
	}
	if in.UserID <= 0 {
		return core.Session{}, fmt.Errorf("sqlstore: user id is required")
	}
	if strings.TrimSpace(in.TokenHash) == "" {
		return core.Session{}, fmt.Errorf("sqlstore: token hash is required")
	}
	if in.ExpiresAtMs <= 0 {
		return core.Session{}, fmt.Errorf("sqlstore: expiry is required")
	}

	record := newSessionRecord(in, writeTime())
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Session{}, err
	}
	return created.toDomain(), nil
}

func (s *SessionStore) FindByHash(ctx context.Context, hash string) (core.Session, error) {
	if s == nil || s.db == nil {
		return core.Session{}, fmt.Errorf("sqlstore: session store is not configured")
	}
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return core.Session{}, fmt.Errorf("%w: empty token hash", core.ErrSessionInvalid)
	}

	record := new(sessionRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.token_hash = ?", trimmed).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Session{}, fmt.Errorf("%w: unknown token", core.ErrSessionInvalid)
	}
	if err != nil {
		return core.Session{}, err
	}
	return record.toDomain(), nil
}

func (s *SessionStore) Touch(ctx context.Context, id string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: session store is not configured")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("sqlstore: session id is required")
	}

	_, err := s.db.NewUpdate().
		Model((*sessionRecord)(nil)).
		Set("last_used_at_ms = ?", now.UTC().UnixMilli()).
		Where("id = ?", trimmed).
		Exec(ctx)
	return err
}

// Revoke marks the session revoked and reports whether this caller won the
// race: false means the row was already revoked or never existed.
func (s *SessionStore) Revoke(ctx context.Context, id string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: session store is not configured")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return false, fmt.Errorf("sqlstore: session id is required")
	}
	return s.revoke(ctx, s.db, trimmed, now)
}

// Rotate revokes the current session and creates its replacement as one
// atomic unit. The losing side of a concurrent rotation gets
// core.ErrSessionInvalid instead of a second live session.
func (s *SessionStore) Rotate(ctx context.Context, in core.RotateSessionInput) (core.Session, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.Session{}, fmt.Errorf("sqlstore: session store is not configured")
	}
	revokeID := strings.TrimSpace(in.RevokeID)
	if revokeID == "" {
		return core.Session{}, fmt.Errorf("sqlstore: session id is required")
	}
	if strings.TrimSpace(in.Next.TokenHash) == "" {
		return core.Session{}, fmt.Errorf("sqlstore: next token hash is required")
	}

	var rotated core.Session
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// The outgoing session was just presented, so the same CAS update
		// stamps its last use alongside the revoke marker.
		res, revokeErr := tx.NewUpdate().
			Model((*sessionRecord)(nil)).
			Set("last_used_at_ms = ?", in.Now.UTC().UnixMilli()).
			Set("revoked_at_ms = ?", in.Now.UTC().UnixMilli()).
			Where("id = ?", revokeID).
			Where("revoked_at_ms IS NULL").
			Exec(ctx)
		if revokeErr != nil {
			return revokeErr
		}
		affected, affectedErr := res.RowsAffected()
		if affectedErr != nil {
			return affectedErr
		}
		if affected != 1 {
			return fmt.Errorf("%w: session already rotated or revoked", core.ErrSessionInvalid)
		}

		record := newSessionRecord(in.Next, in.Now.UTC())
		created, createErr := s.repo.CreateTx(ctx, tx, record)
		if createErr != nil {
			return createErr
		}
		rotated = created.toDomain()
		return nil
	})
	if err != nil {
		return core.Session{}, err
	}
	return rotated, nil
}

func (s *SessionStore) revoke(ctx context.Context, idb bun.IDB, id string, now time.Time) (bool, error) {
	res, err := idb.NewUpdate().
		Model((*sessionRecord)(nil)).
		Set("revoked_at_ms = ?", now.UTC().UnixMilli()).
		Where("id = ?", id).
		Where("revoked_at_ms IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
