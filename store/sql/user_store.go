package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"github.com/dima-ai/go-connections/core"
)

// UserStore persists identity records keyed on the caller-assigned numeric
// id. Profile fields are latest-wins; created_at survives re-upserts.
type UserStore struct {
	db *bun.DB
}

func (s *UserStore) Upsert(ctx context.Context, in core.UpsertUserInput) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	if in.ID <= 0 {
		return core.User{}, fmt.Errorf("sqlstore: user id is required")
	}

	now := writeTime()
	var saved *userRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := new(userRecord)
		findErr := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.id = ?", in.ID).
			Limit(1).
			Scan(ctx)
		if findErr != nil && !errors.Is(findErr, sql.ErrNoRows) {
			return findErr
		}

		if errors.Is(findErr, sql.ErrNoRows) {
			record := &userRecord{
				ID:        in.ID,
				Email:     strings.TrimSpace(in.Email),
				Name:      strings.TrimSpace(in.Name),
				Picture:   strings.TrimSpace(in.Picture),
				CreatedAt: now,
			}
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			saved = record
			return nil
		}

		existing.Email = strings.TrimSpace(in.Email)
		existing.Name = strings.TrimSpace(in.Name)
		existing.Picture = strings.TrimSpace(in.Picture)
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
		return core.User{}, err
	}
	return saved.toDomain(), nil
}

// Ensure creates the identity row if it does not exist yet. Stored profile
// fields are never modified, so callers without fresh profile data can rely
// on it not clobbering a previous enrichment.
func (s *UserStore) Ensure(ctx context.Context, id int64) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	if id <= 0 {
		return core.User{}, fmt.Errorf("sqlstore: user id is required")
	}

	record := &userRecord{ID: id, CreatedAt: writeTime()}
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx); err != nil {
		return core.User{}, err
	}
	return s.Get(ctx, id)
}

func (s *UserStore) Get(ctx context.Context, id int64) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	if id <= 0 {
		return core.User{}, fmt.Errorf("sqlstore: user id is required")
	}

	record := new(userRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("sqlstore: user %d not found", id)
	}
	if err != nil {
		return core.User{}, err
	}
	return record.toDomain(), nil
}
