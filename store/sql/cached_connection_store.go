package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/dima-ai/go-connections/core"
)

const connectionCacheKeyPrefix = "go-connections::connection::v1"

// CachedConnectionStore layers a read-through cache over the point lookup,
// which dominates the hot path: every access-token request begins with a Get.
// Writes and bulk deletes invalidate; list queries always go to the base
// store.
type CachedConnectionStore struct {
	base  core.ConnectionStore
	cache repositorycache.CacheService
}

func NewCachedConnectionStore(base core.ConnectionStore, cacheService repositorycache.CacheService) (*CachedConnectionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connection store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connection cache service is required")
	}
	return &CachedConnectionStore{base: base, cache: cacheService}, nil
}

// ConnectionCacheKey returns the deterministic cache key for point lookups:
// go-connections::connection::v1::<user>::<workspace>::<agent>::<service>
// with the string segments URL-path escaped.
func ConnectionCacheKey(key core.GrantKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	segments := []string{
		strconv.FormatInt(key.UserID, 10),
		strconv.FormatInt(key.WorkspaceID, 10),
		url.PathEscape(strings.TrimSpace(key.AgentID)),
		url.PathEscape(strings.TrimSpace(key.Service)),
	}
	return strings.Join(append([]string{connectionCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedConnectionStore) Get(ctx context.Context, key core.GrantKey) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	cacheKey, err := ConnectionCacheKey(key)
	if err != nil {
		return core.Connection{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Connection, error) {
		return s.base.Get(ctx, key)
	})
}

func (s *CachedConnectionStore) Upsert(ctx context.Context, in core.UpsertConnectionInput) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	saved, err := s.base.Upsert(ctx, in)
	if err != nil {
		return core.Connection{}, err
	}
	if err := s.invalidate(ctx, in.Key); err != nil {
		return core.Connection{}, err
	}
	return saved, nil
}

func (s *CachedConnectionStore) List(ctx context.Context, userID int64, workspaceID int64) ([]core.ConnectionRef, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	return s.base.List(ctx, userID, workspaceID)
}

func (s *CachedConnectionStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.Connection, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	return s.base.ListExpiring(ctx, before, limit)
}

func (s *CachedConnectionStore) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return 0, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	// Enumerate before deleting so every affected point-lookup entry can be
	// dropped; the key set is unknown after the rows are gone.
	keys, err := s.keysForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	removed, err := s.base.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, cacheKey := range keys {
		if delErr := s.cache.Delete(ctx, cacheKey); delErr != nil {
			return 0, delErr
		}
	}
	return removed, nil
}

func (s *CachedConnectionStore) invalidate(ctx context.Context, key core.GrantKey) error {
	cacheKey, err := ConnectionCacheKey(key)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedConnectionStore) keysForUser(ctx context.Context, userID int64) ([]string, error) {
	enumerator, ok := s.base.(interface {
		KeysForUser(ctx context.Context, userID int64) ([]core.GrantKey, error)
	})
	if !ok {
		return nil, nil
	}
	grantKeys, err := enumerator.KeysForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(grantKeys))
	for _, grantKey := range grantKeys {
		cacheKey, keyErr := ConnectionCacheKey(grantKey)
		if keyErr != nil {
			continue
		}
		out = append(out, cacheKey)
	}
	return out, nil
}
