package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"

	"github.com/dima-ai/go-connections/core"
)

type FactoryOption func(*RepositoryFactory)

// WithTokenCipher seals access and refresh tokens before they are written.
func WithTokenCipher(cipher core.TokenCipher) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cipher = cipher
	}
}

// WithConnectionCache layers a read-through cache over connection point
// lookups.
func WithConnectionCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cacheService = cacheService
	}
}

// RepositoryFactory builds the SQL-backed stores over a shared bun handle.
// It satisfies both the store-provider and factory contracts so it can be
// handed to the service pre-built or lazily with a persistence client.
type RepositoryFactory struct {
	db           *bun.DB
	cipher       core.TokenCipher
	cacheService repositorycache.CacheService

	userStore       *UserStore
	connectionStore core.ConnectionStore
	sessionStore    *SessionStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.connectionStore != nil && f.sessionStore != nil && f.userStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) UserStore() core.UserStore {
	if f == nil {
		return nil
	}
	return f.userStore
}

func (f *RepositoryFactory) ConnectionStore() core.ConnectionStore {
	if f == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) SessionStore() core.SessionStore {
	if f == nil {
		return nil
	}
	return f.sessionStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	connectionRepo := repository.NewRepository[*connectionRecord](f.db, connectionHandlers())
	if validator, ok := connectionRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}

	sessionRepo := repository.NewRepository[*sessionRecord](f.db, sessionHandlers())
	if validator, ok := sessionRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid session repository wiring: %w", err)
		}
	}

	f.userStore = &UserStore{db: f.db}
	f.sessionStore = &SessionStore{
		db:   f.db,
		repo: sessionRepo,
	}

	connectionStore := &ConnectionStore{
		db:     f.db,
		repo:   connectionRepo,
		cipher: f.cipher,
	}
	if f.cacheService != nil {
		cached, err := NewCachedConnectionStore(connectionStore, f.cacheService)
		if err != nil {
			return err
		}
		f.connectionStore = cached
		return nil
	}
	f.connectionStore = connectionStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
