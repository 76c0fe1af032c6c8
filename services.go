package connections

import "github.com/dima-ai/go-connections/core"

type Config = core.Config

type SessionConfig = core.SessionConfig

type RefreshConfig = core.RefreshConfig

type RedirectConfig = core.RedirectConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type GrantLocker = core.GrantLocker
type RefreshBackoffScheduler = core.RefreshBackoffScheduler
type Registry = core.Registry
type ProviderClient = core.ProviderClient
type UserStore = core.UserStore
type ConnectionStore = core.ConnectionStore
type SessionStore = core.SessionStore
type TokenCipher = core.TokenCipher

type GrantKey = core.GrantKey
type Connection = core.Connection
type ConnectionRef = core.ConnectionRef
type TokenGrant = core.TokenGrant
type Profile = core.Profile
type RefreshHints = core.RefreshHints
type User = core.User
type Session = core.Session
type IssuedSession = core.IssuedSession
type LogoutResult = core.LogoutResult

type StoreGrantInput = core.StoreGrantInput
type CompleteGrantRequest = core.CompleteGrantRequest
type CompleteGrantResult = core.CompleteGrantResult
type WarmOptions = core.WarmOptions
type WarmResult = core.WarmResult

var (
	ErrInvalidGrantKey       = core.ErrInvalidGrantKey
	ErrNotConnected          = core.ErrNotConnected
	ErrSessionInvalid        = core.ErrSessionInvalid
	ErrProviderNotRegistered = core.ErrProviderNotRegistered
)

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithRegistry                = core.WithRegistry
	WithGrantLocker             = core.WithGrantLocker
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
	WithUserStore               = core.WithUserStore
	WithConnectionStore         = core.WithConnectionStore
	WithSessionStore            = core.WithSessionStore
	WithClock                   = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
