package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type UpsertUserInput struct {
	ID      int64
	Email   string
	Name    string
	Picture string
}

// UserStore persists identity records. Upsert overwrites profile fields with
// the latest values; no merge semantics.
type UserStore interface {
	Upsert(ctx context.Context, in UpsertUserInput) (User, error)
	// Ensure creates the identity row if missing without touching any stored
	// profile fields.
	Ensure(ctx context.Context, id int64) (User, error)
	Get(ctx context.Context, id int64) (User, error)
}

type UpsertConnectionInput struct {
	Key           GrantKey
	WorkspaceSlug string
	AccessToken   string
	RefreshToken  string
	ExpiresAtMs   int64
	Scopes        string
	ConnectionID  string
}

// ConnectionStore persists token grants keyed on the four-part tuple.
// Upsert coalesces an empty refresh token against the stored value; every
// other field overwrites. Get reports a miss as ErrNotConnected.
type ConnectionStore interface {
	Upsert(ctx context.Context, in UpsertConnectionInput) (Connection, error)
	Get(ctx context.Context, key GrantKey) (Connection, error)
	List(ctx context.Context, userID int64, workspaceID int64) ([]ConnectionRef, error)
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]Connection, error)
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
}

type CreateSessionInput struct {
	UserID      int64
	TokenHash   string
	ExpiresAtMs int64
}

type RotateSessionInput struct {
	RevokeID string
	Now      time.Time
	Next     CreateSessionInput
}

// SessionStore persists rotating-credential records. Revoke is a
// compare-and-swap on the revoked marker and reports whether the row was
// still live. Rotate runs revoke-then-create as one atomic unit so two
// concurrent rotations of the same session cannot both succeed.
type SessionStore interface {
	Create(ctx context.Context, in CreateSessionInput) (Session, error)
	FindByHash(ctx context.Context, hash string) (Session, error)
	Touch(ctx context.Context, id string, now time.Time) error
	Revoke(ctx context.Context, id string, now time.Time) (bool, error)
	Rotate(ctx context.Context, in RotateSessionInput) (Session, error)
}

// TokenGrant is the provider's token response shape for both the initial
// code exchange and later refreshes. RefreshToken and ExpiresAtMs are
// optional: providers frequently omit the refresh token on refresh.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAtMs  int64
	Scope        string
}

type Profile struct {
	Email   string
	Name    string
	Picture string
}

// RefreshHints carries the previously cached access token and expiry so a
// provider client can skip redundant work when it recognizes them.
type RefreshHints struct {
	AccessToken string
	ExpiresAtMs int64
}

// ProviderClient is the boundary to the third-party token issuer. The
// handshake mechanics behind it are out of scope here.
type ProviderClient interface {
	ExchangeCode(ctx context.Context, code string, redirectURI string) (TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string, hints RefreshHints) (TokenGrant, error)
	FetchProfile(ctx context.Context, accessToken string) (Profile, error)
}

// TokenCipher seals provider tokens before they hit the durable store.
// Implementations must round-trip the empty string unchanged.
type TokenCipher interface {
	EncryptToken(ctx context.Context, token string) (string, error)
	DecryptToken(ctx context.Context, stored string) (string, error)
}

type Registry interface {
	Register(service string, client ProviderClient) error
	Resolve(service string) (ProviderClient, error)
}

type StoreProvider interface {
	UserStore() UserStore
	ConnectionStore() ConnectionStore
	SessionStore() SessionStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}
