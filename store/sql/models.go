package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

// writeTime is the timestamp every store stamps on writes. Sqlite round-trips
// time columns at microsecond precision, so anything finer would make the
// value returned from an insert differ from the re-read row.
func writeTime() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type userRecord struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64     `bun:"id,pk"`
	Email     string    `bun:"email,nullzero"`
	Name      string    `bun:"name"`
	Picture   string    `bun:"picture"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type connectionRecord struct {
	bun.BaseModel `bun:"table:connections,alias:cn"`

	ID            string    `bun:"id,pk"`
	UserID        int64     `bun:"user_id,notnull"`
	WorkspaceID   int64     `bun:"workspace_id,notnull"`
	WorkspaceSlug string    `bun:"workspace_slug,notnull"`
	AgentID       string    `bun:"agent_id,notnull"`
	Service       string    `bun:"service,notnull"`
	AccessToken   string    `bun:"access_token"`
	RefreshToken  string    `bun:"refresh_token"`
	ExpiresAtMs   int64     `bun:"expires_at_ms"`
	Scopes        string    `bun:"scopes"`
	ConnectionID  *string   `bun:"connection_id"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type sessionRecord struct {
	bun.BaseModel `bun:"table:sessions,alias:sn"`

	ID           string    `bun:"id,pk"`
	UserID       int64     `bun:"user_id,notnull"`
	TokenHash    string    `bun:"token_hash,notnull"`
	ExpiresAtMs  int64     `bun:"expires_at_ms,notnull"`
	RevokedAtMs  *int64    `bun:"revoked_at_ms"`
	LastUsedAtMs *int64    `bun:"last_used_at_ms"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
