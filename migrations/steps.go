package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Steps returns the full upgrade path. Version 1 is the original schema with
// grants keyed on (user_id, service); version 2 re-scopes them to
// (user_id, workspace_id, agent_id, service).
func Steps() []Step {
	return []Step{
		{From: 0, To: 1, Label: "base tables", Apply: applyBaseTables},
		{From: 1, To: 2, Label: "workspace-scoped grants", Apply: applyGrantRescope},
	}
}

const connectionsTargetColumns = `
	id TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	workspace_id BIGINT NOT NULL,
	workspace_slug TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	service TEXT NOT NULL,
	access_token TEXT,
	refresh_token TEXT,
	expires_at_ms BIGINT,
	scopes TEXT,
	connection_id TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP`

// applyBaseTables creates users and sessions. The grant table is owned by the
// re-scope step: deployments that predate version tracking already carry it
// in the legacy shape, and fresh installs get it created directly at the
// target shape one step later.
func applyBaseTables(ctx context.Context, tx bun.Tx, _ string) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			email TEXT UNIQUE,
			name TEXT,
			picture TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			token_hash TEXT NOT NULL UNIQUE,
			expires_at_ms BIGINT NOT NULL,
			revoked_at_ms BIGINT,
			last_used_at_ms BIGINT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id)`,
	}
	for _, statement := range statements {
		if _, err := tx.NewRaw(statement).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// applyGrantRescope moves the grant table to the four-part key. Existing rows
// are preserved under placeholder workspace and agent values so no grant is
// lost; they are superseded naturally the next time the user authorizes.
func applyGrantRescope(ctx context.Context, tx bun.Tx, dialect string) error {
	exists, err := tableExists(ctx, tx, dialect, "connections")
	if err != nil {
		return err
	}
	if !exists {
		return createTargetConnections(ctx, tx, "connections")
	}

	rescoped, err := columnExists(ctx, tx, dialect, "connections", "workspace_id")
	if err != nil {
		return err
	}
	if rescoped {
		return nil
	}

	if err := createTargetConnections(ctx, tx, "connections_rescope"); err != nil {
		return err
	}
	if _, err := tx.NewRaw(`
		INSERT INTO connections_rescope
			(id, user_id, workspace_id, workspace_slug, agent_id, service,
			 access_token, refresh_token, expires_at_ms, scopes, connection_id,
			 created_at, updated_at)
		SELECT
			id, user_id, 0, 'legacy', 'legacy', service,
			access_token, refresh_token, expires_at_ms, scopes, NULL,
			created_at, updated_at
		FROM connections`,
	).Exec(ctx); err != nil {
		return fmt.Errorf("copy legacy grants: %w", err)
	}
	if _, err := tx.NewRaw(`DROP TABLE connections`).Exec(ctx); err != nil {
		return err
	}
	if _, err := tx.NewRaw(`ALTER TABLE connections_rescope RENAME TO connections`).Exec(ctx); err != nil {
		return err
	}
	// The rename keeps the unique index attached under its shadow-table name
	// on sqlite; recreate it under the canonical name for both dialects.
	if _, err := tx.NewRaw(`DROP INDEX IF EXISTS idx_connections_grant_key`).Exec(ctx); err != nil {
		return err
	}
	if _, err := tx.NewRaw(
		`CREATE UNIQUE INDEX idx_connections_grant_key ON connections (user_id, workspace_id, agent_id, service)`,
	).Exec(ctx); err != nil {
		return err
	}
	return nil
}

func createTargetConnections(ctx context.Context, tx bun.Tx, tableName string) error {
	if _, err := tx.NewRaw(
		"CREATE TABLE " + tableName + " (" + connectionsTargetColumns + "\n)",
	).Exec(ctx); err != nil {
		return err
	}
	if tableName != "connections" {
		return nil
	}
	_, err := tx.NewRaw(
		"CREATE UNIQUE INDEX idx_connections_grant_key ON connections (user_id, workspace_id, agent_id, service)",
	).Exec(ctx)
	return err
}

func tableExists(ctx context.Context, tx bun.Tx, dialect string, tableName string) (bool, error) {
	var count int
	switch dialect {
	case DialectSQLite:
		if err := tx.NewRaw(
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
			tableName,
		).Scan(ctx, &count); err != nil {
			return false, err
		}
	case DialectPostgres:
		if err := tx.NewRaw(
			"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?",
			tableName,
		).Scan(ctx, &count); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("unsupported dialect %q", dialect)
	}
	return count > 0, nil
}

func columnExists(ctx context.Context, tx bun.Tx, dialect string, tableName string, columnName string) (bool, error) {
	var count int
	switch dialect {
	case DialectSQLite:
		if err := tx.NewRaw(
			"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?",
			tableName, columnName,
		).Scan(ctx, &count); err != nil {
			return false, err
		}
	case DialectPostgres:
		if err := tx.NewRaw(
			"SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?",
			tableName, columnName,
		).Scan(ctx, &count); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("unsupported dialect %q", dialect)
	}
	return count > 0, nil
}
