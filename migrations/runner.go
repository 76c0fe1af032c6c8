package migrations

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/uptrace/bun"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// TargetVersion is the schema generation this build expects. The runner
	// walks every step between the persisted version and this one.
	TargetVersion = 2

	versionTable = "schema_version"
)

// Step upgrades the schema from exactly one version to the next. Apply runs
// inside a transaction together with the version bump, so a crash mid-step
// leaves the persisted version untouched.
type Step struct {
	From  int
	To    int
	Label string
	Apply func(ctx context.Context, tx bun.Tx, dialect string) error
}

type RunnerOption func(*Runner)

func WithLogger(logger glog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithSteps(steps ...Step) RunnerOption {
	return func(r *Runner) {
		if len(steps) > 0 {
			r.steps = steps
		}
	}
}

// Runner applies the versioned schema steps at process start. Failures are
// fatal for the caller: the process must not serve traffic against a
// half-migrated schema.
type Runner struct {
	db     *bun.DB
	logger glog.Logger
	steps  []Step
}

func NewRunner(db *bun.DB, opts ...RunnerOption) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: bun db is required")
	}
	runner := &Runner{
		db:    db,
		steps: Steps(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	runner.logger = glog.Ensure(runner.logger)
	if err := validateSteps(runner.steps); err != nil {
		return nil, err
	}
	return runner, nil
}

// Run brings the schema to TargetVersion. A persisted version at or past the
// target is a no-op, which makes the runner safe to call on every start.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("migrations: runner is not configured")
	}

	dialect, err := resolveDialect(r.db)
	if err != nil {
		return err
	}
	if err := r.ensureVersionMarker(ctx); err != nil {
		return err
	}

	current, err := r.currentVersion(ctx)
	if err != nil {
		return err
	}
	if current >= TargetVersion {
		r.logger.Debug("schema already at target version", "version", current)
		return nil
	}

	sorted := make([]Step, len(r.steps))
	copy(sorted, r.steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })

	for _, step := range sorted {
		if step.From != current || current >= TargetVersion {
			continue
		}
		startedAt := time.Now()
		if err := r.applyStep(ctx, step, dialect); err != nil {
			return fmt.Errorf("migrations: step %d->%d (%s) failed: %w", step.From, step.To, step.Label, err)
		}
		r.logger.Info("schema step applied",
			"from", step.From,
			"to", step.To,
			"label", step.Label,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		current = step.To
	}

	if current < TargetVersion {
		return fmt.Errorf("migrations: no step path from version %d to %d", current, TargetVersion)
	}
	return nil
}

func (r *Runner) applyStep(ctx context.Context, step Step, dialect string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := step.Apply(ctx, tx, dialect); err != nil {
			return err
		}
		// Version bump last: the step is only durable together with it.
		res, err := tx.NewRaw(
			"UPDATE "+versionTable+" SET version = ? WHERE version = ?",
			step.To, step.From,
		).Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return fmt.Errorf("version marker moved concurrently")
		}
		return nil
	})
}

func (r *Runner) ensureVersionMarker(ctx context.Context) error {
	if _, err := r.db.NewRaw(
		"CREATE TABLE IF NOT EXISTS " + versionTable + " (version INTEGER NOT NULL)",
	).Exec(ctx); err != nil {
		return fmt.Errorf("migrations: create version marker: %w", err)
	}

	var count int
	if err := r.db.NewRaw(
		"SELECT COUNT(*) FROM " + versionTable,
	).Scan(ctx, &count); err != nil {
		return fmt.Errorf("migrations: read version marker: %w", err)
	}
	if count == 0 {
		if _, err := r.db.NewRaw(
			"INSERT INTO " + versionTable + " (version) VALUES (0)",
		).Exec(ctx); err != nil {
			return fmt.Errorf("migrations: seed version marker: %w", err)
		}
	}
	return nil
}

func (r *Runner) currentVersion(ctx context.Context) (int, error) {
	var version int
	if err := r.db.NewRaw(
		"SELECT version FROM " + versionTable + " LIMIT 1",
	).Scan(ctx, &version); err != nil {
		return 0, fmt.Errorf("migrations: read schema version: %w", err)
	}
	return version, nil
}

func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("migrations: at least one step is required")
	}
	seen := map[int]bool{}
	for _, step := range steps {
		if step.Apply == nil {
			return fmt.Errorf("migrations: step %d->%d has no apply func", step.From, step.To)
		}
		if step.To != step.From+1 {
			return fmt.Errorf("migrations: step %d->%d must advance by one", step.From, step.To)
		}
		if seen[step.From] {
			return fmt.Errorf("migrations: duplicate step from version %d", step.From)
		}
		seen[step.From] = true
	}
	return nil
}

func resolveDialect(db *bun.DB) (string, error) {
	name := strings.ToLower(strings.TrimSpace(db.Dialect().Name().String()))
	switch name {
	case "sqlite":
		return DialectSQLite, nil
	case "pg", "postgres":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: unsupported dialect %q", name)
	}
}
