package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/facility-booking/internal/timeutil"
)

// migration is one schema version. Statements run in order inside a single
// transaction together with the ledger insert; MySQL commits DDL implicitly,
// so statements there are written to be re-runnable.
type migration struct {
	version     string
	description string
	statements  []string
}

// AppliedMigration is a row of the schema_migrations ledger.
type AppliedMigration struct {
	Version       string
	Description   string
	AppliedAt     time.Time
	ExecutionTime time.Duration
}

// ErrUnknownVersion is returned when the ledger records a version this binary
// does not know, which means the database was migrated by a newer release.
var ErrUnknownVersion = errors.New("sqlstore: database has unknown schema version")

// MigrationError reports which version failed and at what step.
type MigrationError struct {
	Version   string
	Operation string
	Err       error
}

func (e *MigrationError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("sqlstore: migration: %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("sqlstore: migration %s: %s: %v", e.Version, e.Operation, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

const versionTableDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version VARCHAR(32) NOT NULL PRIMARY KEY,
	description VARCHAR(255) NOT NULL,
	applied_at VARCHAR(24) NOT NULL,
	execution_time_ms BIGINT NOT NULL
)`

// Migrate applies every pending schema version in order. Versions already in
// the ledger are skipped, so calling it on each start is safe.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, versionTableDDL); err != nil {
		return &MigrationError{Operation: "create version table", Err: mapError(err)}
	}

	applied, err := s.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	done := make(map[string]struct{}, len(applied))
	for _, a := range applied {
		done[a.Version] = struct{}{}
	}
	known := make(map[string]struct{}, len(s.dialect.migrations))
	var pending []migration
	for _, m := range s.dialect.migrations {
		known[m.version] = struct{}{}
		if _, ok := done[m.version]; !ok {
			pending = append(pending, m)
		}
	}
	for _, a := range applied {
		if _, ok := known[a.Version]; !ok {
			return &MigrationError{Version: a.Version, Operation: "check ledger", Err: ErrUnknownVersion}
		}
	}

	current := "none"
	if len(applied) > 0 {
		current = applied[len(applied)-1].Version
	}
	logger := s.logger.With("dialect", s.dialect.name, "current_version", current)
	if len(pending) == 0 {
		logger.DebugContext(ctx, "schema is up to date")
		return nil
	}
	logger.InfoContext(ctx, "applying schema migrations", "pending", len(pending))

	for _, m := range pending {
		if err := s.apply(ctx, m); err != nil {
			logger.ErrorContext(ctx, "schema migration failed", "version", m.version, "error", err)
			return err
		}
		logger.InfoContext(ctx, "schema migration applied", "version", m.version, "description", m.description)
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	started := time.Now()
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		for i, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return &MigrationError{Version: m.version, Operation: fmt.Sprintf("statement %d", i+1), Err: mapError(err)}
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description, applied_at, execution_time_ms) VALUES (?, ?, ?, ?)`,
			m.version, m.description, timeutil.FormatInstant(s.now()), time.Since(started).Milliseconds(),
		)
		if err != nil {
			return &MigrationError{Version: m.version, Operation: "record version", Err: mapError(err)}
		}
		return nil
	})
}

// AppliedMigrations lists the ledger ordered by version.
func (s *Store) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, description, applied_at, execution_time_ms FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, &MigrationError{Operation: "read ledger", Err: mapError(err)}
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			a         AppliedMigration
			appliedAt string
			millis    int64
		)
		if err := rows.Scan(&a.Version, &a.Description, &appliedAt, &millis); err != nil {
			return nil, &MigrationError{Operation: "read ledger", Err: err}
		}
		if ts, err := timeutil.ParseInstant(appliedAt); err == nil {
			a.AppliedAt = ts
		}
		a.ExecutionTime = time.Duration(millis) * time.Millisecond
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &MigrationError{Operation: "read ledger", Err: mapError(err)}
	}
	return out, nil
}
