package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed migrations/sqlite/001_initial_schema.sql
var sqliteMigration001 string

//go:embed migrations/postgres/001_initial_schema.sql
var postgresMigration001 string

// migration holds a versioned SQL migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var sqliteMigrations = []migration{
	{Version: 1, Name: "initial_schema", SQL: sqliteMigration001},
}

var postgresMigrations = []migration{
	{Version: 1, Name: "initial_schema", SQL: postgresMigration001},
}

// migrationTarget is a database dialect migrations can be applied to.
type migrationTarget interface {
	ensureVersionTable(ctx context.Context) error
	currentVersion(ctx context.Context) (int, error)
	// apply runs stmts and records m in one transaction.
	apply(ctx context.Context, m migration, stmts []string) error
}

// runMigrations creates the schema_version table and applies any pending migrations.
func runMigrations(ctx context.Context, t migrationTarget, ms []migration) error {
	if err := t.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	current, err := t.currentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	for _, m := range ms {
		if m.Version <= current {
			continue
		}
		if err := t.apply(ctx, m, splitStatements(m.SQL)); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// sqlTarget migrates a database/sql handle using ? placeholders.
type sqlTarget struct {
	db *sql.DB
}

func (t sqlTarget) ensureVersionTable(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, createVersionTable)
	return err
}

func (t sqlTarget) currentVersion(ctx context.Context) (int, error) {
	var current int
	err := t.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	return current, err
}

func (t sqlTarget) apply(ctx context.Context, m migration, stmts []string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// splitStatements splits a SQL script on semicolons, dropping
// comment-only fragments.
func splitStatements(script string) []string {
	var stmts []string
	for _, raw := range strings.Split(script, ";") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		for _, l := range strings.Split(s, "\n") {
			l = strings.TrimSpace(l)
			if l != "" && !strings.HasPrefix(l, "--") {
				stmts = append(stmts, s)
				break
			}
		}
	}
	return stmts
}
