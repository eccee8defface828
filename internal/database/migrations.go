package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/veneer/internal/sqlparse"
)

const migrationsTable = "_veneer_migrations"

// Migrate applies the *.sql files under dir in lexical order, recording each
// applied file name so reruns skip it. Each file runs in one transaction. A
// missing directory means there is nothing to do.
func Migrate(ctx context.Context, d *Database, fsys billy.Filesystem, dir string) error {
	infos, err := fsys.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading the migrations directory %s: %w", dir, err)
	}
	var names []string
	for _, info := range infos {
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".sql") {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil
	}

	if _, err := d.DB.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS "+migrationsTable+" (name TEXT PRIMARY KEY, applied_at TEXT NOT NULL)"); err != nil {
		return fmt.Errorf("creating the migrations table: %w", err)
	}
	applied, err := appliedMigrations(ctx, d)
	if err != nil {
		return err
	}

	for _, name := range names {
		if applied[name] {
			continue
		}
		if err := applyMigration(ctx, d, fsys, dir, name); err != nil {
			return err
		}
		slog.Info("database: applied migration", "name", name)
	}
	return nil
}

func applyMigration(ctx context.Context, d *Database, fsys billy.Filesystem, dir, name string) error {
	path := fsys.Join(dir, name)
	f, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("open migration %s: %w", path, err)
	}
	source, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("read migration %s: %w", path, err)
	}
	stmts, err := sqlparse.Split(string(source))
	if err != nil {
		return fmt.Errorf("migration %s: %w", name, err)
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: begin: %w", name, err)
	}
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: statement %d: %w", name, i+1, err)
		}
	}
	record := "INSERT INTO " + migrationsTable + " (name, applied_at) VALUES (?, ?)"
	if d.dialect.Placeholder == sqlparse.Postgres {
		record = "INSERT INTO " + migrationsTable + " (name, applied_at) VALUES ($1, $2)"
	}
	if _, err := tx.ExecContext(ctx, record, name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: recording: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %s: commit: %w", name, err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, d *Database) (map[string]bool, error) {
	rows, err := d.DB.QueryContext(ctx, "SELECT name FROM "+migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	applied := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
