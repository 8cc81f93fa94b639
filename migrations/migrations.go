// Package migrations applies the versioned schema of the gateway and memory
// databases. Files are named NNN_description.up.sql and embedded into the
// binary; each one runs inside its own transaction and is recorded in
// schema_migrations so reruns are no-ops.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed gateway/*.up.sql memory/*.up.sql
var files embed.FS

// Targets lists the migratable databases.
func Targets() []string { return []string{"gateway", "memory"} }

type migration struct {
	version int
	name    string
	sql     string
}

// Apply runs the target's pending migrations in version order and returns
// how many were applied.
func Apply(ctx context.Context, pool *pgxpool.Pool, target string) (int, error) {
	migs, err := load(target)
	if err != nil {
		return 0, err
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migs {
		if applied[m.version] {
			continue
		}
		if err := applyOne(ctx, pool, m); err != nil {
			return count, fmt.Errorf("apply %s migration %03d_%s: %w", target, m.version, m.name, err)
		}
		count++
	}
	return count, nil
}

func applyOne(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[int]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("load applied versions: %w", err)
	}
	defer rows.Close()

	applied := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func load(target string) ([]migration, error) {
	paths, err := fs.Glob(files, target+"/*.up.sql")
	if err != nil || len(paths) == 0 {
		return nil, fmt.Errorf("unknown migration target %q", target)
	}

	migs := make([]migration, 0, len(paths))
	seen := map[int]string{}
	for _, p := range paths {
		version, name, err := parseFilename(path.Base(p))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, name)
		}
		seen[version] = name

		sql, err := files.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", p, err)
		}
		migs = append(migs, migration{version: version, name: name, sql: string(sql)})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	return migs, nil
}

func parseFilename(base string) (int, string, error) {
	stem := strings.TrimSuffix(base, ".up.sql")
	num, name, ok := strings.Cut(stem, "_")
	if !ok {
		return 0, "", fmt.Errorf("malformed migration filename %q", base)
	}
	version, err := strconv.Atoi(num)
	if err != nil {
		return 0, "", fmt.Errorf("malformed migration version in %q", base)
	}
	return version, name, nil
}
