package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

const migrationTable = "schema_migrations"

// Migrate applies the embedded migrations for the dialect, each file at most once.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	root := path.Join("migrations", dialect.Name())
	entries, err := fs.ReadDir(migrationsFS, root)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`, migrationTable)
	if _, err = db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		if err = applyMigration(ctx, db, dialect, root, file); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, dialect Dialect, root, file string) error {
	var applied int
	err := db.QueryRowContext(ctx,
		dialect.Rebind(fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE name = ?", migrationTable)),
		file,
	).Scan(&applied)
	if err != nil {
		return fmt.Errorf("check migration %s: %w", file, err)
	}
	if applied > 0 {
		return nil
	}

	content, err := fs.ReadFile(migrationsFS, path.Join(root, file))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}
	upSQL := extractUp(string(content))
	if strings.TrimSpace(upSQL) == "" {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", file, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, upSQL); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if _, err = tx.ExecContext(ctx,
		dialect.Rebind(fmt.Sprintf(
			"INSERT INTO %s (name, applied_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING", migrationTable)),
		file, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}

// extractUp returns the SQL in the "-- +migrate Up" section.
func extractUp(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, up)
	if upIdx == -1 {
		return content
	}
	body := content[upIdx+len(up):]
	if downIdx := strings.Index(body, down); downIdx != -1 {
		body = body[:downIdx]
	}
	return body
}
