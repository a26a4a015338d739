package sqlstore

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect interface {
	// Name is the dialect name, also the migrations directory.
	Name() string

	// Rebind rewrites '?' placeholders into the engine's native form.
	Rebind(query string) string

	// IsConflict reports whether err means another writer got there first.
	IsConflict(err error) bool
}

// SQLite is the modernc.org/sqlite dialect.
type SQLite struct{}

// Name returns "sqlite".
func (SQLite) Name() string { return "sqlite" }

// Rebind is a no-op: sqlite understands '?'.
func (SQLite) Rebind(query string) string { return query }

// IsConflict treats unique violations and lock contention as conflicts.
func (SQLite) IsConflict(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT,
		sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
		sqlite3.SQLITE_BUSY,
		sqlite3.SQLITE_LOCKED:
		return true
	default:
		return false
	}
}

// Postgres is the lib/pq dialect.
type Postgres struct{}

const pqUniqueViolation = "23505"

// Name returns "postgres".
func (Postgres) Name() string { return "postgres" }

// Rebind converts '?' into $1, $2, ...
func (Postgres) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsConflict reports unique violations on the (stream_id, version) key.
func (Postgres) IsConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == pqUniqueViolation
}
