package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN. SQLite serializes writers,
// so the pool is pinned to one connection; this also keeps ":memory:"
// databases from splitting across connections.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Migrate creates the schema idempotently. Timestamps are stored as unix
// nanoseconds so ordering comparisons stay exact.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id              INTEGER PRIMARY KEY,
			name            TEXT    NOT NULL,
			email           TEXT    NOT NULL UNIQUE,
			hashed_password TEXT    NOT NULL,
			is_online       INTEGER NOT NULL DEFAULT 0,
			last_seen       INTEGER,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id   INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			content     TEXT    NOT NULL,
			created_at  INTEGER NOT NULL,
			is_read     INTEGER NOT NULL DEFAULT 0,
			read_at     INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, created_at, id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(receiver_id, sender_id, is_read);`,
		`CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
