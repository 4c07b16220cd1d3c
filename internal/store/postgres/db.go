package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               BIGSERIAL    PRIMARY KEY,
			name             VARCHAR(100) NOT NULL,
			email            VARCHAR(255) UNIQUE NOT NULL,
			hashed_password  VARCHAR(255) NOT NULL,
			is_online        BOOLEAN      NOT NULL DEFAULT FALSE,
			last_seen        TIMESTAMPTZ,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ
		)`,

		// No foreign keys on messages: account deletion removes both sides
		// explicitly inside one transaction.
		`CREATE TABLE IF NOT EXISTS messages (
			id          BIGSERIAL   PRIMARY KEY,
			sender_id   BIGINT      NOT NULL,
			receiver_id BIGINT      NOT NULL,
			content     TEXT        NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			is_read     BOOLEAN     NOT NULL DEFAULT FALSE,
			read_at     TIMESTAMPTZ
		)`,

		`CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(receiver_id, sender_id) WHERE NOT is_read`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// pairLockKey maps an unordered user pair onto one advisory lock key.
func pairLockKey(a, b int64) int64 {
	if a > b {
		a, b = b, a
	}
	return a<<32 ^ b
}
