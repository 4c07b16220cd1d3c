package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatapp/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// Create serializes inserts per pair with a transaction-scoped advisory lock
// so created_at never goes backwards inside a conversation.
func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, pairLockKey(m.SenderID, m.ReceiverID)); err != nil {
		return fmt.Errorf("lock pair: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, content, created_at, is_read)
		VALUES ($1, $2, $3, GREATEST(clock_timestamp(), COALESCE((
			SELECT MAX(created_at) FROM messages
			WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		), '-infinity'::timestamptz)), FALSE)
		RETURNING id, created_at
	`, m.SenderID, m.ReceiverID, m.Content).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	m.IsRead = false
	m.ReadAt = nil
	return nil
}

func (r *MessageRepo) ListBetween(ctx context.Context, a, b int64, q domain.HistoryQuery) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, content, created_at, is_read, read_at FROM (
			SELECT id, sender_id, receiver_id, content, created_at, is_read, read_at
			FROM messages
			WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
			  AND ($3::bigint = 0 OR id < $3::bigint)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		) page
		ORDER BY created_at ASC, id ASC
	`, a, b, q.BeforeID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	res := make([]*domain.Message, 0)
	for rows.Next() {
		m := &domain.Message{}
		var readAt sql.NullTime
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt, &m.IsRead, &readAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if readAt.Valid {
			m.ReadAt = &readAt.Time
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r *MessageRepo) MarkRead(ctx context.Context, receiverID, senderID int64, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = $1
		WHERE receiver_id = $2 AND sender_id = $3 AND is_read = FALSE
	`, at, receiverID, senderID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func (r *MessageRepo) CountUnread(ctx context.Context, receiverID, senderID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND sender_id = $2 AND is_read = FALSE
	`, receiverID, senderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
