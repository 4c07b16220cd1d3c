package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatapp/internal/domain"
)

type MessageRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db, now: time.Now}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// Create inserts the message in a single statement. created_at is clamped to
// the newest timestamp already stored for the pair, so a clock step backwards
// or a same-nanosecond insert never reorders the conversation; ties fall back
// to the autoincrement id.
func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	query := `
		INSERT INTO messages (sender_id, receiver_id, content, created_at, is_read)
		VALUES (?, ?, ?, MAX(?, COALESCE((
			SELECT MAX(created_at) FROM messages
			WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		), 0)), 0)
		RETURNING id, created_at
	`
	var createdAt int64
	err := r.db.QueryRowContext(ctx, query,
		m.SenderID, m.ReceiverID, m.Content, toNanos(r.now()),
		m.SenderID, m.ReceiverID, m.ReceiverID, m.SenderID,
	).Scan(&m.ID, &createdAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	m.CreatedAt = fromNanos(createdAt)
	m.IsRead = false
	m.ReadAt = nil
	return nil
}

func (r *MessageRepo) ListBetween(ctx context.Context, a, b int64, q domain.HistoryQuery) ([]*domain.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, created_at, is_read, read_at FROM (
			SELECT id, sender_id, receiver_id, content, created_at, is_read, read_at
			FROM messages
			WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
			  AND (? = 0 OR id < ?)
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, a, b, b, a, q.BeforeID, q.BeforeID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	res := make([]*domain.Message, 0)
	for rows.Next() {
		m := &domain.Message{}
		var createdAt int64
		var readAt sql.NullInt64
		if err := rows.Scan(
			&m.ID,
			&m.SenderID,
			&m.ReceiverID,
			&m.Content,
			&createdAt,
			&m.IsRead,
			&readAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = fromNanos(createdAt)
		m.ReadAt = nullableTime(readAt)
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r *MessageRepo) MarkRead(ctx context.Context, receiverID, senderID int64, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1, read_at = ?
		WHERE receiver_id = ? AND sender_id = ? AND is_read = 0
	`, toNanos(at), receiverID, senderID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, receiverID, senderID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND sender_id = ? AND is_read = 0
	`, receiverID, senderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
