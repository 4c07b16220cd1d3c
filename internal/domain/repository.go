package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	UpdateProfile(ctx context.Context, id int64, name, email *string) (*User, error)
	SetOnlineStatus(ctx context.Context, id int64, isOnline bool, at time.Time) error
	// DeleteWithMessages removes every message the user sent or received and
	// then the user, atomically. Returns ErrNotFound when no user was deleted.
	DeleteWithMessages(ctx context.Context, id int64) (int64, error)
}

// MessageRepository defines persistence operations for direct messages.
type MessageRepository interface {
	// Create appends m, assigning ID and CreatedAt so that (CreatedAt, ID)
	// follows insertion order within the sender/receiver pair.
	Create(ctx context.Context, m *Message) error
	// ListBetween returns messages of the unordered pair {a, b} in ascending
	// (CreatedAt, ID) order.
	ListBetween(ctx context.Context, a, b int64, q HistoryQuery) ([]*Message, error)
	// MarkRead flips every unread sender->receiver message in one statement
	// and reports how many rows changed.
	MarkRead(ctx context.Context, receiverID, senderID int64, at time.Time) (int64, error)
	CountUnread(ctx context.Context, receiverID, senderID int64) (int, error)
}
