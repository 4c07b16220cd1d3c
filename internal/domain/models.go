package domain

import (
	"strconv"
	"time"
)

const (
	MinContentLength = 1
	MaxContentLength = 1000
)

// User represents an application user. Identifiers cross the wire as strings.
type User struct {
	ID             int64      `json:"id,string"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	HashedPassword string     `json:"-"`
	IsOnline       bool       `json:"isOnline"`
	LastSeen       *time.Time `json:"lastSeen,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// Message is a direct message between two users. It is immutable except for
// the one-way IsRead transition.
type Message struct {
	ID         int64      `json:"id,string"`
	SenderID   int64      `json:"senderId,string"`
	ReceiverID int64      `json:"receiverId,string"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt"`
	IsRead     bool       `json:"isRead"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
}

// Peer returns the other party of the message as seen by self.
func (m *Message) Peer(self int64) int64 {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// Before reports whether m sorts before o: createdAt ascending, store id as tiebreak.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// HistoryQuery pages through a conversation. BeforeID is an exclusive
// message-id cursor; zero means "from the newest".
type HistoryQuery struct {
	Limit    int
	BeforeID int64
}

// FormatID renders an identifier for the wire.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseID parses a wire identifier. Only positive integers are well-formed.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidInput
	}
	return id, nil
}
