package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatapp/internal/domain"
	"chatapp/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Content is capped in characters, and one character can take 12 bytes
	// on the wire as an escaped surrogate pair. Oversized content that still
	// fits a frame is rejected with messageError instead of a close.
	maxEscapedRune = len(`\ud83d\ude00`)
	maxFrameSize   = 2*maxEscapedRune*domain.MaxContentLength + 8<<10
)

// Session owns one websocket. All writes go through its send queue and a
// single writer goroutine.
type Session struct {
	id     string
	userID int64
	conn   *websocket.Conn
	send   chan domain.Envelope
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

func newSession(conn *websocket.Conn, userID int64, buffer int, log *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan domain.Envelope, buffer),
		done:   make(chan struct{}),
		log:    log.With("conn_id", id, "user_id", userID),
	}
}

func (s *Session) ID() string { return s.id }

// Enqueue never blocks. A full queue drops the event.
func (s *Session) Enqueue(env domain.Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- env:
		return true
	case <-s.done:
		return false
	default:
		observability.IncWSDropped()
		s.log.Warn("send buffer full, dropping event", "event", env.Type)
		return false
	}
}

// Close stops the writer, which sends a close frame and releases the socket.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Session) sendError(msg string) {
	s.Enqueue(domain.Envelope{Type: domain.EventMessageError, Data: domain.ErrorPayload{Error: msg}})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
		_ = s.conn.Close()
	}()

	for {
		select {
		case env := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(env); err != nil {
				s.log.Debug("write failed", "error", err)
				return
			}
			observability.IncWSEvent("out", env.Type)
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
