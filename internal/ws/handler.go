package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chatapp/internal/domain"
	"chatapp/internal/observability"
	"chatapp/internal/service"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

type MessageSender interface {
	Send(ctx context.Context, senderID int64, in service.SendInput) (*domain.Message, error)
}

type ReceiptMarker interface {
	MarkReadFrom(ctx context.Context, receiverID int64, sender string) (int64, error)
}

type PresenceTracker interface {
	Online(ctx context.Context, userID int64) error
	Offline(ctx context.Context, userID int64) error
}

// Deps wires the live endpoint to the hub and the services behind it.
type Deps struct {
	Hub            *Hub
	Auth           Authenticator
	Messages       MessageSender
	Receipts       ReceiptMarker
	Presence       PresenceTracker
	Log            *slog.Logger
	AllowedOrigins []string
	BufferSize     int
}

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin accepts listed browser origins and requests without an
// Origin header (native clients such as chatcli). "*" accepts everything.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, wildcard := allowed["*"]

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" || wildcard {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := allowed[fmt.Sprintf("%s://%s", u.Scheme, u.Host)]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	if protocolHeader := r.Header.Get("Sec-WebSocket-Protocol"); protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], nil
		}
	}

	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns the HTTP handler for the /ws endpoint. After the
// bearer token is verified the connection accepts these events:
//   - join               -> bind this connection to the user's room
//   - userOnline         -> join if needed, mark online, broadcast userStatusUpdate
//   - sendMessage        -> persist, then newMessage to receiver and messageSent to sender
//   - markMessagesAsRead -> bulk read, then messagesMarkedAsRead to the original sender
func MakeHandler(d Deps) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(d.AllowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin:  checkOrigin,
		Subprotocols: []string{"bearer"},
	}
	buffer := d.BufferSize
	if buffer <= 0 {
		buffer = 64
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := d.Auth.Authenticate(r.Context(), tokenStr)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			d.Log.Error("ws authenticate", "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.SetReadLimit(int64(maxFrameSize))

		sess := newSession(conn, user.ID, buffer, d.Log)
		d.Hub.Attach(user.ID, sess)
		go sess.writePump()
		observability.IncWSActive()
		sess.log.Info("ws connected")

		defer func() {
			observability.DecWSActive()
			sess.Close()
			d.Hub.Detach(user.ID, sess)
			if userID, bound := d.Hub.Leave(sess); bound {
				if err := d.Presence.Offline(context.Background(), userID); err != nil {
					sess.log.Error("set offline", "error", err)
				}
			}
			sess.log.Info("ws disconnected")
		}()

		readLoop(r.Context(), d, sess, user)
	}
}

func readLoop(ctx context.Context, d Deps, sess *Session, user *domain.User) {
	conn := sess.conn
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in domain.InboundEvent
		if err := conn.ReadJSON(&in); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				sess.sendError("malformed frame")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.log.Debug("ws read", "error", err)
			}
			return
		}
		observability.IncWSEvent("in", in.Type)
		dispatch(ctx, d, sess, user, in)
	}
}

func dispatch(ctx context.Context, d Deps, sess *Session, user *domain.User, in domain.InboundEvent) {
	switch in.Type {
	case domain.EventJoin:
		if !claimIdentity(sess, user, in.Data) {
			return
		}
		d.Hub.Join(user.ID, sess)

	case domain.EventUserOnline:
		if !claimIdentity(sess, user, in.Data) {
			return
		}
		if !d.Hub.IsBound(sess) {
			d.Hub.Join(user.ID, sess)
		}
		if err := d.Presence.Online(ctx, user.ID); err != nil {
			sess.log.Error("set online", "error", err)
			sess.sendError(errorText(err))
		}

	case domain.EventSendMessage:
		if !d.Hub.IsBound(sess) {
			sess.sendError("join before sending messages")
			return
		}
		var p domain.SendMessagePayload
		if err := json.Unmarshal(in.Data, &p); err != nil {
			sess.sendError("malformed sendMessage payload")
			return
		}
		if p.SenderID != "" && p.SenderID != domain.FormatID(user.ID) {
			sess.sendError("senderId does not match the session user")
			return
		}
		if _, err := d.Messages.Send(ctx, user.ID, service.SendInput{
			ReceiverID: p.ReceiverID,
			Content:    p.Content,
		}); err != nil {
			logFailure(sess.log, "send message", err)
			sess.sendError(errorText(err))
		}

	case domain.EventMarkMessagesAsRead:
		var p domain.MarkReadPayload
		if err := json.Unmarshal(in.Data, &p); err != nil {
			sess.sendError("malformed markMessagesAsRead payload")
			return
		}
		if p.ReceiverID != "" && p.ReceiverID != domain.FormatID(user.ID) {
			sess.sendError("receiverId does not match the session user")
			return
		}
		if _, err := d.Receipts.MarkReadFrom(ctx, user.ID, p.SenderID); err != nil {
			logFailure(sess.log, "mark read", err)
			sess.sendError(errorText(err))
		}

	default:
		sess.log.Debug("unknown event", "type", in.Type)
		sess.sendError(fmt.Sprintf("unknown event %q", in.Type))
	}
}

// claimIdentity checks that a join/userOnline payload names the
// authenticated user. It accepts "42", 42 or {"userId":"42"}.
func claimIdentity(sess *Session, user *domain.User, raw json.RawMessage) bool {
	id, ok := decodeUserID(raw)
	if !ok {
		sess.sendError("malformed user id")
		return false
	}
	if id != user.ID {
		sess.sendError("cannot act as another user")
		return false
	}
	return true
}

func decodeUserID(raw json.RawMessage) (int64, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		id, err := domain.ParseID(s)
		return id, err == nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		id, err := strconv.ParseInt(n.String(), 10, 64)
		return id, err == nil && id > 0
	}
	var obj struct {
		UserID json.RawMessage `json:"userId"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.UserID) > 0 && obj.UserID[0] != '{' {
		return decodeUserID(obj.UserID)
	}
	return 0, false
}

// errorText is what the client sees in messageError. Internal failures are
// not described.
func errorText(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, domain.ErrNotFound):
		return "user not found"
	case errors.Is(err, domain.ErrUnauthorized):
		return domain.ErrUnauthorized.Error()
	case errors.Is(err, domain.ErrRateLimited):
		return domain.ErrRateLimited.Error()
	case errors.Is(err, domain.ErrForbidden):
		return domain.ErrForbidden.Error()
	default:
		return "internal server error"
	}
}

func logFailure(log *slog.Logger, op string, err error) {
	if errors.Is(err, domain.ErrPersistence) {
		log.Error(op, "error", err)
		return
	}
	log.Debug(op, "error", err)
}
