package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"chatapp/internal/domain"
)

// EventSink receives decoded server events in arrival order.
type EventSink interface {
	OnNewMessage(ctx context.Context, m domain.Message)
	OnMessageSent(ctx context.Context, m domain.Message)
	OnMessagesMarkedAsRead(ctx context.Context, r domain.ReadReceipt)
	OnUserStatus(s domain.StatusUpdate)
	OnError(msg string)
}

// LiveConn is the client end of /ws.
type LiveConn struct {
	conn *websocket.Conn
	log  *slog.Logger
	wmu  sync.Mutex
}

// Dial opens /ws on the server at baseURL (http or https) with a bearer token.
func Dial(ctx context.Context, baseURL, token string, log *slog.Logger) (*LiveConn, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/ws")
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", u.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return &LiveConn{conn: conn, log: log}, nil
}

func (c *LiveConn) emit(event string, data any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(domain.Envelope{Type: event, Data: data})
}

// Announce binds the connection to userID and marks the user online.
func (c *LiveConn) Announce(userID int64) error {
	id := domain.FormatID(userID)
	if err := c.emit(domain.EventJoin, id); err != nil {
		return err
	}
	return c.emit(domain.EventUserOnline, id)
}

func (c *LiveConn) Send(senderID, receiverID int64, content string) error {
	return c.emit(domain.EventSendMessage, domain.SendMessagePayload{
		SenderID:   domain.FormatID(senderID),
		ReceiverID: domain.FormatID(receiverID),
		Content:    content,
	})
}

func (c *LiveConn) MarkRead(senderID, receiverID int64) error {
	return c.emit(domain.EventMarkMessagesAsRead, domain.MarkReadPayload{
		SenderID:   domain.FormatID(senderID),
		ReceiverID: domain.FormatID(receiverID),
	})
}

// Run reads frames until the connection closes or ctx ends.
func (c *LiveConn) Run(ctx context.Context, sink EventSink) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		var in domain.InboundEvent
		if err := c.conn.ReadJSON(&in); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.log.Warn("skipping malformed frame", "error", err)
				continue
			}
			return err
		}
		if err := dispatch(ctx, sink, in); err != nil {
			c.log.Warn("skipping frame", "type", in.Type, "error", err)
		}
	}
}

func dispatch(ctx context.Context, sink EventSink, in domain.InboundEvent) error {
	switch in.Type {
	case domain.EventNewMessage, domain.EventMessageSent:
		var m domain.Message
		if err := json.Unmarshal(in.Data, &m); err != nil {
			return err
		}
		if in.Type == domain.EventNewMessage {
			sink.OnNewMessage(ctx, m)
		} else {
			sink.OnMessageSent(ctx, m)
		}
	case domain.EventMessagesMarkedAsRead:
		var r domain.ReadReceipt
		if err := json.Unmarshal(in.Data, &r); err != nil {
			return err
		}
		sink.OnMessagesMarkedAsRead(ctx, r)
	case domain.EventUserStatusUpdate:
		var s domain.StatusUpdate
		if err := json.Unmarshal(in.Data, &s); err != nil {
			return err
		}
		sink.OnUserStatus(s)
	case domain.EventMessageError:
		var e domain.ErrorPayload
		if err := json.Unmarshal(in.Data, &e); err != nil {
			return err
		}
		sink.OnError(e.Error)
	default:
		return fmt.Errorf("unknown event %q", in.Type)
	}
	return nil
}

func (c *LiveConn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return c.conn.Close()
}
