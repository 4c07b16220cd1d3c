package httpserver_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatapp/internal/broker"
	"chatapp/internal/domain"
	"chatapp/internal/httpserver"
	"chatapp/internal/ratelimit"
	"chatapp/internal/security"
	"chatapp/internal/service"
	"chatapp/internal/store/sqlite"
	"chatapp/internal/ws"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { _ = db.Close() })

	users := sqlite.NewUserRepo(db)
	messages := sqlite.NewMessageRepo(db)
	hub := ws.NewHub(log)
	events := broker.NewEmitter(broker.NewPublisher(log, "", "chat.events"), "chatapp", "test", log)

	auth := service.NewAuthService(users, security.NewTokenService("test-secret", time.Hour), security.NewPasswordHasher(4))
	msgSvc := service.NewMessageService(messages, users, hub, ratelimit.Noop{}, events, log, 1000)
	receipts := service.NewReceiptService(messages, hub, events, log)
	presence := service.NewPresenceService(users, hub, events, log)
	userSvc := service.NewUserService(users, hub, events, log)

	live := ws.MakeHandler(ws.Deps{
		Hub:        hub,
		Auth:       auth,
		Messages:   msgSvc,
		Receipts:   receipts,
		Presence:   presence,
		Log:        log,
		BufferSize: 16,
	})

	srv := httptest.NewServer(httpserver.NewRouter(httpserver.Deps{
		Log:         log,
		CORSOrigins: []string{"*"},
		Auth:        auth,
		Users:       userSvc,
		Messages:    msgSvc,
		Receipts:    receipts,
		Live:        live,
		Sessions:    hub,
	}))
	t.Cleanup(srv.Close)
	return srv
}

type account struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func signup(t *testing.T, srv *httptest.Server, name, email string) account {
	t.Helper()
	var acc account
	code := doJSON(t, srv, http.MethodPost, "/api/signup", "", map[string]string{
		"name": name, "email": email, "password": "secret1",
	}, &acc)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, acc.Token)
	return acc
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": event, "data": data}))
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", event)
		if f.Type == event {
			return f.Data
		}
	}
}

func TestOfflineDeliveryReadReceiptAndReply(t *testing.T) {
	srv := newTestServer(t)
	alice := signup(t, srv, "Alice", "alice@example.com")
	bob := signup(t, srv, "Bob", "bob@example.com")
	aliceID := domain.FormatID(alice.User.ID)
	bobID := domain.FormatID(bob.User.ID)

	aconn := dial(t, srv, alice.Token)
	send(t, aconn, domain.EventUserOnline, aliceID)

	// Bob is offline: the send still succeeds and Alice gets her echo.
	send(t, aconn, domain.EventSendMessage, map[string]string{
		"senderId": aliceID, "receiverId": bobID, "content": "hi",
	})
	var echoed domain.Message
	require.NoError(t, json.Unmarshal(readUntil(t, aconn, domain.EventMessageSent), &echoed))
	assert.Equal(t, "hi", echoed.Content)

	var history []domain.Message
	code := doJSON(t, srv, http.MethodGet, "/api/messages/"+aliceID, bob.Token, nil, &history)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)
	assert.False(t, history[0].IsRead)

	bconn := dial(t, srv, bob.Token)
	send(t, bconn, domain.EventUserOnline, bobID)

	var status domain.StatusUpdate
	require.NoError(t, json.Unmarshal(readUntil(t, aconn, domain.EventUserStatusUpdate), &status))
	assert.Equal(t, bob.User.ID, status.UserID)
	assert.True(t, status.IsOnline)

	var marked struct {
		Message       string `json:"message"`
		ModifiedCount int64  `json:"modifiedCount"`
	}
	code = doJSON(t, srv, http.MethodPut, "/api/messages/mark-read/"+aliceID, bob.Token, nil, &marked)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), marked.ModifiedCount)

	var receipt domain.ReadReceipt
	require.NoError(t, json.Unmarshal(readUntil(t, aconn, domain.EventMessagesMarkedAsRead), &receipt))
	assert.Equal(t, alice.User.ID, receipt.SenderID)
	assert.Equal(t, bob.User.ID, receipt.ReceiverID)

	code = doJSON(t, srv, http.MethodPut, "/api/messages/mark-read/"+aliceID, bob.Token, nil, &marked)
	require.Equal(t, http.StatusOK, code)
	assert.Zero(t, marked.ModifiedCount)

	var sent struct {
		Message string         `json:"message"`
		Data    domain.Message `json:"data"`
	}
	code = doJSON(t, srv, http.MethodPost, "/api/messages", bob.Token, map[string]string{
		"receiverId": aliceID, "content": "hey",
	}, &sent)
	require.Equal(t, http.StatusCreated, code)

	var incoming domain.Message
	require.NoError(t, json.Unmarshal(readUntil(t, aconn, domain.EventNewMessage), &incoming))
	assert.Equal(t, "hey", incoming.Content)
	assert.Equal(t, sent.Data.ID, incoming.ID)
	readUntil(t, bconn, domain.EventMessageSent)

	code = doJSON(t, srv, http.MethodGet, "/api/messages/"+bobID, alice.Token, nil, &history)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, history, 2)
	assert.Equal(t, "hi", history[0].Content)
	assert.True(t, history[0].IsRead)
	assert.Equal(t, "hey", history[1].Content)

	// Closing Bob's connection flips him offline for everyone else.
	require.NoError(t, bconn.Close())
	require.NoError(t, json.Unmarshal(readUntil(t, aconn, domain.EventUserStatusUpdate), &status))
	assert.Equal(t, bob.User.ID, status.UserID)
	assert.False(t, status.IsOnline)
}

func TestLiveSendErrorsKeepConnectionOpen(t *testing.T) {
	srv := newTestServer(t)
	alice := signup(t, srv, "Alice", "alice@example.com")
	bob := signup(t, srv, "Bob", "bob@example.com")
	aliceID := domain.FormatID(alice.User.ID)

	conn := dial(t, srv, alice.Token)

	send(t, conn, domain.EventSendMessage, map[string]string{"receiverId": domain.FormatID(bob.User.ID), "content": "x"})
	var perr domain.ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, domain.EventMessageError), &perr))
	assert.Contains(t, perr.Error, "join")

	send(t, conn, domain.EventJoin, aliceID)
	send(t, conn, domain.EventSendMessage, map[string]string{"receiverId": domain.FormatID(bob.User.ID), "content": strings.Repeat("a", 1001)})
	require.NoError(t, json.Unmarshal(readUntil(t, conn, domain.EventMessageError), &perr))
	assert.Contains(t, perr.Error, "content")

	send(t, conn, domain.EventSendMessage, map[string]string{"receiverId": "999999", "content": "ok"})
	require.NoError(t, json.Unmarshal(readUntil(t, conn, domain.EventMessageError), &perr))
	assert.Equal(t, "user not found", perr.Error)

	send(t, conn, domain.EventSendMessage, map[string]string{"receiverId": domain.FormatID(bob.User.ID), "content": strings.Repeat("a", 1000)})
	readUntil(t, conn, domain.EventMessageSent)
}

func TestEscapedContentAtLimitKeepsConnection(t *testing.T) {
	srv := newTestServer(t)
	alice := signup(t, srv, "Alice", "alice@example.com")
	bob := signup(t, srv, "Bob", "bob@example.com")
	bobID := domain.FormatID(bob.User.ID)

	conn := dial(t, srv, alice.Token)
	send(t, conn, domain.EventJoin, domain.FormatID(alice.User.ID))

	// 1000 emoji, each written as an escaped surrogate pair.
	escaped := strings.Repeat(`\ud83d\ude00`, domain.MaxContentLength)
	raw := `{"type":"sendMessage","data":{"receiverId":"` + bobID + `","content":"` + escaped + `"}}`
	require.Greater(t, len(raw), 12000)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))

	var echoed domain.Message
	require.NoError(t, json.Unmarshal(readUntil(t, conn, domain.EventMessageSent), &echoed))
	assert.Equal(t, domain.MaxContentLength, utf8.RuneCountInString(echoed.Content))

	// Far over the content cap but still one frame: rejected, not dropped.
	send(t, conn, domain.EventSendMessage, map[string]string{"receiverId": bobID, "content": strings.Repeat("a", 9000)})
	var perr domain.ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, domain.EventMessageError), &perr))
	assert.Contains(t, perr.Error, "content")

	send(t, conn, domain.EventSendMessage, map[string]string{"receiverId": bobID, "content": "still here"})
	require.NoError(t, json.Unmarshal(readUntil(t, conn, domain.EventMessageSent), &echoed))
	assert.Equal(t, "still here", echoed.Content)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	alice := signup(t, srv, "Alice", "alice@example.com")
	conn := dial(t, srv, alice.Token)
	send(t, conn, domain.EventJoin, map[string]string{"userId": domain.FormatID(alice.User.ID)})

	require.Eventually(t, func() bool {
		var body struct {
			Status       string `json:"status"`
			LiveSessions int    `json:"liveSessions"`
		}
		code := doJSON(t, srv, http.MethodGet, "/health", "", nil, &body)
		return code == http.StatusOK && body.Status == "healthy" && body.LiveSessions == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRESTErrors(t *testing.T) {
	srv := newTestServer(t)
	alice := signup(t, srv, "Alice", "alice@example.com")
	bob := signup(t, srv, "Bob", "bob@example.com")

	var body struct {
		Message string `json:"message"`
	}

	code := doJSON(t, srv, http.MethodGet, "/api/users", "", nil, &body)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.NotEmpty(t, body.Message)

	code = doJSON(t, srv, http.MethodPost, "/api/signup", "", map[string]string{
		"name": "Again", "email": "ALICE@example.com", "password": "secret1",
	}, &body)
	assert.Equal(t, http.StatusConflict, code)

	code = doJSON(t, srv, http.MethodPost, "/api/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	}, &body)
	assert.Equal(t, http.StatusUnauthorized, code)

	code = doJSON(t, srv, http.MethodPost, "/api/messages", alice.Token, map[string]string{
		"receiverId": domain.FormatID(bob.User.ID), "content": "",
	}, &body)
	assert.Equal(t, http.StatusBadRequest, code)

	code = doJSON(t, srv, http.MethodGet, "/api/messages/not-an-id", alice.Token, nil, &body)
	assert.Equal(t, http.StatusBadRequest, code)

	code = doJSON(t, srv, http.MethodGet, "/api/messages/"+domain.FormatID(bob.User.ID)+"?limit=-1", alice.Token, nil, &body)
	assert.Equal(t, http.StatusBadRequest, code)

	var users []domain.User
	code = doJSON(t, srv, http.MethodGet, "/api/users", alice.Token, nil, &users)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, users, 2)
}

func TestDeleteAccountRevokesAccess(t *testing.T) {
	srv := newTestServer(t)
	alice := signup(t, srv, "Alice", "alice@example.com")
	bob := signup(t, srv, "Bob", "bob@example.com")

	code := doJSON(t, srv, http.MethodPost, "/api/messages", alice.Token, map[string]string{
		"receiverId": domain.FormatID(bob.User.ID), "content": "bye",
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	var body struct {
		Message string `json:"message"`
	}
	code = doJSON(t, srv, http.MethodDelete, "/api/account", alice.Token, nil, &body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Account deleted successfully", body.Message)

	var history []domain.Message
	code = doJSON(t, srv, http.MethodGet, "/api/messages/"+domain.FormatID(alice.User.ID), bob.Token, nil, &history)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, history)

	code = doJSON(t, srv, http.MethodGet, "/api/profile", alice.Token, nil, &body)
	assert.Equal(t, http.StatusUnauthorized, code)
}

// waitClosed reads until the server closes conn.
func waitClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			return
		}
	}
}

func TestDeleteAccountClosesEveryTab(t *testing.T) {
	srv := newTestServer(t)
	alice := signup(t, srv, "Alice", "alice@example.com")
	bob := signup(t, srv, "Bob", "bob@example.com")
	aliceID := domain.FormatID(alice.User.ID)

	tab1 := dial(t, srv, alice.Token)
	send(t, tab1, domain.EventJoin, aliceID)
	send(t, tab1, domain.EventSendMessage, map[string]string{"receiverId": domain.FormatID(bob.User.ID), "content": "from tab1"})
	readUntil(t, tab1, domain.EventMessageSent)

	// tab2 takes over the room; tab1 stays open but unbound.
	tab2 := dial(t, srv, alice.Token)
	send(t, tab2, domain.EventJoin, aliceID)
	send(t, tab2, domain.EventSendMessage, map[string]string{"receiverId": domain.FormatID(bob.User.ID), "content": "from tab2"})
	readUntil(t, tab2, domain.EventMessageSent)

	idle := dial(t, srv, alice.Token)
	send(t, idle, "ping", nil)
	readUntil(t, idle, domain.EventMessageError)

	code := doJSON(t, srv, http.MethodDelete, "/api/account", alice.Token, nil, nil)
	require.Equal(t, http.StatusOK, code)

	waitClosed(t, tab1)
	waitClosed(t, tab2)
	waitClosed(t, idle)

	var history []domain.Message
	code = doJSON(t, srv, http.MethodGet, "/api/messages/"+aliceID, bob.Token, nil, &history)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, history)
}

func TestUpdateProfile(t *testing.T) {
	srv := newTestServer(t)
	alice := signup(t, srv, "Alice", "alice@example.com")
	signup(t, srv, "Bob", "bob@example.com")

	var resp struct {
		Message string       `json:"message"`
		User    *domain.User `json:"user"`
	}
	code := doJSON(t, srv, http.MethodPut, "/api/profile", alice.Token, map[string]string{"name": "Alicia"}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Profile updated successfully", resp.Message)
	assert.Equal(t, "Alicia", resp.User.Name)
	assert.Equal(t, "alice@example.com", resp.User.Email)

	code = doJSON(t, srv, http.MethodPut, "/api/profile", alice.Token, map[string]string{"email": "bob@example.com"}, &resp)
	assert.Equal(t, http.StatusConflict, code)
}
