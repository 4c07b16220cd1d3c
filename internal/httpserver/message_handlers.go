package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chatapp/internal/domain"
	"chatapp/internal/service"
)

type markReadResponse struct {
	Message       string `json:"message"`
	ModifiedCount int64  `json:"modifiedCount"`
}

type sendResponse struct {
	Message string          `json:"message"`
	Data    *domain.Message `json:"data"`
}

// @Summary      Conversation history
// @Description  Messages with peerId in ascending createdAt order. "before" pages backwards by message id.
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        peerId  path   string  true   "Peer user id"
// @Param        limit   query  int     false  "Page size"
// @Param        before  query  string  false  "Only messages with a smaller id"
// @Success      200  {array}   domain.Message
// @Failure      400  {object}  errorResponse
// @Router       /messages/{peerId} [get]
func handleHistory(msgSvc *service.MessageService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseHistoryQuery(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		msgs, err := msgSvc.History(r.Context(), CurrentUser(r).ID, chi.URLParam(r, "peerId"), q)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func parseHistoryQuery(r *http.Request) (domain.HistoryQuery, error) {
	var q domain.HistoryQuery
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, domain.NewValidationError("limit", "must be a non-negative integer")
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("before"); v != "" {
		id, err := domain.ParseID(v)
		if err != nil {
			return q, domain.NewValidationError("before", "must be a valid message id")
		}
		q.BeforeID = id
	}
	return q, nil
}

// @Summary      Mark messages read
// @Description  Marks every unread message from senderId to the caller as read and notifies senderId.
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        senderId  path  string  true  "Original sender id"
// @Success      200  {object}  markReadResponse
// @Router       /messages/mark-read/{senderId} [put]
func handleMarkRead(receipts *service.ReceiptService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := receipts.MarkReadFrom(r.Context(), CurrentUser(r).ID, chi.URLParam(r, "senderId"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, markReadResponse{Message: "Messages marked as read", ModifiedCount: n})
	}
}

// @Summary      Send message
// @Tags         messages
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body service.SendInput true "Message"
// @Success      201  {object}  sendResponse
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      429  {object}  errorResponse
// @Router       /messages [post]
func handleSendMessage(msgSvc *service.MessageService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SendInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid JSON body"})
			return
		}
		m, err := msgSvc.Send(r.Context(), CurrentUser(r).ID, req)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, sendResponse{Message: "Message sent successfully", Data: m})
	}
}
