package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"chatapp/internal/broker"
	"chatapp/internal/domain"
	"chatapp/internal/observability"
	"chatapp/internal/ratelimit"
)

// MessageService is the write path for direct messages: validate, persist,
// then push newMessage to the receiver and messageSent to the sender.
type MessageService struct {
	messages domain.MessageRepository
	users    domain.UserRepository
	notifier Notifier
	limiter  ratelimit.Limiter
	events   EventEmitter
	log      *slog.Logger

	pageSize int
}

func NewMessageService(
	messages domain.MessageRepository,
	users domain.UserRepository,
	notifier Notifier,
	limiter ratelimit.Limiter,
	events EventEmitter,
	log *slog.Logger,
	pageSize int,
) *MessageService {
	return &MessageService{
		messages: messages,
		users:    users,
		notifier: notifier,
		limiter:  limiter,
		events:   events,
		log:      log,
		pageSize: pageSize,
	}
}

type SendInput struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content" validate:"required,min=1,max=1000"`
}

// Send persists one message from senderID. Nothing is published unless the
// message was stored; an offline receiver is not an error.
func (s *MessageService) Send(ctx context.Context, senderID int64, in SendInput) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "message.send")
	defer span.End()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	receiverID, err := parseIDField("receiverId", in.ReceiverID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("chat.sender_id", senderID),
		attribute.Int64("chat.receiver_id", receiverID),
	)

	allowed, err := s.limiter.Allow(ctx, domain.FormatID(senderID))
	if err != nil {
		return nil, err
	}
	if !allowed {
		observability.IncRateLimited()
		return nil, domain.ErrRateLimited
	}

	// The sender may have been deleted while a connection was still open.
	if _, err := s.users.GetByID(ctx, senderID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, domain.Persistence("get sender", err)
	}
	if _, err := s.users.GetByID(ctx, receiverID); err != nil {
		return nil, domain.Persistence("get receiver", err)
	}

	m := &domain.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    in.Content,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		span.RecordError(err)
		return nil, domain.Persistence("create message", err)
	}
	observability.IncMessagesSent()

	if !s.notifier.Publish(receiverID, domain.EventNewMessage, m) {
		s.log.Debug("receiver offline, delivery deferred to history", "message_id", m.ID, "receiver_id", receiverID)
	}
	s.notifier.Publish(senderID, domain.EventMessageSent, m)

	s.events.Emit(ctx, broker.KeyMessageSent, m)
	return m, nil
}

// History returns the conversation between self and peer in ascending
// (createdAt, id) order. A zero limit means the configured page size, and
// larger limits are capped to it.
func (s *MessageService) History(ctx context.Context, self int64, peer string, q domain.HistoryQuery) ([]*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "message.history")
	defer span.End()

	peerID, err := parseIDField("peerId", peer)
	if err != nil {
		return nil, err
	}
	if q.Limit < 0 {
		return nil, domain.NewValidationError("limit", "must not be negative")
	}
	if q.BeforeID < 0 {
		return nil, domain.NewValidationError("before", "must be a valid message id")
	}
	if q.Limit == 0 || q.Limit > s.pageSize {
		q.Limit = s.pageSize
	}

	msgs, err := s.messages.ListBetween(ctx, self, peerID, q)
	if err != nil {
		span.RecordError(err)
		return nil, domain.Persistence("list messages", err)
	}
	return msgs, nil
}
