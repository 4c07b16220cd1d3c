package service

import (
	"context"
	"log/slog"
	"time"

	"chatapp/internal/broker"
	"chatapp/internal/domain"
	"chatapp/internal/observability"
)

// ReceiptService flips unread messages to read and tells the original sender.
type ReceiptService struct {
	messages domain.MessageRepository
	notifier Notifier
	events   EventEmitter
	log      *slog.Logger
	now      clock
}

func NewReceiptService(messages domain.MessageRepository, notifier Notifier, events EventEmitter, log *slog.Logger) *ReceiptService {
	return &ReceiptService{
		messages: messages,
		notifier: notifier,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

// MarkRead marks every unread senderID->receiverID message as read in one
// statement. The sender is notified on every successful call, including
// repeats that change nothing, so its view converges.
func (s *ReceiptService) MarkRead(ctx context.Context, receiverID, senderID int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "receipt.mark_read")
	defer span.End()

	n, err := s.messages.MarkRead(ctx, receiverID, senderID, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		return 0, domain.Persistence("mark read", err)
	}
	observability.AddMessagesRead(n)

	receipt := domain.ReadReceipt{SenderID: senderID, ReceiverID: receiverID}
	s.notifier.Publish(senderID, domain.EventMessagesMarkedAsRead, receipt)

	if n > 0 {
		s.log.Debug("messages marked read", "receiver_id", receiverID, "sender_id", senderID, "count", n)
		s.events.Emit(ctx, broker.KeyMessagesRead, map[string]any{
			"senderId":      domain.FormatID(senderID),
			"receiverId":    domain.FormatID(receiverID),
			"modifiedCount": n,
		})
	}
	return n, nil
}

// MarkReadFrom is MarkRead with the sender id taken from the wire.
func (s *ReceiptService) MarkReadFrom(ctx context.Context, receiverID int64, sender string) (int64, error) {
	senderID, err := parseIDField("senderId", sender)
	if err != nil {
		return 0, err
	}
	return s.MarkRead(ctx, receiverID, senderID)
}
