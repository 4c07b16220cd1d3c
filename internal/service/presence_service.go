package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chatapp/internal/broker"
	"chatapp/internal/domain"
)

// PresenceService keeps the online flag in the store in step with live
// sessions and broadcasts changes to everyone else.
type PresenceService struct {
	users    domain.UserRepository
	notifier Notifier
	events   EventEmitter
	log      *slog.Logger
	now      clock
}

func NewPresenceService(users domain.UserRepository, notifier Notifier, events EventEmitter, log *slog.Logger) *PresenceService {
	return &PresenceService{
		users:    users,
		notifier: notifier,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

func (s *PresenceService) Online(ctx context.Context, userID int64) error {
	return s.set(ctx, userID, true)
}

func (s *PresenceService) Offline(ctx context.Context, userID int64) error {
	return s.set(ctx, userID, false)
}

func (s *PresenceService) set(ctx context.Context, userID int64, online bool) error {
	err := s.users.SetOnlineStatus(ctx, userID, online, s.now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound) && !online:
		// Account removed while connected; peers still need the offline flip.
		s.log.Debug("offline for deleted user", "user_id", userID)
	default:
		return domain.Persistence("set online status", err)
	}

	update := domain.StatusUpdate{UserID: userID, IsOnline: online}
	delivered := s.notifier.Broadcast(domain.EventUserStatusUpdate, update, userID)
	s.log.Debug("presence changed", "user_id", userID, "online", online, "notified", delivered)

	s.events.Emit(ctx, broker.KeyPresence, update)
	return nil
}
