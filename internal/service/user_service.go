package service

import (
	"context"
	"log/slog"
	"strings"

	"chatapp/internal/broker"
	"chatapp/internal/domain"
)

type UserService struct {
	users    domain.UserRepository
	sessions SessionCloser
	events   EventEmitter
	log      *slog.Logger
}

func NewUserService(users domain.UserRepository, sessions SessionCloser, events EventEmitter, log *slog.Logger) *UserService {
	return &UserService{users: users, sessions: sessions, events: events, log: log}
}

type ProfileInput struct {
	Name  *string `json:"name" validate:"omitempty,min=2,max=50"`
	Email *string `json:"email" validate:"omitempty,email"`
}

func (s *UserService) List(ctx context.Context) ([]*domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, domain.Persistence("list users", err)
	}
	return users, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, domain.Persistence("get user", err)
	}
	return u, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, id int64, in ProfileInput) (*domain.User, error) {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
	}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		in.Email = &email
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	u, err := s.users.UpdateProfile(ctx, id, in.Name, in.Email)
	if err != nil {
		return nil, domain.Persistence("update profile", err)
	}
	return u, nil
}

// DeleteAccount removes the user together with every message they sent or
// received, then closes every live connection they have open.
func (s *UserService) DeleteAccount(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "user.delete_account")
	defer span.End()

	removed, err := s.users.DeleteWithMessages(ctx, id)
	if err != nil {
		span.RecordError(err)
		return domain.Persistence("delete account", err)
	}
	s.log.Info("account deleted", "user_id", id, "messages_removed", removed)

	if s.sessions != nil {
		s.sessions.Disconnect(id)
	}
	s.events.Emit(ctx, broker.KeyAccountClosed, map[string]any{
		"userId":          domain.FormatID(id),
		"messagesRemoved": removed,
	})
	return nil
}
