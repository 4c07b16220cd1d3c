package service_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"chatapp/internal/domain"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) List(ctx context.Context) ([]*domain.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.User), args.Error(1)
}

func (m *MockUserRepo) UpdateProfile(ctx context.Context, id int64, name, email *string) (*domain.User, error) {
	args := m.Called(ctx, id, name, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) SetOnlineStatus(ctx context.Context, id int64, isOnline bool, at time.Time) error {
	args := m.Called(ctx, id, isOnline, at)
	return args.Error(0)
}

func (m *MockUserRepo) DeleteWithMessages(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepo) ListBetween(ctx context.Context, a, b int64, q domain.HistoryQuery) ([]*domain.Message, error) {
	args := m.Called(ctx, a, b, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) MarkRead(ctx context.Context, receiverID, senderID int64, at time.Time) (int64, error) {
	args := m.Called(ctx, receiverID, senderID, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepo) CountUnread(ctx context.Context, receiverID, senderID int64) (int, error) {
	args := m.Called(ctx, receiverID, senderID)
	return args.Int(0), args.Error(1)
}

// MockNotifier records every push in order.
type MockNotifier struct {
	mock.Mock
	calls []string
}

func (m *MockNotifier) Publish(userID int64, event string, payload any) bool {
	m.calls = append(m.calls, event)
	return m.Called(userID, event, payload).Bool(0)
}

func (m *MockNotifier) Broadcast(event string, payload any, exceptUserID int64) int {
	m.calls = append(m.calls, event)
	return m.Called(event, payload, exceptUserID).Int(0)
}

type MockEmitter struct {
	mock.Mock
}

func (m *MockEmitter) Emit(ctx context.Context, routingKey string, payload any) {
	m.Called(ctx, routingKey, payload)
}

type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) Disconnect(userID int64) bool {
	return m.Called(userID).Bool(0)
}

type fixedLimiter struct {
	allow bool
}

func (l fixedLimiter) Allow(context.Context, string) (bool, error) { return l.allow, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
