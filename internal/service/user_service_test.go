package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatapp/internal/broker"
	"chatapp/internal/domain"
	"chatapp/internal/service"
)

func TestDeleteAccountDropsSession(t *testing.T) {
	users := new(MockUserRepo)
	sessions := new(MockSessions)
	events := new(MockEmitter)
	svc := service.NewUserService(users, sessions, events, discardLogger())

	users.On("DeleteWithMessages", mock.Anything, int64(3)).Return(int64(12), nil).Once()
	sessions.On("Disconnect", int64(3)).Return(true).Once()
	events.On("Emit", mock.Anything, broker.KeyAccountClosed, mock.Anything).Return().Once()

	require.NoError(t, svc.DeleteAccount(context.Background(), 3))
	users.AssertExpectations(t)
	sessions.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestDeleteAccountMissing(t *testing.T) {
	users := new(MockUserRepo)
	sessions := new(MockSessions)
	svc := service.NewUserService(users, sessions, new(MockEmitter), discardLogger())

	users.On("DeleteWithMessages", mock.Anything, int64(3)).Return(int64(0), domain.ErrNotFound)

	err := svc.DeleteAccount(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	sessions.AssertNotCalled(t, "Disconnect", mock.Anything)
}

func TestUpdateProfile(t *testing.T) {
	users := new(MockUserRepo)
	svc := service.NewUserService(users, nil, new(MockEmitter), discardLogger())

	name := "Dana"
	updated := &domain.User{ID: 3, Name: "Dana", Email: "d@example.com"}
	users.On("UpdateProfile", mock.Anything, int64(3), mock.MatchedBy(func(n *string) bool {
		return n != nil && *n == "Dana"
	}), (*string)(nil)).Return(updated, nil)

	got, err := svc.UpdateProfile(context.Background(), 3, service.ProfileInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	short := "D"
	_, err = svc.UpdateProfile(context.Background(), 3, service.ProfileInput{Name: &short})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	bad := "nope"
	_, err = svc.UpdateProfile(context.Background(), 3, service.ProfileInput{Email: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
