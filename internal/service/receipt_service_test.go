package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatapp/internal/broker"
	"chatapp/internal/domain"
	"chatapp/internal/service"
)

func TestMarkReadNotifiesOriginalSender(t *testing.T) {
	messages := new(MockMessageRepo)
	notifier := new(MockNotifier)
	events := new(MockEmitter)
	svc := service.NewReceiptService(messages, notifier, events, discardLogger())

	receipt := domain.ReadReceipt{SenderID: 1, ReceiverID: 2}
	messages.On("MarkRead", mock.Anything, int64(2), int64(1), mock.Anything).Return(int64(3), nil).Once()
	messages.On("MarkRead", mock.Anything, int64(2), int64(1), mock.Anything).Return(int64(0), nil).Once()
	notifier.On("Publish", int64(1), domain.EventMessagesMarkedAsRead, receipt).Return(true).Twice()
	events.On("Emit", mock.Anything, broker.KeyMessagesRead, mock.Anything).Return().Once()

	n, err := svc.MarkRead(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = svc.MarkRead(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	messages.AssertExpectations(t)
	notifier.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestMarkReadFailureNotifiesNobody(t *testing.T) {
	messages := new(MockMessageRepo)
	notifier := new(MockNotifier)
	svc := service.NewReceiptService(messages, notifier, new(MockEmitter), discardLogger())

	messages.On("MarkRead", mock.Anything, int64(2), int64(1), mock.Anything).Return(int64(0), errors.New("locked"))

	_, err := svc.MarkRead(context.Background(), 2, 1)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Empty(t, notifier.calls)
}

func TestMarkReadFromParsesSender(t *testing.T) {
	svc := service.NewReceiptService(new(MockMessageRepo), new(MockNotifier), new(MockEmitter), discardLogger())
	_, err := svc.MarkReadFrom(context.Background(), 2, "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
