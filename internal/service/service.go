package service

import (
	"context"
	"time"

	"chatapp/internal/observability"
)

// Notifier pushes events to live sessions. Publishing to a user without a
// session is a silent no-op and reports false.
type Notifier interface {
	Publish(userID int64, event string, payload any) bool
	Broadcast(event string, payload any, exceptUserID int64) int
}

// EventEmitter fans committed domain events out to the broker.
type EventEmitter interface {
	Emit(ctx context.Context, routingKey string, payload any)
}

// SessionCloser closes every live connection a user has open.
type SessionCloser interface {
	Disconnect(userID int64) bool
}

var tracer = observability.Tracer("service")

type clock func() time.Time
