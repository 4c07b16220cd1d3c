package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"chatapp/internal/observability"
)

// Routing keys for domain events fanned out to downstream consumers.
const (
	KeyMessageSent   = "chat.message.sent"
	KeyMessagesRead  = "chat.messages.read"
	KeyPresence      = "chat.presence.changed"
	KeyAccountClosed = "chat.account.deleted"
)

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher, or a noop publisher when AMQP is
// disabled or unreachable. The chat server never fails to start over it.
func NewPublisher(log *slog.Logger, amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		log.Info("event broker disabled, using noop", "reason", "empty amqp url")
		return noopPublisher{log: log, reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Warn("event broker disabled, using noop", "error", err)
		return noopPublisher{log: log, reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("event broker disabled, using noop", "error", err)
		_ = conn.Close()
		return noopPublisher{log: log, reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		log.Warn("event broker disabled, using noop", "error", err)
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{log: log, reason: err.Error()}
	}

	log.Info("event broker connected", "exchange", exchange)
	return &amqpPublisher{log: log, conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	log      *slog.Logger
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		p.log.Error("event publish failed", "routing_key", routingKey, "error", err)
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	log    *slog.Logger
	reason string
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, event any) error {
	if env, ok := event.(Envelope); ok {
		p.log.Debug("noop publish", "routing_key", routingKey, "event_type", env.EventType)
		return nil
	}
	p.log.Debug("noop publish", "routing_key", routingKey)
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// Mode reports the publisher mode for logging.
func Mode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// Envelope is the JSON body of every published domain event.
type Envelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Environment   string `json:"environment"`
	Payload       any    `json:"payload"`
}

// Emitter stamps events with service metadata and publishes them. Failures
// are counted and logged, never returned: realtime delivery does not depend
// on the broker.
type Emitter struct {
	publisher   Publisher
	service     string
	environment string
	log         *slog.Logger
	now         func() time.Time
}

func NewEmitter(publisher Publisher, service, environment string, log *slog.Logger) *Emitter {
	return &Emitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
		log:         log,
		now:         time.Now,
	}
}

func (e *Emitter) Emit(ctx context.Context, routingKey string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}
	env := Envelope{
		SchemaVersion: 1,
		EventType:     routingKey,
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		Payload:       payload,
	}
	if err := e.publisher.Publish(ctx, routingKey, env); err != nil {
		observability.IncBrokerPublishError()
		e.log.Warn("domain event dropped", "routing_key", routingKey, "error", err)
	}
}
