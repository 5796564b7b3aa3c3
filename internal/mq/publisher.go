// Package mq publishes scheduled-email lifecycle events to RabbitMQ.
package mq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"MailScheduler/internal/errors"
	"MailScheduler/internal/models"
)

// Message is the envelope of every published event.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	exchange string
	log      *zap.Logger

	mu   sync.Mutex
	ch   channel
	conn *amqp.Connection
}

// NewPublisher dials url and declares exchange as a durable topic exchange.
func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open amqp channel")
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}

	logger.Info("connected to RabbitMQ", zap.String("exchange", exchange))

	p := newPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *zap.Logger) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, log: logger}
}

// RoutingKey returns the routing key for events about jobs in status.
func RoutingKey(status models.EmailStatus) string {
	return "job." + string(status)
}

// PublishJobEvent publishes ev with routing key job.<status>.
func (p *Publisher) PublishJobEvent(ctx context.Context, ev models.JobEvent) error {
	key := RoutingKey(ev.Status)
	msg := Message{
		ID:        uuid.NewString(),
		Type:      key,
		Payload:   ev,
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal job event")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Body:         body,
	})
	if err != nil {
		return errors.Wrapf(err, "publish to %s/%s", p.exchange, key)
	}

	p.log.Debug("published job event",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", key),
		zap.String("message_id", msg.ID),
		zap.String("job_id", ev.JobID),
	)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
