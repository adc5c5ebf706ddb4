package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

const (
	dialAttempts = 5
	dialBackoff  = 2 * time.Second
	outcomeType  = "feesync.outcome"
)

// AMQPPublisher streams outcome records to a durable queue.
type AMQPPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
}

var _ ports.OutcomePublisher = (*AMQPPublisher)(nil)

// NewAMQPPublisher dials url and declares the queue.
func NewAMQPPublisher(ctx context.Context, url, queue string, logger *slog.Logger) (*AMQPPublisher, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("amqp dial failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	return &AMQPPublisher{conn: conn, channel: ch, queue: queue, logger: logger}, nil
}

// PublishOutcome sends rec as a persistent JSON message keyed by its record ID.
func (p *AMQPPublisher) PublishOutcome(ctx context.Context, rec domain.SyncOutcomeRecord) error {
	msg, err := outcomeMessage(rec)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish outcome %s: %w", rec.ID, err)
	}
	p.logger.Debug("outcome published", "queue", p.queue, "record_id", rec.ID)
	return nil
}

// Close releases the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	chErr := p.channel.Close()
	if err := p.conn.Close(); err != nil {
		return err
	}
	return chErr
}

func outcomeMessage(rec domain.SyncOutcomeRecord) (amqp.Publishing, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal outcome: %w", err)
	}
	return amqp.Publishing{
		MessageId:    rec.ID,
		Type:         outcomeType,
		ContentType:  "application/json",
		Timestamp:    rec.SyncedAt,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			"encounter_id": rec.EncounterID,
			"status":       string(rec.Status),
		},
	}, nil
}
