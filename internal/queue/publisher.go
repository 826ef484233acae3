package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends retries to SeatConfirmationQueue. The connection is opened
// lazily and reopened after it drops.
type Publisher struct {
	url string
	log *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewPublisher(url string, log *zap.Logger) *Publisher {
	return &Publisher{
		url: url,
		log: log.With(zap.String("component", "queue.publisher")),
	}
}

func (p *Publisher) PublishSeatConfirmationRetry(ctx context.Context, ev SeatConfirmationRetry) error {
	const op = "queue.Publisher.PublishSeatConfirmationRetry"

	body, err := encode(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(SeatConfirmationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%s: queue declare: %w", op, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    fmt.Sprintf("%s#%d", ev.BookingNumber, ev.Attempt),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", SeatConfirmationQueue, false, false, pub); err != nil {
		return fmt.Errorf("%s: publish: %w", op, err)
	}

	p.log.Info("seat confirmation retry queued",
		zap.String("booking_number", ev.BookingNumber),
		zap.Int("attempt", ev.Attempt),
	)

	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}

	err := p.conn.Close()
	p.conn = nil

	return err
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("channel open: %w", err)
	}

	return ch, nil
}

// LogOnly stands in for the broker when none is configured. Every retry is
// logged as needing manual reconciliation.
type LogOnly struct {
	log *zap.Logger
}

func NewLogOnly(log *zap.Logger) *LogOnly {
	return &LogOnly{log: log.With(zap.String("component", "queue.log_only"))}
}

func (l *LogOnly) PublishSeatConfirmationRetry(_ context.Context, ev SeatConfirmationRetry) error {
	l.log.Error("seat confirmation needs manual reconciliation",
		zap.String("booking_number", ev.BookingNumber),
		zap.Int64("show_id", ev.ShowID),
		zap.Int64s("seat_ids", ev.SeatIDs),
		zap.String("reason", ev.Reason),
	)
	return nil
}
