package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler processes one retry. A non-nil error schedules another attempt.
type Handler func(ctx context.Context, ev SeatConfirmationRetry) error

// Republisher puts a retry back on the queue.
type Republisher interface {
	PublishSeatConfirmationRetry(ctx context.Context, ev SeatConfirmationRetry) error
}

type ConsumerConfig struct {
	URL         string
	MaxAttempts int
	RetryDelay  time.Duration
	Prefetch    int
}

type Consumer struct {
	cfg   ConsumerConfig
	retry Republisher
	log   *zap.Logger
	now   func() time.Time
}

func NewConsumer(cfg ConsumerConfig, retry Republisher, log *zap.Logger) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}

	return &Consumer{
		cfg:   cfg,
		retry: retry,
		log:   log.With(zap.String("component", "queue.consumer")),
		now:   time.Now,
	}
}

// Run consumes until ctx is cancelled, reconnecting with exponential backoff
// whenever the broker connection is lost.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	backoff := time.Second

	for {
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			c.log.Warn("dial broker failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn, h)
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}

		c.log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, h Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		c.log.Warn("set QoS failed", zap.Error(err))
	}

	if _, err := ch.QueueDeclare(SeatConfirmationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(SeatConfirmationQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	return c.serve(ctx, msgs, h)
}

// serve handles deliveries on up to Prefetch goroutines, so a retry waiting
// for its NotBefore does not hold up the ones behind it. It returns once ctx
// is cancelled or msgs is closed and every in-flight delivery is settled.
func (c *Consumer) serve(ctx context.Context, msgs <-chan amqp.Delivery, h Handler) error {
	var g errgroup.Group
	g.SetLimit(c.cfg.Prefetch)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}

			g.Go(func() error {
				switch c.process(ctx, d.Body, h) {
				case outcomeAck:
					_ = d.Ack(false)
				case outcomeReject:
					_ = d.Nack(false, false)
				case outcomeRequeue:
					_ = d.Nack(false, true)
				}
				return nil
			})
		}
	}
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeReject
	outcomeRequeue
)

// process runs one delivery through the handler. Failed attempts are
// republished with Attempt+1 until MaxAttempts is reached, after which the
// retry is dropped and logged for manual reconciliation.
func (c *Consumer) process(ctx context.Context, body []byte, h Handler) outcome {
	ev, err := decode(body)
	if err != nil {
		c.log.Error("malformed retry message dropped", zap.Error(err))
		return outcomeReject
	}

	if wait := ev.NotBefore.Sub(c.now()); wait > 0 {
		if !sleep(ctx, wait) {
			return outcomeRequeue
		}
	}

	log := c.log.With(
		zap.String("booking_number", ev.BookingNumber),
		zap.Int("attempt", ev.Attempt),
	)

	err = h(ctx, ev)
	if err == nil {
		log.Info("seat confirmation retry succeeded")
		return outcomeAck
	}

	if ctx.Err() != nil {
		return outcomeRequeue
	}

	if ev.Attempt+1 >= c.cfg.MaxAttempts {
		log.Error("seat confirmation retries exhausted, manual reconciliation required",
			zap.Int64("show_id", ev.ShowID),
			zap.Int64s("seat_ids", ev.SeatIDs),
			zap.Error(err),
		)
		return outcomeAck
	}

	next := ev
	next.Attempt++
	next.Reason = err.Error()
	next.NotBefore = c.now().Add(c.cfg.RetryDelay * time.Duration(next.Attempt))

	if perr := c.retry.PublishSeatConfirmationRetry(ctx, next); perr != nil {
		log.Warn("republish failed, requeueing", zap.Error(perr))
		return outcomeRequeue
	}

	log.Warn("seat confirmation retry failed", zap.Error(err))

	return outcomeAck
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
