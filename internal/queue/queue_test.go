package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	events []SeatConfirmationRetry
	err    error
}

func (r *recordingPublisher) PublishSeatConfirmationRetry(_ context.Context, ev SeatConfirmationRetry) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func newTestConsumer(pub Republisher, now time.Time) *Consumer {
	c := NewConsumer(ConsumerConfig{MaxAttempts: 3, RetryDelay: time.Second}, pub, zap.NewNop())
	c.now = func() time.Time { return now }
	return c
}

func body(t *testing.T, ev SeatConfirmationRetry) []byte {
	t.Helper()
	b, err := encode(ev)
	require.NoError(t, err)
	return b
}

func TestProcessSuccess(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestConsumer(pub, time.Now())

	var got SeatConfirmationRetry
	out := c.process(context.Background(), body(t, SeatConfirmationRetry{
		BookingNumber: "BMS-20260101-AAAAAAAA",
		ShowID:        1,
		SeatIDs:       []int64{4, 5},
	}), func(_ context.Context, ev SeatConfirmationRetry) error {
		got = ev
		return nil
	})

	assert.Equal(t, outcomeAck, out)
	assert.Equal(t, []int64{4, 5}, got.SeatIDs)
	assert.Empty(t, pub.events)
}

func TestProcessFailureRepublishesNextAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	pub := &recordingPublisher{}
	c := newTestConsumer(pub, now)

	out := c.process(context.Background(), body(t, SeatConfirmationRetry{
		BookingNumber: "BMS-20260101-AAAAAAAA",
		SeatIDs:       []int64{4},
		Attempt:       1,
	}), func(context.Context, SeatConfirmationRetry) error {
		return errors.New("ledger down")
	})

	assert.Equal(t, outcomeAck, out)
	require.Len(t, pub.events, 1)
	assert.Equal(t, 2, pub.events[0].Attempt)
	assert.Equal(t, "ledger down", pub.events[0].Reason)
	assert.Equal(t, now.Add(2*time.Second), pub.events[0].NotBefore)
}

func TestProcessGivesUpAfterMaxAttempts(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestConsumer(pub, time.Now())

	out := c.process(context.Background(), body(t, SeatConfirmationRetry{
		BookingNumber: "BMS-20260101-AAAAAAAA",
		SeatIDs:       []int64{4},
		Attempt:       2,
	}), func(context.Context, SeatConfirmationRetry) error {
		return errors.New("still rejected")
	})

	assert.Equal(t, outcomeAck, out)
	assert.Empty(t, pub.events)
}

func TestProcessRequeuesWhenRepublishFails(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker gone")}
	c := newTestConsumer(pub, time.Now())

	out := c.process(context.Background(), body(t, SeatConfirmationRetry{
		BookingNumber: "BMS-20260101-AAAAAAAA",
		SeatIDs:       []int64{4},
	}), func(context.Context, SeatConfirmationRetry) error {
		return errors.New("fail")
	})

	assert.Equal(t, outcomeRequeue, out)
}

func TestProcessRejectsMalformed(t *testing.T) {
	c := newTestConsumer(&recordingPublisher{}, time.Now())

	called := false
	h := func(context.Context, SeatConfirmationRetry) error {
		called = true
		return nil
	}

	assert.Equal(t, outcomeReject, c.process(context.Background(), []byte("{"), h))
	assert.Equal(t, outcomeReject, c.process(context.Background(), []byte(`{"booking_number":"x"}`), h))
	assert.False(t, called)
}

func TestProcessWaitsForNotBefore(t *testing.T) {
	now := time.Now()
	c := newTestConsumer(&recordingPublisher{}, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := c.process(ctx, body(t, SeatConfirmationRetry{
		BookingNumber: "BMS-20260101-AAAAAAAA",
		SeatIDs:       []int64{4},
		NotBefore:     now.Add(time.Hour),
	}), func(context.Context, SeatConfirmationRetry) error {
		t.Fatal("handler must not run before NotBefore")
		return nil
	})

	assert.Equal(t, outcomeRequeue, out)
}

type settlement struct {
	tag     uint64
	ack     bool
	requeue bool
}

type recordingAcknowledger struct {
	mu      sync.Mutex
	settled []settlement
	acked   chan uint64
}

func (r *recordingAcknowledger) record(s settlement) {
	r.mu.Lock()
	r.settled = append(r.settled, s)
	r.mu.Unlock()
	if s.ack {
		r.acked <- s.tag
	}
}

func (r *recordingAcknowledger) Ack(tag uint64, _ bool) error {
	r.record(settlement{tag: tag, ack: true})
	return nil
}

func (r *recordingAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	r.record(settlement{tag: tag, requeue: requeue})
	return nil
}

func (r *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return r.Nack(tag, false, requeue)
}

func TestServeDoesNotBlockBehindDelayedRetry(t *testing.T) {
	now := time.Now()
	c := newTestConsumer(&recordingPublisher{}, now)
	ack := &recordingAcknowledger{acked: make(chan uint64, 2)}

	msgs := make(chan amqp.Delivery, 2)
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body(t, SeatConfirmationRetry{
		BookingNumber: "BMS-20260101-AAAAAAAA",
		SeatIDs:       []int64{4},
		NotBefore:     now.Add(time.Hour),
	})}
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: body(t, SeatConfirmationRetry{
		BookingNumber: "BMS-20260101-BBBBBBBB",
		SeatIDs:       []int64{5},
	})}

	var handled sync.Map
	h := func(_ context.Context, ev SeatConfirmationRetry) error {
		handled.Store(ev.BookingNumber, true)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.serve(ctx, msgs, h) }()

	select {
	case tag := <-ack.acked:
		assert.Equal(t, uint64(2), tag)
	case <-time.After(5 * time.Second):
		t.Fatal("due retry was held up by the delayed one")
	}

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	_, ok := handled.Load("BMS-20260101-AAAAAAAA")
	assert.False(t, ok)

	ack.mu.Lock()
	defer ack.mu.Unlock()
	assert.ElementsMatch(t, []settlement{
		{tag: 2, ack: true},
		{tag: 1, requeue: true},
	}, ack.settled)
}

func TestServeReturnsWhenDeliveriesClose(t *testing.T) {
	c := newTestConsumer(&recordingPublisher{}, time.Now())
	ack := &recordingAcknowledger{acked: make(chan uint64, 1)}

	msgs := make(chan amqp.Delivery, 1)
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: body(t, SeatConfirmationRetry{
		BookingNumber: "BMS-20260101-AAAAAAAA",
		SeatIDs:       []int64{4},
	})}
	close(msgs)

	err := c.serve(context.Background(), msgs, func(context.Context, SeatConfirmationRetry) error { return nil })
	require.Error(t, err)

	ack.mu.Lock()
	defer ack.mu.Unlock()
	assert.Equal(t, []settlement{{tag: 7, ack: true}}, ack.settled)
}

func TestLogOnlyAcceptsEverything(t *testing.T) {
	err := NewLogOnly(zap.NewNop()).PublishSeatConfirmationRetry(context.Background(), SeatConfirmationRetry{
		BookingNumber: "BMS-20260101-AAAAAAAA",
	})
	require.NoError(t, err)
}
