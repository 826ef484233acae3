package redisrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeatsChanged is broadcast after a seat state transition is committed.
type SeatsChanged struct {
	Type    string  `json:"type"`
	ShowID  int64   `json:"show_id"`
	SeatIDs []int64 `json:"seat_ids"`
	Status  string  `json:"status"`
	TsUnix  int64   `json:"ts_unix"`
}

type ShowSeatsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewShowSeatsPubSub(rdb *redis.Client) *ShowSeatsPubSub {
	return &ShowSeatsPubSub{
		rdb:     rdb,
		channel: ChannelShowSeatsChanged(),
	}
}

func (p *ShowSeatsPubSub) PublishSeatsChanged(
	ctx context.Context,
	showID int64,
	seatIDs []int64,
	status string,
) error {
	msg := SeatsChanged{
		Type:    "show_seats_changed",
		ShowID:  showID,
		SeatIDs: seatIDs,
		Status:  status,
		TsUnix:  time.Now().Unix(),
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe calls handler for every well-formed message until ctx is done.
func (p *ShowSeatsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, msg SeatsChanged)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg SeatsChanged
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil && msg.ShowID != 0 {
				handler(ctx, msg)
			}
		}
	}
}
