package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	pkgredis "github.com/dispatchboard/dispatchboard-backend/pkg/redis"
)

const (
	relayMinBackoff = 500 * time.Millisecond
	relayMaxBackoff = 30 * time.Second
)

// Subscriber opens a channel subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (pkgredis.Receiver, error)
}

// RedisRelay copies events from the shared Redis channel into the local Bus.
// Redis pub/sub drops messages while disconnected, so every reconnect asks
// local subscribers to resync.
type RedisRelay struct {
	sub     Subscriber
	bus     *Bus
	channel string
	logg    *logger.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRedisRelay validates dependencies and builds a relay.
func NewRedisRelay(sub Subscriber, bus *Bus, channel string, logg *logger.Logger) (*RedisRelay, error) {
	if sub == nil {
		return nil, fmt.Errorf("redis subscriber required")
	}
	if bus == nil {
		return nil, fmt.Errorf("fanout bus required")
	}
	if channel == "" {
		return nil, fmt.Errorf("channel required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &RedisRelay{sub: sub, bus: bus, channel: channel, logg: logg, sleep: sleepCtx}, nil
}

// Run relays until ctx is canceled.
func (r *RedisRelay) Run(ctx context.Context) error {
	logCtx := r.logg.WithField(ctx, "channel", r.channel)
	backoff := relayMinBackoff
	connectedBefore := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		receiver, err := r.sub.Subscribe(ctx, r.channel)
		if err != nil {
			r.logg.Error(logCtx, "relay subscribe failed", err)
			if err := r.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff)
			continue
		}
		if connectedBefore {
			r.bus.ResyncAll("reconnect")
		}
		connectedBefore = true
		backoff = relayMinBackoff
		r.logg.Info(logCtx, "relay subscribed")

		err = r.pump(ctx, receiver)
		_ = receiver.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logg.Error(logCtx, "relay receive failed", err)
		r.bus.ResyncAll("transport")
		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff)
	}
}

func (r *RedisRelay) pump(ctx context.Context, receiver pkgredis.Receiver) error {
	for {
		payload, err := receiver.Receive(ctx)
		if err != nil {
			return err
		}
		r.dispatch(ctx, []byte(payload))
	}
}

func (r *RedisRelay) dispatch(ctx context.Context, payload []byte) {
	msg, err := DecodeWire(payload)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "relay dropped undecodable message")
		return
	}
	switch msg.Kind {
	case MessageRecord:
		r.bus.PublishRecord(ctx, *msg.Record)
	case MessageRead:
		r.bus.PublishRead(ctx, *msg.Read)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > relayMaxBackoff {
		return relayMaxBackoff
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
