package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis relays envelopes over one pub/sub channel shared by all instances.
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	logger  hclog.Logger
}

func NewRedis(client *redis.Client, prefix, origin string, logger hclog.Logger) *Redis {
	return &Redis{client: client, channel: prefix + ":relay", origin: origin, logger: logger.Named("relay")}
}

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	env.Origin = r.origin
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return errors.Wrap(r.client.Publish(ctx, r.channel, payload).Err(), "relay publish")
}

// Run subscribes with exponential backoff and resubscribes whenever the
// subscription ends before ctx is done.
func (r *Redis) Run(ctx context.Context, deliver func(Envelope)) error {
	for ctx.Err() == nil {
		var sub *redis.PubSub
		operation := func() error {
			sub = r.client.Subscribe(ctx, r.channel)
			if _, err := sub.Receive(ctx); err != nil {
				_ = sub.Close()
				r.logger.Warn("subscribe failed", "channel", r.channel, "error", err)
				return err
			}
			return nil
		}
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 0
		if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.logger.Debug("subscribed", "channel", r.channel)
		r.consume(ctx, sub, deliver)
		_ = sub.Close()
		if ctx.Err() == nil {
			time.Sleep(100 * time.Millisecond)
		}
	}
	return nil
}

func (r *Redis) consume(ctx context.Context, sub *redis.PubSub, deliver func(Envelope)) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			env := Envelope{}
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("dropping malformed envelope", "error", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			deliver(env)
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
