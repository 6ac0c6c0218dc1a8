// README: Redis Pub/Sub relay so notifications reach subscribers connected to any API instance.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sharedride/internal/metrics"
	"sharedride/internal/types"
)

const notifyChannelPrefix = "dispatch:notify:"

type RedisRelay struct {
	redis *redis.Client
	hub   *Hub
	log   zerolog.Logger
}

func NewRedisRelay(rdb *redis.Client, hub *Hub, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{redis: rdb, hub: hub, log: log}
}

func notifyChannel(recipient types.ID) string {
	return notifyChannelPrefix + string(recipient)
}

func (r *RedisRelay) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := r.redis.Publish(ctx, notifyChannel(n.Recipient), body).Err(); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

// Run forwards relayed notifications into the local hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.redis.PSubscribe(ctx, notifyChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to notifications: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(ctx, msg)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, msg *redis.Message) {
	var n Notification
	if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
		r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed notification")
		return
	}
	if n.Recipient == "" {
		n.Recipient = types.ID(strings.TrimPrefix(msg.Channel, notifyChannelPrefix))
	}
	// Every instance sees every message, so offline here only means no socket
	// on this instance.
	switch err := r.hub.Notify(ctx, n); {
	case err == nil:
		metrics.NotificationsTotal.WithLabelValues(string(n.Type), "delivered").Inc()
	case errors.Is(err, ErrNoSubscriber):
		metrics.NotificationsTotal.WithLabelValues(string(n.Type), "offline").Inc()
	case errors.Is(err, ErrSubscriberBusy):
		// Counted as dropped by the hub.
	default:
		r.log.Warn().Err(err).Str("recipient", string(n.Recipient)).Msg("relay delivery failed")
	}
}
