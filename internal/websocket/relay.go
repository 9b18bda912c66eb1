package websocket

import (
	"context"
	"encoding/json"
	"strings"

	"annotation-collab-be/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const relayChannelPrefix = "collab:doc:"

type relayEnvelope struct {
	Instance string `json:"instance"`
	Origin   string `json:"origin"`
	Payload  []byte `json:"payload"`
}

// RedisRelay fans accepted updates out to other instances over Redis pub/sub.
// Messages published by this instance are ignored on receipt.
type RedisRelay struct {
	rdb      *redis.Client
	instance string
	logger   logger.ILogger
}

func NewRedisRelay(rdb *redis.Client, instanceID string, log logger.ILogger) *RedisRelay {
	return &RedisRelay{rdb: rdb, instance: instanceID, logger: log}
}

func (r *RedisRelay) Publish(ctx context.Context, documentID, origin string, payload []byte) error {
	data, err := json.Marshal(relayEnvelope{Instance: r.instance, Origin: origin, Payload: payload})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, relayChannelPrefix+documentID, data).Err()
}

func (r *RedisRelay) Run(ctx context.Context, deliver func(documentID, origin string, payload []byte)) error {
	pubsub := r.rdb.PSubscribe(ctx, relayChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("Relay", "Malformed relay message", map[string]interface{}{
					"channel": msg.Channel,
					"error":   err.Error(),
				})
				continue
			}
			if env.Instance == r.instance {
				continue
			}
			deliver(strings.TrimPrefix(msg.Channel, relayChannelPrefix), env.Origin, env.Payload)
		}
	}
}
