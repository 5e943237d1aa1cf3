package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// relayEnvelope 是在 Redis 频道中传递的消息
type relayEnvelope struct {
	Room    string          `json:"room"`
	Message json.RawMessage `json:"message"`
}

// RedisRelay 通过 Redis pub/sub 在多个进程之间转发房间事件
type RedisRelay struct {
	client  *redis.Client
	channel string
}

// NewRedisRelay 创建 RedisRelay，频道名为 {keyPrefix}room:events
func NewRedisRelay(client *redis.Client, keyPrefix string) *RedisRelay {
	if client == nil {
		panic("Redis client cannot be nil for RedisRelay")
	}
	return &RedisRelay{client: client, channel: keyPrefix + "room:events"}
}

// Channel 返回使用的 pub/sub 频道
func (r *RedisRelay) Channel() string { return r.channel }

// Publish 把已编码的事件发布到频道
func (r *RedisRelay) Publish(ctx context.Context, roomCode string, message []byte) error {
	payload, err := json.Marshal(relayEnvelope{Room: roomCode, Message: message})
	if err != nil {
		return fmt.Errorf("failed to marshal relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run 订阅频道并把收到的事件交给 deliver，直到 ctx 取消。
// ready 在订阅确认后被关闭，可为 nil。
func (r *RedisRelay) Run(ctx context.Context, deliver func(roomCode string, message []byte), ready chan<- struct{}) error {
	logCtx := logrus.WithFields(logrus.Fields{"component": "relay", "channel": r.channel})

	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	logCtx.Info("Event relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			logCtx.Info("Event relay stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logCtx.WithError(err).Warn("Dropping malformed relay message")
				continue
			}
			deliver(env.Room, env.Message)
		}
	}
}
