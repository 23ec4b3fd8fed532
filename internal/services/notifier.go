package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yuv-man/asd-server/internal/models"
)

// RedisNotifier publishes to the per-user channel every server instance's
// websocket hub subscribes to.
type RedisNotifier struct {
	redis *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{redis: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, userID uuid.UUID, event string, payload interface{}) error {
	data, err := json.Marshal(models.WSMessage{Type: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	return n.redis.Publish(ctx, models.UserChannel(userID), string(data)).Err()
}
