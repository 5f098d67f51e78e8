package services

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
)

type userEventPublisher interface {
	PublishUserEvent(ctx context.Context, userID string, msg models.WSMessage) error
}

// UserChannel is the pub/sub channel the websocket hub subscribes to.
func UserChannel(userID string) string {
	return "user_updates:" + userID
}

// RedisPublisher sends WebSocket updates via Redis pub/sub.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client}
}

func (p *RedisPublisher) PublishUserEvent(ctx context.Context, userID string, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, UserChannel(userID), string(data)).Err()
}
