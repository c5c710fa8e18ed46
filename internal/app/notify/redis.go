package notify

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
)

const defaultQueueKey = "campuslance:notifications"

// RedisQueueSink pushes notifications onto a Redis list for an external
// delivery worker to drain.
type RedisQueueSink struct {
	client *redis.Client
	key    string
}

var _ Sink = (*RedisQueueSink)(nil)

// NewRedisQueueSink connects to redisURL and queues under key. An empty key
// uses the default queue name.
func NewRedisQueueSink(redisURL, key string) (*RedisQueueSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = defaultQueueKey
	}
	return &RedisQueueSink{client: redis.NewClient(opts), key: key}, nil
}

func (s *RedisQueueSink) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.LPush(ctx, s.key, payload).Err()
}

// Close releases the underlying Redis connection.
func (s *RedisQueueSink) Close() error { return s.client.Close() }
