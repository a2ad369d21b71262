package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKey is the list holding the feed, newest at the tail.
const redisKey = "relay:activity"

const redisTimeout = 2 * time.Second

// RedisStore keeps the activity feed in a capped Redis list.
type RedisStore struct {
	client  redis.Cmdable
	maxSize int64
}

// NewRedisStore creates a RedisStore that retains up to maxSize events.
func NewRedisStore(client redis.Cmdable, maxSize int) *RedisStore {
	return &RedisStore{
		client:  client,
		maxSize: int64(maxSize),
	}
}

// Append pushes an event and trims the list to maxSize.
func (s *RedisStore) Append(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("activity: marshal event", "error", err)
		return
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, redisKey, data)
	pipe.LTrim(ctx, redisKey, -s.maxSize, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("activity: append event", "error", err)
	}
}

// Recent returns up to n of the newest events, oldest first. Entries that
// fail to decode are skipped.
func (s *RedisStore) Recent(n int) []*Event {
	if n <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	vals, err := s.client.LRange(ctx, redisKey, int64(-n), -1).Result()
	if err != nil {
		slog.Warn("activity: read recent events", "error", err)
		return nil
	}
	if len(vals) == 0 {
		return nil
	}

	events := make([]*Event, 0, len(vals))
	for _, v := range vals {
		var ev Event
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			continue
		}
		events = append(events, &ev)
	}
	return events
}

// Count returns the number of retained events.
func (s *RedisStore) Count() int {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	n, err := s.client.LLen(ctx, redisKey).Result()
	if err != nil {
		slog.Warn("activity: count events", "error", err)
		return 0
	}
	return int(n)
}
