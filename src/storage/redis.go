package storage

import (
	"encoding/json"

	"github.com/go-redis/redis"

	"gitlab.com/crypto_project/core/resourcepool_service/src/events"
)

const eventsKey = "resourcepool:events"

// RedisEventSink mirrors the rotation event log into a capped redis
// list so the dashboard can read history across service restarts.
// Implements events.Sink.
type RedisEventSink struct {
	client *redis.Client
	max    int64
}

func NewRedisEventSink(addr, password string, max int64) (*RedisEventSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if _, err := client.Ping().Result(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = events.DefaultMaxEvents
	}
	return &RedisEventSink{client: client, max: max}, nil
}

// Append pushes the event and trims the list, so redis holds at most
// the same window the in-memory log does.
func (s *RedisEventSink) Append(ev events.RotationEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.client.LPush(eventsKey, raw).Err(); err != nil {
		return err
	}
	return s.client.LTrim(eventsKey, 0, s.max-1).Err()
}

// Recent reads back up to n most recent events, newest first.
func (s *RedisEventSink) Recent(n int64) ([]events.RotationEvent, error) {
	if n <= 0 || n > s.max {
		n = s.max
	}
	raw, err := s.client.LRange(eventsKey, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]events.RotationEvent, 0, len(raw))
	for _, item := range raw {
		var ev events.RotationEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *RedisEventSink) Close() error {
	return s.client.Close()
}
