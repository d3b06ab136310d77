package match

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache is a short-TTL read-through cache of persisted matches keyed by
// participant. Every look-for-match, message relay and reconnect starts with
// a match lookup, so this keeps the hot path off the database.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCache creates a match cache backed by Redis.
func NewCache(rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		redis:  rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func participantKey(participantID string) string {
	return fmt.Sprintf("match:participant:%s", participantID)
}

// Get returns the cached match for a participant, or nil on a miss.
func (c *Cache) Get(ctx context.Context, participantID string) (*Match, error) {
	data, err := c.redis.Get(ctx, participantKey(participantID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached match: %w", err)
	}

	var m Match
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal cached match: %w", err)
	}
	return &m, nil
}

// Store caches the match under both participants.
func (c *Cache) Store(ctx context.Context, m *Match) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}

	pipe := c.redis.Pipeline()
	pipe.Set(ctx, participantKey(m.ParticipantA), data, c.ttl)
	pipe.Set(ctx, participantKey(m.ParticipantB), data, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate drops the cached entries for both participants of a match.
// Called on delete and on question updates so stale state is never served
// longer than one round trip.
func (c *Cache) Invalidate(ctx context.Context, m *Match) error {
	return c.redis.Del(ctx, participantKey(m.ParticipantA), participantKey(m.ParticipantB)).Err()
}
