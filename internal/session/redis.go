// ABOUTME: Redis-backed FlowSession store for deployments with several replicas
// ABOUTME: Sessions are JSON values under a key prefix with a native expiry

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces session keys
const DefaultKeyPrefix = "garage:flow:"

// RedisStore is a Store backed by Redis string keys.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore wraps an existing client. A zero ttl stores keys without expiry.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewRedisStoreWithURL connects using a redis:// URL.
func NewRedisStoreWithURL(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), ttl), nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(conversationID string) string {
	return r.prefix + conversationID
}

// Get loads and decodes the session.
func (r *RedisStore) Get(ctx context.Context, conversationID string) (*FlowSession, error) {
	data, err := r.client.Get(ctx, r.key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var s FlowSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w: %v", ErrCorrupt, err)
	}
	return &s, nil
}

// Set encodes the session and refreshes its expiry.
func (r *RedisStore) Set(ctx context.Context, s *FlowSession) error {
	now := r.now()
	c := *s
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	data, err := json.Marshal(&c)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(c.ConversationID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Delete removes the key.
func (r *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if err := r.client.Del(ctx, r.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
