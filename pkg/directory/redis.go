package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "repogate:"

// NewRedisClient connects to Redis for the shared cache tier
func NewRedisClient(ctx context.Context, url, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if password != "" {
		opts.Password = password
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// redisTier stores JSON-encoded lookups with a TTL. A miss is (false, nil).
type redisTier struct {
	client *redis.Client
	ttl    time.Duration
}

func principalsKey(email string) string { return redisKeyPrefix + "principals:" + email }
func siteSlugKey(slug string) string    { return redisKeyPrefix + "site:slug:" + slug }
func siteIDKey(id string) string        { return redisKeyPrefix + "site:id:" + id }

func (t *redisTier) get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := t.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// Drop the corrupt entry so the next lookup repopulates it
		t.client.Del(ctx, key)
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (t *redisTier) set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := t.client.Set(ctx, key, data, t.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (t *redisTier) del(ctx context.Context, keys ...string) error {
	return t.client.Del(ctx, keys...).Err()
}
