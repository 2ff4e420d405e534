package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zoernert/vsi-sub004/config"
)

// Conn opens a Redis client and verifies the connection.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		DialTimeout: cfg.Timeout,
		Password:    cfg.Password,
		DB:          cfg.DB,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return client, nil
}

// RedisSharedMemory implements SharedMemory on Redis so agents in separate
// processes coordinate through the same store.
type RedisSharedMemory struct {
	client    *redis.Client
	namespace string
	poll      time.Duration
}

func NewRedisSharedMemory(client *redis.Client, namespace string, poll time.Duration) *RedisSharedMemory {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	return &RedisSharedMemory{client: client, namespace: namespace, poll: poll}
}

func (r *RedisSharedMemory) Store(ctx context.Context, key string, value any, meta Metadata) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	entry := Entry{
		Key:      key,
		Value:    raw,
		AgentID:  meta.AgentID,
		Type:     meta.Type,
		StoredAt: time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, namespaced(r.namespace, key), data, 0).Err(); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (r *RedisSharedMemory) Retrieve(ctx context.Context, key string) (Entry, error) {
	val, err := r.client.Get(ctx, namespaced(r.namespace, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return Entry{}, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return entry, nil
}

func (r *RedisSharedMemory) Wait(ctx context.Context, key string, timeout time.Duration) (Entry, error) {
	return pollWait(ctx, r, key, timeout, r.poll)
}
