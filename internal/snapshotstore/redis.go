package snapshotstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fractal-lba/bayesbandit/pkg/bandit"
)

// RedisStore keeps the latest envelope of each bandit under
// bandit:snapshot:<name>.
type RedisStore struct {
	client *redis.Client
	codec  codec
}

// NewRedisStore connects to Redis and checks the connection.
//
// Args:
//   - addr: Redis address (e.g., "localhost:6379")
//   - password: Redis password (empty string if none)
//   - db: Redis database number
//   - key: HMAC key; empty disables signing
//
// Returns:
//   - *RedisStore or error if connection fails
func NewRedisStore(ctx context.Context, addr, password string, db int, key []byte) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client, codec: codec{key: key}}, nil
}

func redisKey(name string) string {
	return fmt.Sprintf("bandit:snapshot:%s", name)
}

func (r *RedisStore) Load(ctx context.Context, name string) (*bandit.Snapshot, error) {
	data, err := r.client.Get(ctx, redisKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}
	return r.codec.decode(data)
}

func (r *RedisStore) Save(ctx context.Context, name string, snap *bandit.Snapshot) error {
	data, err := r.codec.encode(name, snap)
	if err != nil {
		return err
	}

	// Last write wins; snapshots do not expire
	if err := r.client.Set(ctx, redisKey(name), data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

// Delete removes name's snapshot
func (r *RedisStore) Delete(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, redisKey(name)).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
