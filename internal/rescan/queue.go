// Package rescan re-scans uploads that were accepted while the malware
// scanner was unavailable. Document IDs wait on a Redis list.
package rescan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"docgate/internal/config"
)

// ErrEmpty is returned by Dequeue when no ID became available in time.
var ErrEmpty = errors.New("rescan queue is empty")

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// Queue is a FIFO of document IDs backed by a Redis list.
// IDs are pushed on the left and popped from the right.
type Queue struct {
	client redis.Cmdable
	key    string
}

// NewQueue returns a queue stored under key.
func NewQueue(client redis.Cmdable, key string) *Queue {
	return &Queue{client: client, key: key}
}

// Enqueue appends a document ID.
func (q *Queue) Enqueue(ctx context.Context, id string) error {
	if err := q.client.LPush(ctx, q.key, id).Err(); err != nil {
		return fmt.Errorf("redis lpush failed: %w", err)
	}
	return nil
}

// Dequeue pops the oldest ID. With wait > 0 it blocks up to wait for one to
// arrive; otherwise it returns immediately. ErrEmpty means nothing was ready.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	if wait <= 0 {
		id, err := q.client.RPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		if err != nil {
			return "", fmt.Errorf("redis rpop failed: %w", err)
		}
		return id, nil
	}

	res, err := q.client.BRPop(ctx, wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("redis brpop failed: %w", err)
	}
	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return "", fmt.Errorf("redis brpop: unexpected reply length %d", len(res))
	}
	return res[1], nil
}

// Len reports how many IDs are waiting.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen failed: %w", err)
	}
	return n, nil
}
