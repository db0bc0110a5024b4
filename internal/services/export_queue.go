package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ExportQueueKey is the Redis list holding pending data export request ids
const ExportQueueKey = "trustgate:queue:data_exports"

// ExportQueue hands data export requests to the background worker
type ExportQueue interface {
	Enqueue(ctx context.Context, requestID string) error
}

// RedisExportQueue is a FIFO over a Redis list
type RedisExportQueue struct {
	client *redis.Client
	key    string
}

// NewRedisExportQueue creates a queue on the default key
func NewRedisExportQueue(client *redis.Client) *RedisExportQueue {
	return &RedisExportQueue{client: client, key: ExportQueueKey}
}

// Enqueue pushes a request id onto the queue
func (q *RedisExportQueue) Enqueue(ctx context.Context, requestID string) error {
	if err := q.client.LPush(ctx, q.key, requestID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue export %s: %w", requestID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next request id. It returns "" with
// a nil error when the wait times out.
func (q *RedisExportQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to dequeue export: %w", err)
	}
	// BRPOP returns [key, value]
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	return res[1], nil
}

// MemoryExportQueue is an in-process queue used when Redis is not configured.
// Pending requests are lost on restart.
type MemoryExportQueue struct {
	ch chan string
}

// NewMemoryExportQueue creates a queue holding up to size pending ids
func NewMemoryExportQueue(size int) *MemoryExportQueue {
	return &MemoryExportQueue{ch: make(chan string, size)}
}

// Enqueue adds a request id, failing when the buffer is full
func (q *MemoryExportQueue) Enqueue(ctx context.Context, requestID string) error {
	select {
	case q.ch <- requestID:
		return nil
	default:
		return fmt.Errorf("export queue full, dropping %s", requestID)
	}
}

// Dequeue waits up to timeout for the next request id
func (q *MemoryExportQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case id := <-q.ch:
		return id, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
