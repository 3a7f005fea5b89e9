package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a pending session-queue item: session id, its durable-storage
// path, and the instant it was enqueued (spec.md §4.8).
type Entry struct {
	SessionID       string    `json:"session_id"`
	SessionFilePath string    `json:"session_file_path"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
	RetryCount      int       `json:"retry_count"`
}

// Queue is the session FIFO the worker drains. Grounded on the teacher's
// queue/redis/queue.go RPush/BLPop pattern.
type Queue interface {
	Enqueue(ctx context.Context, entry Entry) error
	EnqueueTail(ctx context.Context, entry Entry) error
	Dequeue(ctx context.Context, timeout time.Duration) (Entry, bool, error)
	Depth(ctx context.Context) (int, error)
}

// RedisQueue is the production Queue backed by a single Redis list.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a RedisQueue using key as the list name (e.g.
// "memoryengine:sessions").
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	return q.client.RPush(ctx, q.key, payload).Err()
}

// EnqueueTail re-enqueues entry at the tail, same semantics as Enqueue
// (spec.md §4.8's re-enqueue-on-gate-failure behavior always goes to the
// tail, never jumping the line).
func (q *RedisQueue) EnqueueTail(ctx context.Context, entry Entry) error {
	return q.Enqueue(ctx, entry)
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (Entry, bool, error) {
	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("dequeue: %w", err)
	}
	if len(result) < 2 {
		return Entry{}, false, nil
	}
	var entry Entry
	if err := json.Unmarshal([]byte(result[1]), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("unmarshal queue entry: %w", err)
	}
	return entry, true, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	return int(n), err
}

// MemoryQueue is an in-process FIFO used in tests and single-node setups
// with no Redis configured.
type MemoryQueue struct {
	items chan Entry
}

// NewMemoryQueue creates a MemoryQueue with the given buffer capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{items: make(chan Entry, capacity)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, entry Entry) error {
	select {
	case q.items <- entry:
		return nil
	default:
		return fmt.Errorf("memory queue full")
	}
}

func (q *MemoryQueue) EnqueueTail(ctx context.Context, entry Entry) error {
	return q.Enqueue(ctx, entry)
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (Entry, bool, error) {
	select {
	case entry := <-q.items:
		return entry, true, nil
	case <-time.After(timeout):
		return Entry{}, false, nil
	case <-ctx.Done():
		return Entry{}, false, ctx.Err()
	}
}

func (q *MemoryQueue) Depth(_ context.Context) (int, error) {
	return len(q.items), nil
}
