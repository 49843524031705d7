package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the Redis list holding pending notifications.
const DefaultQueueKey = "notifications:v1"

var (
	// ErrQueueClosed is returned by a queue that no longer accepts or yields messages.
	ErrQueueClosed = errors.New("notification queue closed")
	// ErrQueueFull is returned when the in-process buffer has no room left.
	ErrQueueFull = errors.New("notification queue full")
	// ErrMalformedMessage is returned for a queued payload that cannot be decoded.
	ErrMalformedMessage = errors.New("malformed notification")
)

// Queue decouples producers of notifications from their delivery.
type Queue interface {
	// Dispatch enqueues message without waiting for delivery.
	Dispatch(ctx context.Context, message Message) error
	// Receive blocks until a message is available or ctx is done.
	Receive(ctx context.Context) (Message, error)
}

// MemoryQueue is a bounded in-process queue. Messages are lost on restart.
type MemoryQueue struct {
	ch        chan Message
	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryQueue builds a queue buffering up to size messages.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan Message, size), done: make(chan struct{})}
}

func (q *MemoryQueue) Dispatch(ctx context.Context, message Message) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Receive(ctx context.Context) (Message, error) {
	select {
	case message := <-q.ch:
		return message, nil
	case <-q.done:
		return Message{}, ErrQueueClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Len reports the number of buffered messages.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops the queue; buffered messages are dropped.
func (q *MemoryQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// RedisQueue stores notifications in a Redis list so they survive restarts
// and can be drained by any instance.
type RedisQueue struct {
	client *redis.Client
	key    string
	poll   time.Duration
}

// NewRedisQueue builds a queue over the Redis list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key, poll: time.Second}
}

func (q *RedisQueue) Dispatch(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}

		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Message{}, ctxErr
			}
			return Message{}, fmt.Errorf("dequeue notification: %w", err)
		}

		// BRPOP replies with [key, value].
		raw := res[1]
		var message Message
		if err := json.Unmarshal([]byte(raw), &message); err != nil {
			// The payload is already off the queue; park it for inspection.
			decodeErr := fmt.Errorf("decode notification (%d bytes): %w: %w", len(raw), ErrMalformedMessage, err)
			if pushErr := q.client.LPush(context.WithoutCancel(ctx), q.DeadLetterKey(), raw).Err(); pushErr != nil {
				return Message{}, errors.Join(decodeErr, fmt.Errorf("dead-letter notification: %w", pushErr))
			}
			return Message{}, decodeErr
		}
		return message, nil
	}
}

// DeadLetterKey names the list holding payloads that failed to decode.
func (q *RedisQueue) DeadLetterKey() string {
	return q.key + ":dead"
}

// Len reports the number of queued messages.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
