package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/model"
	"github.com/redis/go-redis/v9"
)

/*
RedisQueue keeps votes in a Redis list. Producers RPUSH to the tail, the
consumer takes from the head.

Pop does not LPOP. It atomically moves the head of the list to a
"<key>:processing" list with LMOVE and only removes it from there (LREM)
when the vote has been written to the store. A vote that was taken but never
acked, because the store was down or the process died, is moved back to the
head of the queue by Recover, which runs every time the consumer connects.
This gives at-least-once delivery after dequeue; the idempotent upsert makes
the redelivery harmless.
*/
type RedisQueue struct {
	client        *redis.Client
	key           string
	processingKey string
}

func NewRedisQueue(ctx context.Context, addr, key string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}

	c := redis.NewClient(opts)

	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}

	return &RedisQueue{
		client:        c,
		key:           key,
		processingKey: key + ":processing",
	}, nil
}

func (rq *RedisQueue) Pop(ctx context.Context) (*Delivery, error) {
	payload, err := rq.client.LMove(ctx, rq.key, rq.processingKey, "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error popping from %s: %w", rq.key, err)
	}

	return NewDelivery([]byte(payload), func(ctx context.Context) error {
		if err := rq.client.LRem(ctx, rq.processingKey, 1, payload).Err(); err != nil {
			return fmt.Errorf("error acking vote: %w", err)
		}
		return nil
	}), nil
}

// Recover puts every unacked payload back at the head of the queue,
// keeping their original order, and returns how many were moved.
func (rq *RedisQueue) Recover(ctx context.Context) (int, error) {
	var n int
	for {
		err := rq.client.LMove(ctx, rq.processingKey, rq.key, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("error recovering unacked votes: %w", err)
		}
		n++
	}
}

func (rq *RedisQueue) Publish(ctx context.Context, vote model.Vote, _ string) error {
	b, err := vote.Encode()
	if err != nil {
		return err
	}
	if err := rq.client.RPush(ctx, rq.key, b).Err(); err != nil {
		return fmt.Errorf("error pushing vote to %s: %w", rq.key, err)
	}
	return nil
}

func (rq *RedisQueue) Len(ctx context.Context) (int64, error) {
	return rq.client.LLen(ctx, rq.key).Result()
}

func (rq *RedisQueue) Ping(ctx context.Context) error {
	return rq.client.Ping(ctx).Err()
}

func (rq *RedisQueue) Close() error {
	if err := rq.client.Close(); err != nil {
		return fmt.Errorf("error closing redis client: %w", err)
	}
	return nil
}

// DialRedis returns a dial function for a connection manager. Every fresh
// connection first requeues the votes a previous connection left unacked.
func DialRedis(addr, key string) func(ctx context.Context) (VoteConsumer, error) {
	return func(ctx context.Context) (VoteConsumer, error) {
		rq, err := NewRedisQueue(ctx, addr, key)
		if err != nil {
			return nil, err
		}
		if _, err := rq.Recover(ctx); err != nil {
			rq.Close()
			return nil, err
		}
		return rq, nil
	}
}
