package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ace-core/ace/internal/model"
)

// RedisQueue is a Redis-backed FIFO queue for one AMT, grounded on the
// teacher's infrastructure/cache redis client wiring (go-redis/v8). The
// visible queue is a Redis list (RPUSH to enqueue, LPOP to dequeue, LPUSH
// to requeue at the head); in-flight leases live in a hash keyed by
// request ID plus a sorted set scored by lease expiry so reapExpired can
// find them with a single ZRANGEBYSCORE.
type RedisQueue struct {
	rdb  *redis.Client
	name string
}

// NewRedisQueue returns a queue backed by rdb, scoped to the given AMT
// name so multiple AMTs can share one Redis instance without collision.
func NewRedisQueue(rdb *redis.Client, amtName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: amtName}
}

func (q *RedisQueue) visibleKey() string  { return fmt.Sprintf("ace:queue:%s:visible", q.name) }
func (q *RedisQueue) leaseHashKey() string { return fmt.Sprintf("ace:queue:%s:leases", q.name) }
func (q *RedisQueue) leaseZSetKey() string { return fmt.Sprintf("ace:queue:%s:lease_expiry", q.name) }

type redisLeaseEntry struct {
	Req   *model.AnalysisRequest `json:"req"`
	Owner string                 `json:"owner"`
}

func (q *RedisQueue) Put(ctx context.Context, req *model.AnalysisRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("queue: marshal request: %w", err)
	}
	return q.rdb.RPush(ctx, q.visibleKey(), data).Err()
}

func (q *RedisQueue) Get(ctx context.Context, owner string, visibilityTimeout time.Duration) (*model.AnalysisRequest, error) {
	if err := q.reapExpired(ctx); err != nil {
		return nil, err
	}

	data, err := q.rdb.LPop(ctx, q.visibleKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var req model.AnalysisRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("queue: unmarshal request: %w", err)
	}

	entry := redisLeaseEntry{Req: &req, Owner: owner}
	entryData, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal lease entry: %w", err)
	}

	expiresUTC := time.Now().UTC().Add(visibilityTimeout)
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.leaseHashKey(), req.ID, entryData)
	pipe.ZAdd(ctx, q.leaseZSetKey(), &redis.Z{Score: float64(expiresUTC.Unix()), Member: req.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return &req, nil
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.leaseHashKey(), id)
	pipe.ZRem(ctx, q.leaseZSetKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Nack(ctx context.Context, id string) error {
	entry, ok, err := q.loadLease(ctx, id)
	if err != nil || !ok {
		return err
	}

	data, err := json.Marshal(entry.Req)
	if err != nil {
		return fmt.Errorf("queue: marshal request: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.leaseHashKey(), id)
	pipe.ZRem(ctx, q.leaseZSetKey(), id)
	pipe.LPush(ctx, q.visibleKey(), data)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Renew(ctx context.Context, id, owner string, visibilityTimeout time.Duration) error {
	entry, ok, err := q.loadLease(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return aceErrNotLeased(id)
	}
	if entry.Owner != owner {
		return aceErrNotOwner(id, owner)
	}
	expiresUTC := time.Now().UTC().Add(visibilityTimeout)
	return q.rdb.ZAdd(ctx, q.leaseZSetKey(), &redis.Z{Score: float64(expiresUTC.Unix()), Member: id}).Err()
}

func (q *RedisQueue) Size(ctx context.Context) (int, error) {
	if err := q.reapExpired(ctx); err != nil {
		return 0, err
	}
	n, err := q.rdb.LLen(ctx, q.visibleKey()).Result()
	return int(n), err
}

func (q *RedisQueue) loadLease(ctx context.Context, id string) (redisLeaseEntry, bool, error) {
	data, err := q.rdb.HGet(ctx, q.leaseHashKey(), id).Result()
	if err == redis.Nil {
		return redisLeaseEntry{}, false, nil
	}
	if err != nil {
		return redisLeaseEntry{}, false, err
	}
	var entry redisLeaseEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return redisLeaseEntry{}, false, fmt.Errorf("queue: unmarshal lease entry: %w", err)
	}
	return entry, true, nil
}

// reapExpired moves every lease past its visibility timeout back to the
// head of the visible list and clears its ownership.
func (q *RedisQueue) reapExpired(ctx context.Context) error {
	now := float64(time.Now().UTC().Unix())
	ids, err := q.rdb.ZRangeByScore(ctx, q.leaseZSetKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		entry, ok, err := q.loadLease(ctx, id)
		if err != nil || !ok {
			continue
		}
		data, err := json.Marshal(entry.Req)
		if err != nil {
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.HDel(ctx, q.leaseHashKey(), id)
		pipe.ZRem(ctx, q.leaseZSetKey(), id)
		pipe.LPush(ctx, q.visibleKey(), data)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

var _ Queue = (*RedisQueue)(nil)
