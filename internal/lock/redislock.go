package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ace-core/ace/internal/aceerr"
)

// RedisLocker is a Redis-backed Locker for multi-process deployments,
// grounded on the teacher's go-redis client wiring. The lock itself is a
// SETNX key with a TTL; the wait-for graph needed for cycle detection is a
// small Redis hash (owner -> owner it is waiting for) so deadlock
// detection works across processes, not just within one.
type RedisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker returns a locker backed by rdb.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func lockKey(name string) string { return fmt.Sprintf("ace:lock:%s", name) }

const waitForHashKey = "ace:lock:waitfor"

func (l *RedisLocker) Acquire(ctx context.Context, name, owner string, leaseSec, waitSec int) (bool, error) {
	deadline := time.Now().Add(time.Duration(waitSec) * time.Second)
	ttl := time.Duration(leaseSec) * time.Second

	for {
		acquired, deadlocked, err := l.tryAcquireOnce(ctx, name, owner, ttl)
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}
		if deadlocked {
			return false, aceerr.Deadlock(name)
		}

		if time.Now().After(deadline) {
			l.rdb.HDel(ctx, waitForHashKey, owner)
			return false, nil
		}
		select {
		case <-ctx.Done():
			l.rdb.HDel(ctx, waitForHashKey, owner)
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (l *RedisLocker) tryAcquireOnce(ctx context.Context, name, owner string, ttl time.Duration) (acquired, deadlocked bool, err error) {
	ok, err := l.rdb.SetNX(ctx, lockKey(name), owner, ttl).Result()
	if err != nil {
		return false, false, err
	}
	if ok {
		l.rdb.HDel(ctx, waitForHashKey, owner)
		return true, false, nil
	}

	holder, err := l.rdb.Get(ctx, lockKey(name)).Result()
	if err == redis.Nil {
		// Raced: the lock expired between SetNX failing and this Get.
		// Let the caller loop around and retry SetNX.
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if holder == owner {
		// Already held by us (reentrant renew-on-acquire).
		l.rdb.Expire(ctx, lockKey(name), ttl)
		l.rdb.HDel(ctx, waitForHashKey, owner)
		return true, false, nil
	}

	cycle, err := l.createsCycle(ctx, owner, holder)
	if err != nil {
		return false, false, err
	}
	if cycle {
		l.rdb.HDel(ctx, waitForHashKey, owner)
		return false, true, nil
	}

	l.rdb.HSet(ctx, waitForHashKey, owner, holder)
	return false, false, nil
}

// createsCycle walks the wait-for hash from target looking for owner.
func (l *RedisLocker) createsCycle(ctx context.Context, owner, target string) (bool, error) {
	seen := map[string]bool{owner: true}
	cur := target
	for {
		if cur == owner {
			return true, nil
		}
		if seen[cur] {
			return false, nil
		}
		seen[cur] = true
		next, err := l.rdb.HGet(ctx, waitForHashKey, cur).Result()
		if err == redis.Nil {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		cur = next
	}
}

func (l *RedisLocker) Release(name, owner string) error {
	ctx := context.Background()
	holder, err := l.rdb.Get(ctx, lockKey(name)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if holder != owner {
		return nil
	}
	return l.rdb.Del(ctx, lockKey(name)).Err()
}

func (l *RedisLocker) Renew(name, owner string, leaseSec int) error {
	ctx := context.Background()
	holder, err := l.rdb.Get(ctx, lockKey(name)).Result()
	if err == redis.Nil || holder != owner {
		return aceerr.Conflict("lock " + name + " is not held by " + owner)
	}
	if err != nil {
		return err
	}
	return l.rdb.Expire(ctx, lockKey(name), time.Duration(leaseSec)*time.Second).Err()
}

func (l *RedisLocker) Holder(name string) (string, bool) {
	ctx := context.Background()
	holder, err := l.rdb.Get(ctx, lockKey(name)).Result()
	if err != nil {
		return "", false
	}
	return holder, true
}

var _ Locker = (*RedisLocker)(nil)
