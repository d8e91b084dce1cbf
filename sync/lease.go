package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// leaseKey is the redis key guarding "one running sync per source".
func leaseKey(sourceID uint) string {
	return fmt.Sprintf("sync:lease:%d", sourceID)
}

// acquireLease takes the per-source lease with a TTL. The value is the run
// ID so a holder can be identified. Returns false when another run holds
// the lease. A nil client always grants the lease; the caller still has
// the application-level running-row check behind it.
func acquireLease(ctx context.Context, rdb *redis.Client, sourceID uint, runID string, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return true, nil
	}
	return rdb.SetNX(ctx, leaseKey(sourceID), runID, ttl).Result()
}

// releaseLease drops the lease if the given run still holds it.
func releaseLease(ctx context.Context, rdb *redis.Client, sourceID uint, runID string) error {
	if rdb == nil {
		return nil
	}
	holder, err := rdb.Get(ctx, leaseKey(sourceID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if holder != runID {
		return nil
	}
	return rdb.Del(ctx, leaseKey(sourceID)).Err()
}

// dropLease removes the lease unconditionally. Used by stale reclaim,
// where the original holder is gone.
func dropLease(ctx context.Context, rdb *redis.Client, sourceID uint) error {
	if rdb == nil {
		return nil
	}
	return rdb.Del(ctx, leaseKey(sourceID)).Err()
}
