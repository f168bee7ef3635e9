package worker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vnavascues/substrate-watcher/internal/domain"
)

// PendingRangeStore durably records the window a worker is currently
// fetching, so a crash mid-window can be resumed at its start on restart
// instead of re-deriving it purely from the last committed checkpoint (which
// only advances after a window fully lands). Grounded on
// internal/infra/redis/client.go's sorted-set range queue, repurposed here
// from cross-process rescan coordination to per-worker in-flight-window
// durability: one pending range per (chain, account, stream) key rather
// than a shared work queue.
type PendingRangeStore interface {
	PushRange(ctx context.Context, chain domain.ChainID, account domain.PubKey, stream domain.Stream, lo, hi uint64) error
	PopRange(ctx context.Context, chain domain.ChainID, account domain.PubKey, stream domain.Stream) (lo, hi uint64, ok bool, err error)
	ClearRange(ctx context.Context, chain domain.ChainID, account domain.PubKey, stream domain.Stream) error
}

// RedisPendingRangeStore implements PendingRangeStore against a shared
// Redis instance, mirroring client.go's queueKey/PushRange/PopRange shape
// but keyed per worker instead of per chain-wide queue.
type RedisPendingRangeStore struct {
	rdb *redis.Client
}

func NewRedisPendingRangeStore(rdb *redis.Client) *RedisPendingRangeStore {
	return &RedisPendingRangeStore{rdb: rdb}
}

func pendingRangeKey(chain domain.ChainID, account domain.PubKey, stream domain.Stream) string {
	return fmt.Sprintf("pending_range:%s:%s:%s", chain, account.String(), stream)
}

func (s *RedisPendingRangeStore) PushRange(ctx context.Context, chain domain.ChainID, account domain.PubKey, stream domain.Stream, lo, hi uint64) error {
	key := pendingRangeKey(chain, account, stream)
	if err := s.rdb.Set(ctx, key, fmt.Sprintf("%d-%d", lo, hi), 0).Err(); err != nil {
		return fmt.Errorf("pending range: push: %w", err)
	}
	return nil
}

func (s *RedisPendingRangeStore) PopRange(ctx context.Context, chain domain.ChainID, account domain.PubKey, stream domain.Stream) (lo, hi uint64, ok bool, err error) {
	key := pendingRangeKey(chain, account, stream)
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("pending range: get: %w", err)
	}
	if _, err := fmt.Sscanf(val, "%d-%d", &lo, &hi); err != nil {
		return 0, 0, false, fmt.Errorf("pending range: parse %q: %w", val, err)
	}
	return lo, hi, true, nil
}

func (s *RedisPendingRangeStore) ClearRange(ctx context.Context, chain domain.ChainID, account domain.PubKey, stream domain.Stream) error {
	key := pendingRangeKey(chain, account, stream)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("pending range: clear: %w", err)
	}
	return nil
}
