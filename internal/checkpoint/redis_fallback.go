package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
)

// RedisFallback — запасное хранилище последнего чекпоинта агента.
// У каждого агента ровно один писатель (его рантайм), поэтому
// compare-then-set без блокировок здесь достаточен.
type RedisFallback struct {
	rdb *redis.Client
}

func NewRedisFallback(rdb *redis.Client) *RedisFallback {
	return &RedisFallback{rdb: rdb}
}

func (f *RedisFallback) Save(ctx context.Context, cp *domain.Checkpoint) error {
	key := infra.CheckpointKey(cp.AgentID)

	// Не даем старому sequence перетереть более свежий
	if existing, err := f.LoadLatest(ctx, cp.AgentID); err == nil && existing != nil {
		if existing.Sequence >= cp.Sequence {
			return domain.ErrStaleCheckpoint
		}
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("fallback marshal: %w", err)
	}
	if err := f.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("fallback set: %w", err)
	}
	return nil
}

func (f *RedisFallback) LoadLatest(ctx context.Context, agentID string) (*domain.Checkpoint, error) {
	data, err := f.rdb.Get(ctx, infra.CheckpointKey(agentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // пусто — не ошибка
		}
		return nil, fmt.Errorf("fallback get: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("fallback unmarshal: %w", err)
	}
	return &cp, nil
}
