package floor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/infra"
)

// PausedProvider — источник правды о паузах при старте (Postgres).
type PausedProvider interface {
	GetPausedAgents(ctx context.Context) ([]string, error)
}

// PauseManager держит горячий кэш приостановленных агентов.
// Пауза ставится либо оператором из Console (ручная), либо DecisionEngine
// при пробитом риск-лимите. Снятие — ТОЛЬКО ручное, авто-резюма нет.
type PauseManager struct {
	repo   PausedProvider
	rdb    *redis.Client
	logger *zap.Logger

	mu     sync.RWMutex
	paused map[string]struct{}

	// onChange дергается при каждом сигнале — Supervisor реагирует
	// остановкой/запуском таска без ожидания очередного sweep.
	onChange func(agentID string, paused bool)
}

func NewPauseManager(rdb *redis.Client, repo PausedProvider, logger *zap.Logger) *PauseManager {
	return &PauseManager{
		repo:   repo,
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "pause")),
		paused: make(map[string]struct{}),
	}
}

// SetChangeHook подключает реакцию супервизора на живые сигналы.
func (pm *PauseManager) SetChangeHook(fn func(agentID string, paused bool)) {
	pm.onChange = fn
}

// Init загружает состояние пауз при старте процесса площадки.
func (pm *PauseManager) Init(ctx context.Context) error {
	ids, err := pm.repo.GetPausedAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch paused agents from DB: %w", err)
	}

	pm.mu.Lock()
	for _, id := range ids {
		pm.paused[id] = struct{}{}
	}
	pm.mu.Unlock()

	pm.warmRedisMirror(ctx, ids)
	return nil
}

// warmRedisMirror заливает set пауз в Redis, если тот пуст (первый старт
// площадки или Redis потерял данные). SetNX-лок: из нескольких процессов
// греет ровно один, остальные молча проходят мимо.
func (pm *PauseManager) warmRedisMirror(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}

	ok, err := pm.rdb.SetNX(ctx, infra.RedisKeyLockPaused, "warming", 30*time.Second).Result()
	if err != nil || !ok {
		return // сбой сети либо кэш уже греет другой инстанс
	}

	count, err := pm.rdb.SCard(ctx, infra.RedisKeyPausedAgents).Result()
	if err != nil {
		pm.logger.Warn("could not check paused set size, warming anyway", zap.Error(err))
		count = 0
	}
	if count > 0 {
		return // Redis уже наполнен, перетирать нечего
	}

	pm.logger.Info("paused set is empty in Redis, warming from DB", zap.Int("count", len(ids)))
	pipe := pm.rdb.Pipeline()
	for _, id := range ids {
		pipe.SAdd(ctx, infra.RedisKeyPausedAgents, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		pm.logger.Warn("paused set warm-up failed", zap.Error(err))
	}
}

// StartListener подписывается на pause/resume сигналы Console в реальном
// времени. Блокирует до отмены контекста — запускать отдельной горутиной.
func (pm *PauseManager) StartListener(ctx context.Context) {
	ListenSignals(ctx, pm.rdb, pm.logger, infra.RedisChanPause,
		func() error { return pm.Init(ctx) }, // Пересинхронизация при переподключении
		func(id string, paused bool) {
			pm.apply(id, paused)
			if pm.onChange != nil {
				pm.onChange(id, paused)
			}
		},
	)
}

// MarkPaused — локальная постановка на паузу (DecisionEngine при риск-лимите).
// Транслирует сигнал остальным процессам через тот же канал.
func (pm *PauseManager) MarkPaused(ctx context.Context, agentID string) {
	pm.apply(agentID, true)

	if err := pm.rdb.SAdd(ctx, infra.RedisKeyPausedAgents, agentID).Err(); err != nil {
		pm.logger.Warn("failed to persist pause to Redis set", zap.Error(err))
	}
	payload := fmt.Sprintf("%s:on", agentID)
	if err := pm.rdb.Publish(ctx, infra.RedisChanPause, payload).Err(); err != nil {
		pm.logger.Warn("pause signal delivery failed", zap.Error(err))
	}
}

func (pm *PauseManager) apply(agentID string, paused bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if paused {
		pm.paused[agentID] = struct{}{}
	} else {
		delete(pm.paused, agentID)
	}
}

// IsPaused — максимально быстрая проверка в Hot Path супервизора.
func (pm *PauseManager) IsPaused(agentID string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	_, ok := pm.paused[agentID]
	return ok
}
