package floor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/trading-floor-prototype/internal/checkpoint"
	"github.com/xela07ax/trading-floor-prototype/internal/connectors"
	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
	"github.com/xela07ax/trading-floor-prototype/internal/resilience"
)

type CycleStatus string

const (
	CycleCompleted CycleStatus = "completed"
	CycleSkipped   CycleStatus = "skipped"
	CycleFailed    CycleStatus = "failed"
)

// CycleOutcome — явный результат одного цикла стратегии. Никакого
// control flow на исключениях: рантайм смотрит на значение и решает,
// что логировать. Любой исход — продолжаем жить.
type CycleOutcome struct {
	Status   CycleStatus   `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
}

// AgentRuntime — кооперативный цикл одного агента. Именно этот слой, а не
// Supervisor, гарантирует graceful degradation: пропавшая маркет-дата,
// отбитый ордер или сбой записи чекпоинта деградируют до "пропустить цикл",
// а не до смерти таска.
type AgentRuntime struct {
	agent    *domain.Agent
	strategy connectors.Strategy

	// dependency — имя внешней зависимости стратегии для Circuit Breaker.
	// Общее для всех агентов одной биржи: ее отказ бьет по всем сразу.
	dependency string

	guard       *resilience.Guard
	checkpoints *checkpoint.Store
	health      *HealthMonitor
	metrics     *Metrics
	logger      *zap.Logger

	cfg infra.FloorConfig

	// История исходов для карточки агента. Фиксированная емкость:
	// память не растет, сколько бы суток агент ни крутился.
	ring *CycleRing

	// Дроссель на повторные ошибки цикла: лог не штормит, когда биржа
	// лежит десять минут подряд.
	errLimiter *rate.Limiter

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewAgentRuntime(
	agent *domain.Agent,
	strategy connectors.Strategy,
	dependency string,
	guard *resilience.Guard,
	checkpoints *checkpoint.Store,
	health *HealthMonitor,
	metrics *Metrics,
	cfg infra.FloorConfig,
	logger *zap.Logger,
) (*AgentRuntime, error) {
	if agent.Name == "" || agent.Kind == "" {
		return nil, fmt.Errorf("%w: name and kind are required", domain.ErrConfigInvalid)
	}
	if cfg.CycleInterval <= 0 || cfg.HeartbeatInterval <= 0 || cfg.CheckpointInterval <= 0 {
		return nil, fmt.Errorf("%w: intervals must be positive", domain.ErrConfigInvalid)
	}

	return &AgentRuntime{
		agent:       agent,
		strategy:    strategy,
		dependency:  dependency,
		guard:       guard,
		checkpoints: checkpoints,
		health:      health,
		metrics:     metrics,
		logger:      logger.Named("runtime").With(zap.String("agent", agent.Name)),
		cfg:         cfg,
		ring:        NewCycleRing(256),
		errLimiter:  rate.NewLimiter(rate.Every(30*time.Second), 3),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Stop — кооперативный сигнал остановки. Рантайм заметит его на верхушке
// цикла, дописает финальный чекпоинт и выйдет сам.
func (rt *AgentRuntime) Stop() {
	select {
	case <-rt.stopCh:
	default:
		close(rt.stopCh)
	}
}

// Done закрывается, когда цикл полностью завершился (терминальное
// состояние таска, его вычитывает Supervisor).
func (rt *AgentRuntime) Done() <-chan struct{} { return rt.doneCh }

// Recent — история исходов для Console.
func (rt *AgentRuntime) Recent() []CycleOutcome { return rt.ring.Recent() }

// Run крутит цикл агента до Stop() или отмены контекста.
func (rt *AgentRuntime) Run(ctx context.Context) {
	defer close(rt.doneCh)

	// 1. Восстановление из последнего чекпоинта (если он есть)
	rt.restoreState(ctx)

	cycleTick := time.NewTicker(rt.cfg.CycleInterval)
	heartbeatTick := time.NewTicker(rt.cfg.HeartbeatInterval)
	checkpointTick := time.NewTicker(rt.cfg.CheckpointInterval)
	defer cycleTick.Stop()
	defer heartbeatTick.Stop()
	defer checkpointTick.Stop()

	// Первый heartbeat сразу: иначе свежий агент выглядит протухшим
	rt.health.Heartbeat(rt.agent.Name, rt.cfg.HeartbeatInterval, time.Now())
	rt.logger.Info("agent runtime started")

	for {
		// Стоп проверяется на верхушке цикла: текущая итерация всегда
		// довершается, прерываний посреди ордера не бывает.
		select {
		case <-rt.stopCh:
			rt.finalCheckpoint(ctx)
			rt.logger.Info("agent runtime stopped gracefully")
			return
		case <-ctx.Done():
			rt.finalCheckpoint(context.Background())
			rt.logger.Info("agent runtime canceled")
			return
		case <-heartbeatTick.C:
			rt.health.Heartbeat(rt.agent.Name, rt.cfg.HeartbeatInterval, time.Now())
		case <-checkpointTick.C:
			rt.persistCheckpoint(ctx)
		case <-cycleTick.C:
			outcome := rt.runCycle(ctx)
			rt.observe(outcome)
		}
	}
}

// runCycle исполняет один торговый цикл с полным fault containment:
// паника или ошибка стратегии превращаются в CycleOutcome, не в труп цикла.
func (rt *AgentRuntime) runCycle(ctx context.Context) (outcome CycleOutcome) {
	started := time.Now()
	outcome = CycleOutcome{Status: CycleCompleted, At: started}

	defer func() {
		outcome.Duration = time.Since(started)
		if r := recover(); r != nil {
			outcome.Status = CycleFailed
			outcome.Reason = fmt.Sprintf("panic: %v", r)
		}
	}()

	err := rt.guard.Call(ctx, rt.dependency, func(ctx context.Context) error {
		return rt.strategy.OnCycle(ctx)
	})
	if err == nil {
		return outcome
	}

	switch {
	case errors.Is(err, domain.ErrCircuitOpen):
		// Зависимость на карантине — тихо пересиживаем cooldown
		outcome.Status = CycleSkipped
		outcome.Reason = "dependency circuit open"
	case errors.Is(err, context.Canceled):
		outcome.Status = CycleSkipped
		outcome.Reason = "canceled"
	default:
		outcome.Status = CycleFailed
		outcome.Reason = err.Error()
	}
	return outcome
}

// observe раскладывает исход по метрикам, кольцу истории и (дросселированно) логу.
func (rt *AgentRuntime) observe(o CycleOutcome) {
	rt.ring.Push(o)
	if rt.metrics != nil {
		rt.metrics.CycleOutcomes.WithLabelValues(rt.agent.Name, string(o.Status)).Inc()
		rt.metrics.CycleDuration.WithLabelValues(rt.agent.Name, rt.agent.Kind).Observe(o.Duration.Seconds())
	}

	if o.Status == CycleCompleted {
		return
	}
	if rt.errLimiter.Allow() {
		rt.logger.Warn("cycle did not complete",
			zap.String("status", string(o.Status)),
			zap.String("reason", o.Reason))
	}
}

func (rt *AgentRuntime) restoreState(ctx context.Context) {
	cp, err := rt.checkpoints.LoadLatest(ctx, rt.agent.ID)
	if err != nil {
		rt.logger.Error("checkpoint load failed, starting empty", zap.Error(err))
		return
	}
	if cp == nil {
		rt.logger.Info("no checkpoint found, starting fresh")
		return
	}

	if err := rt.strategy.Restore(cp.Payload); err != nil {
		// Битый снапшот хуже пустого старта не делает
		rt.logger.Error("checkpoint restore rejected by strategy, starting empty",
			zap.Uint64("sequence", cp.Sequence), zap.Error(err))
		return
	}
	rt.logger.Info("state restored from checkpoint", zap.Uint64("sequence", cp.Sequence))
}

func (rt *AgentRuntime) persistCheckpoint(ctx context.Context) {
	payload, err := rt.strategy.Snapshot()
	if err != nil {
		// Сбой сериализации — пропускаем запись, цикл живет дальше
		rt.logger.Warn("strategy snapshot failed, checkpoint skipped", zap.Error(err))
		return
	}
	rt.checkpoints.Save(ctx, rt.agent.ID, payload)
}

// finalCheckpoint — прощальная запись состояния перед выходом.
// Родительский контекст может быть уже отменен, поэтому Background.
func (rt *AgentRuntime) finalCheckpoint(ctx context.Context) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	fCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rt.persistCheckpoint(fCtx)
}
