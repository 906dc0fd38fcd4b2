package decision

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/floor"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
	"github.com/xela07ax/trading-floor-prototype/internal/journal"
	"github.com/xela07ax/trading-floor-prototype/internal/notify"
)

// AgentStore — мутации дескрипторов, нужные Floor Boss. Реализуется
// Postgres-репозиторием: единый путь записи статусов (lost updates исключены
// на уровне БД, а не нашей памяти).
type AgentStore interface {
	ListEvaluable(ctx context.Context) ([]*domain.Agent, error)
	Get(ctx context.Context, id string) (*domain.Agent, error)
	Create(ctx context.Context, agent *domain.Agent) error
	UpdateStatus(ctx context.Context, id string, status domain.AgentStatus) error
	UpdateCapital(ctx context.Context, id string, capital float64) error
	Archive(ctx context.Context, id string) error
}

// SnapshotSource — внешний аналитический коллаборатор. Ядро само
// win rate / Sharpe / просадку не считает.
type SnapshotSource interface {
	LatestPerAgent(ctx context.Context) (map[string]*domain.PerformanceSnapshot, error)
}

// Actuator — руки Floor Boss. Реализуется floor.Supervisor.
type Actuator interface {
	StopAgent(ctx context.Context, agentID, reason string) error
	Spawn(ctx context.Context, agent *domain.Agent) error
	IsRunning(agentID string) bool
}

// Pauser выставляет флаг паузы по жесткому риск-лимиту.
// Реализуется floor.PauseManager.
type Pauser interface {
	MarkPaused(ctx context.Context, agentID string)
}

// Engine — singleton-цикл Floor Boss: по расписанию читает последние
// снапшоты, прогоняет каждого агента через чистый Evaluate и приводит
// решения в исполнение.
type Engine struct {
	agents    AgentStore
	snapshots SnapshotSource
	actuator  Actuator
	pause     Pauser
	journal   *journal.Journal
	notifier  notify.Notifier
	metrics   *floor.Metrics
	cfg       infra.DecisionConfig
	logger    *zap.Logger
}

func NewEngine(
	agents AgentStore,
	snapshots SnapshotSource,
	actuator Actuator,
	pause Pauser,
	jrnl *journal.Journal,
	notifier notify.Notifier,
	metrics *floor.Metrics,
	cfg infra.DecisionConfig,
	logger *zap.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		agents:    agents,
		snapshots: snapshots,
		actuator:  actuator,
		pause:     pause,
		journal:   jrnl,
		notifier:  notifier,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger.Named("floor_boss"),
	}, nil
}

// Run крутит цикл оценки до отмены контекста.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.logger.Info("floor boss started", zap.Duration("interval", e.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("floor boss stopped")
			return
		case <-ticker.C:
			e.EvaluateAll(ctx)
		}
	}
}

// EvaluateAll — один проход по флоту. Ошибка на одном агенте локализуется
// и не срывает оценку остальных в этом же проходе.
func (e *Engine) EvaluateAll(ctx context.Context) {
	agents, err := e.agents.ListEvaluable(ctx)
	if err != nil {
		e.logger.Error("evaluation pass aborted: cannot list agents", zap.Error(err))
		return
	}
	snaps, err := e.snapshots.LatestPerAgent(ctx)
	if err != nil {
		e.logger.Error("evaluation pass aborted: cannot load snapshots", zap.Error(err))
		return
	}

	for _, agent := range agents {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("panic evaluating agent",
						zap.String("agent", agent.Name), zap.Any("panic", r))
				}
			}()
			if err := e.evaluateAgent(ctx, agent, snaps[agent.ID]); err != nil {
				e.logger.Error("agent evaluation failed",
					zap.String("agent", agent.Name), zap.Error(err))
			}
		}()
	}
}

func (e *Engine) evaluateAgent(ctx context.Context, agent *domain.Agent, snap *domain.PerformanceSnapshot) error {
	d := Evaluate(agent.Status, snap, e.cfg)
	if !d.Changed(agent.Status) && len(d.Actions) == 0 {
		return nil
	}

	e.logger.Info("lifecycle decision",
		zap.String("agent", agent.Name),
		zap.String("from", string(agent.Status)),
		zap.String("to", string(d.NextStatus)),
		zap.Int("actions", len(d.Actions)))

	// Сначала статус в БД, потом действия: если исполнение прервется,
	// следующий проход увидит уже новый статус и не примет решение дважды
	if d.Changed(agent.Status) {
		if err := e.agents.UpdateStatus(ctx, agent.ID, d.NextStatus); err != nil {
			return fmt.Errorf("status update: %w", err)
		}
		e.journal.Record(journal.Event{
			AgentID:    agent.ID,
			Type:       journal.EventTransition,
			FromStatus: string(agent.Status),
			ToStatus:   string(d.NextStatus),
			Actor:      "floor_boss",
			Reason:     decisionReason(d),
		})
	}

	for _, action := range d.Actions {
		if e.metrics != nil {
			e.metrics.DecisionsTotal.WithLabelValues(string(action.Kind)).Inc()
		}
		if err := e.applyAction(ctx, agent, action); err != nil {
			// Действие не прошло — лог и дальше: статус уже записан,
			// следующий проход доделает (archive/stop идемпотентны)
			e.logger.Error("lifecycle action failed",
				zap.String("agent", agent.Name),
				zap.String("action", string(action.Kind)),
				zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) applyAction(ctx context.Context, agent *domain.Agent, action domain.LifecycleAction) error {
	switch action.Kind {
	case domain.ActionStopTask:
		return e.actuator.StopAgent(ctx, agent.ID, action.Reason)

	case domain.ActionArchive:
		return e.agents.Archive(ctx, agent.ID)

	case domain.ActionReduceCapital:
		capital := agent.CapitalAllocated * action.Factor
		return e.agents.UpdateCapital(ctx, agent.ID, capital)

	case domain.ActionClone:
		return e.cloneAgent(ctx, agent, action.Factor)

	case domain.ActionPause:
		// Hard risk limit: сперва таск вниз, затем флаг паузы через общий
		// DB-then-signal путь. Авторезюма нет, снимает только оператор
		if err := e.actuator.StopAgent(ctx, agent.ID, action.Reason); err != nil {
			e.logger.Error("emergency stop failed", zap.String("agent", agent.Name), zap.Error(err))
		}
		if e.metrics != nil {
			e.metrics.EscalationsTotal.WithLabelValues("hard_risk_limit").Inc()
		}
		e.journal.Record(journal.Event{
			AgentID: agent.ID,
			Type:    journal.EventPause,
			Actor:   "floor_boss",
			Reason:  action.Reason,
		})
		e.pause.MarkPaused(ctx, agent.ID)
		return nil

	case domain.ActionNotify:
		// Fire-and-forget: нотификатор не может заблокировать цикл
		e.notifier.NotifyCritical("floor_boss",
			fmt.Sprintf("agent %s breached hard risk limit", agent.Name),
			"task stopped and paused, manual clear required")
		return nil
	}
	return fmt.Errorf("unknown lifecycle action %q", action.Kind)
}

// cloneAgent регистрирует PROVISIONAL-клона с возмущенным конфигом и долей
// капитала родителя, и сразу поднимает его таск.
func (e *Engine) cloneAgent(ctx context.Context, parent *domain.Agent, capitalShare float64) error {
	clone := &domain.Agent{
		ID:               uuid.New().String(),
		Name:             fmt.Sprintf("%s-clone-%s", parent.Name, uuid.New().String()[:8]),
		Kind:             parent.Kind,
		Status:           domain.StatusProvisional,
		CapitalAllocated: parent.CapitalAllocated * capitalShare,
		Config:           perturbConfig(parent.Config),
		CreatedAt:        time.Now().UTC(),
	}

	if err := e.agents.Create(ctx, clone); err != nil {
		return fmt.Errorf("clone registration: %w", err)
	}
	e.journal.Record(journal.Event{
		AgentID: clone.ID,
		Type:    journal.EventClone,
		Actor:   "floor_boss",
		Reason:  fmt.Sprintf("cloned from %s", parent.Name),
		Details: map[string]any{"parent_id": parent.ID, "capital": clone.CapitalAllocated},
	})
	return e.actuator.Spawn(ctx, clone)
}

// perturbConfig — копия конфига с джиттером ±10% на числовых параметрах.
// Клон исследует окрестность родительской стратегии, а не повторяет ее.
func perturbConfig(cfg map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		switch num := v.(type) {
		case float64:
			out[k] = num * (0.9 + 0.2*rand.Float64())
		case int:
			out[k] = int(float64(num) * (0.9 + 0.2*rand.Float64()))
		default:
			out[k] = v
		}
	}
	return out
}

func decisionReason(d Decision) string {
	if len(d.Actions) > 0 {
		return d.Actions[0].Reason
	}
	return "performance evaluation"
}
