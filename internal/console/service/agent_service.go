package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
	"github.com/xela07ax/trading-floor-prototype/internal/infra/auth"
	"github.com/xela07ax/trading-floor-prototype/internal/journal"
)

// FloorRepository описывает требования к хранилищу дескрипторов
type FloorRepository interface {
	Get(ctx context.Context, id string) (*domain.Agent, error)
	ListRunnable(ctx context.Context) ([]*domain.Agent, error)
	Create(ctx context.Context, agent *domain.Agent) error
	UpdateStatus(ctx context.Context, id string, status domain.AgentStatus) error
	SetPaused(ctx context.Context, id string, paused bool) error
	Archive(ctx context.Context, id string) error
	GetFloorStats(ctx context.Context) (*domain.FloorStats, error)
}

// SnapshotSink — прием перформанс-окон от внешней аналитики.
type SnapshotSink interface {
	Insert(ctx context.Context, s *domain.PerformanceSnapshot) error
	Latest(ctx context.Context, agentID string) (*domain.PerformanceSnapshot, error)
}

type AgentService struct {
	*auth.BaseValidator
	repo      FloorRepository
	snapshots SnapshotSink
	rdb       *redis.Client
	journal   *journal.Journal
	logger    *zap.Logger
}

func NewAgentService(
	rdb *redis.Client,
	repo FloorRepository,
	snapshots SnapshotSink,
	jrnl *journal.Journal,
	validator *auth.BaseValidator,
	logger *zap.Logger,
) *AgentService {
	return &AgentService{
		BaseValidator: validator,
		repo:          repo,
		snapshots:     snapshots,
		rdb:           rdb,
		journal:       jrnl,
		logger:        logger.Named("agent-service"),
	}
}

// signalFloor — унифицированный механизм переключения состояний.
// Сначала БД (источник правды), затем сигнал в Redis. Недоставленный
// сигнал не ошибка: площадка подхватит состояние при следующем warmup.
func (s *AgentService) signalFloor(ctx context.Context, agentID, channel, signalValue, actionName string) {
	payload := fmt.Sprintf("%s:%s", agentID, signalValue)
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		s.logger.Warn("runtime signal delivery failed",
			zap.String("action", actionName),
			zap.String("channel", channel),
			zap.Error(err))
		return
	}
	s.logger.Info("agent state updated",
		zap.String("agent_id", agentID),
		zap.String("action", actionName))
}

// PauseAgent выставляет флаг паузы и будит площадку сигналом.
// Снятие таска делает Supervisor на своей стороне по этому сигналу.
func (s *AgentService) PauseAgent(ctx context.Context, id, operatorID string) error {
	if err := s.repo.SetPaused(ctx, id, true); err != nil {
		return fmt.Errorf("pause: database error: %w", err)
	}
	s.signalFloor(ctx, id, infra.RedisChanPause, "on", "pause")
	s.journal.Record(journal.Event{
		AgentID: id,
		Type:    journal.EventPause,
		Actor:   "operator:" + operatorID,
		Reason:  "manual pause",
	})
	return nil
}

// ResumeAgent снимает паузу. Единственный путь выхода из PAUSED,
// включая паузу по жесткому риск-лимиту.
func (s *AgentService) ResumeAgent(ctx context.Context, id, operatorID string) error {
	if err := s.repo.SetPaused(ctx, id, false); err != nil {
		return fmt.Errorf("resume: database error: %w", err)
	}
	s.signalFloor(ctx, id, infra.RedisChanPause, "off", "resume")
	s.journal.Record(journal.Event{
		AgentID: id,
		Type:    journal.EventPause,
		Actor:   "operator:" + operatorID,
		Reason:  "manual resume",
	})
	return nil
}

// RetireAgent — ручной вывод агента с площадки: статус, архив, сигнал.
func (s *AgentService) RetireAgent(ctx context.Context, id, operatorID string) error {
	agent, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateStatus(ctx, id, domain.StatusRetired); err != nil {
		return fmt.Errorf("retire: database error: %w", err)
	}
	if err := s.repo.Archive(ctx, id); err != nil {
		return fmt.Errorf("retire: archive error: %w", err)
	}
	s.signalFloor(ctx, id, infra.RedisChanLifecycle, "off", "retire")
	s.journal.Record(journal.Event{
		AgentID:    id,
		Type:       journal.EventTransition,
		FromStatus: string(agent.Status),
		ToStatus:   string(domain.StatusRetired),
		Actor:      "operator:" + operatorID,
		Reason:     "manual retire",
	})
	return nil
}

// RegisterAgent регистрирует нового агента в статусе PROVISIONAL.
func (s *AgentService) RegisterAgent(ctx context.Context, agent *domain.Agent) error {
	agent.Status = domain.StatusProvisional
	if err := s.repo.Create(ctx, agent); err != nil {
		return fmt.Errorf("register: database error: %w", err)
	}
	s.signalFloor(ctx, agent.ID, infra.RedisChanLifecycle, "on", "register")
	return nil
}

// SubmitSnapshot — точка входа аналитического коллаборатора.
func (s *AgentService) SubmitSnapshot(ctx context.Context, snap *domain.PerformanceSnapshot) error {
	if snap.AgentID == "" || !snap.WindowEnd.After(snap.WindowStart) {
		return fmt.Errorf("%w: snapshot window is malformed", domain.ErrConfigInvalid)
	}
	return s.snapshots.Insert(ctx, snap)
}

// GetOverview — карточка агента: дескриптор, живость из Redis-зеркала
// heartbeat'ов и последнее перформанс-окно.
func (s *AgentService) GetOverview(ctx context.Context, agentID string) (*domain.AgentOverview, error) {
	agent, err := s.repo.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	ov := &domain.AgentOverview{Agent: agent}

	// Живость читаем из зеркала, которое ведет HealthMonitor площадки.
	// Redis лежит — карточка просто без поля живости, это не ошибка
	if raw, err := s.rdb.HGet(ctx, infra.RedisKeyHeartbeats, agent.Name).Result(); err == nil {
		if ts, interval, ok := infra.ParseHeartbeatMirror(raw); ok {
			ov.LastHeartbeat = &ts
			// Тот же порог, что у супервизора: дашборд и sweep не расходятся
			rec := domain.HeartbeatRecord{LastSeen: ts, IntervalExpected: interval}
			ov.Healthy = time.Since(ts) <= rec.StaleAfter()
		}
	}

	if snap, err := s.snapshots.Latest(ctx, agentID); err == nil {
		ov.Snapshot = snap
	}
	return ov, nil
}

// ListAgents возвращает список всех активных дескрипторов площадки.
func (s *AgentService) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	agents, err := s.repo.ListRunnable(ctx)
	if err != nil {
		s.logger.Error("failed to list agents from repository", zap.Error(err))
		return nil, fmt.Errorf("service: could not fetch agents: %w", err)
	}

	// Фронтенд должен получить пустой массив [], а не null
	if agents == nil {
		return []*domain.Agent{}, nil
	}
	return agents, nil
}

func (s *AgentService) GetFloorStats(ctx context.Context) (*domain.FloorStats, error) {
	// Сюда можно добавить кэширование в Redis на минуту, чтобы не гонять
	// тяжелые аналитические запросы на каждый рефреш дашборда
	return s.repo.GetFloorStats(ctx)
}
