package floor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
	"github.com/xela07ax/trading-floor-prototype/internal/journal"
	"github.com/xela07ax/trading-floor-prototype/internal/notify"
)

// AgentProvider — единый путь мутации дескрипторов. Через него ходят
// И Supervisor (краши), И DecisionEngine (перформанс): потерянных
// апдейтов статуса быть не должно.
type AgentProvider interface {
	ListRunnable(ctx context.Context) ([]*domain.Agent, error)
	Get(ctx context.Context, id string) (*domain.Agent, error)
	UpdateStatus(ctx context.Context, id string, status domain.AgentStatus) error
}

// RuntimeFactory собирает рантайм под конкретного агента (стратегия
// выбирается по Kind). Ошибка конфигурации здесь фатальна для спавна.
type RuntimeFactory func(agent *domain.Agent) (*AgentRuntime, error)

// task — живой таск одного агента под супервизией.
type task struct {
	agent    *domain.Agent
	runtime  *AgentRuntime
	cancel   context.CancelFunc
	stopping bool // выставлен при штатной остановке: watcher не считает это крашем
}

// Supervisor владеет мапой agentID -> таск и реагирует на два рода событий:
// смерть таска (watcher) и протухший heartbeat (sweep). Рестарты одного
// агента строго сериализованы per-agent мьютексом; разные агенты
// рестартуют параллельно.
type Supervisor struct {
	repo     AgentProvider
	health   *HealthMonitor
	pause    *PauseManager
	journal  *journal.Journal
	notifier notify.Notifier
	metrics  *Metrics
	factory  RuntimeFactory
	cfg      infra.FloorConfig
	logger   *zap.Logger

	mu     sync.Mutex
	tasks  map[string]*task  // agentID -> task
	byName map[string]string // agentName -> agentID (sweep ходит по именам)

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex // per-agent mutual exclusion

	restartMu sync.Mutex
	restarts  map[string][]time.Time // скользящее окно рестартов

	// Часы и ожидание инъектируются: тесты не спят по-настоящему.
	nowFn  func() time.Time
	waitFn func(ctx context.Context, d time.Duration) bool

	wg sync.WaitGroup
}

func NewSupervisor(
	repo AgentProvider,
	health *HealthMonitor,
	pause *PauseManager,
	jrnl *journal.Journal,
	notifier notify.Notifier,
	metrics *Metrics,
	factory RuntimeFactory,
	cfg infra.FloorConfig,
	logger *zap.Logger,
) *Supervisor {
	s := &Supervisor{
		repo:     repo,
		health:   health,
		pause:    pause,
		journal:  jrnl,
		notifier: notifier,
		metrics:  metrics,
		factory:  factory,
		cfg:      cfg,
		logger:   logger.Named("supervisor"),
		tasks:    make(map[string]*task),
		byName:   make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
		restarts: make(map[string][]time.Time),
		nowFn:    time.Now,
		waitFn: func(ctx context.Context, d time.Duration) bool {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(d):
				return true
			}
		},
	}
	if pause != nil {
		pause.SetChangeHook(s.onPauseSignal)
	}
	return s
}

// Start поднимает все runnable агенты и цикл health sweep.
func (s *Supervisor) Start(ctx context.Context) error {
	agents, err := s.repo.ListRunnable(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: failed to list agents: %w", err)
	}

	for _, agent := range agents {
		if s.pause != nil && s.pause.IsPaused(agent.ID) {
			s.logger.Info("agent is paused, not spawning", zap.String("agent", agent.Name))
			continue
		}
		if err := s.Spawn(ctx, agent); err != nil {
			// Один битый агент не мешает запуску остальных
			s.logger.Error("failed to spawn agent", zap.String("agent", agent.Name), zap.Error(err))
		}
	}

	s.wg.Add(1)
	go s.sweepLoop(ctx)
	return nil
}

// Spawn запускает таск агента. Возвращает ошибку, если конфигурация
// битая (никаких молчаливых дефолтов) или таск уже живой.
func (s *Supervisor) Spawn(ctx context.Context, agent *domain.Agent) error {
	lock := s.agentLock(agent.ID)
	lock.Lock()
	defer lock.Unlock()
	return s.spawnLocked(ctx, agent)
}

func (s *Supervisor) spawnLocked(ctx context.Context, agent *domain.Agent) error {
	s.mu.Lock()
	if _, exists := s.tasks[agent.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("agent %s: task already running", agent.Name)
	}
	s.mu.Unlock()

	rt, err := s.factory(agent)
	if err != nil {
		return fmt.Errorf("agent %s: %w", agent.Name, err)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{agent: agent, runtime: rt, cancel: cancel}

	s.mu.Lock()
	s.tasks[agent.ID] = t
	s.byName[agent.Name] = agent.ID
	s.mu.Unlock()

	go rt.Run(taskCtx)

	// Watcher: смерть таска без флага stopping — это краш
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-rt.Done()

		s.mu.Lock()
		cur, ok := s.tasks[agent.ID]
		stopping := ok && cur == t && cur.stopping
		if ok && cur == t {
			delete(s.tasks, agent.ID)
			delete(s.byName, agent.Name)
		}
		s.mu.Unlock()

		if !ok || cur != t || stopping {
			return // штатная остановка, оформлена в другом месте
		}
		s.health.Forget(agent.Name)
		s.handleFailure(ctx, agent.ID, "crash")
	}()

	s.logger.Info("agent task spawned", zap.String("agent", agent.Name), zap.String("kind", agent.Kind))
	return nil
}

// handleFailure — бухгалтерия рестартов. Вызывается, когда таск агента
// уже мертв и вычищен из мапы. Per-agent lock гарантирует: два почти
// одновременных сигнала о краше дают РОВНО ОДНУ последовательность рестарта.
func (s *Supervisor) handleFailure(ctx context.Context, agentID, cause string) {
	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	// Пока мы ждали lock, конкурирующий рестарт мог уже поднять таск
	s.mu.Lock()
	_, alive := s.tasks[agentID]
	s.mu.Unlock()
	if alive {
		return
	}

	agent, err := s.repo.Get(ctx, agentID)
	if err != nil {
		s.logger.Error("cannot load agent after failure, giving up", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	if !agent.IsRunnable() || (s.pause != nil && s.pause.IsPaused(agentID)) {
		s.logger.Info("agent not runnable after failure, no restart",
			zap.String("agent", agent.Name), zap.String("status", string(agent.Status)))
		return
	}

	attempt, allowed := s.bookRestart(agentID)
	if !allowed {
		s.escalateCeiling(ctx, agent)
		return
	}

	delay := s.backoffDelay(attempt)
	s.logger.Warn("agent task died, restarting",
		zap.String("agent", agent.Name),
		zap.String("cause", cause),
		zap.Int("attempt", attempt),
		zap.Duration("backoff", delay))

	if s.metrics != nil {
		s.metrics.RestartsTotal.WithLabelValues(agent.Name, cause).Inc()
	}
	s.journal.Record(journal.Event{
		AgentID: agentID,
		Type:    journal.EventRestart,
		Actor:   "supervisor",
		Reason:  cause,
		Details: map[string]any{"attempt": attempt, "backoff": delay.String()},
	})

	if !s.waitFn(ctx, delay) {
		return // процесс гасится, рестарт не нужен
	}

	// Свежий дескриптор: за время бэкоффа Floor Boss мог поменять статус
	agent, err = s.repo.Get(ctx, agentID)
	if err != nil || !agent.IsRunnable() {
		return
	}
	if err := s.spawnLocked(ctx, agent); err != nil {
		s.logger.Error("restart spawn failed", zap.String("agent", agent.Name), zap.Error(err))
	}
}

// bookRestart регистрирует попытку в СКОЛЬЗЯЩЕМ часовом окне.
// Никаких календарных границ: сброс-и-краш-луп на стыке окон невозможен.
func (s *Supervisor) bookRestart(agentID string) (attempt int, allowed bool) {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	now := s.nowFn()
	cutoff := now.Add(-time.Hour)

	window := s.restarts[agentID][:0]
	for _, ts := range s.restarts[agentID] {
		if ts.After(cutoff) {
			window = append(window, ts)
		}
	}

	if len(window) >= s.cfg.MaxRestartsPerHour {
		s.restarts[agentID] = window
		return len(window), false
	}

	window = append(window, now)
	s.restarts[agentID] = window
	return len(window), true
}

func (s *Supervisor) backoffDelay(attempt int) time.Duration {
	// Та же схема удвоения, что в RetryPolicy: seed × 2^(attempt-1), с потолком
	d := s.cfg.RestartBackoffSeed
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.RestartBackoffCap {
			return s.cfg.RestartBackoffCap
		}
	}
	if d > s.cfg.RestartBackoffCap {
		d = s.cfg.RestartBackoffCap
	}
	return d
}

// escalateCeiling — потолок пробит: статус crashed, алерт дежурному,
// авторестартов в этом окне больше не будет.
func (s *Supervisor) escalateCeiling(ctx context.Context, agent *domain.Agent) {
	s.logger.Error("restart ceiling exceeded, escalating",
		zap.String("agent", agent.Name),
		zap.Int("max_per_hour", s.cfg.MaxRestartsPerHour))

	if err := s.repo.UpdateStatus(ctx, agent.ID, domain.StatusCrashed); err != nil {
		s.logger.Error("failed to mark agent crashed", zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.EscalationsTotal.WithLabelValues("restart_ceiling").Inc()
	}
	s.journal.Record(journal.Event{
		AgentID:    agent.ID,
		Type:       journal.EventEscalation,
		FromStatus: string(agent.Status),
		ToStatus:   string(domain.StatusCrashed),
		Actor:      "supervisor",
		Reason:     domain.ErrRestartCeiling.Error(),
	})
	s.notifier.NotifyCritical("supervisor",
		fmt.Sprintf("agent %s exceeded %d restarts per hour", agent.Name, s.cfg.MaxRestartsPerHour),
		"auto-restart disabled, manual intervention required")
}

// StopAgent — штатная остановка: кооперативный сигнал, ожидание финального
// чекпоинта, жесткий таймаут. Не уложился в таймаут — принудительный cancel
// и оформление как краш (обычная бухгалтерия, никаких вечных ожиданий).
func (s *Supervisor) StopAgent(ctx context.Context, agentID, reason string) error {
	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	t, ok := s.tasks[agentID]
	if ok {
		t.stopping = true
	}
	s.mu.Unlock()
	if !ok {
		return nil // таск и так не живой
	}

	t.runtime.Stop()

	select {
	case <-t.runtime.Done():
		// Финальный чекпоинт записан, чистый выход
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("graceful stop timed out, terminating task",
			zap.String("agent", t.agent.Name),
			zap.Duration("timeout", s.cfg.StopTimeout))
		s.terminate(t)
		if s.metrics != nil {
			s.metrics.RestartsTotal.WithLabelValues(t.agent.Name, "stop_timeout").Inc()
		}
		// Фиксируем как сбой в окне рестартов: зависший shutdown — симптом.
		// Пробитый потолок эскалируется так же, как при крашах
		if _, allowed := s.bookRestart(agentID); !allowed {
			s.escalateCeiling(ctx, t.agent)
		}
	}

	s.mu.Lock()
	if cur, stillThere := s.tasks[agentID]; stillThere && cur == t {
		delete(s.tasks, agentID)
		delete(s.byName, t.agent.Name)
	}
	s.mu.Unlock()

	s.health.Forget(t.agent.Name)
	s.journal.Record(journal.Event{
		AgentID: agentID,
		Type:    journal.EventTransition,
		Actor:   "supervisor",
		Reason:  reason,
		Details: map[string]any{"op": "stop"},
	})
	return nil
}

// terminate принудительно гасит таск. Ожидание завершения ОГРАНИЧЕНО
// StopTimeout: стратегия, зависшая в блокирующем вызове, игнорирует
// cancel, а вечное ожидание здесь заклинило бы sweep всей площадки.
// Не дождались — бросаем горутину как утекшую и ведем таск как труп:
// вызывающий вычищает дескриптор и рестартует поверх.
func (s *Supervisor) terminate(t *task) bool {
	t.cancel()
	select {
	case <-t.runtime.Done():
		return true
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Error("task ignored cancellation, abandoning goroutine",
			zap.String("agent", t.agent.Name),
			zap.Duration("waited", s.cfg.StopTimeout))
		return false
	}
}

// IsRunning — живой ли таск агента (для Console и тестов).
func (s *Supervisor) IsRunning(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[agentID]
	return ok
}

// RuntimeOf отдает рантайм для карточки агента в Console.
func (s *Supervisor) RuntimeOf(agentID string) *AgentRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[agentID]; ok {
		return t.runtime
	}
	return nil
}

// sweepLoop — периодический проход по heartbeat'ам. Sweep только читает;
// решение о рестарте принимается здесь, в супервизоре.
func (s *Supervisor) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Supervisor) sweepOnce(ctx context.Context) {
	stale := s.health.Sweep(s.nowFn())
	if s.metrics != nil {
		s.metrics.UnhealthyAgents.Set(float64(len(stale)))
	}

	for _, name := range stale {
		// Fault containment per agent: паника на одном агенте не должна
		// сорвать обработку остальных в этом же проходе
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("panic during unhealthy agent handling",
						zap.String("agent", name), zap.Any("panic", r))
				}
			}()
			s.restartUnhealthy(ctx, name)
		}()
	}
}

// restartUnhealthy принудительно гасит зависший таск и прогоняет его
// через обычную бухгалтерию рестартов.
func (s *Supervisor) restartUnhealthy(ctx context.Context, agentName string) {
	s.mu.Lock()
	agentID, ok := s.byName[agentName]
	var t *task
	if ok {
		t = s.tasks[agentID]
	}
	s.mu.Unlock()

	if t == nil {
		// Таска нет — значит он уже умер и watcher им занимается
		return
	}

	s.logger.Warn("agent heartbeat is stale, forcing restart", zap.String("agent", agentName))

	s.mu.Lock()
	t.stopping = true // watcher не должен оформить второй рестарт
	s.mu.Unlock()

	s.terminate(t)

	s.mu.Lock()
	if cur, stillThere := s.tasks[agentID]; stillThere && cur == t {
		delete(s.tasks, agentID)
		delete(s.byName, agentName)
	}
	s.mu.Unlock()

	s.health.Forget(agentName)
	s.handleFailure(ctx, agentID, "unhealthy")
}

// onPauseSignal — живая реакция на pause/resume из Console, без ожидания sweep.
func (s *Supervisor) onPauseSignal(agentID string, paused bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout+5*time.Second)
	go func() {
		defer cancel()
		if paused {
			if err := s.StopAgent(ctx, agentID, "paused by signal"); err != nil {
				s.logger.Error("pause stop failed", zap.String("agent_id", agentID), zap.Error(err))
			}
			return
		}

		agent, err := s.repo.Get(ctx, agentID)
		if err != nil {
			s.logger.Error("resume failed: agent not loadable", zap.String("agent_id", agentID), zap.Error(err))
			return
		}
		if !agent.IsRunnable() {
			return
		}
		if err := s.Spawn(ctx, agent); err != nil {
			s.logger.Error("resume spawn failed", zap.String("agent", agent.Name), zap.Error(err))
		}
	}()
}

// Shutdown штатно гасит все таски (параллельно) и ждет фоновые горутины.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			if err := s.StopAgent(ctx, agentID, "floor shutdown"); err != nil {
				s.logger.Error("shutdown stop failed", zap.String("agent_id", agentID), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()
}

func (s *Supervisor) agentLock(agentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if l, ok := s.locks[agentID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[agentID] = l
	return l
}
