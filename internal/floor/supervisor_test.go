package floor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/trading-floor-prototype/internal/checkpoint"
	"github.com/xela07ax/trading-floor-prototype/internal/connectors"
	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
	"github.com/xela07ax/trading-floor-prototype/internal/journal"
	"github.com/xela07ax/trading-floor-prototype/internal/resilience"
)

// --- фейки ---

type fakeProvider struct {
	mu       sync.Mutex
	agents   map[string]*domain.Agent
	statuses map[string][]domain.AgentStatus // история UpdateStatus по агенту
	gets     int
}

func newFakeProvider(agents ...*domain.Agent) *fakeProvider {
	p := &fakeProvider{
		agents:   make(map[string]*domain.Agent),
		statuses: make(map[string][]domain.AgentStatus),
	}
	for _, a := range agents {
		p.agents[a.ID] = a
	}
	return p
}

func (p *fakeProvider) ListRunnable(ctx context.Context) ([]*domain.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*domain.Agent
	for _, a := range p.agents {
		if a.IsRunnable() {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (p *fakeProvider) Get(ctx context.Context, id string) (*domain.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets++
	a, ok := p.agents[id]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (p *fakeProvider) UpdateStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return domain.ErrAgentNotFound
	}
	a.Status = status
	p.statuses[id] = append(p.statuses[id], status)
	return nil
}

func (p *fakeProvider) lastStatus(id string) (domain.AgentStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.statuses[id]
	if len(h) == 0 {
		return "", false
	}
	return h[len(h)-1], true
}

type nopJournalStore struct{}

func (nopJournalStore) WriteBatch(ctx context.Context, events []journal.Event) error { return nil }

type captureNotifier struct {
	mu     sync.Mutex
	issues []string
}

func (n *captureNotifier) NotifyCritical(component, issue, action string) {
	n.mu.Lock()
	n.issues = append(n.issues, issue)
	n.mu.Unlock()
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.issues)
}

// scriptedStrategy — детерминированная стратегия без случайных задержек.
type scriptedStrategy struct {
	mu        sync.Mutex
	cycles    int
	failEvery int // каждый N-й цикл возвращает ошибку
}

func (s *scriptedStrategy) GenerateSignal(ctx context.Context, m connectors.MarketSnapshot) (*connectors.Signal, error) {
	return nil, nil
}

func (s *scriptedStrategy) OnCycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	if s.failEvery > 0 && s.cycles%s.failEvery == 0 {
		return fmt.Errorf("scripted failure at cycle %d", s.cycles)
	}
	return nil
}

func (s *scriptedStrategy) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(map[string]int{"cycles": s.cycles})
}

func (s *scriptedStrategy) Restore(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var state map[string]int
	if err := json.Unmarshal(payload, &state); err != nil {
		return err
	}
	s.cycles = state["cycles"]
	return nil
}

// stuckStrategy намертво виснет в OnCycle, игнорируя контекст — модель
// агента, застрявшего в блокирующем сетевом вызове без таймаута.
type stuckStrategy struct {
	scriptedStrategy
	entered chan struct{} // закрывается при входе в первый цикл
	once    sync.Once
}

func newStuckStrategy() *stuckStrategy {
	return &stuckStrategy{entered: make(chan struct{})}
}

func (s *stuckStrategy) OnCycle(ctx context.Context) error {
	s.once.Do(func() { close(s.entered) })
	select {}
}

func (s *stuckStrategy) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("стратегия так и не вошла в цикл")
	}
}

// fakePrimary — in-memory PrimaryStore для тестов рантайма.
type fakePrimary struct {
	mu      sync.Mutex
	byAgent map[string][]*domain.Checkpoint
}

func newFakePrimary() *fakePrimary {
	return &fakePrimary{byAgent: make(map[string][]*domain.Checkpoint)}
}

func (s *fakePrimary) Save(ctx context.Context, cp *domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.byAgent[cp.AgentID]
	if len(chain) > 0 && cp.Sequence <= chain[len(chain)-1].Sequence {
		return domain.ErrStaleCheckpoint
	}
	s.byAgent[cp.AgentID] = append(chain, cp)
	return nil
}

func (s *fakePrimary) LoadLatest(ctx context.Context, agentID string) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.byAgent[agentID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

func (s *fakePrimary) Prune(ctx context.Context, agentID string, keep int) error { return nil }

func (s *fakePrimary) count(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byAgent[agentID])
}

// --- конструкторы тестовой обвязки ---

func testFloorConfig() infra.FloorConfig {
	return infra.FloorConfig{
		CycleInterval:      5 * time.Millisecond,
		HeartbeatInterval:  5 * time.Millisecond,
		CheckpointInterval: 20 * time.Millisecond,
		SweepInterval:      time.Hour, // sweep в тестах зовем руками
		MaxRestartsPerHour: 10,
		RestartBackoffSeed: time.Second,
		RestartBackoffCap:  16 * time.Second,
		StopTimeout:        500 * time.Millisecond,
	}
}

func testGuard() *resilience.Guard {
	nop := zap.NewNop()
	return resilience.NewGuard(
		rate.NewLimiter(rate.Inf, 0),
		resilience.NewBreakerGroup(3, time.Second, nop),
		resilience.NewRetryPolicy(1, time.Millisecond, time.Millisecond, nop),
		time.Second,
		nop,
	)
}

func testFactory(strategy connectors.Strategy, cps *checkpoint.Store, health *HealthMonitor, cfg infra.FloorConfig) RuntimeFactory {
	return func(agent *domain.Agent) (*AgentRuntime, error) {
		return NewAgentRuntime(agent, strategy, "exchange", testGuard(), cps, health, nil, cfg, zap.NewNop())
	}
}

func newTestSupervisor(t *testing.T, repo AgentProvider, factory RuntimeFactory, cfg infra.FloorConfig) (*Supervisor, *captureNotifier) {
	t.Helper()
	nop := zap.NewNop()
	notifier := &captureNotifier{}
	jrnl := journal.New(nopJournalStore{}, 100, time.Hour, nop)

	s := NewSupervisor(repo, NewHealthMonitor(nil, nop), nil, jrnl, notifier, nil, factory, cfg, nop)
	s.waitFn = func(ctx context.Context, d time.Duration) bool { return true } // тесты не спят
	return s, notifier
}

func testAgent(id, name string, status domain.AgentStatus) *domain.Agent {
	return &domain.Agent{ID: id, Name: name, Kind: "momentum", Status: status}
}

// --- тесты ---

func TestBookRestartSlidingWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestSupervisor(t, newFakeProvider(), nil, testFloorConfig())
	s.nowFn = func() time.Time { return now }

	for i := 1; i <= 10; i++ {
		attempt, allowed := s.bookRestart("a1")
		assert.True(t, allowed)
		assert.Equal(t, i, attempt)
		now = now.Add(time.Minute)
	}

	// Потолок: одиннадцатая попытка в пределах часа запрещена
	_, allowed := s.bookRestart("a1")
	assert.False(t, allowed)

	// Окно скользящее: через 55 минут первые записи выпадают из часа
	now = now.Add(55 * time.Minute)
	attempt, allowed := s.bookRestart("a1")
	assert.True(t, allowed, "окно должно очищаться по мере старения записей")
	assert.Less(t, attempt, 10)
}

func TestBookRestartPerAgentWindows(t *testing.T) {
	cfg := testFloorConfig()
	cfg.MaxRestartsPerHour = 1
	s, _ := newTestSupervisor(t, newFakeProvider(), nil, cfg)

	_, allowed := s.bookRestart("a1")
	assert.True(t, allowed)
	_, allowed = s.bookRestart("a1")
	assert.False(t, allowed)

	// Чужой потолок не мешает другому агенту
	_, allowed = s.bookRestart("a2")
	assert.True(t, allowed)
}

func TestBackoffDelayDoublingWithCap(t *testing.T) {
	s, _ := newTestSupervisor(t, newFakeProvider(), nil, testFloorConfig())

	want := map[int]time.Duration{
		1: 1 * time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 16 * time.Second,
		6: 16 * time.Second,
		9: 16 * time.Second,
	}
	for attempt, d := range want {
		assert.Equal(t, d, s.backoffDelay(attempt), "attempt %d", attempt)
	}
}

func TestHandleFailureRestartsAgent(t *testing.T) {
	agent := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	repo := newFakeProvider(agent)
	cfg := testFloorConfig()

	health := NewHealthMonitor(nil, zap.NewNop())
	cps := checkpoint.NewStore(newFakePrimary(), newFakePrimary(), 5, zap.NewNop())
	s, _ := newTestSupervisor(t, repo, testFactory(&scriptedStrategy{}, cps, health, cfg), cfg)

	var delays []time.Duration
	s.waitFn = func(ctx context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return true
	}

	s.handleFailure(context.Background(), "a1", "crash")

	assert.True(t, s.IsRunning("a1"), "после бэкоффа таск должен быть поднят")
	require.Len(t, delays, 1)
	assert.Equal(t, cfg.RestartBackoffSeed, delays[0], "первая попытка ждет seed")

	s.Shutdown(context.Background())
}

func TestHandleFailureSkipsNotRunnable(t *testing.T) {
	agent := testAgent("a1", "momentum-btc-01", domain.StatusRetired)
	repo := newFakeProvider(agent)
	s, _ := newTestSupervisor(t, repo, nil, testFloorConfig())

	s.handleFailure(context.Background(), "a1", "crash")

	assert.False(t, s.IsRunning("a1"))
	s.restartMu.Lock()
	assert.Empty(t, s.restarts["a1"], "retired агент не тратит попытки рестарта")
	s.restartMu.Unlock()
}

func TestRestartCeilingEscalates(t *testing.T) {
	agent := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	repo := newFakeProvider(agent)
	cfg := testFloorConfig()
	cfg.MaxRestartsPerHour = 1

	// Фабрика намеренно битая: каждый рестарт проваливается
	factory := func(a *domain.Agent) (*AgentRuntime, error) {
		return nil, errors.New("bad strategy config")
	}
	s, notifier := newTestSupervisor(t, repo, factory, cfg)

	s.handleFailure(context.Background(), "a1", "crash") // попытка 1 — разрешена, спавн падает
	s.handleFailure(context.Background(), "a1", "crash") // потолок пробит

	status, ok := repo.lastStatus("a1")
	require.True(t, ok, "эскалация должна пометить агента в репозитории")
	assert.Equal(t, domain.StatusCrashed, status)
	assert.Equal(t, 1, notifier.count(), "дежурный получает ровно один алерт")

	// Crashed больше не runnable: повторные сбои не плодят алерты-дубли
	s.handleFailure(context.Background(), "a1", "crash")
	assert.Equal(t, 1, notifier.count())
}

func TestSpawnRejectsDuplicate(t *testing.T) {
	agent := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	repo := newFakeProvider(agent)
	cfg := testFloorConfig()
	health := NewHealthMonitor(nil, zap.NewNop())
	cps := checkpoint.NewStore(newFakePrimary(), newFakePrimary(), 5, zap.NewNop())
	s, _ := newTestSupervisor(t, repo, testFactory(&scriptedStrategy{}, cps, health, cfg), cfg)

	require.NoError(t, s.Spawn(context.Background(), agent))
	err := s.Spawn(context.Background(), agent)
	assert.Error(t, err, "второй живой таск того же агента запрещен")

	s.Shutdown(context.Background())
}

func TestStopAgentGraceful(t *testing.T) {
	agent := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	repo := newFakeProvider(agent)
	cfg := testFloorConfig()
	health := NewHealthMonitor(nil, zap.NewNop())
	primary := newFakePrimary()
	cps := checkpoint.NewStore(primary, newFakePrimary(), 5, zap.NewNop())
	s, _ := newTestSupervisor(t, repo, testFactory(&scriptedStrategy{}, cps, health, cfg), cfg)

	require.NoError(t, s.Spawn(context.Background(), agent))
	require.True(t, s.IsRunning("a1"))

	require.NoError(t, s.StopAgent(context.Background(), "a1", "operator request"))

	assert.False(t, s.IsRunning("a1"))
	assert.False(t, health.IsHealthy("momentum-btc-01", time.Now()), "остановленный агент вычищен из health")
	assert.GreaterOrEqual(t, primary.count("a1"), 1, "финальный чекпоинт записан при остановке")

	// Штатная остановка — не краш: окно рестартов не тронуто
	s.restartMu.Lock()
	assert.Empty(t, s.restarts["a1"])
	s.restartMu.Unlock()
}

func TestStopAgentWithoutTaskIsNoop(t *testing.T) {
	s, _ := newTestSupervisor(t, newFakeProvider(), nil, testFloorConfig())
	assert.NoError(t, s.StopAgent(context.Background(), "ghost", "whatever"))
}

func TestStopAgentBoundedWhenStrategyIgnoresCancel(t *testing.T) {
	agent := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	repo := newFakeProvider(agent)
	cfg := testFloorConfig()
	cfg.StopTimeout = 20 * time.Millisecond
	health := NewHealthMonitor(nil, zap.NewNop())
	cps := checkpoint.NewStore(newFakePrimary(), newFakePrimary(), 5, zap.NewNop())
	strategy := newStuckStrategy()
	s, _ := newTestSupervisor(t, repo, testFactory(strategy, cps, health, cfg), cfg)

	require.NoError(t, s.Spawn(context.Background(), agent))
	strategy.waitEntered(t)

	done := make(chan error, 1)
	go func() { done <- s.StopAgent(context.Background(), "a1", "operator request") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StopAgent завис на таске, игнорирующем отмену")
	}

	assert.False(t, s.IsRunning("a1"), "брошенный таск вычищен из супервизора")
	s.restartMu.Lock()
	booked := len(s.restarts["a1"])
	s.restartMu.Unlock()
	assert.Equal(t, 1, booked, "зависший shutdown учтен в окне рестартов")
}

func TestStopTimeoutCeilingEscalates(t *testing.T) {
	agent := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	repo := newFakeProvider(agent)
	cfg := testFloorConfig()
	cfg.StopTimeout = 20 * time.Millisecond
	cfg.MaxRestartsPerHour = 1
	health := NewHealthMonitor(nil, zap.NewNop())
	cps := checkpoint.NewStore(newFakePrimary(), newFakePrimary(), 5, zap.NewNop())
	strategy := newStuckStrategy()
	s, notifier := newTestSupervisor(t, repo, testFactory(strategy, cps, health, cfg), cfg)

	// Окно уже израсходовано: очередной зависший shutdown пробивает потолок
	_, allowed := s.bookRestart("a1")
	require.True(t, allowed)

	require.NoError(t, s.Spawn(context.Background(), agent))
	strategy.waitEntered(t)

	require.NoError(t, s.StopAgent(context.Background(), "a1", "operator request"))

	status, ok := repo.lastStatus("a1")
	require.True(t, ok, "пробитый на shutdown потолок должен пометить агента")
	assert.Equal(t, domain.StatusCrashed, status)
	assert.Equal(t, 1, notifier.count(), "дежурный получает алерт о потолке")
}

func TestSweepRestartsStaleAgent(t *testing.T) {
	agent := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	repo := newFakeProvider(agent)
	cfg := testFloorConfig()
	health := NewHealthMonitor(nil, zap.NewNop())
	cps := checkpoint.NewStore(newFakePrimary(), newFakePrimary(), 5, zap.NewNop())
	s, _ := newTestSupervisor(t, repo, testFactory(&scriptedStrategy{}, cps, health, cfg), cfg)

	require.NoError(t, s.Spawn(context.Background(), agent))
	require.True(t, s.IsRunning("a1"))

	// Симулируем зависший рантайм: heartbeat протух на час вперед
	s.nowFn = func() time.Time { return time.Now().Add(time.Hour) }
	s.sweepOnce(context.Background())

	assert.True(t, s.IsRunning("a1"), "протухший таск пересоздается, а не бросается")
	s.restartMu.Lock()
	booked := len(s.restarts["a1"])
	s.restartMu.Unlock()
	assert.Equal(t, 1, booked, "принудительный рестарт проходит через общую бухгалтерию")

	s.Shutdown(context.Background())
}

func TestSweepAbandonsWedgedTask(t *testing.T) {
	agent := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	repo := newFakeProvider(agent)
	cfg := testFloorConfig()
	cfg.StopTimeout = 20 * time.Millisecond
	health := NewHealthMonitor(nil, zap.NewNop())
	cps := checkpoint.NewStore(newFakePrimary(), newFakePrimary(), 5, zap.NewNop())
	strategy := newStuckStrategy()
	s, _ := newTestSupervisor(t, repo, testFactory(strategy, cps, health, cfg), cfg)

	require.NoError(t, s.Spawn(context.Background(), agent))
	strategy.waitEntered(t)

	// Заклинивший рантайм heartbeat не бьет: запись протухла на час
	health.Heartbeat("momentum-btc-01", cfg.HeartbeatInterval, time.Now().Add(-time.Hour))

	swept := make(chan struct{})
	go func() {
		s.sweepOnce(context.Background())
		close(swept)
	}()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("один заклинивший агент не должен останавливать sweep")
	}

	// Горутина брошена, дескриптор вычищен, рестарт прошел общую бухгалтерию
	assert.True(t, s.IsRunning("a1"), "поверх брошенного таска поднят новый")
	s.restartMu.Lock()
	booked := len(s.restarts["a1"])
	s.restartMu.Unlock()
	assert.Equal(t, 1, booked)

	s.Shutdown(context.Background())
}

func TestConcurrentCrashSignalsRestartOnce(t *testing.T) {
	agent := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	repo := newFakeProvider(agent)
	cfg := testFloorConfig()
	health := NewHealthMonitor(nil, zap.NewNop())
	cps := checkpoint.NewStore(newFakePrimary(), newFakePrimary(), 5, zap.NewNop())
	s, _ := newTestSupervisor(t, repo, testFactory(&scriptedStrategy{}, cps, health, cfg), cfg)
	s.waitFn = func(ctx context.Context, d time.Duration) bool {
		time.Sleep(10 * time.Millisecond) // расширяем гонку: второй сигнал виснет на lock
		return true
	}

	// Два почти одновременных сигнала о краше одного агента
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleFailure(context.Background(), "a1", "crash")
		}()
	}
	wg.Wait()

	assert.True(t, s.IsRunning("a1"))
	s.restartMu.Lock()
	booked := len(s.restarts["a1"])
	s.restartMu.Unlock()
	assert.Equal(t, 1, booked, "два сигнала — ровно одна последовательность рестарта")

	s.Shutdown(context.Background())
}

func TestShutdownStopsEverything(t *testing.T) {
	a1 := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	a2 := testAgent("a2", "arbitrage-eth-02", domain.StatusThrottled)
	repo := newFakeProvider(a1, a2)
	cfg := testFloorConfig()
	health := NewHealthMonitor(nil, zap.NewNop())
	cps := checkpoint.NewStore(newFakePrimary(), newFakePrimary(), 5, zap.NewNop())
	s, _ := newTestSupervisor(t, repo, testFactory(&scriptedStrategy{}, cps, health, cfg), cfg)

	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.IsRunning("a1"))
	require.True(t, s.IsRunning("a2"))

	s.Shutdown(context.Background())

	assert.False(t, s.IsRunning("a1"))
	assert.False(t, s.IsRunning("a2"))
}
