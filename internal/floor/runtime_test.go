package floor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/checkpoint"
	"github.com/xela07ax/trading-floor-prototype/internal/connectors"
	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
)

func newTestRuntime(t *testing.T, strategy connectors.Strategy, primary *fakePrimary, cfg infra.FloorConfig) *AgentRuntime {
	t.Helper()
	nop := zap.NewNop()
	agent := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	cps := checkpoint.NewStore(primary, newFakePrimary(), 5, nop)
	rt, err := NewAgentRuntime(agent, strategy, "exchange", testGuard(), cps, NewHealthMonitor(nil, nop), nil, cfg, nop)
	require.NoError(t, err)
	return rt
}

func TestRuntimeValidatesConfig(t *testing.T) {
	nop := zap.NewNop()
	cps := checkpoint.NewStore(newFakePrimary(), newFakePrimary(), 5, nop)
	health := NewHealthMonitor(nil, nop)

	_, err := NewAgentRuntime(&domain.Agent{ID: "a1"}, &scriptedStrategy{}, "exchange",
		testGuard(), cps, health, nil, testFloorConfig(), nop)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid, "агент без имени и типа не запускается")

	bad := testFloorConfig()
	bad.CycleInterval = 0
	_, err = NewAgentRuntime(testAgent("a1", "x", domain.StatusActive), &scriptedStrategy{}, "exchange",
		testGuard(), cps, health, nil, bad, nop)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestRuntimeCycleFaultIsolation(t *testing.T) {
	// Каждый второй цикл падает: сбой одного цикла не убивает следующий
	strategy := &scriptedStrategy{failEvery: 2}
	rt := newTestRuntime(t, strategy, newFakePrimary(), testFloorConfig())

	go rt.Run(context.Background())
	time.Sleep(100 * time.Millisecond)
	rt.Stop()

	select {
	case <-rt.Done():
	case <-time.After(time.Second):
		t.Fatal("runtime did not stop")
	}

	var completed, failed int
	for _, o := range rt.Recent() {
		switch o.Status {
		case CycleCompleted:
			completed++
		case CycleFailed:
			failed++
		}
	}
	assert.Greater(t, completed, 0, "успешные циклы продолжаются после сбойных")
	assert.Greater(t, failed, 0)
}

func TestRuntimePanicContainedAsFailedCycle(t *testing.T) {
	rt := newTestRuntime(t, &panicStrategy{}, newFakePrimary(), testFloorConfig())

	go rt.Run(context.Background())
	time.Sleep(50 * time.Millisecond)
	rt.Stop()

	select {
	case <-rt.Done():
	case <-time.After(time.Second):
		t.Fatal("runtime died instead of containing the panic")
	}

	recent := rt.Recent()
	require.NotEmpty(t, recent)

	// Первые паники — failed; после открытия брейкера пойдут skipped.
	// Завершившихся циклов быть не может.
	var failed int
	for _, o := range recent {
		assert.NotEqual(t, CycleCompleted, o.Status)
		if o.Status == CycleFailed {
			failed++
			assert.Contains(t, o.Reason, "panic")
		}
	}
	assert.Greater(t, failed, 0)
}

func TestRuntimeWritesFinalCheckpointOnStop(t *testing.T) {
	primary := newFakePrimary()
	rt := newTestRuntime(t, &scriptedStrategy{}, primary, testFloorConfig())

	go rt.Run(context.Background())
	time.Sleep(30 * time.Millisecond)
	rt.Stop()
	<-rt.Done()

	assert.GreaterOrEqual(t, primary.count("a1"), 1, "прощальный чекпоинт обязателен при Stop")
}

func TestRuntimeWritesFinalCheckpointOnCancel(t *testing.T) {
	primary := newFakePrimary()
	rt := newTestRuntime(t, &scriptedStrategy{}, primary, testFloorConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go rt.Run(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-rt.Done()

	// Контекст отменен, но финальная запись идет через Background
	assert.GreaterOrEqual(t, primary.count("a1"), 1)
}

func TestRuntimeRestoresFromCheckpoint(t *testing.T) {
	primary := newFakePrimary()
	cfg := testFloorConfig()

	first := &scriptedStrategy{}
	rt := newTestRuntime(t, first, primary, cfg)
	go rt.Run(context.Background())
	time.Sleep(60 * time.Millisecond)
	rt.Stop()
	<-rt.Done()

	first.mu.Lock()
	ranCycles := first.cycles
	first.mu.Unlock()
	require.Greater(t, ranCycles, 0)

	// «Рестарт»: новый рантайм того же агента должен подхватить счетчик
	second := &scriptedStrategy{}
	rt2 := newTestRuntime(t, second, primary, cfg)
	go rt2.Run(context.Background())
	time.Sleep(20 * time.Millisecond)
	rt2.Stop()
	<-rt2.Done()

	second.mu.Lock()
	defer second.mu.Unlock()
	assert.GreaterOrEqual(t, second.cycles, ranCycles, "состояние восстановлено, счет не начался с нуля")
}

func TestRuntimeHeartbeatsWhileRunning(t *testing.T) {
	nop := zap.NewNop()
	health := NewHealthMonitor(nil, nop)
	cps := checkpoint.NewStore(newFakePrimary(), newFakePrimary(), 5, nop)
	agent := testAgent("a1", "momentum-btc-01", domain.StatusActive)
	rt, err := NewAgentRuntime(agent, &scriptedStrategy{}, "exchange", testGuard(), cps, health, nil, testFloorConfig(), nop)
	require.NoError(t, err)

	go rt.Run(context.Background())
	time.Sleep(20 * time.Millisecond)

	assert.True(t, health.IsHealthy("momentum-btc-01", time.Now()))

	rt.Stop()
	<-rt.Done()
}

// panicStrategy роняет каждый цикл паникой.
type panicStrategy struct{ scriptedStrategy }

func (s *panicStrategy) OnCycle(ctx context.Context) error {
	panic("strategy bug")
}
