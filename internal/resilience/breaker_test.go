package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

var errExchange = errors.New("exchange unavailable")

func failNTimes(g *BreakerGroup, dep string, n int) {
	for i := 0; i < n; i++ {
		g.Execute(dep, func() (any, error) { return nil, errExchange })
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	g := NewBreakerGroup(3, time.Minute, zap.NewNop())

	// Две подряд — еще рано
	failNTimes(g, "exchange", 2)
	assert.Equal(t, gobreaker.StateClosed, g.State("exchange"))

	// Третья подряд — OPEN
	failNTimes(g, "exchange", 1)
	assert.Equal(t, gobreaker.StateOpen, g.State("exchange"))
}

func TestBreakerSuccessResetsConsecutiveCount(t *testing.T) {
	g := NewBreakerGroup(3, time.Minute, zap.NewNop())

	failNTimes(g, "exchange", 2)
	_, err := g.Execute("exchange", func() (any, error) { return "ok", nil })
	require.NoError(t, err)

	// Счет подряд сброшен: еще две ошибки не открывают
	failNTimes(g, "exchange", 2)
	assert.Equal(t, gobreaker.StateClosed, g.State("exchange"))
}

func TestBreakerFailsFastWhileOpen(t *testing.T) {
	g := NewBreakerGroup(3, time.Minute, zap.NewNop())
	failNTimes(g, "exchange", 3)

	calls := 0
	_, err := g.Execute("exchange", func() (any, error) {
		calls++
		return nil, nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Zero(t, calls, "в OPEN вызов до зависимости не доходит")
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	g := NewBreakerGroup(3, 30*time.Millisecond, zap.NewNop())
	failNTimes(g, "exchange", 3)

	// Ждем cooldown: следующий вызов — единственная проба
	time.Sleep(50 * time.Millisecond)

	_, err := g.Execute("exchange", func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, g.State("exchange"))
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	g := NewBreakerGroup(3, 30*time.Millisecond, zap.NewNop())
	failNTimes(g, "exchange", 3)

	time.Sleep(50 * time.Millisecond)

	_, err := g.Execute("exchange", func() (any, error) { return nil, errExchange })
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, g.State("exchange"))

	// И снова fail-fast, новый полный cooldown
	_, err = g.Execute("exchange", func() (any, error) { return "ok", nil })
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestBreakerPerDependencyIsolation(t *testing.T) {
	g := NewBreakerGroup(3, time.Minute, zap.NewNop())
	failNTimes(g, "exchange", 3)

	// Отказ биржи не трогает предохранитель маркет-даты
	_, err := g.Execute("market_data", func() (any, error) { return "tick", nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, g.State("market_data"))
}

func TestBreakerStateHook(t *testing.T) {
	g := NewBreakerGroup(3, time.Minute, zap.NewNop())

	var transitions []gobreaker.State
	g.SetStateHook(func(dep string, state gobreaker.State) {
		transitions = append(transitions, state)
	})

	failNTimes(g, "exchange", 3)
	require.NotEmpty(t, transitions)
	assert.Equal(t, gobreaker.StateOpen, transitions[len(transitions)-1])
}
