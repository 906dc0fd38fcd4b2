package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

// BreakerGroup держит по одному Circuit Breaker на внешнюю зависимость
// (биржа, маркет-дата, нотификатор). Экземпляр разделяется ВСЕМИ агентами:
// отказ зависимости бьет по всем одинаково — это осознанное решение.
type BreakerGroup struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	failureThreshold uint32
	cooldown         time.Duration
	logger           *zap.Logger

	// onStateChange — хук для метрик (0 - closed, 1 - open)
	onStateChange func(dep string, state gobreaker.State)
}

func NewBreakerGroup(failureThreshold uint32, cooldown time.Duration, logger *zap.Logger) *BreakerGroup {
	return &BreakerGroup{
		breakers:         make(map[string]*gobreaker.CircuitBreaker),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		logger:           logger.Named("breaker"),
	}
}

// SetStateHook подключает экспорт состояния в Prometheus.
func (g *BreakerGroup) SetStateHook(fn func(dep string, state gobreaker.State)) {
	g.onStateChange = fn
}

// get лениво создает предохранитель для зависимости.
func (g *BreakerGroup) get(dep string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[dep]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: dep,
		// Ровно ОДНА пробная попытка в HALF_OPEN: конкурентные пробы
		// отлетают как open — защита от thundering herd.
		MaxRequests: 1,
		Timeout:     g.cooldown, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= g.failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state change",
				zap.String("dependency", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if g.onStateChange != nil {
				g.onStateChange(name, to)
			}
		},
	})
	g.breakers[dep] = cb
	return cb
}

// Execute проводит вызов через предохранитель зависимости. Отлупы open и
// half-open (лишняя проба) нормализуются в ErrCircuitOpen.
func (g *BreakerGroup) Execute(dep string, op func() (any, error)) (any, error) {
	res, err := g.get(dep).Execute(op)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", domain.ErrCircuitOpen, dep)
		}
		return nil, err
	}
	return res, nil
}

// State — текущее состояние предохранителя зависимости.
func (g *BreakerGroup) State(dep string) gobreaker.State {
	return g.get(dep).State()
}
