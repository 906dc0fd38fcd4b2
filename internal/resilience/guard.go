package resilience

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Guard — слоеная защита вызовов внешних зависимостей.
// Порядок важен: Rate Limiter -> Circuit Breaker -> Retry -> Timeout.
// Лимитер снаружи, чтобы ретраи не множили нагрузку на и так лежащую биржу.
type Guard struct {
	limiter  *rate.Limiter
	breakers *BreakerGroup
	retry    *RetryPolicy
	timeout  time.Duration
	logger   *zap.Logger
}

func NewGuard(limiter *rate.Limiter, breakers *BreakerGroup, retryPolicy *RetryPolicy, callTimeout time.Duration, logger *zap.Logger) *Guard {
	return &Guard{
		limiter:  limiter,
		breakers: breakers,
		retry:    retryPolicy,
		timeout:  callTimeout,
		logger:   logger.Named("guard"),
	}
}

// Call исполняет op под полной защитой. Каждая отдельная попытка получает
// собственный жесткий таймаут — бесконечных зависаний тут быть не может.
func (g *Guard) Call(ctx context.Context, dep string, op func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// 2. Circuit Breaker (снаружи ретраев: серия провалов — один "удар" по CB)
	_, err := g.breakers.Execute(dep, func() (any, error) {
		// 3. Retry с бэкоффом
		retryErr := g.retry.Execute(ctx, dep, func(ctx context.Context) error {
			// 4. Таймаут на одиночную попытку
			tCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()
			return op(tCtx)
		})
		return nil, retryErr
	})
	return err
}

// Breakers отдает группу предохранителей (для метрик и тестов).
func (g *Guard) Breakers() *BreakerGroup { return g.breakers }
