package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/connectors"
	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

// RetryPolicy — ограниченные ретраи с экспоненциальным удвоением задержки.
// baseDelay × 2^(attempt-1), потолок maxDelay. Ошибки с маркером NonRetryable
// пробрасываются сразу, попытки на них не сжигаются.
type RetryPolicy struct {
	maxAttempts uint
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *zap.Logger
}

func NewRetryPolicy(maxAttempts uint, baseDelay, maxDelay time.Duration, logger *zap.Logger) *RetryPolicy {
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		logger:      logger.Named("retry"),
	}
}

// Execute гоняет операцию до первого успеха. Если все попытки сгорели —
// последняя ошибка возвращается с тегом ErrRetriesExhausted.
func (p *RetryPolicy) Execute(ctx context.Context, opName string, op func(ctx context.Context) error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(p.maxAttempts),
		retry.Delay(p.baseDelay),
		retry.MaxDelay(p.maxDelay),
		retry.LastErrorOnly(true),
		// Валидационные и прочие "безнадежные" ошибки не ретраим
		retry.RetryIf(func(err error) bool {
			return !connectors.IsNonRetryable(err)
		}),
		// Умный расчет задержки
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// Коннектор мог вычитать Retry-After у биржи — уважаем подсказку
			var tErr *connectors.ThrottleError
			if errors.As(err, &tErr) {
				return tErr.RetryAfter
			}
			// Иначе стандартный экспоненциальный бэкофф
			return retry.BackOffDelay(n, err, config)
		}),
		// Одно событие в лог на каждую неудачную попытку
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("attempt failed, backing off",
				zap.String("op", opName),
				zap.Uint("attempt", n+1),
				zap.Duration("next_delay", p.delayFor(n)),
				zap.Error(err))
		}),
	)

	err := r.Do(func() error {
		return op(ctx)
	})
	if err == nil {
		return nil
	}

	// Non-retryable и отмена контекста — не "исчерпание попыток"
	if connectors.IsNonRetryable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", domain.ErrRetriesExhausted, opName, err)
}

// delayFor — та же формула удвоения, что применит DelayType (для лога).
func (p *RetryPolicy) delayFor(n uint) time.Duration {
	d := p.baseDelay << n
	if d > p.maxDelay || d <= 0 {
		return p.maxDelay
	}
	return d
}
