package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ThrottleError возвращает коннектор, который вычитал Retry-After у биржи.
// RetryPolicy уважает эту подсказку вместо стандартного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// NonRetryableError — маркер ошибок, которые ретраить бессмысленно
// (валидация, отклоненный ордер по бизнес-правилу). RetryPolicy
// пробрасывает их немедленно, не сжигая попытки.
type NonRetryableError struct {
	Cause error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Cause)
}

func (e *NonRetryableError) Unwrap() error { return e.Cause }

// NonRetryable оборачивает ошибку маркером.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Cause: err}
}

// IsNonRetryable — проверка маркера в цепочке ошибок.
func IsNonRetryable(err error) bool {
	var nr *NonRetryableError
	return errors.As(err, &nr)
}
