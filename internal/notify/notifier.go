package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/infra"
)

// Notifier — канал критических эскалаций к дежурному оператору.
// Контракт жесткий: fire-and-forget, сбой доставки НИКОГДА не блокирует
// и не валит ядро.
type Notifier interface {
	NotifyCritical(component, issue, action string)
}

// Alert — полезная нагрузка сообщения дежурному.
type Alert struct {
	Component string    `json:"component"`
	Issue     string    `json:"issue"`
	Action    string    `json:"action"`
	At        time.Time `json:"at"`
}

// RedisNotifier публикует алерты в Pub/Sub канал: его вычитывает внешний
// чат-бот (интеграция с мессенджером — не забота ядра).
type RedisNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisNotifier(rdb *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, logger: logger.Named("notifier")}
}

func (n *RedisNotifier) NotifyCritical(component, issue, action string) {
	// Отдельная горутина с жестким таймаутом: зовущий не ждет ни миллисекунды
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		payload, err := json.Marshal(Alert{
			Component: component,
			Issue:     issue,
			Action:    action,
			At:        time.Now().UTC(),
		})
		if err != nil {
			n.logger.Error("alert marshal failed", zap.Error(err))
			return
		}

		if err := n.rdb.Publish(ctx, infra.RedisChanAlerts, payload).Err(); err != nil {
			// Доставка сорвалась — фиксируем в логе и живем дальше
			n.logger.Error("critical alert delivery failed",
				zap.String("component", component),
				zap.String("issue", issue),
				zap.Error(err))
		}
	}()
}

// LogNotifier — запасной вариант без Redis (тесты, локальный стенд).
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) NotifyCritical(component, issue, action string) {
	n.Logger.Error("CRITICAL ALERT",
		zap.String("component", component),
		zap.String("issue", issue),
		zap.String("action", action))
}
