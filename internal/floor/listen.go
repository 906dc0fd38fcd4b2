package floor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const reconnectPause = 2 * time.Second

// SignalHandler получает разобранный управляющий сигнал "agent_id:on|off".
type SignalHandler func(agentID string, up bool)

// ListenSignals держит подписку на управляющий канал Redis до отмены контекста.
// Обрыв соединения не фатален: переподписка с паузой. onResync вызывается после
// каждого успешного коннекта — за время обрыва сигналы могли потеряться,
// состояние добирается заново из источника правды (Postgres).
func ListenSignals(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onResync func() error,
	handle SignalHandler,
) {
	log := logger.With(zap.String("chan", channel))

	for ctx.Err() == nil {
		if err := listenOnce(ctx, rdb, log, channel, onResync, handle); err != nil {
			log.Error("signal subscription lost, reconnecting", zap.Error(err))
		}
		select {
		case <-ctx.Done():
		case <-time.After(reconnectPause):
		}
	}
}

// listenOnce — одна жизнь подписки: от коннекта до обрыва или отмены.
func listenOnce(
	ctx context.Context,
	rdb *redis.Client,
	log *zap.Logger,
	channel string,
	onResync func() error,
	handle SignalHandler,
) error {
	pubsub := rdb.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}
	if err := onResync(); err != nil {
		// Живем на том, что есть в кэше; следующий реконнект попробует снова
		log.Error("state resync failed after connect", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return errors.New("pubsub channel closed")
			}
			id, state, found := strings.Cut(msg.Payload, ":")
			if !found || id == "" {
				log.Error("malformed signal", zap.String("payload", msg.Payload))
				continue
			}
			handle(id, state == "on" || state == "true")
		}
	}
}
