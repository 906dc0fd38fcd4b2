package infra

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// RedisNamespace Базовый префикс для изоляции данных площадки в Redis
	RedisNamespace = "floor"
)

// Ключи для Sets и Hash (состояние)
const (
	RedisKeyPausedAgents   = RedisNamespace + ":agents:paused_set"
	RedisKeyLockPaused     = RedisNamespace + ":lock:warmup:paused"
	RedisKeyHeartbeats     = RedisNamespace + ":agents:heartbeats" // Hash: name -> "<lastSeen ns>:<interval ns>"
	RedisKeyCheckpointPref = RedisNamespace + ":checkpoints:"      // + agentID, fallback-хранилище
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPause — трансляция ручных pause/resume сигналов из Console.
	RedisChanPause = RedisNamespace + ":agents:pause-signal"

	// RedisChanLifecycle — трансляция смен статуса (retire и т.п.) из Console.
	RedisChanLifecycle = RedisNamespace + ":agents:lifecycle-signal"

	// RedisChanAlerts — критические эскалации для дежурного (Notifier).
	RedisChanAlerts = RedisNamespace + ":alerts"
)

// CheckpointKey ключ fallback-чекпоинта конкретного агента
func CheckpointKey(agentID string) string {
	return fmt.Sprintf("%s%s", RedisKeyCheckpointPref, agentID)
}

// HeartbeatMirrorValue кодирует запись живости для Redis-зеркала.
// Интервал едет вместе с временем: Console судит о протухании по ТОЙ ЖЕ
// записи, что и HealthMonitor, а не по своей отдельной константе.
func HeartbeatMirrorValue(lastSeen time.Time, interval time.Duration) string {
	return fmt.Sprintf("%d:%d", lastSeen.UnixNano(), interval.Nanoseconds())
}

// ParseHeartbeatMirror разбирает значение зеркала. ok == false на любом
// мусоре: карточка агента тогда остается без поля живости.
func ParseHeartbeatMirror(raw string) (lastSeen time.Time, interval time.Duration, ok bool) {
	tsPart, ivPart, found := strings.Cut(raw, ":")
	if !found {
		return time.Time{}, 0, false
	}
	ns, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return time.Time{}, 0, false
	}
	ivNs, err := strconv.ParseInt(ivPart, 10, 64)
	if err != nil || ivNs <= 0 {
		return time.Time{}, 0, false
	}
	return time.Unix(0, ns), time.Duration(ivNs), true
}
