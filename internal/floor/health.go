package floor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
)

// HealthMonitor учитывает живость агентов по heartbeat'ам.
// Чистый наблюдатель: Sweep только читает и репортит, решение о рестарте
// принимает Supervisor. Записи владеет монопольно, перезаписывая на каждом бите.
type HealthMonitor struct {
	mu      sync.RWMutex
	records map[string]domain.HeartbeatRecord

	// rdb опционален: зеркалим lastSeen для дашборда Console.
	rdb    *redis.Client
	logger *zap.Logger
}

func NewHealthMonitor(rdb *redis.Client, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		records: make(map[string]domain.HeartbeatRecord),
		rdb:     rdb,
		logger:  logger.Named("health"),
	}
}

// Heartbeat фиксирует сигнал живости. now передается снаружи, чтобы
// тесты управляли часами.
func (m *HealthMonitor) Heartbeat(agentName string, interval time.Duration, now time.Time) {
	m.mu.Lock()
	m.records[agentName] = domain.HeartbeatRecord{
		AgentName:        agentName,
		LastSeen:         now,
		IntervalExpected: interval,
	}
	m.mu.Unlock()

	// Best effort зеркало в Redis — сбой не интересен здоровью агента
	if m.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := m.rdb.HSet(ctx, infra.RedisKeyHeartbeats, agentName, infra.HeartbeatMirrorValue(now, interval)).Err(); err != nil {
			m.logger.Debug("heartbeat mirror failed", zap.Error(err))
		}
	}
}

// Forget убирает запись (агент штатно остановлен, протухание не считается).
func (m *HealthMonitor) Forget(agentName string) {
	m.mu.Lock()
	delete(m.records, agentName)
	m.mu.Unlock()

	if m.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.rdb.HDel(ctx, infra.RedisKeyHeartbeats, agentName).Err()
	}
}

// IsHealthy: false, если бита не было вовсе ИЛИ now-lastSeen > 3×interval.
// Незарегистрированный агент считается нездоровым — молчание не прощаем.
func (m *HealthMonitor) IsHealthy(agentName string, now time.Time) bool {
	m.mu.RLock()
	rec, ok := m.records[agentName]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	return now.Sub(rec.LastSeen) <= rec.StaleAfter()
}

// LastSeen — для карточки агента в Console.
func (m *HealthMonitor) LastSeen(agentName string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[agentName]
	return rec.LastSeen, ok
}

// Sweep возвращает имена протухших агентов. ОДИН снапшот часов на весь
// проход: два sweep'а не могут разойтись во мнении из-за дрожания clock.
func (m *HealthMonitor) Sweep(now time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []string
	for name, rec := range m.records {
		if now.Sub(rec.LastSeen) > rec.StaleAfter() {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale) // детерминированный порядок для логов и тестов
	return stale
}
