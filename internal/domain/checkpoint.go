package domain

import "time"

// CheckpointVersion — версия формата полезной нагрузки. Нужна, чтобы стратегия
// умела мигрировать свои старые снапшоты после деплоя.
const CheckpointVersion = 1

// Checkpoint — непрозрачный снимок состояния агента. Ядро НЕ заглядывает
// внутрь Payload: сериализацию/десериализацию делает сама стратегия.
// Sequence строго монотонен в рамках одного агента — это защита от того,
// чтобы запоздавшая запись не перетерла более свежую.
type Checkpoint struct {
	AgentID   string    `json:"agent_id"`
	Sequence  uint64    `json:"sequence"`
	Version   int       `json:"version"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// HeartbeatRecord — запись живости одного агента. Владеет ей исключительно
// HealthMonitor, перезаписывается на каждом heartbeat.
type HeartbeatRecord struct {
	AgentName        string        `json:"agent_name"`
	LastSeen         time.Time     `json:"last_seen"`
	IntervalExpected time.Duration `json:"interval_expected"`
}

// StaleAfter — порог протухания: три пропущенных интервала подряд.
func (h HeartbeatRecord) StaleAfter() time.Duration {
	return 3 * h.IntervalExpected
}
