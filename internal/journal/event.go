package journal

import "time"

// EventType классифицирует записи журнала жизненного цикла.
type EventType string

const (
	EventTransition EventType = "transition" // смена AgentStatus
	EventRestart    EventType = "restart"    // авторестарт супервизором
	EventEscalation EventType = "escalation" // потолок рестартов / риск-лимит
	EventDegraded   EventType = "degraded"   // чекпоинт ушел на fallback
	EventPause      EventType = "pause"      // ручная пауза/снятие
	EventClone      EventType = "clone"      // порождение клона Floor Boss'ом
)

// Event — одна запись форензик-журнала площадки. По этим записям оператор
// восстанавливает, почему агент оказался там, где оказался.
type Event struct {
	ID      string    `json:"id"`       // UUID события
	AgentID string    `json:"agent_id"` // Кого касается
	Type    EventType `json:"type"`

	// Для transition: откуда и куда
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`

	// Actor — кто инициировал: "supervisor", "floor_boss", "operator:<id>"
	Actor  string `json:"actor"`
	Reason string `json:"reason"`

	// Details — произвольный контекст (номер попытки, задержка бэкоффа и т.п.)
	Details map[string]any `json:"details,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
