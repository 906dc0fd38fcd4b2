package domain

import "time"

type AgentStatus string

const (
	StatusProvisional AgentStatus = "provisional" // Испытательный срок (trial window)
	StatusActive      AgentStatus = "active"      // Полноценная торговля
	StatusThrottled   AgentStatus = "throttled"   // Урезанный капитал после просадки winRate
	StatusRetired     AgentStatus = "retired"     // Выведен с площадки, дескриптор архивирован
	StatusCrashed     AgentStatus = "crashed"     // Превышен потолок рестартов, ждет оператора
)

// Agent — дескриптор торгового агента на площадке.
// Переходы Status владеют ровно два компонента: Supervisor (сбои)
// и DecisionEngine (перформанс). Оба ходят через единый путь мутации
// в AgentRepo, чтобы не терять апдейты.
type Agent struct {
	ID     string      `json:"id"`   // UUID
	Name   string      `json:"name"` // Уникальное имя (например, "momentum-btc-01")
	Kind   string      `json:"kind"` // Тип стратегии: momentum, arbitrage, sentiment
	Status AgentStatus `json:"status"`

	// Paused — ортогональный рантайм-флаг (ручная пауза или срабатывание
	// жесткого риск-лимита). Снимается ТОЛЬКО оператором через Console.
	Paused bool `json:"paused"`

	CapitalAllocated float64 `json:"capital_allocated"`

	// Config — непрозрачная конфигурация стратегии. Ядро ее не интерпретирует,
	// только хранит и мутирует при клонировании (perturbation).
	Config map[string]any `json:"config"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"` // Заполняется при retire, запись не удаляем
}

// IsRunnable — можно ли держать таск этого агента живым.
func (a *Agent) IsRunnable() bool {
	if a.Paused {
		return false
	}
	switch a.Status {
	case StatusProvisional, StatusActive, StatusThrottled:
		return true
	default:
		return false
	}
}
