package domain

import "time"

// FloorStats — сводка по площадке для дашборда Console.
type FloorStats struct {
	Agents    AgentStats    `json:"agents"`    // Состав флота
	Incidents IncidentStats `json:"incidents"` // Сбои и эскалации
	Trading   TradingStats  `json:"trading"`   // Агрегаты перформанса
}

type AgentStats struct {
	Total       int `json:"total"`
	Provisional int `json:"provisional"`
	Active      int `json:"active"`
	Throttled   int `json:"throttled"`
	Paused      int `json:"paused"`
	Crashed     int `json:"crashed"`
}

type IncidentStats struct {
	RestartsLastHour int `json:"restarts_last_hour"`
	Escalations      int `json:"escalations"` // RestartCeiling + HardRiskLimit за сутки
}

type TradingStats struct {
	TotalPnL      float64 `json:"total_pnl"`
	AvgWinRate    float64 `json:"avg_win_rate"`
	WorstDrawdown float64 `json:"worst_drawdown"`
}

// AgentOverview — карточка агента в Console: дескриптор плюс живость
// и последний перформанс-снапшот.
type AgentOverview struct {
	Agent         *Agent               `json:"agent"`
	LastHeartbeat *time.Time           `json:"last_heartbeat,omitempty"`
	Healthy       bool                 `json:"healthy"`
	Snapshot      *PerformanceSnapshot `json:"snapshot,omitempty"`
}
