package domain

import "time"

// PerformanceSnapshot — агрегат перформанса агента за окно наблюдения.
// Производится внешним аналитическим сервисом (ядро НЕ считает Sharpe/winRate
// само), иммутабелен после записи. DecisionEngine вычитывает последний снапшот
// на каждый цикл оценки.
type PerformanceSnapshot struct {
	AgentID     string    `json:"agent_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Trades      int       `json:"trades"`
	WinRate     float64   `json:"win_rate"`
	Sharpe      float64   `json:"sharpe"`
	MaxDrawdown float64   `json:"max_drawdown"`
	PnL         float64   `json:"pnl"`
}

// LifecycleActionKind — что именно DecisionEngine велит сделать после оценки.
type LifecycleActionKind string

const (
	ActionStopTask      LifecycleActionKind = "stop_task"
	ActionArchive       LifecycleActionKind = "archive"
	ActionClone         LifecycleActionKind = "clone"
	ActionReduceCapital LifecycleActionKind = "reduce_capital"
	ActionPause         LifecycleActionKind = "pause"
	ActionNotify        LifecycleActionKind = "notify"
)

// LifecycleAction — команда-актуатор. Движок решений чистый: он только
// возвращает список таких команд, исполняет их уже control loop.
type LifecycleAction struct {
	Kind   LifecycleActionKind `json:"kind"`
	Reason string              `json:"reason"`

	// Factor — множитель капитала для ActionReduceCapital и доля
	// родительского капитала для ActionClone.
	Factor float64 `json:"factor,omitempty"`
}
