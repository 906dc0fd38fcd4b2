package decision

import (
	"time"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
)

// Decision — результат оценки одного агента: целевой статус плюс действия,
// которые нужно привести в исполнение через Supervisor.
type Decision struct {
	NextStatus domain.AgentStatus
	Actions    []domain.LifecycleAction
}

// Changed — меняет ли решение статус агента.
func (d Decision) Changed(current domain.AgentStatus) bool {
	return d.NextStatus != current
}

// Evaluate — чистая функция Floor Boss. Никакого I/O, никаких часов:
// только (статус, снапшот, пороги) -> (статус, действия). Вся машина
// состояний тестируется здесь без единого мока.
//
// Tie-break задокументирован явно: точное равенство порогу трактуется
// в пользу МЕНЕЕ разрушительной ветки. Поэтому демоушен и ретайр — строгое
// «меньше», просадка — строгое «больше», а промоушен — нестрогое «не меньше»
// (из двух веток для PROVISIONAL промоушен мягче ретайра).
func Evaluate(status domain.AgentStatus, snap *domain.PerformanceSnapshot, cfg infra.DecisionConfig) Decision {
	keep := Decision{NextStatus: status}
	if snap == nil {
		return keep // аналитика еще не дала окно — решений нет
	}

	// Жесткий риск-лимит бьет любой статус и не ждет min_trades:
	// просадка капитала — не статистика, а факт
	if snap.MaxDrawdown > cfg.HardDrawdownLimit {
		return Decision{
			NextStatus: status,
			Actions: []domain.LifecycleAction{
				{Kind: domain.ActionPause, Reason: domain.ErrHardRiskLimit.Error()},
				{Kind: domain.ActionNotify, Reason: domain.ErrHardRiskLimit.Error()},
			},
		}
	}

	// Статистический гейт: по паре сделок win rate ничего не значит
	if snap.Trades < cfg.MinTrades {
		return keep
	}

	switch status {
	case domain.StatusProvisional:
		if !trialElapsed(snap, cfg.TrialWindow) {
			return keep // испытательный срок не истек
		}
		if snap.WinRate >= cfg.PromoteThreshold {
			return Decision{NextStatus: domain.StatusActive}
		}
		return Decision{
			NextStatus: domain.StatusRetired,
			Actions: []domain.LifecycleAction{
				{Kind: domain.ActionStopTask, Reason: "trial window failed"},
				{Kind: domain.ActionArchive, Reason: "trial window failed"},
			},
		}

	case domain.StatusActive:
		if snap.WinRate < cfg.DemoteThreshold {
			return Decision{
				NextStatus: domain.StatusThrottled,
				Actions: []domain.LifecycleAction{
					{Kind: domain.ActionReduceCapital, Reason: "win rate below demote threshold", Factor: cfg.ThrottleFactor},
				},
			}
		}
		if snap.WinRate >= cfg.CloneThreshold && snap.PnL > 0 {
			return Decision{
				NextStatus: domain.StatusActive,
				Actions: []domain.LifecycleAction{
					{Kind: domain.ActionClone, Reason: "sustained outperformance", Factor: cfg.CloneCapitalShare},
				},
			}
		}
		return keep

	case domain.StatusThrottled:
		if snap.WinRate < cfg.RetireThreshold {
			return Decision{
				NextStatus: domain.StatusRetired,
				Actions: []domain.LifecycleAction{
					{Kind: domain.ActionStopTask, Reason: "no recovery after throttle"},
					{Kind: domain.ActionArchive, Reason: "no recovery after throttle"},
				},
			}
		}
		if snap.WinRate >= cfg.PromoteThreshold {
			// Восстановление: капитал возвращается делением на тот же фактор
			return Decision{
				NextStatus: domain.StatusActive,
				Actions: []domain.LifecycleAction{
					{Kind: domain.ActionReduceCapital, Reason: "recovered after throttle", Factor: 1 / cfg.ThrottleFactor},
				},
			}
		}
		return keep
	}

	// RETIRED и CRASHED агенты перформансом не управляются
	return keep
}

// trialElapsed — окно снапшота покрывает весь испытательный срок.
func trialElapsed(snap *domain.PerformanceSnapshot, trial time.Duration) bool {
	return snap.WindowEnd.Sub(snap.WindowStart) >= trial
}
