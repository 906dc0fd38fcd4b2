package postgres

import (
	"context"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

// GetFloorStats собирает сводку площадки для дашборда Console.
func (r *AgentRepo) GetFloorStats(ctx context.Context) (*domain.FloorStats, error) {
	s := &domain.FloorStats{}

	// 1. Состав флота (архивные не считаем)
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'provisional'),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'throttled'),
			COUNT(*) FILTER (WHERE paused),
			COUNT(*) FILTER (WHERE status = 'crashed')
		FROM agents WHERE archived_at IS NULL`).Scan(
		&s.Agents.Total, &s.Agents.Provisional, &s.Agents.Active,
		&s.Agents.Throttled, &s.Agents.Paused, &s.Agents.Crashed,
	)
	if err != nil {
		return nil, err
	}

	// 2. Инциденты из журнала: рестарты за час, эскалации за сутки
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE type = 'restart' AND timestamp > NOW() - INTERVAL '60 minutes'),
			COUNT(*) FILTER (WHERE type = 'escalation' AND timestamp > NOW() - INTERVAL '24 hours')
		FROM journal_events
		WHERE timestamp > NOW() - INTERVAL '24 hours'`).Scan(
		&s.Incidents.RestartsLastHour, &s.Incidents.Escalations,
	)
	if err != nil {
		return nil, err
	}

	// 3. Агрегаты перформанса по последнему окну каждого агента
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(pnl), 0),
			COALESCE(AVG(win_rate), 0),
			COALESCE(MAX(max_drawdown), 0)
		FROM (
			SELECT DISTINCT ON (agent_id) pnl, win_rate, max_drawdown
			FROM performance_snapshots
			ORDER BY agent_id, window_end DESC
		) AS latest`).Scan(
		&s.Trading.TotalPnL, &s.Trading.AvgWinRate, &s.Trading.WorstDrawdown,
	)

	return s, err
}
