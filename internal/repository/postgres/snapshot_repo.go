package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

// SnapshotRepo хранит перформанс-снапшоты от внешней аналитики.
// Ядро метрики не считает, только читает последние окна для Floor Boss.
type SnapshotRepo struct {
	db *sql.DB
}

func NewSnapshotRepo(db *sql.DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Insert — точка входа аналитического коллаборатора (через Console API).
func (r *SnapshotRepo) Insert(ctx context.Context, s *domain.PerformanceSnapshot) error {
	query := `
		INSERT INTO performance_snapshots
			(agent_id, window_start, window_end, trades, win_rate, sharpe, max_drawdown, pnl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		s.AgentID, s.WindowStart, s.WindowEnd, s.Trades,
		s.WinRate, s.Sharpe, s.MaxDrawdown, s.PnL)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert snapshot: %w", err)
	}
	return nil
}

// LatestPerAgent — последнее окно каждого агента одним запросом
// (DISTINCT ON вместо N+1 по флоту).
func (r *SnapshotRepo) LatestPerAgent(ctx context.Context) (map[string]*domain.PerformanceSnapshot, error) {
	query := `
		SELECT DISTINCT ON (agent_id)
			agent_id, window_start, window_end, trades, win_rate, sharpe, max_drawdown, pnl
		FROM performance_snapshots
		ORDER BY agent_id, window_end DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]*domain.PerformanceSnapshot)
	for rows.Next() {
		s := &domain.PerformanceSnapshot{}
		if err := rows.Scan(
			&s.AgentID, &s.WindowStart, &s.WindowEnd, &s.Trades,
			&s.WinRate, &s.Sharpe, &s.MaxDrawdown, &s.PnL,
		); err != nil {
			return nil, err
		}
		results[s.AgentID] = s
	}
	return results, rows.Err()
}

// Latest — последнее окно одного агента для карточки в Console.
func (r *SnapshotRepo) Latest(ctx context.Context, agentID string) (*domain.PerformanceSnapshot, error) {
	query := `
		SELECT agent_id, window_start, window_end, trades, win_rate, sharpe, max_drawdown, pnl
		FROM performance_snapshots
		WHERE agent_id = $1
		ORDER BY window_end DESC LIMIT 1`

	s := &domain.PerformanceSnapshot{}
	err := r.db.QueryRowContext(ctx, query, agentID).Scan(
		&s.AgentID, &s.WindowStart, &s.WindowEnd, &s.Trades,
		&s.WinRate, &s.Sharpe, &s.MaxDrawdown, &s.PnL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
