package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

// CheckpointRepo — primary-хранилище чекпоинтов.
type CheckpointRepo struct {
	db *sql.DB
}

func NewCheckpointRepo(db *sql.DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

// Save вставляет чекпоинт, отбрасывая stale-записи прямо в SQL:
// вставка проходит только если sequence строго выше максимума агента.
// Гонку двух писателей решает база, а не наша память.
func (r *CheckpointRepo) Save(ctx context.Context, cp *domain.Checkpoint) error {
	query := `
		INSERT INTO checkpoints (agent_id, sequence, version, payload, created_at)
		SELECT $1, $2, $3, $4, $5
		WHERE $2 > COALESCE((SELECT MAX(sequence) FROM checkpoints WHERE agent_id = $1), 0)`

	result, err := r.db.ExecContext(ctx, query,
		cp.AgentID, int64(cp.Sequence), cp.Version, cp.Payload, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to save checkpoint: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: agent %s seq %d", domain.ErrStaleCheckpoint, cp.AgentID, cp.Sequence)
	}
	return nil
}

// LoadLatest отдает последний чекпоинт агента, (nil, nil) если истории нет.
func (r *CheckpointRepo) LoadLatest(ctx context.Context, agentID string) (*domain.Checkpoint, error) {
	query := `
		SELECT agent_id, sequence, version, payload, created_at
		FROM checkpoints WHERE agent_id = $1
		ORDER BY sequence DESC LIMIT 1`

	cp := &domain.Checkpoint{}
	var seq int64
	err := r.db.QueryRowContext(ctx, query, agentID).Scan(
		&cp.AgentID, &seq, &cp.Version, &cp.Payload, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp.Sequence = uint64(seq)
	return cp, nil
}

// Prune оставляет keep последних чекпоинтов агента. Вызывается асинхронно,
// с Hot Path записи не пересекается.
func (r *CheckpointRepo) Prune(ctx context.Context, agentID string, keep int) error {
	query := `
		DELETE FROM checkpoints
		WHERE agent_id = $1 AND sequence < (
			SELECT COALESCE(MIN(sequence), 0) FROM (
				SELECT sequence FROM checkpoints
				WHERE agent_id = $1
				ORDER BY sequence DESC LIMIT $2
			) AS kept
		)`

	_, err := r.db.ExecContext(ctx, query, agentID, keep)
	return err
}
