package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

// AgentRepo — единственный путь записи дескрипторов агентов.
// И Supervisor, и Floor Boss, и Console ходят сюда: сериализация
// конкурирующих мутаций статуса лежит на Postgres.
type AgentRepo struct {
	db *sql.DB
}

func NewAgentRepo(db *sql.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

const agentColumns = `id, name, kind, status, paused, capital_allocated, config, created_at, updated_at, archived_at`

func scanAgent(row interface{ Scan(...any) error }) (*domain.Agent, error) {
	a := &domain.Agent{}
	var rawConfig []byte
	err := row.Scan(
		&a.ID, &a.Name, &a.Kind, &a.Status, &a.Paused,
		&a.CapitalAllocated, &rawConfig, &a.CreatedAt, &a.UpdatedAt, &a.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &a.Config); err != nil {
			return nil, fmt.Errorf("postgres: agent %s: bad config json: %w", a.ID, err)
		}
	}
	return a, nil
}

func (r *AgentRepo) Get(ctx context.Context, id string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

	a, err := scanAgent(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, id)
	}
	return a, err
}

// ListRunnable — агенты, таски которых должен держать Supervisor:
// не архивные, не retired/crashed. Флаг паузы резолвится отдельно
// через PauseManager, поэтому сюда не входит.
func (r *AgentRepo) ListRunnable(ctx context.Context) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE archived_at IS NULL AND status NOT IN ('retired', 'crashed')
		ORDER BY created_at`
	return r.list(ctx, query)
}

// ListEvaluable — агенты под управлением Floor Boss. Crashed включены:
// просадка у лежащего агента все равно должна дать PAUSED.
func (r *AgentRepo) ListEvaluable(ctx context.Context) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE archived_at IS NULL AND status != 'retired'
		ORDER BY created_at`
	return r.list(ctx, query)
}

func (r *AgentRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Agent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

func (r *AgentRepo) Create(ctx context.Context, a *domain.Agent) error {
	rawConfig, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal config: %w", err)
	}

	query := `
		INSERT INTO agents (id, name, kind, status, paused, capital_allocated, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Kind, a.Status, a.Paused, a.CapitalAllocated, rawConfig)
	if err != nil {
		return fmt.Errorf("postgres: failed to create agent: %w", err)
	}
	return nil
}

func (r *AgentRepo) UpdateStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	query := `UPDATE agents SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrAgentNotFound, id)
	}
	return nil
}

func (r *AgentRepo) UpdateCapital(ctx context.Context, id string, capital float64) error {
	query := `UPDATE agents SET capital_allocated = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, capital, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update capital: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrAgentNotFound, id)
	}
	return nil
}

// SetPaused меняет ортогональный флаг паузы (сам статус не трогаем).
func (r *AgentRepo) SetPaused(ctx context.Context, id string, paused bool) error {
	query := `UPDATE agents SET paused = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, paused, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to set paused: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrAgentNotFound, id)
	}
	return nil
}

// Archive — ретайр навсегда: запись остается, archived_at проставлен.
// Идемпотентна: повторный вызов по уже архивному агенту не ошибка.
func (r *AgentRepo) Archive(ctx context.Context, id string) error {
	query := `
		UPDATE agents SET archived_at = COALESCE(archived_at, NOW()), updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to archive agent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrAgentNotFound, id)
	}
	return nil
}

// GetPausedAgents — холодная загрузка флагов паузы для кэша PauseManager.
func (r *AgentRepo) GetPausedAgents(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM agents WHERE paused = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping проверяет доступность базы при старте
func (r *AgentRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
