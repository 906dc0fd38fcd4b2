package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

func (r *AgentRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT id, username, password_hash, role, scopes, created_at, updated_at
		FROM users WHERE username = $1`

	u := &domain.User{}
	var rawScopes []byte
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Role, &rawScopes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Хендлер отдаст 401, без утечки "user not found"
		}
		return nil, err
	}
	if len(rawScopes) > 0 {
		if err := json.Unmarshal(rawScopes, &u.Scopes); err != nil {
			return nil, err
		}
	}
	return u, nil
}
