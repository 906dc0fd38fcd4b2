package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/trading-floor-prototype/internal/journal"
)

// JournalRepo пишет батчи лайфцикл-событий и отдает их Console для чтения.
type JournalRepo struct {
	db *sql.DB
}

func NewJournalRepo(db *sql.DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// WriteBatch — пакетная вставка из фонового воркера журнала.
// Один запрос на батч, а не на событие.
func (r *JournalRepo) WriteBatch(ctx context.Context, events []journal.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице journal_events
	numFields := 9
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9)

		details, _ := json.Marshal(e.Details)

		vals = append(vals,
			e.ID, e.AgentID, e.Type, nullable(e.FromStatus), nullable(e.ToStatus),
			e.Actor, e.Reason, details, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO journal_events (id, agent_id, type, from_status, to_status, actor, reason, details, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// List — события для Console, опционально отфильтрованные по агенту.
func (r *JournalRepo) List(ctx context.Context, agentID string, limit int) ([]journal.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, agent_id, type, from_status, to_status, actor, reason, details, timestamp
		FROM journal_events`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = $1`
		args = append(args, agentID)
	}
	query += fmt.Sprintf(` ORDER BY timestamp DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []journal.Event
	for rows.Next() {
		var e journal.Event
		var from, to, reason sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Type, &from, &to, &e.Actor, &reason, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.FromStatus, e.ToStatus, e.Reason = from.String, to.String, reason.String
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
