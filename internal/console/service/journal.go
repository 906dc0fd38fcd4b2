package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/trading-floor-prototype/internal/journal"
)

// JournalProvider описывает контракт для чтения лайфцикл-журнала.
type JournalProvider interface {
	List(ctx context.Context, agentID string, limit int) ([]journal.Event, error)
}

type JournalService struct {
	repo JournalProvider
}

func NewJournalService(repo JournalProvider) *JournalService {
	return &JournalService{repo: repo}
}

// FetchEvents запрашивает события с фильтрацией по агенту.
func (s *JournalService) FetchEvents(ctx context.Context, agentID string, limit int) ([]journal.Event, error) {
	events, err := s.repo.List(ctx, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal_service: failed to fetch events: %w", err)
	}
	if events == nil {
		events = []journal.Event{}
	}
	return events, nil
}
