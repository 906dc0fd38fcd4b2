package handler

import (
	"net/http"
	"strconv"

	"github.com/xela07ax/trading-floor-prototype/internal/console/service"
)

type JournalHandler struct {
	service *service.JournalService
}

func NewJournalHandler(s *service.JournalService) *JournalHandler {
	return &JournalHandler{service: s}
}

// GetEvents возвращает лайфцикл-журнал с поддержкой фильтрации
// GET /v1/journal?agent_id=...&limit=...
func (h *JournalHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.service.FetchEvents(r.Context(), agentID, limit)
	if err != nil {
		http.Error(w, "Failed to fetch journal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}
