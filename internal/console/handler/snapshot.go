package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/console/service"
	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

// SnapshotHandler принимает перформанс-окна от внешней аналитики.
// Ядро само win rate и просадку не считает.
type SnapshotHandler struct {
	service *service.AgentService
	logger  *zap.Logger
}

func NewSnapshotHandler(s *service.AgentService, logger *zap.Logger) *SnapshotHandler {
	return &SnapshotHandler{service: s, logger: logger.Named("snapshot-handler")}
}

// Submit — POST /v1/snapshots
func (h *SnapshotHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var snap domain.PerformanceSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := h.service.SubmitSnapshot(r.Context(), &snap); err != nil {
		if errors.Is(err, domain.ErrConfigInvalid) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("snapshot ingestion failed", zap.String("agent_id", snap.AgentID), zap.Error(err))
		http.Error(w, "Failed to store snapshot", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
