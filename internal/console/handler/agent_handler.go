package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/console/service"
	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/infra/auth"
)

type AgentHandler struct {
	service *service.AgentService
	logger  *zap.Logger
}

func NewAgentHandler(s *service.AgentService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{service: s, logger: logger.Named("agent-handler")}
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.ListAgents(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch agents", http.StatusInternalServerError)
		return
	}
	writeJSON(w, agents)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ov, err := h.service.GetOverview(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			http.Error(w, "agent not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch agent", http.StatusInternalServerError)
		return
	}
	writeJSON(w, ov)
}

type registerRequest struct {
	Name    string         `json:"name"`
	Kind    string         `json:"kind"`
	Capital float64        `json:"capital_allocated"`
	Config  map[string]any `json:"config"`
}

func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Kind == "" {
		http.Error(w, "name and kind are required", http.StatusBadRequest)
		return
	}

	agent := &domain.Agent{
		ID:               uuid.New().String(),
		Name:             req.Name,
		Kind:             req.Kind,
		CapitalAllocated: req.Capital,
		Config:           req.Config,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.service.RegisterAgent(r.Context(), agent); err != nil {
		h.logger.Error("agent registration failed", zap.String("name", req.Name), zap.Error(err))
		http.Error(w, "Failed to register agent", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, agent)
}

// Pause, Resume и Retire — один механизм: БД, затем Redis-сигнал площадке.
// Оператор берется из токена для подотчетности.

func (h *AgentHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "pause", h.service.PauseAgent)
}

func (h *AgentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "resume", h.service.ResumeAgent)
}

func (h *AgentHandler) Retire(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "retire", h.service.RetireAgent)
}

func (h *AgentHandler) mutate(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	op func(ctx context.Context, id, operatorID string) error,
) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "agent id is required", http.StatusBadRequest)
		return
	}

	operatorID := auth.UserIDFromContext(r.Context())
	if err := op(r.Context(), id, operatorID); err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			http.Error(w, "agent not found", http.StatusNotFound)
			return
		}
		h.logger.Error("agent mutation failed",
			zap.String("action", action),
			zap.String("agent_id", id),
			zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
