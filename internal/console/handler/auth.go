package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/trading-floor-prototype/internal/console/service"
	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(s *service.AuthService) *AuthHandler {
	return &AuthHandler{service: s}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp, err := h.service.GenerateToken(r.Context(), req.Username, req.Password)
	if err != nil {
		// Не уточняем, логин или пароль неверен: защита от перебора учеток
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	writeJSON(w, resp)
}
