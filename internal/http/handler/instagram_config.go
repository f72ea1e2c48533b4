package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"affiliate/internal/instagram"
	"affiliate/internal/log"
)

type InstagramConfigHandler struct {
	Store  *instagram.ConfigStore
	Logger *log.Logger
}

type saveConfigReq struct {
	AccessToken string `json:"access_token"`
	AccountID   string `json:"account_id"`
}

// Get never returns the token itself.
func (h *InstagramConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.Load(r.Context())
	if err != nil {
		h.Logger.Errorw("load instagram config", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if cfg == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"configured":       h.Store.Fallback.AccessToken != "",
			"source":           "env",
			"account_id":       h.Store.Fallback.AccountID,
			"token_expires_at": nil,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configured":         true,
		"source":             "database",
		"account_id":         cfg.AccountID,
		"last_token_refresh": formatTime(&cfg.LastTokenRefresh),
		"token_expires_at":   formatTime(&cfg.TokenExpiresAt),
		"expired":            cfg.TokenExpiresAt.Before(time.Now()),
	})
}

func (h *InstagramConfigHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveConfigReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.AccessToken) == "" || strings.TrimSpace(req.AccountID) == "" {
		http.Error(w, "access_token and account_id required", http.StatusBadRequest)
		return
	}

	cfg, err := h.Store.Save(r.Context(), req.AccessToken, req.AccountID)
	if err != nil {
		h.Logger.Errorw("save instagram config", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.Logger.Infow("instagram config saved", "account_id", cfg.AccountID)
	writeJSON(w, http.StatusOK, map[string]any{
		"configured":       true,
		"account_id":       cfg.AccountID,
		"token_expires_at": formatTime(&cfg.TokenExpiresAt),
	})
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(t)
	return &s
}
