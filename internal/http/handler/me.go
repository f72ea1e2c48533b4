package handler

import (
	"net/http"

	"affiliate/internal/auth"
)

type MeHandler struct {
	Svc *auth.Service
}

func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	u, err := h.Svc.Get(r.Context(), uid)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       u.ID,
		"email":         u.Email,
		"last_login_at": formatTimePtr(u.LastLoginAt),
	})
}
