package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"affiliate/internal/dmqueue"
	"affiliate/internal/log"
)

type QueueHandler struct {
	Dispatcher *dmqueue.Dispatcher
	Repo       *dmqueue.Repo
	Logger     *log.Logger
}

func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Dispatcher.Stats(r.Context())
	if err != nil {
		h.Logger.Errorw("queue stats", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Start kicks the dispatch loop. A no-op when it is already running.
func (h *QueueHandler) Start(w http.ResponseWriter, r *http.Request) {
	started, err := h.Dispatcher.EnsureRunning(r.Context())
	if err != nil {
		h.Logger.Errorw("start worker", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"started": started})
}

type jobView struct {
	ID            uint64  `json:"id"`
	RecipientID   string  `json:"recipient_id"`
	Username      string  `json:"username"`
	ReelID        string  `json:"reel_id"`
	TriggerType   string  `json:"trigger_type"`
	SectionID     uint64  `json:"section_id"`
	Status        string  `json:"status"`
	Attempts      int     `json:"attempts"`
	MaxAttempts   int     `json:"max_attempts"`
	QueuedAt      string  `json:"queued_at"`
	LastAttemptAt *string `json:"last_attempt_at,omitempty"`
	SentAt        *string `json:"sent_at,omitempty"`
	LastError     *string `json:"last_error,omitempty"`
}

func (h *QueueHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	status := dmqueue.StatusPending
	if s := r.URL.Query().Get("status"); s != "" {
		status = dmqueue.Status(s)
		if !status.Valid() {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	jobs, err := h.Repo.ListByStatus(r.Context(), status, limit)
	if err != nil {
		h.Logger.Errorw("list jobs", "status", status, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobView{
			ID:            j.ID,
			RecipientID:   j.RecipientID,
			Username:      j.Username,
			ReelID:        j.ReelID,
			TriggerType:   string(j.TriggerType),
			SectionID:     j.SectionID,
			Status:        string(j.Status),
			Attempts:      j.Attempts,
			MaxAttempts:   j.MaxAttempts,
			QueuedAt:      formatTime(&j.QueuedAt),
			LastAttemptAt: formatTimePtr(j.LastAttemptAt),
			SentAt:        formatTimePtr(j.SentAt),
			LastError:     j.LastError,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
