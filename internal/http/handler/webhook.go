package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"affiliate/internal/dmqueue"
	"affiliate/internal/instagram"
	"affiliate/internal/log"
)

// Submitter admits triggers into the DM queue.
type Submitter interface {
	Submit(ctx context.Context, t dmqueue.Trigger) (*dmqueue.Job, error)
}

type WebhookHandler struct {
	VerifyToken string
	Mappings    *instagram.Mappings
	Logs        *instagram.CommentLogs
	Queue       Submitter
	Logger      *log.Logger
}

// Verify answers the subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && h.VerifyToken != "" && q.Get("hub.verify_token") == h.VerifyToken {
		h.Logger.Infow("webhook verified")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	h.Logger.Warnw("webhook verification failed", "mode", q.Get("hub.mode"))
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// Receive turns a webhook delivery into queued DMs. Per-event problems are
// logged and never fail the delivery, so the platform does not redeliver.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var p instagram.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&p); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if p.Entry == nil {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "no_entry"})
		return
	}

	for _, ev := range p.Events() {
		h.handle(r.Context(), ev)
	}

	_ = json.NewEncoder(w).Encode(map[string]any{"status": "success"})
}

func (h *WebhookHandler) handle(ctx context.Context, ev instagram.Event) {
	if !ev.Complete() {
		h.Logger.Infow("incomplete webhook event - dropped", "type", ev.Type, "trigger_id", ev.TriggerID)
		h.record(ctx, ev, instagram.OutcomeInvalid, nil, nil)
		return
	}

	var (
		mapping *instagram.ReelMapping
		err     error
	)
	if ev.Type == instagram.EventComment {
		mapping, err = h.Mappings.ForComment(ctx, ev.ReelID, ev.Text)
	} else {
		mapping, err = h.Mappings.ForReel(ctx, ev.ReelID)
	}
	if err != nil {
		h.Logger.Errorw("lookup reel mapping", "reel", ev.ReelID, "error", err)
		h.record(ctx, ev, instagram.OutcomeError, nil, nil)
		return
	}
	if mapping == nil {
		h.Logger.Infow("no mapping found", "reel", ev.ReelID, "username", ev.Username)
		h.record(ctx, ev, instagram.OutcomeNoMapping, nil, nil)
		return
	}

	job, err := h.Queue.Submit(ctx, dmqueue.Trigger{
		RecipientID: ev.UserID,
		Username:    ev.Username,
		SectionID:   mapping.SectionID,
		ReelID:      ev.ReelID,
		Type:        dmqueue.TriggerType(ev.Type),
		TriggerID:   ev.TriggerID,
		MaxItems:    mapping.MaxItemsInDM,
		IncludeLink: mapping.IncludeLink,
	})
	sectionID := mapping.SectionID
	switch {
	case errors.Is(err, dmqueue.ErrInvalidTrigger):
		h.record(ctx, ev, instagram.OutcomeInvalid, &sectionID, nil)
	case err != nil:
		h.Logger.Errorw("queue dm", "reel", ev.ReelID, "username", ev.Username, "error", err)
		h.record(ctx, ev, instagram.OutcomeError, &sectionID, nil)
	case job == nil:
		h.record(ctx, ev, instagram.OutcomeSkipped, &sectionID, nil)
	default:
		h.Logger.Infow("dm queued", "job_id", job.ID, "username", ev.Username, "section", sectionID)
		h.record(ctx, ev, instagram.OutcomeQueued, &sectionID, &job.ID)
	}
}

func (h *WebhookHandler) record(ctx context.Context, ev instagram.Event, outcome string, sectionID, jobID *uint64) {
	if h.Logs == nil || ev.TriggerID == "" {
		return
	}
	if err := h.Logs.Record(ctx, ev, outcome, sectionID, jobID); err != nil {
		h.Logger.Warnw("record comment log", "trigger_id", ev.TriggerID, "error", err)
	}
}
