package handler

import (
	"net/http"
	"time"

	"affiliate/internal/dmqueue"
	"affiliate/internal/instagram"
	"affiliate/internal/log"
)

const statsWindow = 24 * time.Hour

type InstagramStatsHandler struct {
	Mappings *instagram.Mappings
	Logs     *instagram.CommentLogs
	Repo     *dmqueue.Repo
	Logger   *log.Logger
	Now      func() time.Time
}

type instagramStatsResp struct {
	TotalComments   int64 `json:"total_comments"`
	CommentsLast24h int64 `json:"comments_last_24h"`
	TotalDMs        int64 `json:"total_dms"`
	DMsLast24h      int64 `json:"dms_last_24h"`
	DMSuccessRate   int   `json:"dm_success_rate"`
	ActiveMappings  int64 `json:"active_mappings"`
	TotalMappings   int64 `json:"total_mappings"`
}

// Stats summarises webhook traffic and DM outcomes. A DM counts once its job
// is sent or has failed for good.
func (h *InstagramStatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	if h.Now != nil {
		now = h.Now()
	}
	since := now.Add(-statsWindow)
	ctx := r.Context()

	comments, recentComments, err := h.Logs.Counts(ctx, since)
	if err != nil {
		h.fail(w, "count comment logs", err)
		return
	}
	dms, err := h.Repo.DeliveryCounts(ctx, since)
	if err != nil {
		h.fail(w, "count deliveries", err)
		return
	}
	active, total, err := h.Mappings.Counts(ctx)
	if err != nil {
		h.fail(w, "count reel mappings", err)
		return
	}

	writeJSON(w, http.StatusOK, instagramStatsResp{
		TotalComments:   comments,
		CommentsLast24h: recentComments,
		TotalDMs:        dms.Total(),
		DMsLast24h:      dms.RecentTotal(),
		DMSuccessRate:   dms.SuccessRate(),
		ActiveMappings:  active,
		TotalMappings:   total,
	})
}

func (h *InstagramStatsHandler) fail(w http.ResponseWriter, msg string, err error) {
	h.Logger.Errorw(msg, "error", err)
	http.Error(w, "server error", http.StatusInternalServerError)
}
