package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"affiliate/internal/instagram"
	"affiliate/internal/log"

	"github.com/go-chi/chi/v5"
)

type ReelHandler struct {
	Mappings *instagram.Mappings
	Logs     *instagram.CommentLogs
	Logger   *log.Logger
}

type upsertReelReq struct {
	ReelID       string  `json:"reel_id"`
	ReelURL      string  `json:"reel_url"`
	ThumbnailURL *string `json:"thumbnail_url"`
	Caption      *string `json:"caption"`
	SectionID    uint64  `json:"section_id"`
	Keyword      string  `json:"keyword"`
	MaxItemsInDM *int    `json:"max_items_in_dm"`
	IncludeLink  *bool   `json:"include_link"`
}

func (h *ReelHandler) List(w http.ResponseWriter, r *http.Request) {
	var active *bool
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid active", http.StatusBadRequest)
			return
		}
		active = &b
	}

	items, err := h.Mappings.List(r.Context(), active)
	if err != nil {
		h.Logger.Errorw("list reel mappings", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Upsert saves a reel mapping as a draft.
func (h *ReelHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertReelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	req.ReelID = strings.TrimSpace(req.ReelID)
	if req.ReelID == "" && req.ReelURL != "" {
		req.ReelID = instagram.ExtractReelID(req.ReelURL)
	}
	if req.ReelID == "" || req.SectionID == 0 || instagram.NormalizeKeyword(req.Keyword) == "" {
		http.Error(w, "reel_id, section_id and keyword required", http.StatusBadRequest)
		return
	}

	m, err := h.Mappings.Upsert(r.Context(), instagram.UpsertMappingInput{
		ReelID:       req.ReelID,
		ReelURL:      req.ReelURL,
		ThumbnailURL: req.ThumbnailURL,
		Caption:      req.Caption,
		SectionID:    req.SectionID,
		Keyword:      req.Keyword,
		MaxItemsInDM: req.MaxItemsInDM,
		IncludeLink:  req.IncludeLink,
	})
	if err != nil {
		h.Logger.Errorw("upsert reel mapping", "reel", req.ReelID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *ReelHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Mappings.Publish(r.Context(), id); err != nil {
		h.mappingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": true})
}

func (h *ReelHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	active, err := h.Mappings.Toggle(r.Context(), id)
	if err != nil {
		h.mappingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
}

func (h *ReelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Mappings.Delete(r.Context(), id); err != nil {
		h.mappingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Comments lists recent webhook triggers, their outcome and the matched
// section's title.
func (h *ReelHandler) Comments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.Logs.Recent(r.Context(), limit)
	if err != nil {
		h.Logger.Errorw("list comment logs", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (h *ReelHandler) mappingError(w http.ResponseWriter, err error) {
	if errors.Is(err, instagram.ErrMappingNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.Logger.Errorw("update reel mapping", "error", err)
	http.Error(w, "server error", http.StatusInternalServerError)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
