package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Brownie44l1/xray-api/internal/analysis"
	"github.com/Brownie44l1/xray-api/internal/diagnosis"
	"github.com/Brownie44l1/xray-api/internal/storage/sqlite"
)

const maxPageSize = 500

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type historyResponse struct {
	Analyses []analysis.Report `json:"analyses"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// History lists stored analyses, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	q := r.URL.Query()
	label, err := diagnosis.ParseLabel(q.Get("label"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, ok := queryInt(q.Get("limit"), sqlite.DefaultLimit)
	if !ok || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, ok := queryInt(q.Get("offset"), 0)
	if !ok || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}

	filter := sqlite.Filter{Label: label, Limit: limit, Offset: offset}
	reports, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list analyses", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	total, err := h.store.Count(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to count analyses", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Analyses: reports,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	report, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get analysis", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load analysis")
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	removed, err := h.store.Delete(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to delete analysis", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete analysis")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Analysis not found")
		return
	}

	h.logger.Info("analysis deleted", "id", id)
	if h.notify != nil {
		h.notify(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	stats, err := h.stats(r.Context())
	if err != nil {
		h.logger.Error("failed to aggregate analyses", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// StatsSocket streams statistics to the dashboard whenever the history changes.
func (h *Handler) StatsSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Live statistics are disabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(512)

	h.hub.Register(conn)
	defer h.hub.Unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("stats client disconnected", "error", err)
			}
			return
		}
	}
}

// stats returns the history aggregates with the model's declared accuracy.
// Without a store only the accuracy is set.
func (h *Handler) stats(ctx context.Context) (analysis.Stats, error) {
	var stats analysis.Stats
	if h.store != nil {
		var err error
		if stats, err = h.store.Stats(ctx); err != nil {
			return analysis.Stats{}, err
		}
	}
	stats.ModelAccuracy = h.metadata.Accuracy
	return stats, nil
}

func (h *Handler) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Analysis history is disabled")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid analysis ID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(s string, fallback int) (int, bool) {
	if s == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}
