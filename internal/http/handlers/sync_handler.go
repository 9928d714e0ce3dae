package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	syncengine "fuelgrid/internal/sync"
	"fuelgrid/internal/syncstate"
)

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// SyncRunner triggers sync runs and reports run state.
type SyncRunner interface {
	Sync(ctx context.Context, opts syncengine.Options) (*syncengine.Result, error)
	Running() bool
}

type syncRequest struct {
	StationID int64  `json:"station_id,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	ForceSync bool   `json:"force_sync,omitempty"`
}

// SyncHandler exposes trigger and status endpoints for the engine.
type SyncHandler struct {
	runner SyncRunner
	state  *syncstate.Store
	logger *zap.Logger
}

// NewSyncHandler returns handler instance.
func NewSyncHandler(runner SyncRunner, state *syncstate.Store, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{runner: runner, state: state, logger: logger}
}

// HandleTrigger runs a sync and returns its result.
func (h *SyncHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	opts := syncengine.Options{StationID: req.StationID, ForceSync: req.ForceSync}
	var err error
	if opts.StartDate, err = parseDate(req.StartDate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_date")
		return
	}
	if opts.EndDate, err = parseDate(req.EndDate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_date")
		return
	}

	result, err := h.runner.Sync(r.Context(), opts)
	if err != nil {
		if errors.Is(err, syncengine.ErrSyncAlreadyRunning) {
			writeError(w, http.StatusConflict, "sync already running")
			return
		}
		h.logger.Error("sync trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sync failed to start")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleStatus reports the running flag, the last run result, and optionally
// the last successful sync instant for one trading point.
func (h *SyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"running": h.runner.Running(),
	}

	lastRun, err := h.state.LastRun(r.Context())
	if err != nil {
		h.logger.Warn("failed to load last run", zap.Error(err))
	} else if lastRun != nil {
		payload["last_run"] = lastRun
	}

	if raw := r.URL.Query().Get("tradingPointId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tradingPointId")
			return
		}
		lastSuccess, err := h.state.LastSuccess(r.Context(), id)
		if err != nil {
			h.logger.Warn("failed to load last success", zap.Int64("trading_point_id", id), zap.Error(err))
		} else if !lastSuccess.IsZero() {
			payload["last_success"] = lastSuccess
		}
	}

	writeJSON(w, http.StatusOK, payload)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	var lastErr error
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
