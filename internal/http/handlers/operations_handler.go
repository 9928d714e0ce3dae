package handlers

import (
	"context"
	"net/http"
	"strconv"

	"fuelgrid/internal/models"
)

// OperationLister reads persisted operations for the dashboard.
type OperationLister interface {
	ListByTradingPoint(ctx context.Context, tradingPointID int64, limit int) ([]models.Operation, error)
}

// NewOperationsHandler returns the operations read endpoint.
func NewOperationsHandler(lister OperationLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawID := r.URL.Query().Get("tradingPointId")
		tradingPointID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || tradingPointID <= 0 {
			writeError(w, http.StatusBadRequest, "tradingPointId is required")
			return
		}

		limit := 0
		if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
			if limit, err = strconv.Atoi(rawLimit); err != nil {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
		}

		ops, err := lister.ListByTradingPoint(r.Context(), tradingPointID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load operations")
			return
		}
		if ops == nil {
			ops = []models.Operation{}
		}
		writeJSON(w, http.StatusOK, ops)
	}
}
