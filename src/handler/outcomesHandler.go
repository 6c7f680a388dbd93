package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"positionengine/src/model"
	"positionengine/src/monitor"
	"positionengine/src/repository"

	logger "github.com/sirupsen/logrus"
)

type outcomeReader interface {
	FindRecent(ctx context.Context, limit int) ([]model.TradeOutcome, error)
	Stats(ctx context.Context) (repository.OutcomeStats, error)
}

type statsSource interface {
	Stats() monitor.Stats
}

// ListOutcomesHandler returns a handler serving the trade history, newest
// first.
func ListOutcomesHandler(repo outcomeReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		outcomes, err := repo.FindRecent(r.Context(), limit)
		if err != nil {
			logger.WithError(err).Error("failed to list trade outcomes")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(outcomes); err != nil {
			logger.WithError(err).Error("failed to encode trade outcomes")
		}
	}
}

// statsResponse joins the loop's lifetime counters with the aggregate trade
// performance from the history table.
type statsResponse struct {
	Engine      monitor.Stats           `json:"engine"`
	Performance repository.OutcomeStats `json:"performance"`
}

// StatsHandler returns a handler exposing monitoring and performance counters.
func StatsHandler(engine statsSource, repo outcomeReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		performance, err := repo.Stats(r.Context())
		if err != nil {
			logger.WithError(err).Error("failed to compute performance stats")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statsResponse{
			Engine:      engine.Stats(),
			Performance: performance,
		}); err != nil {
			logger.WithError(err).Error("failed to encode stats response")
		}
	}
}
