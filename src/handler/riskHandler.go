package handler

import (
	"encoding/json"
	"net/http"

	"positionengine/src/risk"

	logger "github.com/sirupsen/logrus"
)

type riskConfigSource interface {
	RiskConfig() risk.Snapshot
	SwapRiskConfig(cfg risk.Snapshot)
}

// GetRiskConfigHandler returns a handler serving the risk snapshot in effect.
func GetRiskConfigHandler(engine riskConfigSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(engine.RiskConfig()); err != nil {
			logger.WithError(err).Error("failed to encode risk config")
		}
	}
}

// UpdateRiskConfigHandler returns a handler that swaps the risk configuration
// at runtime. Open positions keep the sizing they were admitted with.
func UpdateRiskConfigHandler(engine riskConfigSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg risk.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid risk config payload", http.StatusBadRequest)
			return
		}
		// The payload replaces the whole configuration, so the hard limits
		// must be present and sane.
		if cfg.RiskPerTrade <= 0 || cfg.MaxOpenTrades <= 0 || cfg.MaxPortfolioRisk <= 0 {
			http.Error(w, "risk config limits must be positive", http.StatusUnprocessableEntity)
			return
		}

		snapshot, err := cfg.Snapshot()
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		engine.SwapRiskConfig(snapshot)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			logger.WithError(err).Error("failed to encode risk config")
		}
	}
}
