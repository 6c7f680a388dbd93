package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"positionengine/src/gateway"
	"positionengine/src/model"
	"positionengine/src/risk"

	logger "github.com/sirupsen/logrus"
)

type signalAdmitter interface {
	Admit(ctx context.Context, sig model.Signal) (*model.Position, error)
}

// SubmitSignalHandler returns a handler that runs a structured signal through
// admission. Rejections are reported to the caller; nothing is retried.
func SubmitSignalHandler(engine signalAdmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sig model.Signal
		if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
			http.Error(w, "invalid signal payload", http.StatusBadRequest)
			return
		}

		pos, err := engine.Admit(r.Context(), sig)
		if err != nil {
			var limitErr *risk.PortfolioLimitError
			var sizingErr *risk.SizingError
			switch {
			case errors.As(err, &limitErr) || errors.As(err, &sizingErr):
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			case errors.Is(err, gateway.ErrTransient):
				logger.WithError(err).Warn("signal admission hit a transient gateway failure")
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
			default:
				logger.WithError(err).Error("failed to admit signal")
				http.Error(w, err.Error(), http.StatusBadRequest)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(pos); err != nil {
			logger.WithError(err).Error("failed to encode admitted position")
		}
	}
}
