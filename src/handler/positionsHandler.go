package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"positionengine/src/feed"
	"positionengine/src/model"
	"positionengine/src/repository"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type positionSnapshotter interface {
	Snapshot() []model.Position
}

type positionSearcher interface {
	Search(ctx context.Context, options repository.PositionSearchOptions) ([]model.Position, error)
}

type forceCloser interface {
	ForceClose(ctx context.Context, symbol string) (*model.Position, error)
}

// ListPositionsHandler returns a handler that lists positions. `live=true`
// serves in-memory snapshots of the positions under management; otherwise the
// store is searched with optional symbol/state filters and pagination.
func ListPositionsHandler(live positionSnapshotter, repo positionSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if liveParam := r.URL.Query().Get("live"); liveParam == "true" {
			writePositions(w, live.Snapshot())
			return
		}

		page := 1
		if pageParam := r.URL.Query().Get("page"); pageParam != "" {
			parsedPage, err := strconv.Atoi(pageParam)
			if err != nil || parsedPage <= 0 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			page = parsedPage
		}

		pageSize := 20
		if sizeParam := r.URL.Query().Get("pageSize"); sizeParam != "" {
			parsedSize, err := strconv.Atoi(sizeParam)
			if err != nil || parsedSize <= 0 {
				http.Error(w, "invalid pageSize", http.StatusBadRequest)
				return
			}
			pageSize = parsedSize
		}

		positions, err := repo.Search(r.Context(), repository.PositionSearchOptions{
			Symbol: strings.ToUpper(r.URL.Query().Get("symbol")),
			State:  r.URL.Query().Get("state"),
			Limit:  pageSize,
			Offset: (page - 1) * pageSize,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search positions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writePositions(w, positions)
	}
}

func writePositions(w http.ResponseWriter, positions []model.Position) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(positions); err != nil {
		logger.WithError(err).Error("failed to encode positions response")
	}
}

// ForceCloseHandler returns a handler that flattens one live position at
// market, exit reason MANUAL.
func ForceCloseHandler(engine forceCloser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := chi.URLParam(r, "symbol")
		if symbol == "" {
			http.Error(w, "missing symbol", http.StatusBadRequest)
			return
		}

		pos, err := engine.ForceClose(r.Context(), symbol)
		if err != nil {
			if errors.Is(err, feed.ErrUnavailable) {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(pos); err != nil {
			logger.WithError(err).Error("failed to encode closed position")
		}
	}
}
