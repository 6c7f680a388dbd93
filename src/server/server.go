package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"positionengine/src/handler"
	"positionengine/src/monitor"
	"positionengine/src/repository"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

// NewRouter builds the engine's HTTP API on top of a running monitor and the
// read-side repositories.
func NewRouter(engine *monitor.Monitor, positions *repository.PositionRepository, outcomes *repository.OutcomeRepository) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("healthcheck write failed")
		}
	})

	r.Post("/signals", handler.SubmitSignalHandler(engine))
	r.Get("/positions", handler.ListPositionsHandler(engine, positions))
	r.Post("/positions/{symbol}/close", handler.ForceCloseHandler(engine))
	r.Get("/outcomes", handler.ListOutcomesHandler(outcomes))
	r.Get("/stats", handler.StatsHandler(engine, outcomes))
	r.Get("/risk/config", handler.GetRiskConfigHandler(engine))
	r.Put("/risk/config", handler.UpdateRiskConfigHandler(engine))

	return r
}

// StartServer serves the API until SIGINT or SIGTERM, then shuts down
// gracefully and runs the drain hook so pending close orders get one final
// attempt before the process exits.
func StartServer(cfg *Config, router http.Handler, drain func(ctx context.Context)) {
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
	if drain != nil {
		drain(ctx)
	}
}
