package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"
)

// Routes are the endpoints the router mounts. A nil route is not mounted.
type Routes struct {
	RunCycle      http.HandlerFunc
	OpenPosition  http.HandlerFunc
	ClosePosition http.HandlerFunc
	Reconcile     http.HandlerFunc
	PositionFeed  http.HandlerFunc
}

func NewRouter(routes Routes) http.Handler {
	// Router with middleware
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	mount := func(method, path string, h http.HandlerFunc) {
		if h != nil {
			r.Method(method, path, h)
		}
	}
	mount(http.MethodPost, "/run-cycle", routes.RunCycle)
	mount(http.MethodPost, "/open-position", routes.OpenPosition)
	mount(http.MethodPost, "/close-position", routes.ClosePosition)
	mount(http.MethodPost, "/reconcile", routes.Reconcile)
	mount(http.MethodGet, "/ws/positions", routes.PositionFeed)
	return r
}

// StartServer serves handler on cfg.Port until ctx is done, then shuts down
// gracefully within cfg.ShutdownTimeout.
func StartServer(ctx context.Context, cfg *Config, handler http.Handler) error {
	if cfg == nil {
		cfg = GetConfig()
	}
	// Server setup
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
