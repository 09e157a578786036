// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/cardsync/internal/api"
	"github.com/starford/cardsync/internal/index"
	"github.com/starford/cardsync/internal/logx"
)

func (a *application) init() error {
	if a.config == nil {
		return fmt.Errorf("config is required")
	}
	if a.logger == nil {
		out := a.logOut
		if out == nil {
			out = os.Stdout
		}
		a.logger = logx.New(a.config.App.LogFormat, a.config.App.LogLevel, out)
	}
	if a.version == "" {
		a.version = "dev"
	}
	return nil
}

// Open builds the application components without starting any of them.
// The caller must Close the returned App.
func Open(opts ...Option) (*App, error) {
	a := &application{}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.init(); err != nil {
		return nil, err
	}
	return NewApp(a.config, a.logger)
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	a := &application{}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.init(); err != nil {
		return err
	}

	cfg := a.config
	logger := a.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("version", a.version),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("contacts_path", cfg.Contacts.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Bool("backup_enabled", cfg.Backup.Enabled))

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Sync(cfg.Backup.BackfillOnStart); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newRouter(app, a.version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Pipeline.Run(gCtx)
	})

	g.Go(func() error {
		if err := index.Watch(gCtx, app.Index, app.Store, cfg.Contacts.Path, logger, app.OnContactChange); err != nil {
			logger.Error("contact watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// SSE streams hold their connections open until the broker closes.
		app.Broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the pipeline and watcher stop with the
// HTTP server.
var errShutdown = errors.New("shutdown")

func newRouter(app *App, version string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q}`, version)
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := app.Index.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(app.Service, app.Config.Auth.AuthEnabled(), app.Config.Auth.Token, app.Broker))
	return r
}
