// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
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

	"github.com/starford/blobnotes/internal/api"
	"github.com/starford/blobnotes/internal/cleanup"
	"github.com/starford/blobnotes/internal/mcpserver"
	"github.com/starford/blobnotes/internal/notedb"
	"github.com/starford/blobnotes/internal/noteservice"
	"github.com/starford/blobnotes/internal/sse"
	"github.com/starford/blobnotes/internal/storage"
	"github.com/starford/blobnotes/pkg/logger"
)

// runtime holds the explicitly constructed process-wide handles.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	db     *notedb.DB
	blobs  storage.Provider
}

func setup(ctx context.Context, opts []Option) (*application, *runtime, error) {
	app := &application{logOutput: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	log := logger.New(app.logOutput, cfg.App.LogLevel, cfg.App.Pretty)
	slog.SetDefault(log)

	log.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("db_driver", cfg.Database.Driver),
		slog.String("blob_backend", cfg.Blob.Backend),
		slog.String("blob_container", cfg.Blob.Container),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := notedb.Open(ctx, notedb.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		PingAttempts: cfg.Database.PingAttempts,
		Logger:       log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init note store: %w", err)
	}

	blobs, err := newBlobProvider(cfg.Blob)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	return app, &runtime{cfg: cfg, logger: log, db: db, blobs: blobs}, nil
}

func (rt *runtime) newWorker() *cleanup.Worker {
	return cleanup.NewWorker(rt.db, rt.blobs, cleanup.Options{
		Interval:      rt.cfg.Cleanup.Interval,
		BatchSize:     rt.cfg.Cleanup.BatchSize,
		MaxAttempts:   rt.cfg.Cleanup.MaxAttempts,
		RetryAttempts: rt.cfg.Cleanup.RetryAttempts,
		RetryDelay:    rt.cfg.Cleanup.RetryDelay,
	}, rt.logger)
}

// Run starts the HTTP application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	_, rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	cfg, log := rt.cfg, rt.logger

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := noteservice.NewService(rt.db, rt.blobs,
		noteservice.WithLogger(log),
		noteservice.WithPublisher(broker))

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", readyHandler(rt.db))

	r.Mount("/", api.NewRouter(svc, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Background blob cleanup.
	g.Go(func() error {
		return rt.newWorker().Run(gCtx)
	})

	// Start HTTP server.
	g.Go(func() error {
		log.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			log.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			log.Info("Context cancelled, initiating shutdown")
		}

		log.Info("Shutting down server...")

		// Close SSE streams first so Shutdown is not held open by them.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", logger.Err(err))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		log.Error("Application error", logger.Err(err))
		return err
	}

	log.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so the cleanup worker stops
// together with the HTTP server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the note tools over stdio. Logs must not go to stdout,
// which carries the protocol; callers pass WithLogOutput(os.Stderr).
func RunMCP(ctx context.Context, opts ...Option) error {
	app, rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	svc := noteservice.NewService(rt.db, rt.blobs, noteservice.WithLogger(rt.logger))
	srv := mcpserver.New(svc, app.version)

	rt.logger.Info("Starting MCP server on stdio")
	return serveWithWorker(ctx, rt.newWorker(), srv.ServeStdio)
}

type backgroundWorker interface {
	Run(ctx context.Context) error
}

// serveWithWorker runs w alongside serve and returns only after w has
// stopped, so callers may release what the worker uses.
func serveWithWorker(ctx context.Context, w backgroundWorker, serve func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gCtx)
	})

	serveErr := serve()
	cancel()
	if err := g.Wait(); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

func readyHandler(db *notedb.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			slog.Warn("readiness check failed", logger.Err(err))
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
