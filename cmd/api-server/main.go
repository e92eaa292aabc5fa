package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/govease-queue/internal/api"
	"github.com/hackgods/govease-queue/internal/app"
	"github.com/hackgods/govease-queue/internal/catalog"
	"github.com/hackgods/govease-queue/internal/config"
	"github.com/hackgods/govease-queue/internal/logger"
	"github.com/hackgods/govease-queue/internal/logger/sl"
	"github.com/hackgods/govease-queue/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load", sl.Err(err))
		os.Exit(1)
	}

	log := logger.Setup(cfg.Env, cfg.LogLevel)
	log.Info("api-server starting",
		slog.String("version", version),
		slog.String("http_port", cfg.HTTPPort),
		slog.String("store", cfg.StoreBackend),
	)

	shutdownTelemetry := telemetry.Setup(cfg.ServiceName, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(rootCtx, 15*time.Second)
	a, err := app.Open(openCtx, cfg, log)
	cancelOpen()
	if err != nil {
		log.Error("startup", sl.Err(err))
		os.Exit(1)
	}
	defer a.Close()

	if cfg.CentersFile != "" {
		centers, err := catalog.Load(cfg.CentersFile)
		if err != nil {
			log.Error("load centers catalog", slog.String("file", cfg.CentersFile), sl.Err(err))
			os.Exit(1)
		}
		n, err := catalog.Import(rootCtx, a.Service, centers)
		if err != nil {
			log.Error("import centers catalog", sl.Err(err))
			os.Exit(1)
		}
		log.Info("centers imported", slog.Int("count", n), slog.String("file", cfg.CentersFile))
	}

	router := api.NewRouter(api.RouterConfig{
		Service: a.Service,
		Redis:   a.Redis,
		Log:     log,
		Env:     cfg.Env,
		Version: version,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, cfg.ServiceName),
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelError),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutting down api-server")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server", sl.Err(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown", sl.Err(err))
	}
}
