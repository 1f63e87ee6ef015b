package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/campusclub/api/internal/di"
	"github.com/campusclub/api/internal/handlers"
	"github.com/campusclub/api/internal/platform/auth"
	"github.com/campusclub/api/internal/platform/config"
	"github.com/campusclub/api/internal/platform/observability"
)

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = baseLogger.Sync() }()
	logger := baseLogger.Named("api")

	cfg, err := config.Load()
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			logger.Fatal("invalid configuration", zap.Strings("fields", verr.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()
	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}
	defer container.Close()

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(container.Provider)),
		handlers.WithStoreMiddlewares(auth.RequireMember),
		handlers.WithStoreOrderRoutes(handlers.NewStoreOrderHandlers(container.Services.Orders).Routes),
		handlers.WithPickupEventRoutes(handlers.NewPickupEventHandlers(container.Services.PickupEvents).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		httpLogger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received, draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
