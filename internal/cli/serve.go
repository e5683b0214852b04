package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"farmconnect/internal/api"
	"farmconnect/internal/auth"
	"farmconnect/internal/automation"
	"farmconnect/internal/messaging"
	"farmconnect/internal/notify"
	"farmconnect/internal/redis"
	"farmconnect/internal/service/directory"
	"farmconnect/internal/worker"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
		logger.Info("redis cache enabled", "host", cfg.Redis.Host, "port", cfg.Redis.Port)
	}

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}, logger)

	bus := messaging.NewBus()
	store := messaging.NewStore(db, bus, logger,
		messaging.WithUnreadCache(messaging.NewUnreadCache(rdb, logger)),
	)
	notifier := notify.New(cfg.Webhook, dispatcher, logger)
	bus.Subscribe(notifier.HandleMessageAppended)
	if !notifier.Enabled() {
		logger.Info("webhook notifications disabled")
	}

	guard := messaging.NewGuard(logger)
	gateway := automation.NewGateway(cfg.Automation, cfg.Webhook, store, logger)
	if cfg.Automation.Secret == "" {
		logger.Warn("automation secret not configured, automation endpoints will reject every request")
	}
	authService := auth.NewService(db, rdb, time.Duration(cfg.BasicConfig.TokenTTL)*time.Hour, logger)
	dir := directory.NewService(db, guard, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	api.NewHandler(dir, authService, store, guard, gateway, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			dispatcher.Stop(context.Background())
			return fmt.Errorf("server stopped: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	// requests are finished, so no new webhook jobs can arrive
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Error("webhook queue not drained", "error", err)
	}
	return nil
}
