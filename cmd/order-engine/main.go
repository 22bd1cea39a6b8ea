package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dex-router/order-engine/internal/api"
	"github.com/dex-router/order-engine/internal/apperrors"
	"github.com/dex-router/order-engine/internal/breaker"
	"github.com/dex-router/order-engine/internal/config"
	"github.com/dex-router/order-engine/internal/executor"
	"github.com/dex-router/order-engine/internal/order"
	"github.com/dex-router/order-engine/internal/pipeline"
	"github.com/dex-router/order-engine/internal/queue"
	"github.com/dex-router/order-engine/internal/router"
	"github.com/dex-router/order-engine/internal/stream"
	"github.com/dex-router/order-engine/internal/venue"
	"github.com/dex-router/order-engine/pkg/database"
	"github.com/dex-router/order-engine/pkg/middleware"
	"github.com/dex-router/order-engine/pkg/observability"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("order-engine: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability)
	audit := observability.NewAuditLogger(logger)

	tracing, err := observability.NewTracingProvider(cfg.Observability)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: "1.0.0",
		Namespace:      "order_engine",
		Port:           cfg.Observability.MetricsPort,
		Enabled:        true,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer metrics.Shutdown(context.Background())
	go func() {
		if err := metrics.StartMetricsServer(cfg.Observability.MetricsPort); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "metrics server stopped", err)
		}
	}()

	perf := observability.NewPerformanceMonitor(logger)
	defer perf.Stop()

	db, err := database.NewPostgresDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	redisOpt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	asynqOpt := asynq.RedisClientOpt{Addr: redisOpt.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}

	criticalBus := make(chan *apperrors.Error, 64)
	go drainCriticalErrors(criticalBus, logger)

	onBreakerChange := func(venueTag string, from, to breaker.State) {
		logger.Warn(context.Background(), "circuit breaker transitioned", map[string]interface{}{
			"venue": venueTag,
			"from":  string(from),
			"to":    string(to),
		})
		metrics.RecordBreakerStateChange(context.Background(), venueTag, string(from), string(to))
	}
	breakers := breaker.NewRegistry(cfg.Breaker, onBreakerChange)

	jupiter := venue.WithBreaker(venue.NewJupiterAdapter(cfg.Venues.JupiterBaseURL), breakers.Get(string(venue.Jupiter)))
	raydium := venue.WithBreaker(venue.NewRaydiumAdapter(cfg.Venues.RaydiumBaseURL), breakers.Get(string(venue.Raydium)))
	adapters := []venue.Adapter{jupiter, raydium}

	store := order.NewPostgresStore(db)
	cache := order.NewRedisCache(redisClient)

	orderRouter := router.New(adapters, cfg.Router, logger)
	orderExecutor := executor.New(adapters, cfg.Executor, logger, metrics)

	workQueue := queue.New(asynqOpt, cfg.Queue)
	defer workQueue.Close()
	if cfg.Queue.DrainOnStartup {
		if n, err := workQueue.Drain(context.Background()); err != nil {
			logger.Warn(context.Background(), "failed to drain queue on startup", map[string]interface{}{"error": err.Error()})
		} else if n > 0 {
			logger.Info(context.Background(), "drained stale queue entries on startup", map[string]interface{}{"count": n})
		}
	}

	hub := stream.NewHub()
	worker := pipeline.New(store, cache, orderRouter, orderExecutor, hub, audit, metrics, logger, cfg.Queue, cfg.Cache)
	worker.SetCriticalBus(criticalBus)

	asynqServer := asynq.NewServer(asynqOpt, asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues:      map[string]int{workQueue.QueueName(): 1},
	})
	asynqMux := asynq.NewServeMux()
	asynqMux.HandleFunc(queue.TaskTypeOrder, worker.HandleOrderTask)

	go func() {
		if err := asynqServer.Run(asynqMux); err != nil {
			logger.Error(context.Background(), "asynq server stopped", err)
		}
	}()

	healthChecker := observability.NewHealthChecker(logger)
	healthChecker.RegisterCheck("postgres", observability.DatabaseHealthCheck(db.Health))
	healthChecker.RegisterCheck("redis", observability.RedisHealthCheck(redisClient.Health))

	apiDeps := api.Dependencies{
		Store:       store,
		Enqueuer:    workQueue,
		Hub:         hub,
		Admin:       workQueue,
		Health:      healthChecker,
		Metrics:     metrics,
		Logger:      logger,
		ExecutorCfg: cfg.Executor,
		AdminToken:  cfg.Server.AdminToken,
	}

	obsMiddleware := observability.NewObservabilityMiddleware(metrics, logger, observability.MiddlewareConfig{
		ServiceName: cfg.Observability.ServiceName,
	}, perf)

	handler := middleware.Recovery(logger)(
		middleware.CORS([]string{"*"})(
			obsMiddleware.HTTPMiddleware(api.NewRouter(apiDeps)),
		),
	)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(context.Background(), "order-engine listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "http server stopped", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(context.Background(), "shutdown signal received", nil)

	if err := workQueue.Pause(); err != nil {
		logger.Warn(context.Background(), "failed to pause queue during shutdown", map[string]interface{}{"error": err.Error()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownWait)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http server shutdown error", err)
	}

	asynqServer.Shutdown()
	hub.CloseAll()

	return nil
}

// drainCriticalErrors logs every SYSTEM-kind failure published onto the
// process-wide critical-error bus, grounded on the teacher's
// db.startHealthMonitoring background goroutine in pkg/database/postgres.go.
func drainCriticalErrors(bus <-chan *apperrors.Error, logger *observability.Logger) {
	for e := range bus {
		logger.Error(context.Background(), "critical error", e, map[string]interface{}{
			"kind":      string(e.Kind),
			"retryable": e.Retryable,
			"at":        e.At.Format(time.RFC3339),
		})
	}
}
