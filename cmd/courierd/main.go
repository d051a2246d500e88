// cmd/courierd/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailcourier/internal/audit"
	"mailcourier/internal/common/config"
	"mailcourier/internal/common/database"
	"mailcourier/internal/common/logger"
	"mailcourier/internal/common/observability"
	"mailcourier/internal/models"
	"mailcourier/internal/provider"
	"mailcourier/internal/queue"
	"mailcourier/internal/status"
	"mailcourier/internal/store"
	"mailcourier/internal/webhook"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting courierd...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New("courierd")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rd *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rd, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rd.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rd.Close()
	zapLog.Info("Redis connected successfully")

	// --- Stores ---
	messages := store.NewPostgresMessageStore(pg.DB)
	jobs := store.NewPostgresJobStore(pg.DB)
	adapters := store.NewPostgresAdapterStore(pg.DB)
	webhooks := store.NewPostgresWebhookStore(pg.DB)

	// --- Status tracker and its observers ---
	tracker := status.NewTracker(messages, log)

	dispatcher := webhook.NewDispatcher(webhooks, jobs, cfg.Webhooks.MaxAttempts, log)
	tracker.AddListener(dispatcher)

	// --- Init Elasticsearch with retry (optional) ---
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")

		tracker.AddListener(audit.NewIndexer(esClient.Client, cfg.Database.Elasticsearch.Index, log))
	}

	// --- Provider registry and queue handlers ---
	registry := provider.NewRegistry(log, cfg.Delivery.ProviderTimeout)
	limiter := queue.NewLimiter(rd.Client, log)

	deliveryHandler := queue.NewDeliveryHandler(
		cfg.Delivery, messages, adapters, registry, tracker, limiter, log,
	)
	webhookHandler := webhook.NewHandler(cfg.Webhooks, webhooks, log)

	deliveryPool := queue.NewPool(queue.PoolConfig{
		Queue:        models.QueueDelivery,
		Workers:      cfg.Delivery.Workers,
		PollInterval: cfg.Delivery.PollInterval,
		Visibility:   cfg.Delivery.VisibilityTimeout,
	}, jobs, deliveryHandler, obs, log)

	webhookPool := queue.NewPool(queue.PoolConfig{
		Queue:        models.QueueWebhooks,
		Workers:      cfg.Webhooks.Workers,
		PollInterval: cfg.Webhooks.PollInterval,
		Visibility:   cfg.Webhooks.VisibilityTimeout,
	}, jobs, webhookHandler, obs, log)

	// --- Metrics and health listener ---
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := pg.Ping(r.Context()); err != nil {
				http.Error(w, "postgres unreachable", http.StatusServiceUnavailable)
				return
			}
			if err := rd.Ping(r.Context()); err != nil {
				http.Error(w, "redis unreachable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})

		metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			zapLog.Info("Metrics listener started", zap.String("address", cfg.Metrics.Address))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zapLog.Error("Metrics listener failed", zap.Error(err))
			}
		}()
	}

	// --- Run pools ---
	runCtx, stop := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		deliveryPool.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		webhookPool.Run(runCtx)
	}()

	zapLog.Info("courierd running",
		zap.Int("deliveryWorkers", cfg.Delivery.Workers),
		zap.Int("webhookWorkers", cfg.Webhooks.Workers),
	)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining worker pools...")
	stop()
	wg.Wait()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			zapLog.Error("Metrics listener shutdown failed", zap.Error(err))
		}
	}

	zapLog.Info("courierd stopped")
}
