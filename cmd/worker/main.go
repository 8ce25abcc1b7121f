package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/adapter/repo"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/dispatch"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra/credentials"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/ledger"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/metrics"
	videoprovider "github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/providers/video"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/webhook"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/worker"
)

const syntheticDelay = 2 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	m := metrics.New("worker")

	apiKey := strings.TrimSpace(cfg.GrsaiAPIKey)
	if apiKey == "" {
		keyFromStore, err := credentials.NewStore(runner).GrsaiAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("worker: failed to load grsai api key from store")
		} else {
			apiKey = keyFromStore
		}
	}

	var generator videoprovider.Generator
	grsai := videoprovider.NewGrsai(videoprovider.GrsaiOptions{
		APIKey:     apiKey,
		BaseURL:    cfg.GrsaiBaseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     &logger,
	})
	if grsai.HasCredentials() {
		generator = grsai
	} else {
		logger.Warn().Msg("worker: grsai api key missing, using synthetic video generation")
		generator = videoprovider.NewSynthetic(syntheticDelay)
	}

	notifier, err := webhook.NewNotifier(cfg.WebhookSigningSecret, &http.Client{Timeout: 10 * time.Second}, logger, m)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure webhook notifier")
	}

	store := repo.NewBatchRepository(runner)
	proc := worker.NewProcessor(store, generator, ledger.NewClient(runner, m), notifier, m, logger, cfg.TaskParallelism)

	var queue worker.Queue
	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: redis unavailable, polling the database only")
	} else if rdb != nil {
		defer rdb.Close()
		queue = dispatch.NewConsumer(rdb, cfg.RedisQueueKey)
	}

	if addr := strings.TrimSpace(cfg.WorkerMetricsAddr); addr != "" {
		go serveMetrics(addr, m.Handler(), logger)
	}

	r := worker.NewRunner(store, proc, queue, m, logger, worker.Options{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		QueueGrace:   cfg.QueueGrace,
		OrphanTTL:    cfg.OrphanBatchTTL,
		StalledAfter: cfg.StalledBatchAfter,
	})
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func serveMetrics(addr string, h http.Handler, logger infra.Logger) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("worker: metrics server failed")
	}
}
