package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/stripe/stripe-go/v78"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/adapter/repo"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/batch"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/billing"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/dispatch"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/guard"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/http/handlers"
	httpapi "github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/http/httpapi"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra/geoip"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/ledger"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/metrics"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/middleware"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		// Intake keeps working in pull mode.
		logger.Warn().Err(err).Msg("redis unavailable, batches wait for the pull worker")
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	m := metrics.New("api")
	batches := repo.NewBatchRepository(runner)
	wallet := ledger.NewClient(runner, m)

	svc := batch.NewService(batch.Options{
		Batches:        batches,
		Ledger:         wallet,
		Guard:          guard.New(repo.NewUsageRepository(runner), cfg.EnterpriseRateLimit),
		Dispatcher:     dispatch.New(rdb, batches, cfg.RedisQueueKey, logger, m),
		Recorder:       m,
		Logger:         logger,
		EnterpriseCost: cfg.EnterpriseCostPerVideo,
	})

	var country middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.GeoIPDBPath).Msg("geoip database not loaded")
	}
	if resolver != nil {
		defer resolver.Close()
		country = resolver.CountryCode
	}

	stripe.Key = cfg.StripeSecretKey

	router := httpapi.NewRouter(httpapi.Deps{
		App:             handlers.NewApp(svc, country, logger),
		Keys:            repo.NewAPIKeyRepository(runner),
		Stripe:          billing.NewWebhookHandler(cfg.StripeWebhookSecret, wallet, logger),
		Metrics:         m.Handler(),
		Logger:          logger,
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("queue_mode", dispatchMode(cfg)).Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func dispatchMode(cfg *infra.Config) string {
	if cfg.QueueEnabled() {
		return dispatch.ModeQueue
	}
	return dispatch.ModePull
}
