package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/adapter/repo"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/apikeys"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
)

func main() {
	var (
		userFlag    string
		nameFlag    string
		rateFlag    int
		costFlag    int64
		disableFlag string
		enableFlag  string
	)

	flag.StringVar(&userFlag, "user", "", "owner user ID (UUID) whose wallet pays for the key's batches")
	flag.StringVar(&nameFlag, "name", "default", "label shown to operators")
	flag.IntVar(&rateFlag, "rate", 0, "requests per minute (<=0 uses the service default)")
	flag.Int64Var(&costFlag, "cost", 0, "credits per video (<=0 uses the service default)")
	flag.StringVar(&disableFlag, "disable", "", "disable the key with this ID")
	flag.StringVar(&enableFlag, "enable", "", "re-enable the key with this ID")
	flag.Parse()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "apikey").Logger()
	keys := repo.NewAPIKeyRepository(infra.NewSQLRunner(pool, logger))

	switch {
	case disableFlag != "":
		setStatus(ctx, keys, disableFlag, domain.APIKeyStatusDisabled)
		return
	case enableFlag != "":
		setStatus(ctx, keys, enableFlag, domain.APIKeyStatusActive)
		return
	}

	userID := strings.TrimSpace(userFlag)
	if _, err := uuid.Parse(userID); err != nil {
		exitWithError(fmt.Errorf("-user must be a UUID: %w", err))
	}

	raw, prefix, err := apikeys.Generate()
	if err != nil {
		exitWithError(fmt.Errorf("failed to generate key: %w", err))
	}
	key := &domain.APIKey{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Name:               strings.TrimSpace(nameFlag),
		Prefix:             prefix,
		RateLimitPerMinute: max(rateFlag, 0),
		CostPerVideo:       max(costFlag, 0),
	}
	if err := keys.Create(ctx, key, apikeys.Hash(raw)); err != nil {
		exitWithError(fmt.Errorf("failed to create api key: %w", err))
	}

	fmt.Printf("API key %s created for user %s\n", key.ID, key.UserID)
	fmt.Printf("key=%s\n", raw)
	fmt.Println("store it now; only its hash is kept")
}

func setStatus(ctx context.Context, keys *repo.APIKeyRepositoryPG, id, status string) {
	if err := keys.SetStatus(ctx, strings.TrimSpace(id), status); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			exitWithError(fmt.Errorf("api key %s not found", id))
		}
		exitWithError(fmt.Errorf("failed to update api key: %w", err))
	}
	fmt.Printf("API key %s is now %s\n", id, status)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
