package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra/credentials"
)

func main() {
	var keyFlag, baseURLFlag string
	flag.StringVar(&keyFlag, "key", "", "Grsai API key (falls back to GRSAI_API_KEY)")
	flag.StringVar(&baseURLFlag, "base-url", "", "optional Grsai base URL override")
	flag.Parse()

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GRSAI_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "GRSAI API key is required via -key or environment")
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providerkey").Str("provider", credentials.ProviderGrsai).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	ctxExec, cancelExec := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelExec()
	if err := store.SetGrsaiAPIKey(ctxExec, key, baseURLFlag); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist grsai api key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("GRSAI API key stored successfully")
}
