package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/visionbench/internal/config"
	"github.com/kiranshivaraju/visionbench/internal/store"
)

// opener connects to the store named by a database URL. The returned func
// releases it.
type opener func(ctx context.Context, databaseURL string) (store.Store, func(), error)

type globals struct {
	databaseURL   string
	migrationsDir string
	open          opener
}

func newRootCmd(open opener) *cobra.Command {
	g := &globals{open: open}

	root := &cobra.Command{
		Use:           "benchctl",
		Short:         "Operate a VisionBench deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL")
	root.PersistentFlags().StringVar(&g.migrationsDir, "migrations", envOrDefault("MIGRATIONS_DIR", "migrations"), "directory holding the SQL migrations")

	root.AddCommand(
		newMigrateCmd(g),
		newKeysCmd(g),
		newEstimateCmd(g),
		newResampleCmd(g),
	)
	return root
}

func (g *globals) requireDatabase() error {
	if g.databaseURL == "" {
		return errors.New("--database-url or DATABASE_URL is required")
	}
	return nil
}

func (g *globals) store(ctx context.Context) (store.Store, func(), error) {
	if err := g.requireDatabase(); err != nil {
		return nil, nil, err
	}
	return g.open(ctx, g.databaseURL)
}

func postgresOpener(ctx context.Context, databaseURL string) (store.Store, func(), error) {
	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:             databaseURL,
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envIntOrDefault(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
