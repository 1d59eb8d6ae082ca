// Command migrate-json-to-postgres copies video records from the JSON
// datastore into Postgres so a deployment can move to the pgx backend without
// losing job history.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"vodforge/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/store.json", "path to the JSON datastore to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("VODFORGE_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, VODFORGE_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	source, err := storage.NewStorage(*jsonPath)
	if err != nil {
		logger.Error("failed to open JSON datastore", "path", *jsonPath, "error", err)
		os.Exit(1)
	}
	videos, err := source.ListVideos(ctx)
	if err != nil {
		logger.Error("failed to list videos", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded JSON datastore", "path", *jsonPath, "videos", len(videos))

	repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
		DSN:             dsn,
		ApplicationName: "vodforge-migrate",
	})
	if err != nil {
		logger.Error("failed to open postgres repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close(context.Background())

	importer, ok := repo.(storage.VideoImporter)
	if !ok {
		logger.Error("postgres repository does not support bulk import")
		os.Exit(1)
	}
	if err := importer.ImportVideos(ctx, videos); err != nil {
		logger.Error("failed to import videos", "error", err)
		os.Exit(1)
	}

	if err := verifyCount(ctx, dsn, len(videos)); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed", "videos", len(videos))
}

func verifyCount(ctx context.Context, dsn string, expected int) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	var actual int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM videos").Scan(&actual); err != nil {
		return fmt.Errorf("count videos: %w", err)
	}
	if actual < expected {
		return fmt.Errorf("expected at least %d videos, found %d", expected, actual)
	}
	return nil
}
