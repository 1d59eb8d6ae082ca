// Command server starts the vodforge upload and catalog HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vodforge/internal/api"
	"vodforge/internal/observability/logging"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/queue"
	"vodforge/internal/server"
	"vodforge/internal/serverutil"
	"vodforge/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when establishing Postgres connections")
	uploadDir := flag.String("upload-dir", "", "directory for uploaded source files")
	outputRoot := flag.String("output-root", "", "root directory for transcoded output")
	maxUploadMB := flag.Int("max-upload-mb", 0, "maximum upload size in megabytes")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed cross-origin access")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum uploads per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting uploads")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate limiter Redis operations")
	queueRedisAddr := flag.String("queue-redis-addr", "", "Redis address for the transcode queue")
	queueRedisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the transcode queue")
	queueRedisUsername := flag.String("queue-redis-username", "", "Redis username for the transcode queue")
	queueRedisPassword := flag.String("queue-redis-password", "", "Redis password for the transcode queue")
	queueRedisMasterName := flag.String("queue-redis-master-name", "", "Redis sentinel master name for the transcode queue")
	queueStream := flag.String("queue-stream", "", "Redis stream key for transcode jobs")
	queueGroup := flag.String("queue-group", "", "Redis consumer group for transcode jobs")
	queueMaxAttempts := flag.Int("queue-max-attempts", 0, "delivery attempts before a job is dropped")
	sweepInterval := flag.Duration("upload-sweep-interval", 15*time.Minute, "how often stale upload temp files are swept")
	sweepMaxAge := flag.Duration("upload-sweep-max-age", time.Hour, "age after which an unfinished upload temp file is removed")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("VODFORGE_LOG_LEVEL"))})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("VODFORGE_ADDR"), ":8080")
	uploads := firstNonEmpty(*uploadDir, os.Getenv("VODFORGE_UPLOAD_DIR"), "data/uploads")
	outputs := firstNonEmpty(*outputRoot, os.Getenv("VODFORGE_OUTPUT_ROOT"), "data/output")

	store, err := buildStore(storeOptions{
		Driver:          firstNonEmpty(*storageDriver, os.Getenv("VODFORGE_STORAGE_DRIVER")),
		DataPath:        firstNonEmpty(*dataPath, os.Getenv("VODFORGE_DATA"), "data/store.json"),
		DSN:             firstNonEmpty(*postgresDSN, os.Getenv("VODFORGE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		MaxConns:        resolveInt(*postgresMaxConns, "VODFORGE_POSTGRES_MAX_CONNS"),
		MinConns:        resolveInt(*postgresMinConns, "VODFORGE_POSTGRES_MIN_CONNS"),
		MaxConnLifetime: resolveDuration(*postgresMaxConnLifetime, "VODFORGE_POSTGRES_MAX_CONN_LIFETIME"),
		MaxConnIdle:     resolveDuration(*postgresMaxConnIdle, "VODFORGE_POSTGRES_MAX_CONN_IDLE"),
		HealthInterval:  resolveDuration(*postgresHealthInterval, "VODFORGE_POSTGRES_HEALTH_INTERVAL"),
		ConnectTimeout:  resolveDuration(*postgresConnectTimeout, "VODFORGE_POSTGRES_CONNECT_TIMEOUT"),
		AppName:         "vodforge-server",
	})
	if err != nil {
		logger.Error("datastore setup failed", "error", err)
		os.Exit(1)
	}

	jobQueue, err := queue.NewRedisQueue(queue.RedisQueueConfig{
		Addr:        firstNonEmpty(*queueRedisAddr, os.Getenv("VODFORGE_QUEUE_REDIS_ADDR"), "127.0.0.1:6379"),
		Addrs:       splitAndTrim(firstNonEmpty(*queueRedisAddrs, os.Getenv("VODFORGE_QUEUE_REDIS_ADDRS"))),
		Username:    firstNonEmpty(*queueRedisUsername, os.Getenv("VODFORGE_QUEUE_REDIS_USERNAME")),
		Password:    firstNonEmpty(*queueRedisPassword, os.Getenv("VODFORGE_QUEUE_REDIS_PASSWORD")),
		MasterName:  firstNonEmpty(*queueRedisMasterName, os.Getenv("VODFORGE_QUEUE_REDIS_MASTER_NAME")),
		Stream:      firstNonEmpty(*queueStream, os.Getenv("VODFORGE_QUEUE_STREAM")),
		Group:       firstNonEmpty(*queueGroup, os.Getenv("VODFORGE_QUEUE_GROUP")),
		MaxAttempts: resolveInt(*queueMaxAttempts, "VODFORGE_QUEUE_MAX_ATTEMPTS"),
		Logger:      logging.WithComponent(logger, "queue"),
	})
	if err != nil {
		logger.Error("queue setup failed", "error", err)
		os.Exit(1)
	}

	handler := &api.Handler{
		Store:          store,
		Queue:          jobQueue,
		Logger:         logging.WithComponent(logger, "api"),
		UploadDir:      uploads,
		OutputRoot:     outputs,
		MaxUploadBytes: int64(resolveInt(*maxUploadMB, "VODFORGE_MAX_UPLOAD_MB")) << 20,
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		MediaRoot: outputs,
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("VODFORGE_CORS_ORIGINS"))),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     *globalRPS,
			GlobalBurst:   *globalBurst,
			UploadLimit:   resolveInt(*uploadLimit, "VODFORGE_RATE_UPLOAD_LIMIT"),
			UploadWindow:  resolveDuration(*uploadWindow, "VODFORGE_RATE_UPLOAD_WINDOW"),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("VODFORGE_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("VODFORGE_RATE_REDIS_PASSWORD")),
			RedisTimeout:  *rateRedisTimeout,
		},
		Logger:  logging.WithComponent(logger, "http"),
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopSweeper := startUploadSweeper(ctx, logging.WithComponent(logger, "sweeper"), uploads, *sweepMaxAge, *sweepInterval)
	defer stopSweeper()

	logger.Info("vodforge API listening", "addr", listenAddr)
	logger.Info("metrics endpoint available", "path", "/metrics")

	runErr := serverutil.Run(ctx, serverutil.Config{Server: srv.HTTPServer()})
	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		logger.Error("server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := jobQueue.Close(); err != nil {
		logger.Warn("failed to close queue", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		os.Exit(1)
	}
}

type storeOptions struct {
	Driver          string
	DataPath        string
	DSN             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdle     time.Duration
	HealthInterval  time.Duration
	ConnectTimeout  time.Duration
	AppName         string
}

func buildStore(opts storeOptions) (storage.Repository, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" {
		if opts.DSN != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}
	switch driver {
	case "json":
		return storage.NewStorage(opts.DataPath)
	case "postgres":
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres storage selected without DSN")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:                 opts.DSN,
			MaxConnections:      int32(opts.MaxConns),
			MinConnections:      int32(opts.MinConns),
			MaxConnLifetime:     opts.MaxConnLifetime,
			MaxConnIdleTime:     opts.MaxConnIdle,
			HealthCheckInterval: opts.HealthInterval,
			ConnectTimeout:      opts.ConnectTimeout,
			ApplicationName:     opts.AppName,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := strconv.Atoi(env); err == nil && value > 0 {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := time.ParseDuration(env); err == nil && value > 0 {
			return value
		}
	}
	return 0
}
