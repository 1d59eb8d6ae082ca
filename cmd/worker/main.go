// Command worker consumes transcode jobs from the queue and runs ffmpeg
// renditions until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vodforge/internal/observability/logging"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/queue"
	"vodforge/internal/storage"
	"vodforge/internal/transcode"
	"vodforge/internal/worker"
)

func main() {
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	mode := flag.String("mode", "", "output mode (hls or progressive)")
	ladderPolicy := flag.String("ladder-policy", "", "rendition ladder policy (source-capped or full-ladder)")
	workers := flag.Int("workers", 0, "number of concurrent transcode jobs")
	jobTimeout := flag.Duration("job-timeout", 0, "per-job processing deadline")
	segmentSeconds := flag.Int("segment-seconds", 0, "HLS segment duration in seconds")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobeBinary := flag.String("ffprobe", "", "path to the ffprobe binary")
	queueRedisAddr := flag.String("queue-redis-addr", "", "Redis address for the transcode queue")
	queueRedisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the transcode queue")
	queueRedisUsername := flag.String("queue-redis-username", "", "Redis username for the transcode queue")
	queueRedisPassword := flag.String("queue-redis-password", "", "Redis password for the transcode queue")
	queueRedisMasterName := flag.String("queue-redis-master-name", "", "Redis sentinel master name for the transcode queue")
	queueStream := flag.String("queue-stream", "", "Redis stream key for transcode jobs")
	queueGroup := flag.String("queue-group", "", "Redis consumer group for transcode jobs")
	queueMaxAttempts := flag.Int("queue-max-attempts", 0, "delivery attempts before a job is dropped")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("VODFORGE_LOG_LEVEL"))})
	recorder := metrics.Default()

	outputMode, err := transcode.ParseMode(firstNonEmpty(*mode, os.Getenv("VODFORGE_MODE")))
	if err != nil {
		logger.Error("invalid output mode", "error", err)
		os.Exit(1)
	}
	policy, err := transcode.ParseLadderPolicy(firstNonEmpty(*ladderPolicy, os.Getenv("VODFORGE_LADDER_POLICY")))
	if err != nil {
		logger.Error("invalid ladder policy", "error", err)
		os.Exit(1)
	}

	store, err := buildStore(storeOptions{
		Driver:   firstNonEmpty(*storageDriver, os.Getenv("VODFORGE_STORAGE_DRIVER")),
		DataPath: firstNonEmpty(*dataPath, os.Getenv("VODFORGE_DATA"), "data/store.json"),
		DSN:      firstNonEmpty(*postgresDSN, os.Getenv("VODFORGE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		AppName:  "vodforge-worker",
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

	encoder := transcode.NewFFmpeg(transcode.FFmpegConfig{
		Binary:         firstNonEmpty(*ffmpegBinary, os.Getenv("VODFORGE_FFMPEG")),
		ProbeBinary:    firstNonEmpty(*ffprobeBinary, os.Getenv("VODFORGE_FFPROBE")),
		SegmentSeconds: resolveInt(*segmentSeconds, "VODFORGE_SEGMENT_SECONDS"),
		Logger:         logging.WithComponent(logger, "ffmpeg"),
	})

	pipeline := transcode.NewPipeline(transcode.PipelineConfig{
		Store:   store,
		Encoder: encoder,
		Planner: transcode.Planner{Policy: policy},
		Mode:    outputMode,
		Metrics: recorder,
		Logger:  logging.WithComponent(logger, "pipeline"),
	})

	pool, err := worker.New(worker.Config{
		Queue:      jobQueue,
		Processor:  pipeline,
		Workers:    resolveInt(*workers, "VODFORGE_WORKERS"),
		JobTimeout: resolveDuration(*jobTimeout, "VODFORGE_JOB_TIMEOUT"),
		Logger:     logging.WithComponent(logger, "worker"),
		Metrics:    recorder,
	})
	if err != nil {
		logger.Error("worker setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.Start()
	logger.Info("vodforge worker running", "mode", string(outputMode), "policy", string(policy))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker shutdown incomplete", "error", err)
	}
	if err := jobQueue.Close(); err != nil {
		logger.Warn("failed to close queue", "error", err)
	}
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := store.Close(closeCtx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("worker stopped")
}

type storeOptions struct {
	Driver   string
	DataPath string
	DSN      string
	AppName  string
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
			DSN:             opts.DSN,
			ApplicationName: opts.AppName,
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
