package queue

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"vodforge/internal/models"
)

const (
	defaultStream      = "vodforge:transcode"
	defaultGroup       = "transcode-workers"
	defaultMaxAttempts = 3
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisQueueConfig configures the Redis Streams queue implementation.
type RedisQueueConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Stream       string
	Group        string
	MaxAttempts  int
	Logger       *slog.Logger
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BlockTimeout time.Duration
	Buffer       int
	PoolSize     int
	MasterName   string
	TLS          RedisTLSConfig
}

// NewRedisQueue initialises a queue backed by Redis Streams. The caller is
// responsible for ensuring the Redis instance is reachable.
func NewRedisQueue(cfg RedisQueueConfig) (Queue, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = defaultStream
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = defaultGroup
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	queue := &redisQueue{
		client:       client,
		stream:       stream,
		group:        group,
		maxAttempts:  cfg.MaxAttempts,
		blockTimeout: cfg.BlockTimeout,
		logger:       cfg.Logger,
		buffer:       cfg.Buffer,
	}
	if queue.logger == nil {
		queue.logger = slog.Default()
	}
	if queue.blockTimeout <= 0 {
		queue.blockTimeout = 2 * time.Second
	}
	if err := queue.ensureGroup(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

type redisQueue struct {
	client       redis.UniversalClient
	stream       string
	group        string
	maxAttempts  int
	blockTimeout time.Duration
	logger       *slog.Logger
	buffer       int

	groupMu    sync.Mutex
	groupReady atomic.Bool
}

func (q *redisQueue) Enqueue(ctx context.Context, job models.TranscodeJob) (string, error) {
	if strings.TrimSpace(job.VideoID) == "" {
		return "", errors.New("job video id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		return "", err
	}
	reply, err := q.client.Do(ctx, "XADD", q.stream, "*", "payload", string(payload)).Result()
	if err != nil {
		return "", err
	}
	id, _ := asString(reply)
	return id, nil
}

func (q *redisQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.ensureGroup(ctx); err != nil {
		q.logger.Error("redis queue group setup failed", "error", err)
	}
	sub := &redisSubscription{
		queue:    q,
		consumer: randomConsumerID(),
		cancel:   cancel,
		ch:       make(chan Delivery, q.buffer),
		done:     make(chan struct{}),
	}
	go sub.run(ctx)
	return sub
}

func (q *redisQueue) Ack(ctx context.Context, d Delivery) error {
	if d.ID == "" {
		return nil
	}
	_, err := q.client.Do(ctx, "XACK", q.stream, q.group, d.ID).Result()
	return err
}

// Retry acknowledges the delivery and re-enqueues the job with its attempt
// counter advanced. Once the attempt budget is spent the job is dropped and
// Retry reports false.
func (q *redisQueue) Retry(ctx context.Context, d Delivery) (bool, error) {
	if err := q.Ack(ctx, d); err != nil {
		return false, err
	}
	next := d.Job.Attempt + 1
	if next >= q.maxAttempts {
		return false, nil
	}
	job := d.Job
	job.Attempt = next
	if _, err := q.Enqueue(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

func (q *redisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}

func (q *redisQueue) ensureGroup(ctx context.Context) error {
	if q.groupReady.Load() {
		return nil
	}
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady.Load() {
		return nil
	}
	// The group starts at 0 so jobs enqueued before the first worker boots
	// are still consumed.
	_, err := q.client.Do(ctx, "XGROUP", "CREATE", q.stream, q.group, "0", "MKSTREAM").Result()
	if err != nil {
		if isBusyGroup(err) {
			q.groupReady.Store(true)
			return nil
		}
		return err
	}
	q.groupReady.Store(true)
	return nil
}

type redisSubscription struct {
	queue    *redisQueue
	consumer string
	cancel   context.CancelFunc

	once sync.Once
	ch   chan Delivery
	done chan struct{}
}

func (s *redisSubscription) Deliveries() <-chan Delivery {
	return s.ch
}

// Close cancels the subscription and waits for its read loop to finish. The
// read loop owns the delivery channel and closes it on exit, so a delivery
// mid-handoff is requeued rather than sent after close.
func (s *redisSubscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	<-s.done
}

func (s *redisSubscription) run(ctx context.Context) {
	defer func() {
		s.cancel()
		close(s.ch)
		close(s.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.queue.ensureGroup(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.queue.logger.Warn("redis queue group ensure failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		entries, err := s.read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.queue.logger.Warn("redis queue read failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, entry := range entries {
			var job models.TranscodeJob
			if err := json.Unmarshal(entry.Payload, &job); err != nil {
				s.queue.logger.Error("redis queue decode failed", "id", entry.ID, "error", err)
				s.ack(ctx, entry.ID)
				continue
			}
			select {
			case s.ch <- Delivery{ID: entry.ID, Job: job}:
				// Acked by the consumer once processing finishes.
			case <-ctx.Done():
				s.requeueEntry(entry)
				return
			}
		}
	}
}

func (s *redisSubscription) ack(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := s.queue.client.Do(ctx, "XACK", s.queue.stream, s.queue.group, id).Result(); err != nil {
		s.queue.logger.Warn("redis ack failed", "id", id, "error", err)
	}
}

// requeueEntry hands an undelivered entry back to the stream when the
// subscription is torn down mid-handoff, so another consumer picks it up
// instead of it sitting in this consumer's pending list.
func (s *redisSubscription) requeueEntry(entry redisStreamEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.ack(ctx, entry.ID)
	if len(entry.Payload) == 0 {
		return
	}
	if _, err := s.queue.client.Do(ctx, "XADD", s.queue.stream, "*", "payload", string(entry.Payload)).Result(); err != nil {
		s.queue.logger.Warn("redis requeue failed", "id", entry.ID, "error", err)
	}
}

type redisStreamEntry struct {
	ID      string
	Payload []byte
}

func (s *redisSubscription) read(ctx context.Context) ([]redisStreamEntry, error) {
	blockMs := int(math.Max(float64(s.queue.blockTimeout.Milliseconds()), 1))
	reply, err := s.queue.client.Do(
		ctx,
		"XREADGROUP",
		"GROUP",
		s.queue.group,
		s.consumer,
		"COUNT",
		"8",
		"BLOCK",
		strconv.Itoa(blockMs),
		"STREAMS",
		s.queue.stream,
		">",
	).Result()
	if err != nil {
		if isNilReply(err) {
			return nil, nil
		}
		return nil, err
	}
	streams, ok := reply.([]interface{})
	if !ok || len(streams) == 0 {
		return nil, nil
	}
	var entries []redisStreamEntry
	for _, stream := range streams {
		parts, ok := stream.([]interface{})
		if !ok || len(parts) != 2 {
			continue
		}
		records, _ := parts[1].([]interface{})
		for _, record := range records {
			tuple, ok := record.([]interface{})
			if !ok || len(tuple) != 2 {
				continue
			}
			id, _ := asString(tuple[0])
			fields, _ := tuple[1].([]interface{})
			payload := extractPayload(fields)
			if id == "" || len(payload) == 0 {
				continue
			}
			entries = append(entries, redisStreamEntry{ID: id, Payload: payload})
		}
	}
	return entries, nil
}

func extractPayload(fields []interface{}) []byte {
	for i := 0; i < len(fields); i += 2 {
		key, _ := asString(fields[i])
		if strings.EqualFold(key, "payload") && i+1 < len(fields) {
			value, _ := asString(fields[i+1])
			if value != "" {
				return []byte(value)
			}
		}
	}
	return nil
}

func asString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func isBusyGroup(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "busygroup")
}

func isNilReply(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "nil reply")
}

func randomConsumerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("consumer-%s", hex.EncodeToString(buf))
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		certPath := filepath.Clean(cfg.CertFile)
		keyPath := filepath.Clean(cfg.KeyFile)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
