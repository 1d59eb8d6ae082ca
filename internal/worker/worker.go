// Package worker drains the transcode queue with a small pool of goroutines
// and drives the pipeline for each delivery. Duplicate deliveries for a video
// already being processed are acknowledged and skipped; failures are retried
// through the queue until the attempt budget runs out.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vodforge/internal/models"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/queue"
	"vodforge/internal/transcode"
)

// Processor runs one transcode job to completion.
type Processor interface {
	Process(ctx context.Context, job models.TranscodeJob) error
}

// Config wires the pool to its queue and pipeline.
type Config struct {
	Queue      queue.Queue
	Processor  Processor
	Workers    int
	JobTimeout time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

const (
	defaultWorkers    = 2
	defaultJobTimeout = 30 * time.Minute
)

// Pool consumes queue deliveries across a fixed number of workers.
type Pool struct {
	queue      queue.Queue
	processor  Processor
	workers    int
	jobTimeout time.Duration
	logger     *slog.Logger
	metrics    *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	sub    queue.Subscription
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

func New(cfg Config) (*Pool, error) {
	if cfg.Queue == nil {
		return nil, errors.New("worker: queue is required")
	}
	if cfg.Processor == nil {
		return nil, errors.New("worker: processor is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:      cfg.Queue,
		processor:  cfg.Processor,
		workers:    workers,
		jobTimeout: jobTimeout,
		logger:     logger,
		metrics:    recorder,
		ctx:        ctx,
		cancel:     cancel,
		inFlight:   make(map[string]struct{}),
	}, nil
}

func (p *Pool) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.sub = p.queue.Subscribe()
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Shutdown stops accepting new deliveries and waits for in-flight jobs to
// finish, up to the deadline on ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	if p.sub != nil {
		p.sub.Close()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case delivery, ok := <-p.sub.Deliveries():
			if !ok {
				return
			}
			p.handle(delivery)
		}
	}
}

func (p *Pool) handle(d queue.Delivery) {
	id := strings.TrimSpace(d.Job.VideoID)
	if id == "" {
		p.ackQuietly(d)
		return
	}
	if !p.beginWork(id) {
		// Another worker already owns this video; the idempotent pipeline
		// makes acknowledging the duplicate delivery safe.
		p.logger.Debug("duplicate delivery skipped", "video_id", id, "delivery_id", d.ID)
		p.ackQuietly(d)
		return
	}
	defer p.finishWork(id)

	// Jobs run under their own deadline so an in-flight encode is not cut
	// short by pool shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()

	err := p.processor.Process(ctx, d.Job)
	if err == nil {
		p.ack(ctx, d)
		return
	}
	if errors.Is(err, transcode.ErrVideoNotFound) {
		p.logger.Error("job references unknown video", "video_id", id, "delivery_id", d.ID, "error", err)
		p.ack(ctx, d)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("job timed out after %s: %w", p.jobTimeout, err)
	}
	p.retry(d, err)
}

func (p *Pool) retry(d queue.Delivery, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	requeued, err := p.queue.Retry(ctx, d)
	if err != nil {
		p.logger.Error("job retry failed", "video_id", d.Job.VideoID, "delivery_id", d.ID, "error", err, "cause", cause)
		return
	}
	if requeued {
		p.metrics.ObserveQueueRetry("requeued")
		p.logger.Warn("job requeued", "video_id", d.Job.VideoID, "attempt", d.Job.Attempt+1, "error", cause)
		return
	}
	p.metrics.ObserveQueueRetry("exhausted")
	p.logger.Error("job attempts exhausted", "video_id", d.Job.VideoID, "attempt", d.Job.Attempt, "error", cause)
}

func (p *Pool) ack(ctx context.Context, d queue.Delivery) {
	if err := p.queue.Ack(ctx, d); err != nil {
		p.logger.Warn("job ack failed", "video_id", d.Job.VideoID, "delivery_id", d.ID, "error", err)
	}
}

func (p *Pool) ackQuietly(d queue.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.ack(ctx, d)
}

func (p *Pool) beginWork(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[id]; exists {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pool) finishWork(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}
