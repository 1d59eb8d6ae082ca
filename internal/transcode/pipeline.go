package transcode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"vodforge/internal/models"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/storage"
)

// ErrVideoNotFound marks a job whose video identifier has no record in the
// store. The condition is a data-integrity failure: the worker acknowledges
// such jobs instead of retrying them.
var ErrVideoNotFound = errors.New("video record not found")

// PipelineConfig wires the orchestrator's collaborators.
type PipelineConfig struct {
	Store   storage.Repository
	Encoder Encoder
	Planner Planner
	Mode    Mode
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Pipeline sequences one transcode job end to end: record validation,
// probing, ladder planning, concurrent per-rendition encodes, manifest
// assembly, and the terminal status transition. One Pipeline serves all
// worker slots; it holds no per-job state.
type Pipeline struct {
	store   storage.Repository
	encoder Encoder
	planner Planner
	mode    Mode
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewPipeline constructs a Pipeline, defaulting the mode to HLS and the
// logger to slog.Default.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeHLS
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Pipeline{
		store:   cfg.Store,
		encoder: cfg.Encoder,
		planner: cfg.Planner,
		mode:    mode,
		metrics: recorder,
		logger:  logger,
	}
}

// Process runs one delivered job. A nil return acknowledges the job; any
// error has already been recorded as a failed status transition (except the
// not-found case, which has no record to transition) and is returned
// unchanged so the queue's retry policy can govern redelivery.
func (p *Pipeline) Process(ctx context.Context, job models.TranscodeJob) error {
	logger := p.logger.With("video_id", job.VideoID)

	record, ok, err := p.store.GetVideo(ctx, job.VideoID)
	if err != nil {
		return fmt.Errorf("load video %s: %w", job.VideoID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrVideoNotFound, job.VideoID)
	}
	if record.Status == models.StatusCompleted {
		logger.Info("video already completed, skipping duplicate delivery")
		return nil
	}

	p.metrics.JobStarted(string(p.mode))
	start := time.Now()
	if err := p.run(ctx, job, logger); err != nil {
		p.metrics.JobFailed(string(p.mode))
		p.markFailed(job.VideoID, err, logger)
		return err
	}
	p.metrics.JobCompleted(string(p.mode))
	logger.Info("video transcoded", "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *Pipeline) run(ctx context.Context, job models.TranscodeJob, logger *slog.Logger) error {
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return fmt.Errorf("prepare output dir: %w", err)
	}

	info, err := p.encoder.Probe(ctx, job.InputPath)
	if err != nil {
		return fmt.Errorf("probe source: %w", err)
	}
	ladder := p.planner.Plan(info.Height)
	labels := make([]string, len(ladder))
	for i, preset := range ladder {
		labels[i] = preset.Label
	}
	logger.Info("rendition ladder planned",
		"source_height", info.Height,
		"renditions", labels,
		"mode", string(p.mode),
	)

	outputDir := job.OutputDir
	if p.mode == ModeHLS {
		outputDir = filepath.Join(job.OutputDir, "hls")
	}

	outputs := make([]string, len(ladder))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, preset := range ladder {
		i, preset := i, preset
		group.Go(func() error {
			result, err := p.encoder.Encode(groupCtx, EncodeRequest{
				InputPath:      job.InputPath,
				OutputDir:      outputDir,
				Preset:         preset,
				Mode:           p.mode,
				SourceDuration: info.Duration,
				Progress:       p.progressSink(logger),
			})
			if err != nil {
				return fmt.Errorf("encode %s: %w", preset.Label, err)
			}
			outputs[i] = result.OutputPath
			p.metrics.ObserveEncode(preset.Label, result.Elapsed)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	renditions := make(map[string]string, len(ladder))
	for i, preset := range ladder {
		renditions[preset.Label] = filepath.ToSlash(outputs[i])
	}

	update := storage.VideoUpdate{
		Status:     stringPtr(models.StatusCompleted),
		Renditions: renditions,
		Error:      stringPtr(""),
	}
	if p.mode == ModeHLS {
		masterPath, err := WriteMasterManifest(outputDir, ladder)
		if err != nil {
			return fmt.Errorf("write master manifest: %w", err)
		}
		update.MasterPlaylist = stringPtr(filepath.ToSlash(masterPath))
	}
	if _, err := p.store.UpdateVideo(ctx, job.VideoID, update); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}

	p.removeSource(job.InputPath, logger)
	return nil
}

// removeSource deletes the uploaded original after a successful run. The
// deletion is best-effort: a source already removed by an earlier attempt
// must not fail the job.
func (p *Pipeline) removeSource(inputPath string, logger *slog.Logger) {
	if err := os.Remove(inputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to remove source file", "path", inputPath, "error", err)
	}
}

// markFailedTimeout bounds the status write that records a failure.
const markFailedTimeout = 10 * time.Second

// markFailed transitions the record to failed, persisting only the status and
// failure reason. Renditions already on disk are left in place but never
// referenced by the record. The write runs on its own context: the failure
// frequently is the job context expiring, and the transition must still land.
func (p *Pipeline) markFailed(videoID string, cause error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), markFailedTimeout)
	defer cancel()
	_, err := p.store.UpdateVideo(ctx, videoID, storage.VideoUpdate{
		Status: stringPtr(models.StatusFailed),
		Error:  stringPtr(cause.Error()),
	})
	if err != nil {
		logger.Error("failed to mark video failed", "error", err, "failure", cause)
		return
	}
	logger.Error("video transcode failed", "error", cause)
}

func (p *Pipeline) progressSink(logger *slog.Logger) ProgressFunc {
	return func(label string, percent int) {
		if percent%10 == 0 {
			logger.Debug("encode progress", "rendition", label, "percent", percent)
		}
	}
}

func stringPtr(s string) *string {
	return &s
}
