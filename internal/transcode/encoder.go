package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Mode selects the output form the executor produces per rendition.
type Mode string

const (
	// ModeProgressive writes one faststart MP4 file per rendition.
	ModeProgressive Mode = "progressive"

	// ModeHLS writes one segment playlist plus media segments per rendition.
	ModeHLS Mode = "hls"
)

// ParseMode resolves a configuration string onto a Mode.
func ParseMode(value string) (Mode, error) {
	switch value {
	case "", string(ModeHLS):
		return ModeHLS, nil
	case string(ModeProgressive):
		return ModeProgressive, nil
	default:
		return "", fmt.Errorf("unknown output mode %q", value)
	}
}

// ProgressFunc receives encode progress as a whole percentage. Implementations
// must not block; the executor calls it from the process's stderr reader.
type ProgressFunc func(label string, percent int)

// EncodeRequest describes one rendition encode.
type EncodeRequest struct {
	InputPath string
	OutputDir string
	Preset    Preset
	Mode      Mode

	// SourceDuration, when known, lets the executor translate ffmpeg's
	// time= reports into a percentage for Progress.
	SourceDuration time.Duration
	Progress       ProgressFunc
}

// EncodeResult reports the artifact produced by a successful encode.
type EncodeResult struct {
	OutputPath string
	Elapsed    time.Duration
}

// Encoder abstracts the external transcoding engine so the pipeline can be
// exercised without an ffmpeg binary. Implementations must be safe for
// concurrent use.
type Encoder interface {
	Probe(ctx context.Context, inputPath string) (SourceInfo, error)
	Encode(ctx context.Context, req EncodeRequest) (EncodeResult, error)
}

// FFmpegConfig configures the subprocess-backed Encoder.
type FFmpegConfig struct {
	Binary         string
	ProbeBinary    string
	SegmentSeconds int
	Logger         *slog.Logger
}

// FFmpeg drives the ffmpeg and ffprobe binaries. One rendition maps to one
// process invocation; the process's clean exit is the only success signal.
type FFmpeg struct {
	binary         string
	probeBinary    string
	segmentSeconds int
	logger         *slog.Logger
}

const defaultSegmentSeconds = 10

// NewFFmpeg constructs an FFmpeg encoder, defaulting the binaries to the
// names resolved through PATH.
func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	binary := cfg.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	probeBinary := cfg.ProbeBinary
	if probeBinary == "" {
		probeBinary = "ffprobe"
	}
	segmentSeconds := cfg.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = defaultSegmentSeconds
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		binary:         binary,
		probeBinary:    probeBinary,
		segmentSeconds: segmentSeconds,
		logger:         logger,
	}
}

// Probe reads the source's container and stream metadata.
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (SourceInfo, error) {
	return probeFile(ctx, f.probeBinary, inputPath)
}

// Encode runs one ffmpeg invocation for the requested rendition. The target
// directory is created idempotently, so concurrent renditions of one job may
// share it.
func (f *FFmpeg) Encode(ctx context.Context, req EncodeRequest) (EncodeResult, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return EncodeResult{}, fmt.Errorf("prepare output dir: %w", err)
	}
	outputPath := renditionOutputPath(req.OutputDir, req.Preset, req.Mode)
	args := encodeArgs(req, outputPath, f.segmentSeconds)

	stderr := newStderrScanner(req.Preset.Label, req.SourceDuration, req.Progress)
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Stderr = stderr

	f.logger.Debug("ffmpeg starting", "rendition", req.Preset.Label, "output", outputPath)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return EncodeResult{}, fmt.Errorf("ffmpeg %s: %w: %s", req.Preset.Label, err, stderr.Tail())
	}
	elapsed := time.Since(start)
	if req.Progress != nil {
		req.Progress(req.Preset.Label, 100)
	}
	f.logger.Info("rendition encoded",
		"rendition", req.Preset.Label,
		"output", outputPath,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return EncodeResult{OutputPath: outputPath, Elapsed: elapsed}, nil
}

func renditionOutputPath(dir string, preset Preset, mode Mode) string {
	if mode == ModeHLS {
		return filepath.Join(dir, preset.Label+".m3u8")
	}
	return filepath.Join(dir, preset.Label+".mp4")
}

// encodeArgs builds the full ffmpeg argument list for one rendition. Exported
// behaviour is covered by tests; keep the option order stable.
func encodeArgs(req EncodeRequest, outputPath string, segmentSeconds int) []string {
	args := []string{
		"-y",
		"-i", req.InputPath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:v", req.Preset.VideoBitrate(),
		"-b:a", req.Preset.AudioBitrate(),
		"-vf", req.Preset.ScaleFilter(),
		"-preset", "fast",
		"-crf", "23",
	}
	if req.Mode == ModeHLS {
		segmentPattern := filepath.Join(req.OutputDir, req.Preset.Label+"_%03d.ts")
		args = append(args,
			"-f", "hls",
			"-hls_time", strconv.Itoa(segmentSeconds),
			"-hls_list_size", "0",
			"-hls_segment_filename", segmentPattern,
		)
	} else {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, outputPath)
}

var progressTimeRe = regexp.MustCompile(`time=(\d+):(\d\d):(\d\d(?:\.\d+)?)`)

// stderrScanner splits ffmpeg's stderr into lines (ffmpeg rewrites its status
// line with carriage returns), extracts time= progress reports, and keeps a
// bounded tail so a failing process's diagnostics survive into the error.
type stderrScanner struct {
	label    string
	duration time.Duration
	progress ProgressFunc

	lastPercent int
	partial     bytes.Buffer
	tail        []string
}

const stderrTailLines = 8

func newStderrScanner(label string, duration time.Duration, progress ProgressFunc) *stderrScanner {
	return &stderrScanner{label: label, duration: duration, progress: progress, lastPercent: -1}
}

func (s *stderrScanner) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexAny(p, "\r\n")
		if idx == -1 {
			s.partial.Write(p)
			break
		}
		s.partial.Write(p[:idx])
		s.consumeLine(s.partial.String())
		s.partial.Reset()
		p = p[idx+1:]
	}
	return total, nil
}

func (s *stderrScanner) consumeLine(line string) {
	trimmed := bytes.TrimSpace([]byte(line))
	if len(trimmed) == 0 {
		return
	}
	s.tail = append(s.tail, string(trimmed))
	if len(s.tail) > stderrTailLines {
		s.tail = s.tail[len(s.tail)-stderrTailLines:]
	}
	if s.progress == nil || s.duration <= 0 {
		return
	}
	elapsed, ok := parseProgressTime(string(trimmed))
	if !ok {
		return
	}
	percent := int(elapsed * 100 / s.duration)
	if percent > 100 {
		percent = 100
	}
	if percent != s.lastPercent {
		s.lastPercent = percent
		s.progress(s.label, percent)
	}
}

// Tail returns the retained stderr lines joined for error reporting.
func (s *stderrScanner) Tail() string {
	if s.partial.Len() > 0 {
		s.consumeLine(s.partial.String())
		s.partial.Reset()
	}
	return joinLines(s.tail)
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return "no ffmpeg output"
	}
	out := lines[0]
	for _, line := range lines[1:] {
		out += "; " + line
	}
	return out
}

func parseProgressTime(line string) (time.Duration, bool) {
	match := progressTimeRe.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(match[1])
	minutes, _ := strconv.Atoi(match[2])
	seconds, _ := strconv.ParseFloat(match[3], 64)
	elapsed := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return elapsed, true
}
