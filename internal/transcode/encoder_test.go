package transcode

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestEncodeArgsHLS(t *testing.T) {
	preset := Preset{Label: "720p", Width: 1280, Height: 720, VideoKbps: 2800, AudioKbps: 128}
	req := EncodeRequest{
		InputPath: "/in/source.mp4",
		OutputDir: "/out/hls",
		Preset:    preset,
		Mode:      ModeHLS,
	}
	outputPath := renditionOutputPath(req.OutputDir, preset, req.Mode)
	got := encodeArgs(req, outputPath, 6)
	want := []string{
		"-y",
		"-i", "/in/source.mp4",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:v", "2800k",
		"-b:a", "128k",
		"-vf", "scale=1280:720",
		"-preset", "fast",
		"-crf", "23",
		"-f", "hls",
		"-hls_time", "6",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join("/out/hls", "720p_%03d.ts"),
		filepath.Join("/out/hls", "720p.m3u8"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("hls args mismatch\ngot:  %v\nwant: %v", got, want)
	}
}

func TestEncodeArgsProgressive(t *testing.T) {
	preset := Preset{Label: "360p", Width: 640, Height: 360, VideoKbps: 800, AudioKbps: 96}
	req := EncodeRequest{
		InputPath: "/in/source.mp4",
		OutputDir: "/out",
		Preset:    preset,
		Mode:      ModeProgressive,
	}
	outputPath := renditionOutputPath(req.OutputDir, preset, req.Mode)
	if want := filepath.Join("/out", "360p.mp4"); outputPath != want {
		t.Fatalf("output path = %q, want %q", outputPath, want)
	}
	got := encodeArgs(req, outputPath, 10)
	want := []string{
		"-y",
		"-i", "/in/source.mp4",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:v", "800k",
		"-b:a", "96k",
		"-vf", "scale=640:360",
		"-preset", "fast",
		"-crf", "23",
		"-movflags", "+faststart",
		outputPath,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("progressive args mismatch\ngot:  %v\nwant: %v", got, want)
	}
}

func TestParseMode(t *testing.T) {
	if mode, err := ParseMode(""); err != nil || mode != ModeHLS {
		t.Fatalf("ParseMode(\"\") = %q, %v", mode, err)
	}
	if mode, err := ParseMode("progressive"); err != nil || mode != ModeProgressive {
		t.Fatalf("ParseMode(progressive) = %q, %v", mode, err)
	}
	if _, err := ParseMode("dash"); err == nil {
		t.Fatal("ParseMode(dash) expected error")
	}
}

func TestParseProgressTime(t *testing.T) {
	cases := []struct {
		line string
		want time.Duration
		ok   bool
	}{
		{"frame= 100 fps=25 time=00:00:04.00 bitrate=800k", 4 * time.Second, true},
		{"time=01:02:03.50", time.Hour + 2*time.Minute + 3*time.Second + 500*time.Millisecond, true},
		{"frame= 100 fps=25 bitrate=800k", 0, false},
		{"time=bogus", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseProgressTime(tc.line)
		if ok != tc.ok {
			t.Fatalf("parseProgressTime(%q) ok = %v, want %v", tc.line, ok, tc.ok)
		}
		if got != tc.want {
			t.Fatalf("parseProgressTime(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestStderrScannerReportsProgress(t *testing.T) {
	var reports []int
	scanner := newStderrScanner("720p", 10*time.Second, func(label string, percent int) {
		if label != "720p" {
			t.Fatalf("progress label = %q", label)
		}
		reports = append(reports, percent)
	})

	// ffmpeg rewrites its status line with carriage returns.
	scanner.Write([]byte("frame= 10 time=00:00:02.50 bitrate=800k\r"))
	scanner.Write([]byte("frame= 20 time=00:00:05.00 bitrate=800k\r"))
	scanner.Write([]byte("frame= 30 time=00:00:05.00 bitrate=801k\r"))
	scanner.Write([]byte("frame= 40 time=00:00:20.00 bitrate=802k\n"))

	want := []int{25, 50, 100}
	if !reflect.DeepEqual(reports, want) {
		t.Fatalf("progress reports = %v, want %v", reports, want)
	}
}

func TestStderrScannerSplitsChunkedWrites(t *testing.T) {
	var reports []int
	scanner := newStderrScanner("480p", 10*time.Second, func(_ string, percent int) {
		reports = append(reports, percent)
	})
	scanner.Write([]byte("frame= 10 time=00:"))
	scanner.Write([]byte("00:05.00 bitrate=1400k\n"))
	if !reflect.DeepEqual(reports, []int{50}) {
		t.Fatalf("progress reports = %v, want [50]", reports)
	}
}

func TestStderrScannerTail(t *testing.T) {
	scanner := newStderrScanner("1080p", 0, nil)
	if got := scanner.Tail(); got != "no ffmpeg output" {
		t.Fatalf("empty tail = %q", got)
	}

	scanner.Write([]byte("line one\nline two\n"))
	scanner.Write([]byte("final line without newline"))
	tail := scanner.Tail()
	if tail != "line one; line two; final line without newline" {
		t.Fatalf("tail = %q", tail)
	}
}

func TestStderrScannerTailBounded(t *testing.T) {
	scanner := newStderrScanner("1080p", 0, nil)
	for i := 0; i < stderrTailLines*2; i++ {
		scanner.Write([]byte("noise\n"))
	}
	scanner.Write([]byte("the real error\n"))
	tail := scanner.Tail()
	if !strings.Contains(tail, "the real error") {
		t.Fatalf("tail lost the final line: %q", tail)
	}
	if got := strings.Count(tail, ";") + 1; got > stderrTailLines {
		t.Fatalf("tail holds %d lines, want at most %d", got, stderrTailLines)
	}
}
