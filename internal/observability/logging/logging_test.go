package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONFormatDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	logger.Info("hello", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["key"] != "value" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "text"})
	logger.Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("unexpected text output: %s", buf.String())
	}
}

func TestNewLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: "warn"})
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line not filtered: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn line missing: %s", out)
	}
}

func TestContextCarriesIdentifiers(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), " req-1 ")
	ctx = ContextWithVideoID(ctx, "vid-1")

	if id, ok := RequestIDFromContext(ctx); !ok || id != "req-1" {
		t.Fatalf("request id = %q, %v", id, ok)
	}
	if id, ok := VideoIDFromContext(ctx); !ok || id != "vid-1" {
		t.Fatalf("video id = %q, %v", id, ok)
	}

	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Fatal("request id reported on empty context")
	}
	if same := ContextWithRequestID(context.Background(), "  "); same != context.Background() {
		t.Fatal("blank request id should leave context untouched")
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	ctx := ContextWithRequestID(context.Background(), "req-9")
	ctx = ContextWithVideoID(ctx, "vid-9")
	WithContext(ctx, logger).Info("annotated")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["request_id"] != "req-9" || entry["video_id"] != "vid-9" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	WithComponent(logger, "worker").Info("ready")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["component"] != "worker" {
		t.Fatalf("component = %v", entry["component"])
	}
}
