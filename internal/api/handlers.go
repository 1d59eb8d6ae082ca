package api

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"vodforge/internal/queue"
	"vodforge/internal/storage"
)

// Handler bundles the dependencies shared by the HTTP endpoints.
type Handler struct {
	Store          storage.Repository
	Queue          queue.Queue
	Logger         *slog.Logger
	UploadDir      string
	OutputRoot     string
	MaxUploadBytes int64

	uploadDirOnce sync.Once
	uploadDir     string
}

const defaultMaxUploadBytes = 512 << 20

func NewHandler(store storage.Repository, q queue.Queue) *Handler {
	return &Handler{Store: store, Queue: q}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

func (h *Handler) uploadMediaDir() string {
	h.uploadDirOnce.Do(func() {
		dir := strings.TrimSpace(h.UploadDir)
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "vodforge-uploads")
		}
		dir = filepath.Clean(dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			dir = filepath.Join(os.TempDir(), "vodforge-uploads")
			_ = os.MkdirAll(dir, 0o755)
		}
		h.uploadDir = dir
	})
	return h.uploadDir
}

func (h *Handler) outputDirFor(videoID string) string {
	root := strings.TrimSpace(h.OutputRoot)
	if root == "" {
		root = filepath.Join(os.TempDir(), "vodforge-output")
	}
	return filepath.Join(filepath.Clean(root), videoID)
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Health reports the reachability of the datastore and the job queue.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	ctx := r.Context()
	components := make([]componentStatus, 0, 2)
	if h.Store != nil {
		components = append(components, recordComponent("datastore", h.Store.Ping(ctx)))
	}
	if h.Queue != nil {
		components = append(components, recordComponent("queue", h.Queue.Ping(ctx)))
	}

	writeJSON(w, statusCode, map[string]any{
		"status":     overallStatus,
		"components": components,
	})
}
