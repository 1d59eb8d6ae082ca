package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vodforge/internal/models"
	"vodforge/internal/storage"
)

type videoResponse struct {
	ID             string            `json:"id"`
	OriginalName   string            `json:"originalName"`
	Filename       string            `json:"filename"`
	Status         string            `json:"status"`
	Renditions     map[string]string `json:"renditions,omitempty"`
	MasterPlaylist string            `json:"masterPlaylist,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      string            `json:"createdAt"`
	UpdatedAt      string            `json:"updatedAt"`
}

type uploadAccepted struct {
	VideoID string `json:"videoId"`
	JobID   string `json:"jobId,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func newVideoResponse(video models.VideoRecord) videoResponse {
	resp := videoResponse{
		ID:             video.ID,
		OriginalName:   video.OriginalName,
		Filename:       video.Filename,
		Status:         video.Status,
		MasterPlaylist: video.MasterPlaylist,
		Error:          video.Error,
		CreatedAt:      video.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:      video.UpdatedAt.Format(time.RFC3339Nano),
	}
	if len(video.Renditions) > 0 {
		renditions := make(map[string]string, len(video.Renditions))
		for label, path := range video.Renditions {
			renditions[label] = path
		}
		resp.Renditions = renditions
	}
	return resp
}

var allowedUploadExtensions = map[string]struct{}{
	".mp4": {},
	".avi": {},
	".mov": {},
	".wmv": {},
	".flv": {},
}

type uploadedMedia struct {
	tempPath     string
	size         int64
	originalName string
}

// Upload accepts a multipart video file, persists it under the upload
// directory, records the video, and enqueues its transcode job.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart/form-data payload is required"))
		return
	}
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}
	var media *uploadedMedia
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.discardMedia(media)
			writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart data: %w", err))
			return
		}
		if part.FormName() != "file" || media != nil {
			_ = part.Close()
			continue
		}
		saved, saveErr := h.saveMultipartFile(part)
		if saveErr != nil {
			writeError(w, http.StatusBadRequest, saveErr)
			return
		}
		media = saved
	}
	if media == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file field is required"))
		return
	}

	ext := strings.ToLower(filepath.Ext(media.originalName))
	if _, ok := allowedUploadExtensions[ext]; !ok {
		h.discardMedia(media)
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported video format %q", ext))
		return
	}

	id, err := storage.NewID()
	if err != nil {
		h.discardMedia(media)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	storedName := id + ext
	inputPath := filepath.Join(h.uploadMediaDir(), storedName)
	if err := os.Rename(media.tempPath, inputPath); err != nil {
		h.discardMedia(media)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err))
		return
	}
	media.tempPath = ""

	ctx := r.Context()
	video, err := h.Store.CreateVideo(ctx, storage.CreateVideoParams{
		ID:           id,
		OriginalName: media.originalName,
		Filename:     storedName,
	})
	if err != nil {
		_ = os.Remove(inputPath)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("record video: %w", err))
		return
	}

	jobID, err := h.Queue.Enqueue(ctx, models.TranscodeJob{
		VideoID:   id,
		InputPath: inputPath,
		OutputDir: h.outputDirFor(id),
	})
	if err != nil {
		_ = os.Remove(inputPath)
		if deleteErr := h.Store.DeleteVideo(ctx, id); deleteErr != nil {
			h.logger().Error("failed to roll back video record", "video_id", id, "error", deleteErr)
		}
		writeError(w, http.StatusInternalServerError, fmt.Errorf("enqueue transcode job: %w", err))
		return
	}

	h.logger().Info("video accepted",
		"video_id", id,
		"original_name", media.originalName,
		"size_bytes", media.size,
		"job_id", jobID)
	writeJSON(w, http.StatusAccepted, uploadAccepted{
		VideoID: video.ID,
		JobID:   jobID,
		Status:  video.Status,
		Message: "video uploaded, transcoding in progress",
	})
}

// Videos lists all known videos, newest first.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	videos, err := h.Store.ListVideos(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	response := make([]videoResponse, 0, len(videos))
	for _, video := range videos {
		response = append(response, newVideoResponse(video))
	}
	writeJSON(w, http.StatusOK, response)
}

// VideoByID serves one video record and supports deleting it together with
// its transcoded output tree.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/videos/"))
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}
	ctx := r.Context()
	video, ok, err := h.Store.GetVideo(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", id))
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, newVideoResponse(video))
	case http.MethodDelete:
		if err := h.Store.DeleteVideo(ctx, id); err != nil {
			if errors.Is(err, storage.ErrVideoNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		h.removeVideoFiles(video)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) saveMultipartFile(part *multipart.Part) (*uploadedMedia, error) {
	defer part.Close()
	dir := h.uploadMediaDir()
	tmp, err := os.CreateTemp(dir, "pending-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()
	limit := h.maxUploadBytes()
	written, err := io.Copy(tmp, io.LimitReader(part, limit+1))
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("save upload: %w", err)
	}
	if written > limit {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("upload exceeds %d byte limit", limit)
	}
	return &uploadedMedia{
		tempPath:     tmp.Name(),
		size:         written,
		originalName: filepath.Base(part.FileName()),
	}, nil
}

func (h *Handler) discardMedia(media *uploadedMedia) {
	if media == nil || media.tempPath == "" {
		return
	}
	_ = os.Remove(media.tempPath)
}

// removeVideoFiles clears the source upload and the rendition output tree.
// Best effort, the record is already gone.
func (h *Handler) removeVideoFiles(video models.VideoRecord) {
	if video.Filename != "" {
		_ = os.Remove(filepath.Join(h.uploadMediaDir(), filepath.Base(video.Filename)))
	}
	if video.ID != "" {
		_ = os.RemoveAll(h.outputDirFor(video.ID))
	}
}
