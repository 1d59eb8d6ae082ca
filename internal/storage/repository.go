// Package storage persists video records behind a Repository interface with
// a JSON-file implementation for single-node deployments and a Postgres
// implementation for production.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"vodforge/internal/models"
)

// ErrVideoNotFound is returned when a record lookup or update references an
// unknown video identifier.
var ErrVideoNotFound = errors.New("video not found")

// CreateVideoParams captures the fields required to register a new upload.
type CreateVideoParams struct {
	ID           string
	OriginalName string
	Filename     string
}

// VideoUpdate mutates a video record. Nil pointer fields leave the current
// value untouched; Renditions replaces the whole mapping when non-nil.
type VideoUpdate struct {
	Status         *string
	Renditions     map[string]string
	MasterPlaylist *string
	Error          *string
}

// Repository exposes the datastore operations required by the upload API and
// the transcode pipeline. Implementations must be safe for concurrent use;
// per-record update atomicity is the only coordination callers rely on.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateVideo(ctx context.Context, params CreateVideoParams) (models.VideoRecord, error)
	GetVideo(ctx context.Context, id string) (models.VideoRecord, bool, error)
	UpdateVideo(ctx context.Context, id string, update VideoUpdate) (models.VideoRecord, error)
	ListVideos(ctx context.Context) ([]models.VideoRecord, error)
	DeleteVideo(ctx context.Context, id string) error
}

// NewID produces a random 32-character hex identifier for videos.
func NewID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func cloneVideo(record models.VideoRecord) models.VideoRecord {
	cloned := record
	if record.Renditions != nil {
		renditions := make(map[string]string, len(record.Renditions))
		for k, v := range record.Renditions {
			renditions[k] = v
		}
		cloned.Renditions = renditions
	}
	return cloned
}

func applyVideoUpdate(record *models.VideoRecord, update VideoUpdate) {
	if update.Status != nil {
		record.Status = *update.Status
	}
	if update.Renditions != nil {
		renditions := make(map[string]string, len(update.Renditions))
		for k, v := range update.Renditions {
			renditions[k] = v
		}
		record.Renditions = renditions
	}
	if update.MasterPlaylist != nil {
		record.MasterPlaylist = *update.MasterPlaylist
	}
	if update.Error != nil {
		record.Error = *update.Error
	}
}
