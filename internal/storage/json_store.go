package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vodforge/internal/models"
)

type dataset struct {
	Videos map[string]models.VideoRecord `json:"videos"`
}

// Storage is a JSON-file backed Repository. Every mutation rewrites the data
// file through a temp file and rename; a failed persist rolls the in-memory
// state back so readers never observe unpersisted records.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewStorage loads (or initialises) the JSON dataset at path.
func NewStorage(path string) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare storage directory: %w", err)
	}
	store := &Storage{
		filePath: absPath,
		data:     dataset{Videos: make(map[string]models.VideoRecord)},
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read dataset: %w", err)
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode dataset %s: %w", s.filePath, err)
	}
	if data.Videos == nil {
		data.Videos = make(map[string]models.VideoRecord)
	}
	s.data = data
	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), "videos-*.tmp")
	if err != nil {
		return fmt.Errorf("create dataset temp file: %w", err)
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("flush dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish dataset: %w", err)
	}
	return nil
}

// Ping reports whether the backing file's directory is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(filepath.Dir(s.filePath))
	return err
}

// Close is a no-op for the file-backed store.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}

// CreateVideo registers a new record in the processing state.
func (s *Storage) CreateVideo(ctx context.Context, params CreateVideoParams) (models.VideoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := NewID()
		if err != nil {
			return models.VideoRecord{}, err
		}
		id = generated
	}
	if _, exists := s.data.Videos[id]; exists {
		return models.VideoRecord{}, fmt.Errorf("video %s already exists", id)
	}

	now := time.Now().UTC()
	record := models.VideoRecord{
		ID:           id,
		OriginalName: strings.TrimSpace(params.OriginalName),
		Filename:     strings.TrimSpace(params.Filename),
		Status:       models.StatusProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.data.Videos[id] = record
	if err := s.persist(); err != nil {
		delete(s.data.Videos, id)
		return models.VideoRecord{}, err
	}
	return cloneVideo(record), nil
}

// GetVideo fetches one record by identifier.
func (s *Storage) GetVideo(ctx context.Context, id string) (models.VideoRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.data.Videos[id]
	if !ok {
		return models.VideoRecord{}, false, nil
	}
	return cloneVideo(record), true, nil
}

// UpdateVideo applies the update to an existing record.
func (s *Storage) UpdateVideo(ctx context.Context, id string, update VideoUpdate) (models.VideoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.data.Videos[id]
	if !ok {
		return models.VideoRecord{}, fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	original := record

	applyVideoUpdate(&record, update)
	record.UpdatedAt = time.Now().UTC()

	s.data.Videos[id] = record
	if err := s.persist(); err != nil {
		s.data.Videos[id] = original
		return models.VideoRecord{}, err
	}
	return cloneVideo(record), nil
}

// ListVideos returns all records, newest first.
func (s *Storage) ListVideos(ctx context.Context) ([]models.VideoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	videos := make([]models.VideoRecord, 0, len(s.data.Videos))
	for _, record := range s.data.Videos {
		videos = append(videos, cloneVideo(record))
	}
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID < videos[j].ID
		}
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
	return videos, nil
}

// DeleteVideo removes one record.
func (s *Storage) DeleteVideo(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.data.Videos[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	delete(s.data.Videos, id)
	if err := s.persist(); err != nil {
		s.data.Videos[id] = record
		return err
	}
	return nil
}

var _ Repository = (*Storage)(nil)
