package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"vodforge/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	return store
}

func TestCreateVideoDefaults(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	record, err := store.CreateVideo(ctx, CreateVideoParams{
		OriginalName: "vacation.mov",
		Filename:     "abc123.mov",
	})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	if record.ID == "" {
		t.Fatal("CreateVideo did not assign an ID")
	}
	if record.Status != models.StatusProcessing {
		t.Fatalf("status = %q, want processing", record.Status)
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}

	if _, err := store.CreateVideo(ctx, CreateVideoParams{ID: record.ID}); err == nil {
		t.Fatal("duplicate ID accepted")
	}
}

func TestUpdateVideoPartialFields(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	record, err := store.CreateVideo(ctx, CreateVideoParams{OriginalName: "clip.mp4", Filename: "clip.mp4"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	completed := models.StatusCompleted
	master := "output/hls/master.m3u8"
	updated, err := store.UpdateVideo(ctx, record.ID, VideoUpdate{
		Status:         &completed,
		Renditions:     map[string]string{"360p": "output/hls/360p.m3u8"},
		MasterPlaylist: &master,
	})
	if err != nil {
		t.Fatalf("UpdateVideo: %v", err)
	}
	if updated.Status != models.StatusCompleted {
		t.Fatalf("status = %q", updated.Status)
	}
	if updated.OriginalName != "clip.mp4" {
		t.Fatalf("untouched field changed: %q", updated.OriginalName)
	}
	if updated.Renditions["360p"] != "output/hls/360p.m3u8" {
		t.Fatalf("renditions = %v", updated.Renditions)
	}
	if !updated.UpdatedAt.After(record.UpdatedAt) && !updated.UpdatedAt.Equal(record.UpdatedAt) {
		t.Fatalf("UpdatedAt went backwards: %v -> %v", record.UpdatedAt, updated.UpdatedAt)
	}

	// A nil field leaves the stored value alone.
	failedErr := "boom"
	again, err := store.UpdateVideo(ctx, record.ID, VideoUpdate{Error: &failedErr})
	if err != nil {
		t.Fatalf("UpdateVideo: %v", err)
	}
	if again.Status != models.StatusCompleted || again.MasterPlaylist != master {
		t.Fatalf("unrelated fields changed: %+v", again)
	}

	if _, err := store.UpdateVideo(ctx, "missing", VideoUpdate{Status: &completed}); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("update missing = %v, want ErrVideoNotFound", err)
	}
}

func TestUpdateVideoRollsBackOnPersistFailure(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	record, err := store.CreateVideo(ctx, CreateVideoParams{Filename: "clip.mp4"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	store.persistOverride = func(dataset) error { return fmt.Errorf("disk full") }
	failed := models.StatusFailed
	if _, err := store.UpdateVideo(ctx, record.ID, VideoUpdate{Status: &failed}); err == nil {
		t.Fatal("expected persist failure")
	}
	store.persistOverride = nil

	current, ok, err := store.GetVideo(ctx, record.ID)
	if err != nil || !ok {
		t.Fatalf("GetVideo: ok=%v err=%v", ok, err)
	}
	if current.Status != models.StatusProcessing {
		t.Fatalf("status after rollback = %q, want processing", current.Status)
	}
}

func TestGetVideoClonesRenditions(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	record, err := store.CreateVideo(ctx, CreateVideoParams{Filename: "clip.mp4"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	if _, err := store.UpdateVideo(ctx, record.ID, VideoUpdate{
		Renditions: map[string]string{"720p": "a.m3u8"},
	}); err != nil {
		t.Fatalf("UpdateVideo: %v", err)
	}

	first, _, _ := store.GetVideo(ctx, record.ID)
	first.Renditions["720p"] = "tampered"
	second, _, _ := store.GetVideo(ctx, record.ID)
	if second.Renditions["720p"] != "a.m3u8" {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestListVideosNewestFirst(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		record, err := store.CreateVideo(ctx, CreateVideoParams{Filename: fmt.Sprintf("clip-%d.mp4", i)})
		if err != nil {
			t.Fatalf("CreateVideo: %v", err)
		}
		ids = append(ids, record.ID)
		time.Sleep(2 * time.Millisecond)
	}

	videos, err := store.ListVideos(ctx)
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if len(videos) != 3 {
		t.Fatalf("listed %d videos, want 3", len(videos))
	}
	if videos[0].ID != ids[2] || videos[2].ID != ids[0] {
		t.Fatalf("unexpected order: %v", []string{videos[0].ID, videos[1].ID, videos[2].ID})
	}
}

func TestDeleteVideo(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	record, err := store.CreateVideo(ctx, CreateVideoParams{Filename: "clip.mp4"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	if err := store.DeleteVideo(ctx, record.ID); err != nil {
		t.Fatalf("DeleteVideo: %v", err)
	}
	if _, ok, _ := store.GetVideo(ctx, record.ID); ok {
		t.Fatal("video still present after delete")
	}
	if err := store.DeleteVideo(ctx, record.ID); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("second delete = %v, want ErrVideoNotFound", err)
	}
}

func TestStorageReloadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	ctx := context.Background()

	record, err := store.CreateVideo(ctx, CreateVideoParams{OriginalName: "movie.avi", Filename: "movie.avi"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	failed := models.StatusFailed
	message := "probe failed"
	if _, err := store.UpdateVideo(ctx, record.ID, VideoUpdate{Status: &failed, Error: &message}); err != nil {
		t.Fatalf("UpdateVideo: %v", err)
	}

	reopened, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	loaded, ok, err := reopened.GetVideo(ctx, record.ID)
	if err != nil || !ok {
		t.Fatalf("GetVideo after reload: ok=%v err=%v", ok, err)
	}
	if loaded.Status != models.StatusFailed || loaded.Error != message {
		t.Fatalf("reloaded record = %+v", loaded)
	}
}

func TestNewID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if len(id) != 32 {
			t.Fatalf("id length = %d, want 32 hex chars", len(id))
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}
