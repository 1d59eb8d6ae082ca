package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vodforge/internal/models"
)

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	ApplicationName     string
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

const videosMigration = `
CREATE TABLE IF NOT EXISTS videos (
	id TEXT PRIMARY KEY,
	original_name TEXT NOT NULL,
	filename TEXT NOT NULL,
	status TEXT NOT NULL,
	renditions JSONB NOT NULL DEFAULT '{}'::jsonb,
	master_playlist TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// NewPostgresRepository opens a Postgres-backed repository and applies the
// idempotent schema migration.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, videosMigration); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply videos migration: %w", err)
	}
	return &postgresRepository{pool: pool}, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) CreateVideo(ctx context.Context, params CreateVideoParams) (models.VideoRecord, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := NewID()
		if err != nil {
			return models.VideoRecord{}, err
		}
		id = generated
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
	_, err := r.pool.Exec(ctx, `
		INSERT INTO videos (id, original_name, filename, status, renditions, master_playlist, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '{}'::jsonb, '', '', $5, $5)`,
		record.ID, record.OriginalName, record.Filename, record.Status, now,
	)
	if err != nil {
		return models.VideoRecord{}, fmt.Errorf("insert video %s: %w", id, err)
	}
	return record, nil
}

func (r *postgresRepository) GetVideo(ctx context.Context, id string) (models.VideoRecord, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, original_name, filename, status, renditions, master_playlist, error, created_at, updated_at
		FROM videos WHERE id = $1`, id)
	record, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.VideoRecord{}, false, nil
		}
		return models.VideoRecord{}, false, fmt.Errorf("select video %s: %w", id, err)
	}
	return record, true, nil
}

func (r *postgresRepository) UpdateVideo(ctx context.Context, id string, update VideoUpdate) (models.VideoRecord, error) {
	record, ok, err := r.GetVideo(ctx, id)
	if err != nil {
		return models.VideoRecord{}, err
	}
	if !ok {
		return models.VideoRecord{}, fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}

	applyVideoUpdate(&record, update)
	record.UpdatedAt = time.Now().UTC()

	renditions, err := encodeRenditions(record.Renditions)
	if err != nil {
		return models.VideoRecord{}, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE videos
		SET status = $2, renditions = $3, master_playlist = $4, error = $5, updated_at = $6
		WHERE id = $1`,
		id, record.Status, renditions, record.MasterPlaylist, record.Error, record.UpdatedAt,
	)
	if err != nil {
		return models.VideoRecord{}, fmt.Errorf("update video %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.VideoRecord{}, fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	return record, nil
}

func (r *postgresRepository) ListVideos(ctx context.Context) ([]models.VideoRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, original_name, filename, status, renditions, master_playlist, error, created_at, updated_at
		FROM videos ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	videos := make([]models.VideoRecord, 0)
	for rows.Next() {
		record, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}
	return videos, nil
}

func (r *postgresRepository) DeleteVideo(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete video %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	return nil
}

// VideoImporter is implemented by repositories that can bulk-load existing
// records verbatim, preserving status, renditions, and timestamps. It backs
// the JSON-to-Postgres migration tool.
type VideoImporter interface {
	ImportVideos(ctx context.Context, videos []models.VideoRecord) error
}

func (r *postgresRepository) ImportVideos(ctx context.Context, videos []models.VideoRecord) error {
	if len(videos) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, video := range videos {
		renditions, err := encodeRenditions(video.Renditions)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO videos (id, original_name, filename, status, renditions, master_playlist, error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				original_name = EXCLUDED.original_name,
				filename = EXCLUDED.filename,
				status = EXCLUDED.status,
				renditions = EXCLUDED.renditions,
				master_playlist = EXCLUDED.master_playlist,
				error = EXCLUDED.error,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at`,
			video.ID, video.OriginalName, video.Filename, video.Status,
			renditions, video.MasterPlaylist, video.Error, video.CreatedAt, video.UpdatedAt,
		); err != nil {
			return fmt.Errorf("import video %s: %w", video.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func scanVideo(row pgx.Row) (models.VideoRecord, error) {
	var record models.VideoRecord
	var renditions []byte
	if err := row.Scan(
		&record.ID,
		&record.OriginalName,
		&record.Filename,
		&record.Status,
		&renditions,
		&record.MasterPlaylist,
		&record.Error,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return models.VideoRecord{}, err
	}
	if len(renditions) > 0 {
		decoded := make(map[string]string)
		if err := json.Unmarshal(renditions, &decoded); err != nil {
			return models.VideoRecord{}, fmt.Errorf("decode renditions for %s: %w", record.ID, err)
		}
		if len(decoded) > 0 {
			record.Renditions = decoded
		}
	}
	return record, nil
}

func encodeRenditions(renditions map[string]string) ([]byte, error) {
	if len(renditions) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(renditions)
	if err != nil {
		return nil, fmt.Errorf("encode renditions: %w", err)
	}
	return data, nil
}
