package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/streamcore/internal/config"
	"github.com/your-org/streamcore/internal/models"
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the tables this service owns if they are missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const cameraColumns = `id, org_id, name, rtsp_url, camera_type, status, stream_status, stream_id, hls_url,
	last_heartbeat, last_error, health_score, status_changed_at, created_at, updated_at`

func scanCamera(row pgx.Row, c *models.Camera) error {
	return row.Scan(&c.ID, &c.OrgID, &c.Name, &c.RTSPURL, &c.CameraType, &c.Status, &c.StreamStatus,
		&c.StreamID, &c.HLSURL, &c.LastHeartbeat, &c.LastError, &c.HealthScore,
		&c.StatusChangedAt, &c.CreatedAt, &c.UpdatedAt)
}

// --- Cameras ---

func (s *PostgresStore) GetCamera(ctx context.Context, id uuid.UUID) (*models.Camera, error) {
	c := &models.Camera{}
	err := scanCamera(s.pool.QueryRow(ctx, `SELECT `+cameraColumns+` FROM cameras WHERE id = $1`, id), c)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get camera: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCameras(ctx context.Context) ([]models.Camera, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cameraColumns+` FROM cameras ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []models.Camera
	for rows.Next() {
		var c models.Camera
		if err := scanCamera(rows, &c); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		cameras = append(cameras, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	return cameras, nil
}

// UpdateStreamState writes the stream columns of a camera. status_changed_at
// moves only when the status actually changes; a nil heartbeat keeps the
// stored one.
func (s *PostgresStore) UpdateStreamState(ctx context.Context, id uuid.UUID, state models.StreamState) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE cameras SET
			status_changed_at = CASE WHEN stream_status <> $1 THEN now() ELSE status_changed_at END,
			stream_status = $1,
			stream_id = $2,
			hls_url = $3,
			last_error = $4,
			last_heartbeat = COALESCE($5, last_heartbeat),
			updated_at = now()
		 WHERE id = $6`,
		state.Status, state.StreamID, state.HLSURL, state.LastError, state.LastHeartbeat, id)
	if err != nil {
		return fmt.Errorf("update stream state: %w", err)
	}
	return nil
}

// --- Callback logs ---

func (s *PostgresStore) AppendCallbackLog(ctx context.Context, entry *models.StreamCallbackLog) error {
	payload := entry.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stream_callback_logs (id, camera_id, stream_id, status, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.CameraID, entry.StreamID, entry.Status, payload, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append callback log: %w", err)
	}
	return nil
}

// ListCallbackLogs returns the most recent log rows for a camera, newest first.
func (s *PostgresStore) ListCallbackLogs(ctx context.Context, cameraID uuid.UUID, limit int) ([]models.StreamCallbackLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, camera_id, stream_id, status, payload, created_at
		 FROM stream_callback_logs WHERE camera_id = $1 ORDER BY created_at DESC LIMIT $2`,
		cameraID, limit)
	if err != nil {
		return nil, fmt.Errorf("list callback logs: %w", err)
	}
	defer rows.Close()

	var logs []models.StreamCallbackLog
	for rows.Next() {
		var l models.StreamCallbackLog
		if err := rows.Scan(&l.ID, &l.CameraID, &l.StreamID, &l.Status, &l.Payload, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan callback log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
