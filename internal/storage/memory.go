package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/streamcore/internal/models"
)

// MemoryStore is an in-process camera store with the same semantics as
// PostgresStore. It backs tests and local runs without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	cameras map[uuid.UUID]models.Camera
	logs    []models.StreamCallbackLog
	history map[uuid.UUID][]models.StreamStatus

	// FailUpdates makes UpdateStreamState return this error when set.
	FailUpdates error
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cameras: make(map[uuid.UUID]models.Camera),
		history: make(map[uuid.UUID][]models.StreamStatus),
		now:     time.Now,
	}
}

// PutCamera inserts or replaces a camera record as-is.
func (s *MemoryStore) PutCamera(cam models.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cam.StreamStatus == "" {
		cam.StreamStatus = models.StreamStatusIdle
	}
	s.cameras[cam.ID] = cam
}

func (s *MemoryStore) GetCamera(_ context.Context, id uuid.UUID) (*models.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cam, ok := s.cameras[id]
	if !ok {
		return nil, nil
	}
	return &cam, nil
}

func (s *MemoryStore) ListCameras(_ context.Context) ([]models.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Camera, 0, len(s.cameras))
	for _, cam := range s.cameras {
		out = append(out, cam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateStreamState(_ context.Context, id uuid.UUID, state models.StreamState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdates != nil {
		return s.FailUpdates
	}
	cam, ok := s.cameras[id]
	if !ok {
		return nil
	}
	now := s.now()
	if cam.StreamStatus != state.Status {
		cam.StatusChangedAt = now
	}
	cam.StreamStatus = state.Status
	cam.StreamID = state.StreamID
	cam.HLSURL = state.HLSURL
	cam.LastError = state.LastError
	if state.LastHeartbeat != nil {
		hb := *state.LastHeartbeat
		cam.LastHeartbeat = &hb
	}
	cam.UpdatedAt = now
	s.cameras[id] = cam
	s.history[id] = append(s.history[id], state.Status)
	return nil
}

func (s *MemoryStore) AppendCallbackLog(_ context.Context, entry *models.StreamCallbackLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *entry)
	return nil
}

// ListCallbackLogs returns a camera's log rows newest first.
func (s *MemoryStore) ListCallbackLogs(_ context.Context, cameraID uuid.UUID, limit int) ([]models.StreamCallbackLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.StreamCallbackLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if l.CameraID != nil && *l.CameraID == cameraID {
			out = append(out, l)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CallbackLogs returns a copy of every appended log row.
func (s *MemoryStore) CallbackLogs() []models.StreamCallbackLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.StreamCallbackLog(nil), s.logs...)
}

// StatusHistory returns every stream status written for a camera, in order.
func (s *MemoryStore) StatusHistory(id uuid.UUID) []models.StreamStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.StreamStatus(nil), s.history[id]...)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
