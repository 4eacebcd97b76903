package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/streamcore/internal/models"
)

// NewCallbackLog builds an audit row. A zero cameraID produces a row with no
// camera, used for sweep summaries.
func NewCallbackLog(cameraID uuid.UUID, streamID, status string, payload any) (*models.StreamCallbackLog, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal log payload: %w", err)
	}

	entry := &models.StreamCallbackLog{
		ID:        uuid.New(),
		StreamID:  strPtr(streamID),
		Status:    status,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if cameraID != uuid.Nil {
		id := cameraID
		entry.CameraID = &id
	}
	return entry, nil
}
