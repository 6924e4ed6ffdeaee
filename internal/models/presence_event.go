package models

import (
	"time"

	"github.com/google/uuid"
)

// PresenceEvent is one recorded presence transition.
type PresenceEvent struct {
	ID         uuid.UUID      `json:"id"`
	Identity   string         `json:"identity"`
	State      State          `json:"state"`
	CustomData map[string]any `json:"custom_data,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}
