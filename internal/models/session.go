package models

import (
	"time"
)

// Identity is the signed-in principal whose presence a session owns.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type AppState string

const (
	AppForeground AppState = "foreground"
	AppBackground AppState = "background"
	AppInactive   AppState = "inactive"
)

// ConnectionStatus is process-local and never persisted.
type ConnectionStatus struct {
	IsConnected     bool       `json:"isConnected"`
	LastConnectedAt *time.Time `json:"lastConnectedAt"`
	RetryCount      int        `json:"retryCount"`
}

// Clone returns a copy that shares no memory with s.
func (s ConnectionStatus) Clone() ConnectionStatus {
	out := s
	if s.LastConnectedAt != nil {
		t := *s.LastConnectedAt
		out.LastConnectedAt = &t
	}
	return out
}
