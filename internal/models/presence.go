package models

import (
	"encoding/json"
	"time"
)

type State string

const (
	StateOnline  State = "online"
	StateOffline State = "offline"
	StateAway    State = "away"
	StateBusy    State = "busy"
)

// DefaultStates is the enumeration a service accepts unless configured otherwise.
func DefaultStates() []State {
	return []State{StateOnline, StateOffline, StateAway, StateBusy}
}

// PresenceRecord is the value kept at <recordPath>/<identity> in the backing store.
// LastChanged holds the store's server-timestamp sentinel on write and the resolved
// epoch milliseconds on read.
type PresenceRecord struct {
	State       State          `json:"state"`
	LastChanged any            `json:"lastChanged"`
	Identity    string         `json:"identity"`
	CustomData  map[string]any `json:"customData,omitempty"`
}

// LastChangedAt returns the resolved timestamp, or false while it is still a sentinel.
func (r *PresenceRecord) LastChangedAt() (time.Time, bool) {
	var ms int64
	switch v := r.LastChanged.(type) {
	case float64:
		ms = int64(v)
	case int64:
		ms = v
	case int:
		ms = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		ms = n
	default:
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
