package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// ConnectedPath is the well-known boolean path reporting whether this client
// currently has a live connection to the store.
const ConnectedPath = ".info/connected"

var (
	ErrUnavailable = errors.New("store unavailable")
	ErrClosed      = errors.New("store closed")
)

// Ref points at a location in the store.
type Ref interface {
	Path() string
}

// Snapshot is the value delivered to a subscriber.
type Snapshot interface {
	Exists() bool
	Decode(v any) error
}

// Unsubscribe releases a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// OnDisconnect is a write the store applies by itself if the client's
// connection drops ungracefully.
type OnDisconnect interface {
	Write(ctx context.Context, value any) error
	Cancel(ctx context.Context) error
}

// Store is the capability set a backing realtime store must provide.
//
// Subscribe invokes onValue once with the current value before returning or
// shortly after, and again on every change. Subscribing to ConnectedRef
// delivers booleans.
type Store interface {
	Ref(path string) Ref
	ConnectedRef() Ref
	Subscribe(ref Ref, onValue func(Snapshot), onError func(error)) (Unsubscribe, error)
	Write(ctx context.Context, ref Ref, value any) error
	OnDisconnect(ref Ref) OnDisconnect
	ServerTimestamp() any
}

type pathRef string

func (p pathRef) Path() string { return string(p) }

// NewRef normalizes path and returns a Ref for it.
func NewRef(path string) Ref {
	return pathRef(Clean(path))
}

// Clean strips duplicate and surrounding slashes.
func Clean(path string) string {
	parts := strings.Split(path, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// Join builds a child path.
func Join(elem ...string) string {
	return Clean(strings.Join(elem, "/"))
}

// JSONSnapshot is a Snapshot backed by encoded JSON. A nil value means no data.
type JSONSnapshot []byte

func (s JSONSnapshot) Exists() bool {
	return len(s) > 0 && string(s) != "null"
}

func (s JSONSnapshot) Decode(v any) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s, v)
}

// Once wraps an Unsubscribe so only the first call has an effect.
func Once(fn func()) Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(fn)
	}
}
