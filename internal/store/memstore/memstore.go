// Package memstore is an in-process store.Store. Subscribers are called
// synchronously from the goroutine that caused the change, which makes it the
// store of choice for tests and for running the server without Redis.
package memstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prudhvinik1/edgepresence/internal/fanout"
	"github.com/prudhvinik1/edgepresence/internal/store"
)

type Store struct {
	mu        sync.Mutex
	values    map[string][]byte
	history   map[string][][]byte
	watchers  map[string]*fanout.Set[store.Snapshot]
	connected bool
	conn      fanout.Set[store.Snapshot]
	wills     map[string][]byte

	writeErr     error
	subscribeErr error
	writes       int
	subscribes   int

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns a store that starts out connected.
func New() *Store {
	return &Store{
		values:    make(map[string][]byte),
		history:   make(map[string][][]byte),
		watchers:  make(map[string]*fanout.Set[store.Snapshot]),
		wills:     make(map[string][]byte),
		connected: true,
		now:       time.Now,
	}
}

func (s *Store) Ref(path string) store.Ref { return store.NewRef(path) }

func (s *Store) ConnectedRef() store.Ref { return store.NewRef(store.ConnectedPath) }

func (s *Store) ServerTimestamp() any { return store.ServerTimestamp() }

func (s *Store) Subscribe(ref store.Ref, onValue func(store.Snapshot), onError func(error)) (store.Unsubscribe, error) {
	s.mu.Lock()
	if s.subscribeErr != nil {
		err := s.subscribeErr
		s.mu.Unlock()
		return nil, err
	}
	s.subscribes++

	var remove func()
	var current store.Snapshot
	if ref.Path() == store.ConnectedPath {
		remove = s.conn.Add(onValue)
		current = boolSnapshot(s.connected)
	} else {
		w, ok := s.watchers[ref.Path()]
		if !ok {
			w = &fanout.Set[store.Snapshot]{}
			s.watchers[ref.Path()] = w
		}
		remove = w.Add(onValue)
		current = store.JSONSnapshot(s.values[ref.Path()])
	}
	s.mu.Unlock()

	onValue(current)
	return store.Once(remove), nil
}

func (s *Store) Write(ctx context.Context, ref store.Ref, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	data, err := store.Encode(value, s.now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.put(ref.Path(), data)
	w := s.watchers[ref.Path()]
	s.mu.Unlock()

	if w != nil {
		w.Notify(store.JSONSnapshot(data))
	}
	return nil
}

func (s *Store) put(path string, data []byte) {
	s.values[path] = data
	s.history[path] = append(s.history[path], data)
	s.writes++
}

func (s *Store) OnDisconnect(ref store.Ref) store.OnDisconnect {
	return &onDisconnect{s: s, path: ref.Path()}
}

type onDisconnect struct {
	s    *Store
	path string
}

// Write records the will unresolved; its timestamp resolves when applied.
func (o *onDisconnect) Write(ctx context.Context, value any) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.writeErr != nil {
		return o.s.writeErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	o.s.wills[o.path] = raw
	return nil
}

func (o *onDisconnect) Cancel(ctx context.Context) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	delete(o.s.wills, o.path)
	return nil
}

// SetConnected flips the connectivity signal without applying wills, as a
// transient network blip would.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	if s.connected == connected {
		s.mu.Unlock()
		return
	}
	s.connected = connected
	s.mu.Unlock()

	s.conn.Notify(boolSnapshot(connected))
}

// Drop simulates the server noticing an ungraceful disconnect: every
// registered will is applied and cleared, then subscribers see the client
// go offline.
func (s *Store) Drop() {
	s.mu.Lock()
	type applied struct {
		data []byte
		w    *fanout.Set[store.Snapshot]
	}
	var notify []applied
	for path, raw := range s.wills {
		data, err := store.ResolveServerValues(raw, s.now())
		if err != nil {
			continue
		}
		s.put(path, data)
		notify = append(notify, applied{data: data, w: s.watchers[path]})
	}
	s.wills = make(map[string][]byte)
	s.mu.Unlock()

	for _, a := range notify {
		if a.w != nil {
			a.w.Notify(store.JSONSnapshot(a.data))
		}
	}
	s.SetConnected(false)
}

// FailWrites makes every following write return err until called with nil.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// FailSubscribe makes every following Subscribe return err until called with nil.
func (s *Store) FailSubscribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeErr = err
}

// Get returns the raw JSON stored at path.
func (s *Store) Get(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.values[store.Clean(path)]
	return data, ok
}

// History returns every value written to path, oldest first.
func (s *Store) History(path string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.history[store.Clean(path)]))
	copy(out, s.history[store.Clean(path)])
	return out
}

// HasWill reports whether an on-disconnect write is registered at path.
func (s *Store) HasWill(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.wills[store.Clean(path)]
	return ok
}

// ConnectedListeners reports how many subscriptions watch the connected path.
func (s *Store) ConnectedListeners() int {
	return s.conn.Len()
}

// Watchers reports how many subscriptions watch path.
func (s *Store) Watchers(path string) int {
	s.mu.Lock()
	w := s.watchers[store.Clean(path)]
	s.mu.Unlock()
	if w == nil {
		return 0
	}
	return w.Len()
}

func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) Subscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

func boolSnapshot(b bool) store.Snapshot {
	if b {
		return store.JSONSnapshot("true")
	}
	return store.JSONSnapshot("false")
}
