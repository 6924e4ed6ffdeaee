package presence

import (
	"fmt"
	"maps"
	"reflect"
	"sync"

	"github.com/prudhvinik1/edgepresence/internal/fanout"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/store"
)

// watch is the shared store subscription behind every SubscribeUserPresence
// call for one identity.
type watch struct {
	identity  string
	listeners fanout.Set[*models.PresenceRecord]
	unsub     store.Unsubscribe
	last      *models.PresenceRecord
	primed    bool
	err       error

	// ready closes once the first value is known or the subscription failed.
	ready     chan struct{}
	readyOnce sync.Once
}

func newWatch(identityID string) *watch {
	return &watch{identity: identityID, ready: make(chan struct{})}
}

func (w *watch) markReady() {
	w.readyOnce.Do(func() { close(w.ready) })
}

// watchUpdate is a presence value waiting to be handed to a watch's listeners.
type watchUpdate struct {
	w   *watch
	rec *models.PresenceRecord
}

// SubscribeConnectionStatus calls fn with the current status right away and
// again after every change. The returned function unregisters fn.
func (s *Service) SubscribeConnectionStatus(fn func(models.ConnectionStatus)) func() {
	listener := fanout.NewSerial(fn, nil)
	remove := s.connListeners.Add(listener.Push)
	listener.Start(s.ConnectionStatus)
	return func() {
		listener.Stop()
		remove()
	}
}

// SubscribeUserPresence calls fn with the last known record of identityID
// (nil when there is none) before returning, and again on every change. Any
// number of identities may be watched at once; each returned function
// unregisters only its own fn. fn may call SetState.
func (s *Service) SubscribeUserPresence(identityID string, fn func(*models.PresenceRecord)) (func(), error) {
	s.mu.Lock()
	if s.phase != phaseReady {
		s.mu.Unlock()
		return nil, newError(CodeNotReady, nil, "service is not initialized")
	}
	w, existed := s.watches[identityID]
	if !existed {
		w = newWatch(identityID)
		s.watches[identityID] = w
	}
	listener := fanout.NewSerial(fn, sameRecord)
	remove := w.listeners.Add(listener.Push)
	ref := s.store.Ref(store.Join(s.settings.RecordPath, identityID))
	s.mu.Unlock()

	release := store.Once(func() {
		listener.Stop()
		remove()
		s.releaseWatch(w)
	})

	if !existed {
		s.openWatch(w, ref)
	}
	<-w.ready

	s.mu.Lock()
	err := w.err
	s.mu.Unlock()
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to subscribe to presence of %s: %w", identityID, err)
	}

	listener.Start(func() *models.PresenceRecord { return s.lastRecord(w) })
	return release, nil
}

// openWatch subscribes the store for a newly created watch. Stores deliver
// the current value before Subscribe returns, so w is ready afterwards
// either way.
func (s *Service) openWatch(w *watch, ref store.Ref) {
	defer w.markReady()

	unsub, err := s.store.Subscribe(ref,
		func(snap store.Snapshot) { s.onPresenceValue(w, snap) },
		func(err error) {
			s.log.WithError(err).WithField("identity", w.identity).Warn("presence subscription error")
		},
	)

	s.mu.Lock()
	if err != nil {
		if s.watches[w.identity] == w {
			delete(s.watches, w.identity)
		}
		w.err = err
		s.mu.Unlock()
		w.listeners.Clear()
		return
	}
	w.primed = true
	if s.watches[w.identity] != w {
		s.mu.Unlock()
		unsub()
		return
	}
	w.unsub = unsub
	s.mu.Unlock()
}

func (s *Service) lastRecord(w *watch) *models.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecord(w.last)
}

// onPresenceValue records the new value and queues it for the watch's
// listeners. The queue is drained outside writeMu, so a listener may write.
func (s *Service) onPresenceValue(w *watch, snap store.Snapshot) {
	var rec *models.PresenceRecord
	if snap.Exists() {
		rec = &models.PresenceRecord{}
		if err := snap.Decode(rec); err != nil {
			s.log.WithError(err).WithField("identity", w.identity).Warn("failed to decode presence record")
			return
		}
	}

	s.mu.Lock()
	if s.watches[w.identity] != w {
		s.mu.Unlock()
		return
	}
	if w.primed && reflect.DeepEqual(w.last, rec) {
		s.mu.Unlock()
		return
	}
	w.last = rec
	w.primed = true
	s.updates = append(s.updates, watchUpdate{w: w, rec: rec})
	drain := !s.writing && !s.draining
	if drain {
		s.draining = true
	}
	s.mu.Unlock()

	w.markReady()
	if drain {
		s.drainUpdates()
	}
}

// drainUpdates delivers queued presence values in order. Only one goroutine
// drains at a time; the draining flag is owned by the caller on entry.
func (s *Service) drainUpdates() {
	for {
		s.mu.Lock()
		if len(s.updates) == 0 {
			s.updates = nil
			s.draining = false
			s.mu.Unlock()
			return
		}
		u := s.updates[0]
		s.updates[0] = watchUpdate{}
		s.updates = s.updates[1:]
		s.mu.Unlock()

		u.w.listeners.Notify(cloneRecord(u.rec))
	}
}

// releaseWatch drops the store subscription once no listener is left.
func (s *Service) releaseWatch(w *watch) {
	s.mu.Lock()
	if s.watches[w.identity] != w || w.listeners.Len() > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.watches, w.identity)
	unsub := w.unsub
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func sameRecord(a, b *models.PresenceRecord) bool {
	return reflect.DeepEqual(a, b)
}

func cloneRecord(r *models.PresenceRecord) *models.PresenceRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.CustomData = maps.Clone(r.CustomData)
	return &out
}
