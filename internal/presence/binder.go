package presence

import (
	"context"

	"github.com/google/uuid"

	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/store"
)

// binding ties one identity to the store: the connectivity subscription, the
// record reference and the outstanding on-disconnect registration.
type binding struct {
	id           uuid.UUID
	identity     string
	ref          store.Ref
	unsub        store.Unsubscribe
	onDisconnect store.OnDisconnect

	// established is set once the connectivity subscription is registered;
	// observed once the first connectivity value has been seen.
	established bool
	observed    bool
}

func (s *Service) onIdentityChanged(identity *models.Identity) {
	s.mu.Lock()
	if !s.activeLocked() {
		s.mu.Unlock()
		return
	}

	if identity == nil {
		old := s.binding
		s.binding = nil
		s.identity = nil
		s.setupTarget = ""
		s.stopRetryLocked()
		s.stopIdleLocked()
		s.mu.Unlock()

		if old != nil {
			s.debugf("identity %s signed out, releasing binding", old.identity)
			s.teardown(old)
		}
		return
	}

	if identity.ID == s.setupTarget && s.recoveringLocked(identity.ID) {
		s.mu.Unlock()
		s.debugf("identity %s already bound, ignoring", identity.ID)
		return
	}

	old := s.binding
	s.binding = nil
	id := *identity
	s.identity = &id
	s.setupTarget = id.ID
	s.currentState = models.StateOnline
	s.customData = nil
	s.status.RetryCount = 0
	s.stopRetryLocked()
	s.stopIdleLocked()
	s.mu.Unlock()

	s.teardown(old)
	s.bind(id.ID, models.StateOnline, nil)
}

// recoveringLocked reports whether identityID needs no fresh bind: a bind is
// in flight, or the binding is connected or has a retry coming. Once retries
// are exhausted a repeated sign-in starts over.
func (s *Service) recoveringLocked(identityID string) bool {
	if s.pending != nil && s.pending.identity == identityID {
		return true
	}
	return s.binding != nil && s.binding.identity == identityID &&
		(s.retryTimer != nil || s.status.IsConnected)
}

// bind subscribes to the store's connectivity signal for identityID, writes
// state and, for online in the foreground, arms the idle timer. Failures go
// to the retry path.
func (s *Service) bind(identityID string, state models.State, customData map[string]any) {
	s.mu.Lock()
	if !s.activeLocked() || s.setupTarget != identityID {
		s.mu.Unlock()
		return
	}
	if s.pending != nil && s.pending.identity == identityID {
		s.mu.Unlock()
		s.debugf("binding for %s already in progress", identityID)
		return
	}

	old := s.binding
	b := &binding{
		id:       uuid.New(),
		identity: identityID,
		ref:      s.store.Ref(store.Join(s.settings.RecordPath, identityID)),
	}
	s.binding = b
	s.pending = b
	s.mu.Unlock()

	defer s.finishBind(b)
	s.teardown(old)

	s.log.WithField("identity", identityID).WithField("binding", b.id).Info("binding presence")

	unsub, err := s.store.Subscribe(s.store.ConnectedRef(),
		func(snap store.Snapshot) { s.onConnectivity(b, snap) },
		func(err error) { s.onConnectivityError(b, err) },
	)
	if err != nil {
		s.bindFailed(b, err)
		return
	}

	s.mu.Lock()
	if s.binding != b {
		s.mu.Unlock()
		unsub()
		return
	}
	b.unsub = unsub
	b.established = true
	s.mu.Unlock()

	if err := s.write(context.Background(), state, customData); err != nil {
		s.bindFailed(b, err)
		return
	}
	s.observer.OnBind(identityID, nil)

	s.mu.Lock()
	if s.binding == b && state == models.StateOnline && s.appState != models.AppBackground {
		s.armIdleLocked()
	}
	s.mu.Unlock()
}

func (s *Service) finishBind(b *binding) {
	s.mu.Lock()
	if s.pending == b {
		s.pending = nil
	}
	s.mu.Unlock()
}

func (s *Service) bindFailed(b *binding, cause error) {
	err := newError(CodeBindingFailed, cause, "bind %s", b.identity)
	s.log.WithError(err).WithField("identity", b.identity).Warn("presence binding failed")
	s.observer.OnBind(b.identity, err)

	s.mu.Lock()
	if s.binding != b {
		s.mu.Unlock()
		return
	}
	s.binding = nil
	s.scheduleRetryLocked()
	status := s.status.Clone()
	s.mu.Unlock()

	s.teardown(b)
	s.connListeners.Notify(status)
}

// teardown releases a binding that has already been detached from the service.
func (s *Service) teardown(b *binding) {
	if b == nil {
		return
	}
	if b.unsub != nil {
		b.unsub()
	}
	if b.onDisconnect != nil {
		if err := b.onDisconnect.Cancel(context.Background()); err != nil {
			s.log.WithError(err).WithField("identity", b.identity).Warn("failed to cancel disconnect write")
		}
	}
}

func (s *Service) onConnectivity(b *binding, snap store.Snapshot) {
	var connected bool
	if err := snap.Decode(&connected); err != nil {
		s.onConnectivityError(b, err)
		return
	}

	s.mu.Lock()
	if !s.activeLocked() || s.binding != b {
		s.mu.Unlock()
		return
	}
	prev := s.status.IsConnected
	reassert := false
	s.status.IsConnected = connected
	if connected {
		now := s.clock.Now()
		s.status.LastConnectedAt = &now
		s.status.RetryCount = 0
		s.stopRetryLocked()
		reassert = b.established && b.observed && !prev
	} else {
		s.scheduleRetryLocked()
	}
	b.observed = true
	state, data := s.currentState, s.customData
	status := s.status.Clone()
	s.mu.Unlock()

	s.debugf("connectivity for %s: %t", b.identity, connected)
	s.observer.OnConnectivity(connected)
	s.connListeners.Notify(status)

	if reassert {
		if err := s.write(context.Background(), state, data); err != nil {
			s.log.WithError(err).WithField("state", state).Warn("failed to re-assert presence after reconnect")
		}
	}
}

func (s *Service) onConnectivityError(b *binding, err error) {
	s.log.WithError(err).WithField("identity", b.identity).Warn("connectivity subscription error")

	s.mu.Lock()
	if !s.activeLocked() || s.binding != b {
		s.mu.Unlock()
		return
	}
	s.status.IsConnected = false
	s.scheduleRetryLocked()
	status := s.status.Clone()
	s.mu.Unlock()

	s.observer.OnConnectivity(false)
	s.connListeners.Notify(status)
}
