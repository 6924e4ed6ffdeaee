package presence

import (
	"context"
	"maps"

	"github.com/prudhvinik1/edgepresence/internal/models"
)

// SetState writes state for the bound identity. Without a bound identity it
// does nothing and returns nil. A state outside the allowed set fails with
// ErrInvalidState; a store failure with ErrWriteFailed. The state reported by
// CurrentState changes as soon as the input is accepted, even if the write
// then fails.
//
// Writing online also registers an offline write the store applies on an
// ungraceful disconnect; any other state cancels that registration.
func (s *Service) SetState(ctx context.Context, state models.State, customData map[string]any) error {
	return s.write(ctx, state, customData)
}

func (s *Service) GoOnline(ctx context.Context, customData map[string]any) error {
	return s.write(ctx, models.StateOnline, customData)
}

func (s *Service) GoOffline(ctx context.Context, customData map[string]any) error {
	return s.write(ctx, models.StateOffline, customData)
}

func (s *Service) SetAway(ctx context.Context, customData map[string]any) error {
	return s.write(ctx, models.StateAway, customData)
}

func (s *Service) SetBusy(ctx context.Context, customData map[string]any) error {
	return s.write(ctx, models.StateBusy, customData)
}

func (s *Service) write(ctx context.Context, state models.State, customData map[string]any) error {
	s.writeMu.Lock()
	s.mu.Lock()
	s.writing = true
	s.mu.Unlock()

	err := s.writeLocked(ctx, state, customData)

	s.mu.Lock()
	s.writing = false
	drain := len(s.updates) > 0 && !s.draining
	if drain {
		s.draining = true
	}
	s.mu.Unlock()
	s.writeMu.Unlock()

	if drain {
		s.drainUpdates()
	}
	return err
}

// writeLocked performs one write with writeMu held.
func (s *Service) writeLocked(ctx context.Context, state models.State, customData map[string]any) error {
	s.mu.Lock()
	b := s.binding
	if b == nil || s.identity == nil {
		s.mu.Unlock()
		return nil
	}
	if !s.settings.allows(state) {
		allowed := s.settings.AllowedStates
		s.mu.Unlock()
		return newError(CodeInvalidState, nil, "%q is not one of %v", state, allowed)
	}
	identity := s.identity.ID
	s.currentState = state
	s.customData = maps.Clone(customData)
	s.mu.Unlock()

	record := models.PresenceRecord{
		State:       state,
		LastChanged: s.store.ServerTimestamp(),
		Identity:    identity,
		CustomData:  customData,
	}
	if err := s.store.Write(ctx, b.ref, record); err != nil {
		s.observer.OnWrite(state, err)
		return newError(CodeWriteFailed, err, "write %s for %s", state, identity)
	}
	s.observer.OnWrite(state, nil)
	s.debugf("wrote %s for %s", state, identity)

	if state == models.StateOnline {
		return s.armOnDisconnect(ctx, b, identity)
	}
	return s.disarmOnDisconnect(ctx, b)
}

func (s *Service) armOnDisconnect(ctx context.Context, b *binding, identity string) error {
	od := s.store.OnDisconnect(b.ref)
	offline := models.PresenceRecord{
		State:       models.StateOffline,
		LastChanged: s.store.ServerTimestamp(),
		Identity:    identity,
	}
	if err := od.Write(ctx, offline); err != nil {
		return newError(CodeWriteFailed, err, "register disconnect write for %s", identity)
	}

	s.mu.Lock()
	if s.binding != b {
		s.mu.Unlock()
		if err := od.Cancel(ctx); err != nil {
			s.log.WithError(err).WithField("identity", identity).Warn("failed to cancel stale disconnect write")
		}
		return nil
	}
	b.onDisconnect = od
	s.mu.Unlock()
	return nil
}

func (s *Service) disarmOnDisconnect(ctx context.Context, b *binding) error {
	s.mu.Lock()
	if s.binding != b {
		s.mu.Unlock()
		return nil
	}
	od := b.onDisconnect
	b.onDisconnect = nil
	s.mu.Unlock()

	if od == nil {
		return nil
	}
	if err := od.Cancel(ctx); err != nil {
		return newError(CodeWriteFailed, err, "cancel disconnect write for %s", b.identity)
	}
	return nil
}
