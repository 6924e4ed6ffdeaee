package presence

import (
	"context"

	"github.com/prudhvinik1/edgepresence/internal/models"
)

func (s *Service) onLifecycleChange(state models.AppState) {
	s.mu.Lock()
	if !s.activeLocked() {
		s.mu.Unlock()
		return
	}
	s.appState = state
	s.stopIdleLocked()
	bound := s.binding != nil && s.identity != nil
	s.mu.Unlock()

	s.debugf("app lifecycle: %s", state)
	if !bound {
		return
	}

	ctx := context.Background()
	switch state {
	case models.AppForeground:
		if err := s.write(ctx, models.StateOnline, nil); err != nil {
			s.log.WithError(err).Warn("failed to write online on foreground")
		}
		s.mu.Lock()
		if s.appState == models.AppForeground {
			s.armIdleLocked()
		}
		s.mu.Unlock()
	case models.AppBackground:
		if err := s.write(ctx, models.StateOffline, nil); err != nil {
			s.log.WithError(err).Warn("failed to write offline on background")
		}
	}
}

// armIdleLocked (re)starts the away countdown.
func (s *Service) armIdleLocked() {
	if !s.settings.AutoAway || s.binding == nil {
		return
	}
	s.stopIdleLocked()
	gen := s.idleGen
	s.idleTimer = s.clock.AfterFunc(s.settings.AwayTimeout, func() { s.onIdle(gen) })
}

func (s *Service) stopIdleLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idleGen++
}

// onIdle moves online to away. The state is checked now rather than when the
// timer was armed, so a manual change in between wins.
func (s *Service) onIdle(gen uint64) {
	s.mu.Lock()
	if gen != s.idleGen || !s.activeLocked() {
		s.mu.Unlock()
		return
	}
	s.idleTimer = nil
	if s.binding == nil || s.currentState != models.StateOnline {
		state := s.currentState
		s.mu.Unlock()
		s.debugf("idle timeout ignored in state %s", state)
		return
	}
	s.mu.Unlock()

	if err := s.write(context.Background(), models.StateAway, nil); err != nil {
		s.log.WithError(err).Warn("failed to write away after idle timeout")
	}
}
