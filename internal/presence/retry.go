package presence

import "github.com/prudhvinik1/edgepresence/internal/models"

// scheduleRetryLocked arms the single retry timer. It does nothing while a
// retry is pending or once RetryCount has reached MaxRetries; after that only
// a sign-in (or a fresh Initialize after Destroy) starts over.
func (s *Service) scheduleRetryLocked() {
	if s.retryTimer != nil {
		return
	}
	if s.status.RetryCount >= s.settings.MaxRetries {
		s.debugf("retry ceiling of %d reached", s.settings.MaxRetries)
		return
	}

	delay := RetryDelay(s.settings.RetryBaseDelay, s.status.RetryCount)
	s.status.RetryCount++
	s.retryGen++
	gen := s.retryGen
	s.retryTimer = s.clock.AfterFunc(delay, func() { s.onRetry(gen) })

	s.log.WithField("attempt", s.status.RetryCount).WithField("delay", delay).Info("presence retry scheduled")
	s.observer.OnRetryScheduled(s.status.RetryCount, delay)
}

func (s *Service) stopRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.retryGen++
}

// onRetry rebinds with the state the user last asked for, or offline while
// the app is in the background.
func (s *Service) onRetry(gen uint64) {
	s.mu.Lock()
	if gen != s.retryGen || !s.activeLocked() {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	if s.identity == nil || (s.binding != nil && s.status.IsConnected) {
		s.mu.Unlock()
		return
	}
	identity := s.identity.ID
	state, data := s.currentState, s.customData
	if s.appState == models.AppBackground {
		state, data = models.StateOffline, nil
	}
	s.mu.Unlock()

	s.debugf("retrying binding for %s with %s", identity, state)
	s.bind(identity, state, data)
}
