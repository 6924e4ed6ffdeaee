// Package presence mirrors the signed-in identity's online/offline/away/busy
// status into a realtime store and keeps it correct across sign-in, sign-out,
// connectivity loss and app foreground/background transitions.
package presence

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/prudhvinik1/edgepresence/internal/fanout"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/store"
)

// IdentityProvider emits the current identity, nil meaning signed out.
type IdentityProvider interface {
	OnIdentityChanged(fn func(*models.Identity)) (store.Unsubscribe, error)
}

// AppLifecycle emits host application foreground/background transitions.
type AppLifecycle interface {
	OnLifecycleChange(fn func(models.AppState)) (store.Unsubscribe, error)
}

// Config holds the collaborators of a Service. Store, Identity and App are
// required; the rest default to a logrus logger, the wall clock and no
// observer.
type Config struct {
	Store    store.Store
	Identity IdentityProvider
	App      AppLifecycle
	Logger   logrus.FieldLogger
	Clock    Clock
	Observer Observer
}

func (c Config) validate() error {
	if c.Store == nil {
		return newError(CodeConfiguration, nil, "store is required")
	}
	if c.Identity == nil {
		return newError(CodeConfiguration, nil, "identity provider is required")
	}
	if c.App == nil {
		return newError(CodeConfiguration, nil, "app lifecycle is required")
	}
	return nil
}

type phase int

const (
	phaseUninitialized phase = iota
	phaseInitializing
	phaseReady
	phaseFailed
)

func (p phase) String() string {
	switch p {
	case phaseInitializing:
		return "initializing"
	case phaseReady:
		return "ready"
	case phaseFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// initAttempt is shared by every Initialize caller that arrives while it runs.
type initAttempt struct {
	done chan struct{}
	err  error
}

// Service is the presence session manager. It owns at most one binding to the
// store for the current identity, one retry timer and one idle timer.
//
// Handlers triggered by the identity provider, the app lifecycle, the store
// and timers are serialized by mu and never hold it while calling out, so
// collaborators may deliver callbacks synchronously.
type Service struct {
	store            store.Store
	identityProvider IdentityProvider
	app              AppLifecycle
	log              logrus.FieldLogger
	clock            Clock
	observer         Observer
	debug            atomic.Bool

	// writeMu keeps store writes in the order they were requested. Presence
	// values the store reports while it is held are queued in updates and
	// handed to listeners only after it is released.
	writeMu sync.Mutex

	mu            sync.Mutex
	settings      Settings
	phase         phase
	attempt       *initAttempt
	initErr       error
	unsubIdentity store.Unsubscribe
	unsubApp      store.Unsubscribe

	identity    *models.Identity
	setupTarget string
	binding     *binding
	pending     *binding

	currentState models.State
	customData   map[string]any
	appState     models.AppState
	status       models.ConnectionStatus

	retryTimer Timer
	retryGen   uint64
	idleTimer  Timer
	idleGen    uint64

	connListeners fanout.Set[models.ConnectionStatus]
	watches       map[string]*watch
	updates       []watchUpdate
	writing       bool
	draining      bool
}

// New validates cfg and returns an uninitialized Service.
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	settings := DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	s := &Service{
		store:            cfg.Store,
		identityProvider: cfg.Identity,
		app:              cfg.App,
		log:              cfg.Logger,
		clock:            cfg.Clock,
		observer:         cfg.Observer,
		settings:         settings,
		currentState:     models.StateOffline,
		watches:          make(map[string]*watch),
	}
	if s.log == nil {
		l := logrus.New()
		if settings.Debug {
			l.SetLevel(logrus.DebugLevel)
		}
		s.log = l.WithField("component", "presence")
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	s.debug.Store(settings.Debug)
	return s, nil
}

// Initialize subscribes to identity and app lifecycle notifications. It runs
// at most once: concurrent callers share the in-flight attempt and later
// callers get nil once ready. A failed attempt is remembered and retried by
// the next call.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case phaseReady:
		s.mu.Unlock()
		return nil
	case phaseInitializing:
		a := s.attempt
		s.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a := &initAttempt{done: make(chan struct{})}
	s.phase = phaseInitializing
	s.attempt = a
	s.initErr = nil
	s.mu.Unlock()

	err := s.setup(a)

	s.mu.Lock()
	var cleanup func()
	switch {
	case s.attempt != a:
		// Destroyed while subscribing; Destroy already reset the state.
		if err == nil {
			err = errDestroyed
		}
	case err != nil:
		cleanup = s.resetLocked()
		s.phase = phaseFailed
		s.initErr = err
		s.attempt = nil
	default:
		s.phase = phaseReady
		s.attempt = nil
	}
	s.mu.Unlock()

	if cleanup != nil {
		cleanup()
	}
	if err != nil {
		s.log.WithError(err).Warn("presence initialization failed")
	} else {
		s.debugf("presence initialized")
	}

	a.err = err
	close(a.done)
	return err
}

var errDestroyed = newError(CodeInitializationFailed, nil, "service destroyed during initialization")

func (s *Service) setup(a *initAttempt) error {
	if err := (Config{Store: s.store, Identity: s.identityProvider, App: s.app}).validate(); err != nil {
		return newError(CodeInitializationFailed, err, "invalid configuration")
	}

	unsub, err := s.identityProvider.OnIdentityChanged(s.onIdentityChanged)
	if err != nil {
		return newError(CodeInitializationFailed, err, "subscribe to identity changes")
	}
	if !s.adopt(a, &s.unsubIdentity, unsub) {
		unsub()
		return errDestroyed
	}

	unsub, err = s.app.OnLifecycleChange(s.onLifecycleChange)
	if err != nil {
		return newError(CodeInitializationFailed, err, "subscribe to app lifecycle")
	}
	if !s.adopt(a, &s.unsubApp, unsub) {
		unsub()
		return errDestroyed
	}
	return nil
}

func (s *Service) adopt(a *initAttempt, slot *store.Unsubscribe, unsub store.Unsubscribe) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != a {
		return false
	}
	*slot = unsub
	return true
}

// activeLocked reports whether handlers should act. Callbacks that arrive
// after Destroy are dropped here.
func (s *Service) activeLocked() bool {
	return s.phase == phaseInitializing || s.phase == phaseReady
}

// Destroy unsubscribes from every collaborator, cancels timers, drops all
// listeners and returns the service to the uninitialized state. Calling it
// again is a no-op.
func (s *Service) Destroy() {
	s.mu.Lock()
	if s.phase == phaseUninitialized && s.unsubIdentity == nil && s.unsubApp == nil && s.binding == nil {
		s.mu.Unlock()
		return
	}
	cleanup := s.resetLocked()
	s.phase = phaseUninitialized
	s.attempt = nil
	s.initErr = nil
	s.mu.Unlock()

	cleanup()
	s.connListeners.Clear()
	s.debugf("presence destroyed")
}

// resetLocked detaches everything the service owns and returns a function
// releasing it, to be called without mu held.
func (s *Service) resetLocked() func() {
	s.stopRetryLocked()
	s.stopIdleLocked()

	unsubIdentity, unsubApp := s.unsubIdentity, s.unsubApp
	s.unsubIdentity, s.unsubApp = nil, nil

	b := s.binding
	s.binding = nil
	s.pending = nil
	s.identity = nil
	s.setupTarget = ""

	watches := s.watches
	s.watches = make(map[string]*watch)
	s.updates = nil

	s.currentState = models.StateOffline
	s.customData = nil
	s.appState = ""
	s.status = models.ConnectionStatus{}

	return func() {
		if unsubIdentity != nil {
			unsubIdentity()
		}
		if unsubApp != nil {
			unsubApp()
		}
		s.teardown(b)
		for _, w := range watches {
			w.listeners.Clear()
			if w.unsub != nil {
				w.unsub()
			}
		}
	}
}

// UpdateConfig merges opts into the current settings without validation.
func (s *Service) UpdateConfig(opts ...Option) {
	s.mu.Lock()
	for _, opt := range opts {
		opt(&s.settings)
	}
	s.debug.Store(s.settings.Debug)
	s.mu.Unlock()
}

// Settings returns a copy of the effective settings.
func (s *Service) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.clone()
}

// ConnectionStatus returns a copy of the connection status.
func (s *Service) ConnectionStatus() models.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Clone()
}

// CurrentState returns the last state requested through the writer. It is
// updated before the store acknowledges the write and is not rolled back if
// the write fails.
func (s *Service) CurrentState() models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentState
}

type ListenerCounts struct {
	Connection int            `json:"connection"`
	Presence   map[string]int `json:"presence"`
}

type DebugSnapshot struct {
	Initialized       bool                    `json:"initialized"`
	Phase             string                  `json:"phase"`
	InitError         string                  `json:"initError,omitempty"`
	BoundIdentity     string                  `json:"boundIdentity"`
	BindingID         string                  `json:"bindingId,omitempty"`
	BindingInProgress bool                    `json:"bindingInProgress"`
	ConnectionStatus  models.ConnectionStatus `json:"connectionStatus"`
	ListenerCounts    ListenerCounts          `json:"listenerCounts"`
	CurrentState      models.State            `json:"currentState"`
	CustomData        map[string]any          `json:"customData,omitempty"`
	AppState          models.AppState         `json:"appState,omitempty"`
	RetryPending      bool                    `json:"retryPending"`
	IdlePending       bool                    `json:"idlePending"`
	EffectiveConfig   Settings                `json:"effectiveConfig"`
}

func (s *Service) DebugSnapshot() DebugSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := DebugSnapshot{
		Initialized:       s.phase == phaseReady,
		Phase:             s.phase.String(),
		BindingInProgress: s.pending != nil,
		ConnectionStatus:  s.status.Clone(),
		ListenerCounts: ListenerCounts{
			Connection: s.connListeners.Len(),
			Presence:   make(map[string]int, len(s.watches)),
		},
		CurrentState:    s.currentState,
		CustomData:      maps.Clone(s.customData),
		AppState:        s.appState,
		RetryPending:    s.retryTimer != nil,
		IdlePending:     s.idleTimer != nil,
		EffectiveConfig: s.settings.clone(),
	}
	if s.initErr != nil {
		snap.InitError = s.initErr.Error()
	}
	if s.binding != nil {
		snap.BoundIdentity = s.binding.identity
		snap.BindingID = s.binding.id.String()
	}
	for id, w := range s.watches {
		snap.ListenerCounts.Presence[id] = w.listeners.Len()
	}
	return snap
}

func (s *Service) debugf(format string, args ...any) {
	if s.debug.Load() {
		s.log.Debugf(format, args...)
	}
}
