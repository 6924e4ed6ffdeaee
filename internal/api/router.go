// Package api exposes a presence service to a host application over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
)

// Service is the part of *presence.Service the API drives.
type Service interface {
	SetState(ctx context.Context, state models.State, customData map[string]any) error
	SubscribeUserPresence(identityID string, fn func(*models.PresenceRecord)) (func(), error)
	ConnectionStatus() models.ConnectionStatus
	DebugSnapshot() presence.DebugSnapshot
}

// Session receives sign-in and sign-out requests.
type Session interface {
	SignIn(id models.Identity)
	SignOut()
	Current() *models.Identity
}

type Lifecycle interface {
	Emit(state models.AppState)
}

type TokenVerifier interface {
	Verify(token string) (*models.Identity, error)
}

type HistoryReader interface {
	History(ctx context.Context, identity string, limit int) ([]*models.PresenceEvent, error)
}

type Deps struct {
	Service   Service
	Session   Session
	Lifecycle Lifecycle
	Verifier  TokenVerifier
	// History is optional; without it the history route answers 404.
	History HistoryReader
	// DebugKeyHash is the bcrypt hash of the X-Debug-Key value. Empty
	// disables the debug route.
	DebugKeyHash string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  logrus.FieldLogger
}

type handler struct {
	Deps
	log logrus.FieldLogger
}

func NewRouter(d Deps) http.Handler {
	h := &handler{Deps: d, log: d.Logger}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}

	router := chi.NewRouter()
	router.Use(requestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// Health check endpoints
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if d.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	router.Route("/v1", func(r chi.Router) {
		r.With(h.authenticate).Post("/session", h.signIn)
		r.Delete("/session", h.signOut)
		r.Post("/lifecycle", h.lifecycle)

		r.With(h.authenticate).Put("/presence", h.setPresence)
		r.Get("/presence/{identity}", h.getPresence)
		r.Get("/presence/{identity}/history", h.history)

		r.Get("/status", h.status)
		r.Get("/debug", h.debug)
	})

	return router
}

// requestID tags each request with a UUID, keeping one supplied by the caller.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
