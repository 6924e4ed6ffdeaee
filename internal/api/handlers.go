package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/prudhvinik1/edgepresence/internal/lifecycle"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
	"github.com/prudhvinik1/edgepresence/internal/utils"
)

type ctxKey int

const identityKey ctxKey = iota

// authenticate verifies the bearer token and stores its identity in the
// request context.
func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := h.Verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func identityFrom(ctx context.Context) *models.Identity {
	id, _ := ctx.Value(identityKey).(*models.Identity)
	return id
}

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	h.Session.SignIn(*id)
	h.logger(r).WithField("identity", id.ID).Info("session signed in")
	writeJSON(w, http.StatusOK, id)
}

func (h *handler) signOut(w http.ResponseWriter, r *http.Request) {
	h.Session.SignOut()
	h.logger(r).Info("session signed out")
	w.WriteHeader(http.StatusNoContent)
}

type lifecycleRequest struct {
	State string `json:"state"`
}

func (h *handler) lifecycle(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := lifecycle.Parse(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.Lifecycle.Emit(state)
	w.WriteHeader(http.StatusNoContent)
}

type presenceRequest struct {
	State      models.State   `json:"state"`
	CustomData map[string]any `json:"customData,omitempty"`
}

func (h *handler) setPresence(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r.Context())
	if current := h.Session.Current(); current == nil || current.ID != caller.ID {
		writeError(w, http.StatusConflict, "token identity is not the signed-in identity")
		return
	}

	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.Service.SetState(r.Context(), req.State, req.CustomData)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, presence.ErrInvalidState):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, presence.ErrWriteFailed):
		h.logger(r).WithError(err).Warn("presence write failed")
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger(r).WithError(err).Error("unexpected presence error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// getPresence answers with the value SubscribeUserPresence hands over before
// it returns.
func (h *handler) getPresence(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	var mu sync.Mutex
	var rec *models.PresenceRecord
	delivered := false
	unsub, err := h.Service.SubscribeUserPresence(identity, func(v *models.PresenceRecord) {
		mu.Lock()
		defer mu.Unlock()
		if !delivered {
			rec, delivered = v, true
		}
	})
	if errors.Is(err, presence.ErrNotReady) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		h.logger(r).WithError(err).Warn("presence read failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	unsub()

	mu.Lock()
	found := rec
	mu.Unlock()
	if found == nil {
		writeError(w, http.StatusNotFound, "no presence recorded")
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := h.History.History(r.Context(), chi.URLParam(r, "identity"), limit)
	if err != nil {
		h.logger(r).WithError(err).Warn("history read failed")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if events == nil {
		events = []*models.PresenceEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.ConnectionStatus())
}

func (h *handler) debug(w http.ResponseWriter, r *http.Request) {
	if !utils.CheckKey(h.DebugKeyHash, r.Header.Get("X-Debug-Key")) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, h.Service.DebugSnapshot())
}

func (h *handler) logger(r *http.Request) logrus.FieldLogger {
	return h.log.WithField("request_id", middleware.GetReqID(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
