// Package lifecycle relays host application foreground/background transitions.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/prudhvinik1/edgepresence/internal/fanout"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/store"
)

// Emitter implements presence.AppLifecycle for hosts that push transitions in.
// Unlike identity, subscribers are not called on registration: there is no
// transition to report yet.
type Emitter struct {
	listeners fanout.Set[models.AppState]
}

func NewEmitter() *Emitter {
	return &Emitter{}
}

func (e *Emitter) OnLifecycleChange(fn func(models.AppState)) (store.Unsubscribe, error) {
	return store.Once(e.listeners.Add(fn)), nil
}

func (e *Emitter) Emit(state models.AppState) {
	e.listeners.Notify(state)
}

func (e *Emitter) Subscribers() int {
	return e.listeners.Len()
}

// Parse accepts foreground, background and inactive, plus the "active" alias
// some hosts report for foreground.
func Parse(s string) (models.AppState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "foreground", "active":
		return models.AppForeground, nil
	case "background":
		return models.AppBackground, nil
	case "inactive":
		return models.AppInactive, nil
	}
	return "", fmt.Errorf("unknown app state %q", s)
}
