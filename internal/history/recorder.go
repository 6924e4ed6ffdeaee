// Package history records presence transitions written through a store.
package history

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/repositories"
	"github.com/prudhvinik1/edgepresence/internal/store"
)

// appendTimeout bounds the history insert so a slow database never holds up
// the presence write that triggered it for long.
const appendTimeout = 5 * time.Second

// Recorder is a store.Store that appends every successfully written
// PresenceRecord to a history repository. Other values pass through
// unrecorded, as do writes applied on disconnect, which never reach the
// client.
type Recorder struct {
	store.Store
	repo repositories.PresenceHistoryRepository
	log  logrus.FieldLogger
}

func NewRecorder(inner store.Store, repo repositories.PresenceHistoryRepository, log logrus.FieldLogger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{Store: inner, repo: repo, log: log.WithField("component", "history")}
}

// Write writes through to the wrapped store. A history failure is logged and
// does not fail the write.
func (r *Recorder) Write(ctx context.Context, ref store.Ref, value any) error {
	if err := r.Store.Write(ctx, ref, value); err != nil {
		return err
	}

	rec, ok := asRecord(value)
	if !ok || rec.Identity == "" {
		return nil
	}

	event := &models.PresenceEvent{
		Identity:   rec.Identity,
		State:      rec.State,
		CustomData: rec.CustomData,
	}
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if err := r.repo.Append(appendCtx, event); err != nil {
		r.log.WithError(err).WithField("identity", rec.Identity).Warn("failed to record presence history")
	}
	return nil
}

// History returns up to limit recorded transitions for identity, newest first.
func (r *Recorder) History(ctx context.Context, identity string, limit int) ([]*models.PresenceEvent, error) {
	return r.repo.ListByIdentity(ctx, identity, limit)
}

func asRecord(value any) (models.PresenceRecord, bool) {
	switch v := value.(type) {
	case models.PresenceRecord:
		return v, true
	case *models.PresenceRecord:
		if v != nil {
			return *v, true
		}
	}
	return models.PresenceRecord{}, false
}
