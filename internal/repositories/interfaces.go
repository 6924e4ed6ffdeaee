package repositories

import (
	"context"

	"github.com/prudhvinik1/edgepresence/internal/models"
)

type PresenceHistoryRepository interface {
	Append(ctx context.Context, event *models.PresenceEvent) error
	ListByIdentity(ctx context.Context, identity string, limit int) ([]*models.PresenceEvent, error)
}
