package presence

import (
	"time"

	"github.com/prudhvinik1/edgepresence/internal/models"
)

// Observer receives notifications about the service's internal activity.
// Methods are called synchronously and must not block.
type Observer interface {
	OnBind(identity string, err error)
	OnWrite(state models.State, err error)
	OnRetryScheduled(attempt int, delay time.Duration)
	OnConnectivity(connected bool)
}

type nopObserver struct{}

func (nopObserver) OnBind(string, error) {}
func (nopObserver) OnWrite(models.State, error) {}
func (nopObserver) OnRetryScheduled(int, time.Duration) {}
func (nopObserver) OnConnectivity(bool) {}
