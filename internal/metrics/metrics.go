// Package metrics exports presence service activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
)

const namespace = "edgepresence"

// Collector implements presence.Observer.
type Collector struct {
	writes       *prometheus.CounterVec
	binds        *prometheus.CounterVec
	retries      prometheus.Counter
	retryDelay   prometheus.Histogram
	retryAttempt prometheus.Gauge
	connected    prometheus.Gauge
}

var _ presence.Observer = (*Collector)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Presence record writes by state and result.",
		}, []string{"state", "result"}),
		binds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "binds_total",
			Help:      "Identity binding attempts by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Reconnect attempts scheduled.",
		}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds",
			Help:      "Delay of scheduled reconnect attempts.",
			Buckets:   []float64{1, 2, 4, 8, 16, 30},
		}),
		retryAttempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_attempt",
			Help:      "Attempt number of the last scheduled retry.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the store reports a live connection.",
		}),
	}
	reg.MustRegister(c.writes, c.binds, c.retries, c.retryDelay, c.retryAttempt, c.connected)
	return c
}

func (c *Collector) OnBind(_ string, err error) {
	c.binds.WithLabelValues(result(err)).Inc()
}

func (c *Collector) OnWrite(state models.State, err error) {
	c.writes.WithLabelValues(string(state), result(err)).Inc()
}

func (c *Collector) OnRetryScheduled(attempt int, delay time.Duration) {
	c.retries.Inc()
	c.retryDelay.Observe(delay.Seconds())
	c.retryAttempt.Set(float64(attempt))
}

func (c *Collector) OnConnectivity(connected bool) {
	if connected {
		c.connected.Set(1)
		c.retryAttempt.Set(0)
		return
	}
	c.connected.Set(0)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
