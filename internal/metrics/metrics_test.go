package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/edgepresence/internal/models"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.OnBind("a", nil)
	c.OnBind("a", errors.New("boom"))
	c.OnWrite(models.StateOnline, nil)
	c.OnWrite(models.StateOnline, nil)
	c.OnWrite(models.StateBusy, errors.New("boom"))
	c.OnRetryScheduled(3, 4*time.Second)
	c.OnConnectivity(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.binds.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.binds.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.writes.WithLabelValues("online", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.writes.WithLabelValues("busy", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.retryAttempt))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connected))

	c.OnConnectivity(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connected))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.retryAttempt))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.OnWrite(models.StateAway, nil)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `edgepresence_writes_total{result="ok",state="away"} 1`)
}
