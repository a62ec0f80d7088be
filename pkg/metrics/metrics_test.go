package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(SendsTotal.WithLabelValues("sent"))
	SendsTotal.WithLabelValues("sent").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SendsTotal.WithLabelValues("sent")))

	SessionsActive.Inc()
	SessionsActive.Dec()
	assert.Equal(t, 0.0, testutil.ToFloat64(SessionsActive))
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	timer.ObserveDuration(APIRequestDuration, "chat.Send")
	assert.Equal(t, 1, testutil.CollectAndCount(APIRequestDuration))
}

func TestHandler(t *testing.T) {
	SignalsTotal.WithLabelValues("position").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nearby_signals_total")
}
