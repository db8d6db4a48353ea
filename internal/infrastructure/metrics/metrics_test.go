package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.SessionCreated("google")
	m.SessionCreated("google")
	m.SessionsEvicted(1)
	m.SessionsDeleted("logout", 1)
	m.SessionsSwept(3)
	m.SessionsSwept(0)
	m.Login("apple", LoginStateMismatch)
	m.Resolve(ResolveAnonymous)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsCreated.WithLabelValues("google")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsEvicted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsDeleted.WithLabelValues("logout")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessionsSwept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("apple", LoginStateMismatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolves.WithLabelValues(ResolveAnonymous)))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionCreated("google")
		m.SessionsEvicted(2)
		m.Login("google", LoginSucceeded)
		m.Resolve(ResolveError)
		m.UserCreated()
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.UserCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "potluck_auth_users_created_total 1")
}
