package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "potluck_auth"

// Login outcomes.
const (
	LoginSucceeded     = "succeeded"
	LoginStateMismatch = "state_mismatch"
	LoginDenied        = "denied"
	LoginExchangeError = "exchange_failed"
	LoginStorageError  = "storage_error"
)

// Resolve outcomes.
const (
	ResolveAuthenticated = "authenticated"
	ResolveAnonymous     = "anonymous"
	ResolveError         = "error"
)

// Metrics holds the auth core collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsCreated *prometheus.CounterVec
	sessionsEvicted prometheus.Counter
	sessionsDeleted *prometheus.CounterVec
	sessionsSwept   prometheus.Counter
	logins          *prometheus.CounterVec
	resolves        *prometheus.CounterVec
	usersCreated    prometheus.Counter
}

// New registers all collectors on a fresh registry, together with the
// process and Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return NewWithRegistry(reg)
}

func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created, by provider.",
		}, []string{"provider"}),
		sessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed to keep a user under the per-user cap.",
		}),
		sessionsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_deleted_total",
			Help:      "Sessions deleted by logout or revocation.",
		}, []string{"reason"}),
		sessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Expired sessions removed by the sweeper.",
		}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "OAuth login attempts, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		resolves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Request principal resolutions, by outcome.",
		}, []string{"outcome"}),
		usersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_created_total",
			Help:      "Users created on first login.",
		}),
	}
}

func (m *Metrics) SessionCreated(provider string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(provider).Inc()
}

func (m *Metrics) SessionsEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsEvicted.Add(float64(n))
}

func (m *Metrics) SessionsDeleted(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsDeleted.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) SessionsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(n))
}

func (m *Metrics) Login(provider, outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Resolve(outcome string) {
	if m == nil {
		return
	}
	m.resolves.WithLabelValues(outcome).Inc()
}

func (m *Metrics) UserCreated() {
	if m == nil {
		return
	}
	m.usersCreated.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
