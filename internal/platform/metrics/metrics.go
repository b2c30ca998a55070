package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	AdminsRegistered prometheus.Counter
	Logins           *prometheus.CounterVec
	PasswordUpdates  prometheus.Counter
	HashDuration     prometheus.Histogram
	ActiveWatches    prometheus.Gauge
}

// New creates and registers all Prometheus metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production wiring; tests use their own
// registry so repeated construction cannot collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AdminsRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "ever_admins_registered_total",
			Help: "Total number of administrative principals registered",
		}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ever_admin_logins_total",
			Help: "Total number of admin login attempts by result",
		}, []string{"result"}),
		PasswordUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "ever_admin_password_updates_total",
			Help: "Total number of successful admin password updates",
		}),
		HashDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ever_password_hash_duration_seconds",
			Help:    "Latency of password hashing operations",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		ActiveWatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ever_admin_active_watches",
			Help: "Number of live admin point-read subscriptions",
		}),
	}
}

// ObserveHashDuration records one hashing operation.
func (m *Metrics) ObserveHashDuration(d time.Duration) {
	m.HashDuration.Observe(d.Seconds())
}

// IncrementLogin records a login attempt outcome ("success" or "failure").
func (m *Metrics) IncrementLogin(result string) {
	m.Logins.WithLabelValues(result).Inc()
}
