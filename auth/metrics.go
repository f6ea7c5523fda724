package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Callback outcomes recorded by hubdoc_auth_callbacks_total.
const (
	OutcomeSuccess         = "success"
	OutcomeProviderError   = "provider_error"
	OutcomeMissingParams   = "missing_params"
	OutcomeInvalidState    = "invalid_state"
	OutcomeMissingVerifier = "missing_verifier"
	OutcomeExchangeFailed  = "exchange_failed"
	OutcomeAborted         = "aborted"
	OutcomeStorageFailed   = "storage_failed"
)

// Metrics counts auth flow events.
type Metrics struct {
	Logins    prometheus.Counter
	Callbacks *prometheus.CounterVec
	Logouts   prometheus.Counter
}

// NewMetrics creates the auth counters and registers them with reg when it is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hubdoc",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login redirects issued to the identity provider.",
		}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hubdoc",
			Subsystem: "auth",
			Name:      "callbacks_total",
			Help:      "Handled login callbacks by outcome.",
		}, []string{"outcome"}),
		Logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hubdoc",
			Subsystem: "auth",
			Name:      "logouts_total",
			Help:      "Completed logouts.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Logins, m.Callbacks, m.Logouts)
	}
	return m
}

func (m *Metrics) callback(outcome string) {
	if m != nil {
		m.Callbacks.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) login() {
	if m != nil {
		m.Logins.Inc()
	}
}

func (m *Metrics) logout() {
	if m != nil {
		m.Logouts.Inc()
	}
}
