package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Attempt outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeRetryable      = "retryable"
	OutcomePermanent      = "permanent"
	OutcomeNoSubscription = "no_subscription"
)

// Metrics methods are safe to call on a nil receiver.
type Metrics struct {
	attempts          *prometheus.CounterVec
	deferred          prometheus.Counter
	subscriptionValid prometheus.Gauge
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prayer_registration_attempts_total",
			Help: "Device registration attempts by outcome.",
		}, []string{"outcome"}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prayer_registration_deferred_total",
			Help: "Registrations persisted as pending after exhausting retries.",
		}),
		subscriptionValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prayer_push_subscription_valid",
			Help: "1 when the push subscription was valid at the last check.",
		}),
	}
	for _, c := range []prometheus.Collector{m.attempts, m.deferred, m.subscriptionValid} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "error registering collector")
		}
	}
	return m, nil
}

func (m *Metrics) Attempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Deferred() {
	if m == nil {
		return
	}
	m.deferred.Inc()
}

func (m *Metrics) SubscriptionValid(valid bool) {
	if m == nil {
		return
	}
	if valid {
		m.subscriptionValid.Set(1)
	} else {
		m.subscriptionValid.Set(0)
	}
}
