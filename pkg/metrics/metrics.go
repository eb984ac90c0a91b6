// Package metrics exports session activity of authmanager.Manager instances
// as Prometheus metrics.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aussiebroadwan/authkit/pkg/authmanager"
)

// Refresh results.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultRejected  = "rejected"
	ResultTransient = "transient"
)

// Source is the part of a Manager the collector observes. Every
// *authmanager.Manager[P] satisfies it.
type Source interface {
	Subscribe(fn func(authmanager.Event), kinds ...authmanager.EventKind) (authmanager.Unsubscribe, error)
	IsSignedIn() bool
}

// Metrics holds the session collectors.
type Metrics struct {
	SignIns   *prometheus.CounterVec
	SignOuts  *prometheus.CounterVec
	Refreshes *prometheus.CounterVec
	SignedIn  prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		SignIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authkit_sign_in_total",
			Help: "Sign-in attempts by result.",
		}, []string{"result"}),
		SignOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authkit_sign_out_total",
			Help: "Ended sessions; forced is true when a failed refresh ended the session.",
		}, []string{"forced"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authkit_token_refresh_total",
			Help: "Token refresh exchanges by result.",
		}, []string{"result"}),
		SignedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authkit_signed_in",
			Help: "Number of instrumented sessions currently signed in.",
		}),
	}

	// Pre-create label values so they export as zero.
	m.SignIns.WithLabelValues(ResultSuccess)
	m.SignIns.WithLabelValues(ResultFailure)
	m.SignOuts.WithLabelValues("false")
	m.SignOuts.WithLabelValues("true")
	m.Refreshes.WithLabelValues(ResultSuccess)
	m.Refreshes.WithLabelValues(ResultRejected)
	m.Refreshes.WithLabelValues(ResultTransient)

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.SignIns, m.SignOuts, m.Refreshes, m.SignedIn} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Instrument subscribes to src. The returned function detaches it again and
// drops its contribution to the signed-in gauge.
func (m *Metrics) Instrument(src Source) (authmanager.Unsubscribe, error) {
	if src == nil {
		return nil, errors.New("metrics: nil source")
	}

	s := &session{m: m}
	unsub, err := src.Subscribe(s.observe,
		authmanager.EventAuthStateChanged,
		authmanager.EventSignedIn,
		authmanager.EventSignInFailed,
		authmanager.EventSignedOut,
		authmanager.EventTokenRefreshed,
		authmanager.EventTokenRefreshFailed,
	)
	if err != nil {
		return nil, err
	}
	s.setSignedIn(src.IsSignedIn())

	return func() {
		unsub()
		s.setSignedIn(false)
	}, nil
}

// session tracks one manager's contribution to the gauge.
type session struct {
	m *Metrics

	mu       sync.Mutex
	signedIn bool
}

func (s *session) setSignedIn(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == s.signedIn {
		return
	}
	s.signedIn = v
	if v {
		s.m.SignedIn.Inc()
	} else {
		s.m.SignedIn.Dec()
	}
}

func (s *session) observe(ev authmanager.Event) {
	switch e := ev.(type) {
	case authmanager.AuthStateChangedEvent:
		s.setSignedIn(e.SignedIn)
	case authmanager.SignedInEvent:
		s.m.SignIns.WithLabelValues(ResultSuccess).Inc()
	case authmanager.SignInFailedEvent:
		s.m.SignIns.WithLabelValues(ResultFailure).Inc()
	case authmanager.SignedOutEvent:
		forced := "false"
		if e.Forced {
			forced = "true"
		}
		s.m.SignOuts.WithLabelValues(forced).Inc()
	case authmanager.TokenRefreshedEvent:
		s.m.Refreshes.WithLabelValues(ResultSuccess).Inc()
	case authmanager.TokenRefreshFailedEvent:
		if e.Rejected {
			s.m.Refreshes.WithLabelValues(ResultRejected).Inc()
		} else {
			s.m.Refreshes.WithLabelValues(ResultTransient).Inc()
		}
	}
}
