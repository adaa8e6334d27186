// Package metrics exports Prometheus counters and histograms for the
// dialog and RTP subsystems, grounded on the teacher's
// pkg/dialog/metrics.go and pkg/rtp/metrics.go. Collection is gated by a
// runtime Enabled flag rather than a build tag: a build tag would make the
// collectors unreachable from ordinary `go test ./...` runs, which is the
// opposite of what we want for a library meant to be exercised in CI.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric the call/transport subsystem emits. A
// Collector with Enabled=false still satisfies every call site but skips
// incrementing counters, so hot paths pay only a branch, not an allocation.
type Collector struct {
	Enabled bool

	DialogsTotal        prometheus.Counter
	DialogsActive       prometheus.Gauge
	DialogStateTransitions *prometheus.CounterVec
	NegotiationFailures prometheus.Counter
	RegistrationErrors  *prometheus.CounterVec

	RTPPacketsSent     prometheus.Counter
	RTPPacketsReceived prometheus.Counter
	RTPJitterMicros    prometheus.Histogram
}

// New registers every metric under the given registerer (pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry across parallel test packages).
func New(reg prometheus.Registerer, enabled bool) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		Enabled: enabled,
		DialogsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voiplink", Subsystem: "dialog", Name: "total",
			Help: "Total invite sessions created.",
		}),
		DialogsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "voiplink", Subsystem: "dialog", Name: "active",
			Help: "Invite sessions currently not in a terminal state.",
		}),
		DialogStateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiplink", Subsystem: "dialog", Name: "state_transitions_total",
			Help: "Invite session FSM transitions, labeled by destination state.",
		}, []string{"state"}),
		NegotiationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voiplink", Subsystem: "sdp", Name: "negotiation_failures_total",
			Help: "SDP offer/answer runs that ended with an empty codec intersection.",
		}),
		RegistrationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiplink", Subsystem: "registration", Name: "errors_total",
			Help: "REGISTER attempts that ended in a non-success account state, labeled by state.",
		}, []string{"state"}),
		RTPPacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voiplink", Subsystem: "rtp", Name: "packets_sent_total",
		}),
		RTPPacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voiplink", Subsystem: "rtp", Name: "packets_received_total",
		}),
		RTPJitterMicros: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voiplink", Subsystem: "rtp", Name: "jitter_microseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12),
		}),
	}
}

func (c *Collector) dialogTransition(state string) {
	if c == nil || !c.Enabled {
		return
	}
	c.DialogStateTransitions.WithLabelValues(state).Inc()
}

// DialogTransition records an invite session FSM transition to state.
func (c *Collector) DialogTransition(state string) { c.dialogTransition(state) }

// DialogCreated increments the total/active dialog gauges.
func (c *Collector) DialogCreated() {
	if c == nil || !c.Enabled {
		return
	}
	c.DialogsTotal.Inc()
	c.DialogsActive.Inc()
}

// DialogClosed decrements the active dialog gauge.
func (c *Collector) DialogClosed() {
	if c == nil || !c.Enabled {
		return
	}
	c.DialogsActive.Dec()
}

// RegistrationError records a REGISTER attempt that landed on a
// non-success account state, labeled by that state's name.
func (c *Collector) RegistrationError(state string) {
	if c == nil || !c.Enabled {
		return
	}
	c.RegistrationErrors.WithLabelValues(state).Inc()
}
