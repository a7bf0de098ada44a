package moon

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts compilations, cache lookups, registry registrations and
// dispatch decisions. A nil *Metrics records nothing.
type Metrics struct {
	compiles      *prometheus.CounterVec
	lookups       *prometheus.CounterVec
	registrations *prometheus.CounterVec
	dispatches    *prometheus.CounterVec
}

// NewMetrics creates the engine counters and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		compiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "moonhost",
				Name:      "compile_total",
				Help:      "Script compilations by result",
			},
			[]string{"result"},
		),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "moonhost",
				Name:      "cache_lookups_total",
				Help:      "Artifact cache lookups by result",
			},
			[]string{"result"},
		),
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "moonhost",
				Name:      "registry_registrations_total",
				Help:      "Global function registrations by result",
			},
			[]string{"result"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "moonhost",
				Name:      "dispatch_total",
				Help:      "Dispatch resolutions by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.compiles, m.lookups, m.registrations, m.dispatches} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) compiled(ok bool) {
	if m == nil {
		return
	}
	m.compiles.WithLabelValues(resultLabel(ok, "ok", "error")).Inc()
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(resultLabel(hit, "hit", "miss")).Inc()
}

func (m *Metrics) registration(inserted bool) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(resultLabel(inserted, "inserted", "skipped")).Inc()
}

func (m *Metrics) dispatch(tier string, kind OutcomeKind) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(tier, kind.String()).Inc()
}

func resultLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
