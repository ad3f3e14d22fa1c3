package index

import (
	"errors"

	"evalgo.org/gridstore/internal/storage"
	"evalgo.org/gridstore/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors shared by every index of a process.
type Metrics struct {
	hits     *prometheus.CounterVec
	misses   *prometheus.CounterVec
	backend  *prometheus.CounterVec
	networks prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridstore",
			Subsystem: "index",
			Name:      "cache_hits_total",
			Help:      "Index reads answered from memory.",
		}, []string{"op"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridstore",
			Subsystem: "index",
			Name:      "cache_misses_total",
			Help:      "Index reads that needed the backing store.",
		}, []string{"op"}),
		backend: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridstore",
			Subsystem: "index",
			Name:      "backend_calls_total",
			Help:      "Backing store calls issued by the index.",
		}, []string{"op", "outcome"}),
		networks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridstore",
			Subsystem: "index",
			Name:      "networks",
			Help:      "Network indexes held by the registry.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.backend, m.networks)
	}
	return m
}

func (m *Metrics) hit(op string) {
	if m != nil {
		m.hits.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) miss(op string) {
	if m != nil {
		m.misses.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) call(op storage.Op, err error) {
	if m == nil {
		return
	}
	m.backend.WithLabelValues(string(op), outcome(err)).Inc()
}

func (m *Metrics) setNetworks(n int) {
	if m != nil {
		m.networks.Set(float64(n))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrDuplicateID):
		return "duplicate"
	case errors.Is(err, models.ErrBackingStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
