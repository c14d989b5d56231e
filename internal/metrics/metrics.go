// Package metrics exposes a simulation run as Prometheus metrics. The
// Collector is a timeline observer: it only reads published changes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cxd309/railsim/internal/engine"
	"github.com/cxd309/railsim/internal/timeline"
)

// Collector turns published changes into metrics.
type Collector struct {
	changes   *prometheus.CounterVec
	occupied  prometheus.Gauge
	departed  prometheus.Counter
	arrived   prometheus.Counter
	aspects   *prometheus.CounterVec
	simulated prometheus.Gauge
}

// New registers the simulation metrics on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		changes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "railsim_changes_total",
			Help: "Total number of published changes by kind",
		}, []string{"kind"}),
		occupied: f.NewGauge(prometheus.GaugeOpts{
			Name: "railsim_tvd_sections_occupied",
			Help: "Number of TVD sections currently held by a train",
		}),
		departed: f.NewCounter(prometheus.CounterOpts{
			Name: "railsim_trains_departed_total",
			Help: "Total number of trains put on the network",
		}),
		arrived: f.NewCounter(prometheus.CounterOpts{
			Name: "railsim_trains_arrived_total",
			Help: "Total number of trains that reached their destination",
		}),
		aspects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "railsim_signal_aspect_changes_total",
			Help: "Total number of signal aspect changes by displayed aspect",
		}, []string{"aspect"}),
		simulated: f.NewGauge(prometheus.GaugeOpts{
			Name: "railsim_simulated_time_seconds",
			Help: "Simulated time of the last published change",
		}),
	}
}

// OnChange implements timeline.Observer.
func (c *Collector) OnChange(r timeline.Record) {
	c.changes.WithLabelValues(r.Change.Kind()).Inc()
	c.simulated.Set(r.Time)

	switch ch := r.Change.(type) {
	case *engine.TVDOccupyChange:
		c.occupied.Inc()
	case *engine.TVDUnoccupyChange:
		c.occupied.Dec()
	case *engine.TrainCreatedChange:
		c.departed.Inc()
	case *engine.PhaseAdvanceChange:
		if ch.Destination {
			c.arrived.Inc()
		}
	case *engine.SignalAspectChange:
		c.aspects.WithLabelValues(ch.Aspect).Inc()
	}
}

var _ timeline.Observer = (*Collector)(nil)
