package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SimulationCollector exposes metrics about the discrete-event run loop.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	TickDuration   prometheus.Histogram
	EventsExecuted prometheus.Counter
	EventsPending  prometheus.Gauge
	SimTimeSeconds prometheus.Gauge

	lastExecuted uint64
}

// NewSimulationCollector registers run-loop metrics against the provided registerer.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tickHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "blesim_tick_duration_seconds",
		Help:    "Wall-clock time spent executing the events of one simulation tick.",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})
	tickHistogram, err := registerHistogram(reg, tickHistogram, "blesim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	executed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blesim_scheduler_events_executed_total",
		Help: "Cumulative number of scheduler callbacks executed.",
	})
	executed, err = registerCounter(reg, executed, "blesim_scheduler_events_executed_total")
	if err != nil {
		return nil, err
	}

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blesim_scheduler_events_pending",
		Help: "Number of events currently waiting in the scheduler.",
	})
	pending, err = registerGauge(reg, pending, "blesim_scheduler_events_pending")
	if err != nil {
		return nil, err
	}

	simTime := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blesim_sim_time_seconds",
		Help: "Simulated time elapsed since the start of the run.",
	})
	simTime, err = registerGauge(reg, simTime, "blesim_sim_time_seconds")
	if err != nil {
		return nil, err
	}

	return &SimulationCollector{
		gatherer:       gatherer,
		TickDuration:   tickHistogram,
		EventsExecuted: executed,
		EventsPending:  pending,
		SimTimeSeconds: simTime,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records the wall-clock cost of one tick.
func (c *SimulationCollector) ObserveTick(d time.Duration) {
	if c == nil || c.TickDuration == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
}

// SetSchedulerState publishes the scheduler counters. executed is the
// scheduler's cumulative total; only the increase since the last call is
// added to the counter.
func (c *SimulationCollector) SetSchedulerState(executed uint64, pending int, elapsed time.Duration) {
	if c == nil {
		return
	}
	if c.EventsExecuted != nil && executed > c.lastExecuted {
		c.EventsExecuted.Add(float64(executed - c.lastExecuted))
	}
	c.lastExecuted = executed
	if c.EventsPending != nil {
		c.EventsPending.Set(float64(pending))
	}
	if c.SimTimeSeconds != nil {
		c.SimTimeSeconds.Set(elapsed.Seconds())
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
