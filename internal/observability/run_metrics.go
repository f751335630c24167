package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pedrobellotti/nstestes/engine"
)

// RunCollector exposes post-run engine counters.
type RunCollector struct {
	gatherer prometheus.Gatherer

	Runs             prometheus.Counter
	EventsProcessed  prometheus.Counter
	RunDuration      prometheus.Histogram
	SimulatedSeconds prometheus.Gauge
	Flows            prometheus.Gauge

	RequestsSent    *prometheus.CounterVec
	RepliesReceived *prometheus.CounterVec
	SinkRxBytes     *prometheus.GaugeVec
}

// NewRunCollector registers run metrics against reg.
func NewRunCollector(reg prometheus.Registerer) (*RunCollector, error) {
	reg, gatherer := resolveRegistry(reg)
	c := &RunCollector{gatherer: gatherer}

	var err error
	if c.Runs, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulation_runs_total",
		Help: "Completed simulation runs.",
	}), "simulation_runs_total"); err != nil {
		return nil, err
	}
	if c.EventsProcessed, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulation_events_processed_total",
		Help: "Discrete events dispatched by the engine.",
	}), "simulation_events_processed_total"); err != nil {
		return nil, err
	}
	if c.RunDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simulation_run_duration_seconds",
		Help:    "Wall-clock duration of engine runs.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}), "simulation_run_duration_seconds"); err != nil {
		return nil, err
	}
	if c.SimulatedSeconds, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_stop_time_seconds",
		Help: "Simulated time at which the last run stopped.",
	}), "simulation_stop_time_seconds"); err != nil {
		return nil, err
	}
	if c.Flows, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_flows",
		Help: "Flows recorded by the flow monitor in the last run.",
	}), "simulation_flows"); err != nil {
		return nil, err
	}
	if c.RequestsSent, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_requests_sent_total",
		Help: "Echo requests sent, labeled by client role.",
	}, []string{"role"}), "echo_requests_sent_total"); err != nil {
		return nil, err
	}
	if c.RepliesReceived, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_replies_received_total",
		Help: "Echo replies received, labeled by client role.",
	}, []string{"role"}), "echo_replies_received_total"); err != nil {
		return nil, err
	}
	if c.SinkRxBytes, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bulk_sink_rx_bytes",
		Help: "Bytes received by each bulk sink in the last run, labeled by sink label.",
	}, []string{"sink"}), "bulk_sink_rx_bytes"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RunCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveRun folds one run's results into the metrics. sinks maps sink role
// IDs to their report labels.
func (c *RunCollector) ObserveRun(res *engine.Results, wall time.Duration, sinks map[string]string) {
	if c == nil || res == nil {
		return
	}
	c.Runs.Inc()
	c.EventsProcessed.Add(float64(res.EventsProcessed))
	c.RunDuration.Observe(wall.Seconds())
	c.SimulatedSeconds.Set(res.StoppedAt.Seconds())
	c.Flows.Set(float64(len(res.Flows)))

	for _, id := range res.RoleIDs() {
		st := res.Applications[id]
		if label, ok := sinks[id]; ok {
			c.SinkRxBytes.WithLabelValues(label).Set(float64(st.Flow.RxBytes))
			continue
		}
		if st.RequestsSent > 0 {
			c.RequestsSent.WithLabelValues(id).Add(float64(st.RequestsSent))
			c.RepliesReceived.WithLabelValues(id).Add(float64(st.RepliesReceived))
		}
	}
}
