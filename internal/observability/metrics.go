package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pedrobellotti/nstestes/core"
)

// BuildCollector bundles Prometheus metrics for scenario construction.
type BuildCollector struct {
	gatherer prometheus.Gatherer

	Builds        *prometheus.CounterVec
	BuildErrors   *prometheus.CounterVec
	BuildDuration *prometheus.HistogramVec

	ScenarioNodes      prometheus.Gauge
	ScenarioSegments   prometheus.Gauge
	ScenarioInterfaces prometheus.Gauge
	ScenarioRoles      prometheus.Gauge
}

// NewBuildCollector registers build metrics against reg, defaulting to the
// global Prometheus registry when nil. Registering twice on the same
// registry returns the existing collectors.
func NewBuildCollector(reg prometheus.Registerer) (*BuildCollector, error) {
	reg, gatherer := resolveRegistry(reg)

	builds, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_builds_total",
		Help: "Scenario builds, labeled by outcome (ok or error).",
	}, []string{"outcome"}), "scenario_builds_total")
	if err != nil {
		return nil, err
	}

	buildErrors, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_build_errors_total",
		Help: "Failed scenario builds, labeled by error kind.",
	}, []string{"kind"}), "scenario_build_errors_total")
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scenario_build_stage_duration_seconds",
		Help:    "Wall-clock duration of each build stage.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"stage"}), "scenario_build_stage_duration_seconds")
	if err != nil {
		return nil, err
	}

	gauges := make([]prometheus.Gauge, 0, 4)
	for _, g := range []struct{ name, help string }{
		{"scenario_nodes", "Nodes in the last built scenario."},
		{"scenario_segments", "Link segments in the last built scenario."},
		{"scenario_interfaces", "Interfaces in the last built scenario."},
		{"scenario_roles", "Application roles in the last built scenario."},
	} {
		gauge, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
		gauges = append(gauges, gauge)
	}

	return &BuildCollector{
		gatherer:           gatherer,
		Builds:             builds,
		BuildErrors:        buildErrors,
		BuildDuration:      duration,
		ScenarioNodes:      gauges[0],
		ScenarioSegments:   gauges[1],
		ScenarioInterfaces: gauges[2],
		ScenarioRoles:      gauges[3],
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *BuildCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *BuildCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveStage records how long one build stage took.
func (c *BuildCollector) ObserveStage(stage string, d time.Duration) {
	if c == nil || c.BuildDuration == nil {
		return
	}
	c.BuildDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveBuild counts one finished build. Failed builds are also counted by
// their error kind.
func (c *BuildCollector) ObserveBuild(err error) {
	if c == nil {
		return
	}
	if err == nil {
		c.Builds.WithLabelValues("ok").Inc()
		return
	}
	c.Builds.WithLabelValues("error").Inc()
	c.BuildErrors.WithLabelValues(ErrorKind(err)).Inc()
}

// SetScenarioCounts updates the size gauges after a successful build.
func (c *BuildCollector) SetScenarioCounts(nodes, segments, interfaces, roles int) {
	if c == nil {
		return
	}
	c.ScenarioNodes.Set(float64(nodes))
	c.ScenarioSegments.Set(float64(segments))
	c.ScenarioInterfaces.Set(float64(interfaces))
	c.ScenarioRoles.Set(float64(roles))
}

// WriteTextfile dumps every metric of the collector's registry in the text
// exposition format, suitable for a node-exporter textfile directory.
func (c *BuildCollector) WriteTextfile(path string) error {
	gatherer := c.Gatherer()
	if gatherer == nil {
		return fmt.Errorf("no gatherer to write")
	}
	return prometheus.WriteToTextfile(path, gatherer)
}

// ErrorKind maps a build error onto a short label value.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, core.ErrAddressSpaceExhausted):
		return "address_space_exhausted"
	case errors.Is(err, core.ErrAddressRangeExceeded):
		return "address_range_exceeded"
	case errors.Is(err, core.ErrScenarioTiming):
		return "scenario_timing"
	case errors.Is(err, core.ErrUnknownEntity):
		return "unknown_entity"
	case errors.Is(err, core.ErrConfiguration):
		return "configuration"
	default:
		return "other"
	}
}

func resolveRegistry(reg prometheus.Registerer) (prometheus.Registerer, prometheus.Gatherer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	return reg, gatherer
}

// register adds c to reg, returning the already registered collector of the
// same type when one exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, name string) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			return c, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return c, err
	}
	return c, nil
}
