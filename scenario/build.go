package scenario

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/instrument"
	"github.com/pedrobellotti/nstestes/internal/logging"
	"github.com/pedrobellotti/nstestes/internal/observability"
	"github.com/pedrobellotti/nstestes/kb"
	"github.com/pedrobellotti/nstestes/model"
	"github.com/pedrobellotti/nstestes/traffic"
)

// Build stages, in order. They name spans and histogram labels.
const (
	StageTopology        = "topology"
	StageAddressing      = "addressing"
	StageTraffic         = "traffic"
	StageInstrumentation = "instrumentation"
)

// Scenario is a fully built description: every node, segment and interface
// exists, every interface is addressed and every role is installed and
// validated. Nothing has been handed to an engine yet.
type Scenario struct {
	Description Description
	BuildID     string

	Nodes     *kb.KnowledgeBase
	Network   *core.KnowledgeBase
	Addresses map[string]net.IP
	Traffic   *traffic.Scenario
	Plan      *instrument.Plan

	// Stop is the effective global stop time.
	Stop time.Duration

	log        logging.Logger
	runMetrics *observability.RunCollector
}

type options struct {
	log        logging.Logger
	metrics    *observability.BuildCollector
	runMetrics *observability.RunCollector
}

// Option customises Build.
type Option func(*options)

// WithLogger sets the logger handed to every builder component.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics records build outcomes and stage durations on c.
func WithMetrics(c *observability.BuildCollector) Option {
	return func(o *options) { o.metrics = c }
}

// WithRunMetrics records run results on c when the scenario is run.
func WithRunMetrics(c *observability.RunCollector) Option {
	return func(o *options) { o.runMetrics = c }
}

type builder struct {
	desc    Description
	log     logging.Logger
	metrics *observability.BuildCollector

	out *Scenario
}

// Build turns desc into a Scenario. It stops at the first failure and the
// returned error is a *core.BuildError naming the offending entity.
func Build(ctx context.Context, desc Description, opts ...Option) (*Scenario, error) {
	o := options{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, buildID := logging.EnsureBuildID(ctx)
	// build_id rides on ctx and is added to every record from there.
	log := o.log.Named("builder").With(logging.String("scenario", desc.Name))

	ctx, span := observability.Tracer().Start(ctx, "scenario.build", trace.WithAttributes(
		attribute.String("scenario.name", desc.Name),
		attribute.String("scenario.build_id", buildID),
	))
	defer span.End()

	b := &builder{
		desc:    desc,
		log:     log,
		metrics: o.metrics,
		out: &Scenario{
			Description: desc,
			BuildID:     buildID,
			log:         o.log,
			runMetrics:  o.runMetrics,
		},
	}

	err := b.run(ctx)
	o.metrics.ObserveBuild(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error(ctx, "scenario build failed", logging.Err(err))
		return nil, err
	}

	s := b.out
	segments, interfaces := s.Network.Counts()
	roles := len(s.Traffic.Roles())
	o.metrics.SetScenarioCounts(s.Nodes.NodeCount(), segments, interfaces, roles)
	log.Info(ctx, "scenario built",
		logging.Int("nodes", s.Nodes.NodeCount()),
		logging.Int("segments", segments),
		logging.Int("interfaces", interfaces),
		logging.Int("roles", roles),
		logging.String("stop", s.Stop.String()),
	)
	return s, nil
}

func (b *builder) run(ctx context.Context) error {
	for _, st := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageTopology, b.topology},
		{StageAddressing, b.addressing},
		{StageTraffic, b.traffic},
		{StageInstrumentation, b.instrumentation},
	} {
		if err := b.stage(ctx, st.name, st.fn); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observability.Tracer().Start(ctx, "scenario."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	b.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.entity", core.EntityOf(err)))
	}
	return err
}

func (b *builder) topology(ctx context.Context) error {
	nodes := kb.NewKnowledgeBase()
	network := core.NewKnowledgeBase(nodes)
	tb := core.NewTopologyBuilder(nodes, network, core.WithTopologyLogger(b.log))

	for i, g := range b.desc.Nodes {
		nodeType := g.Type
		if nodeType == "" {
			nodeType = model.NodeTypeHost
		}
		switch {
		case len(g.IDs) > 0 && g.Prefix != "":
			return core.Errorf(core.ErrConfiguration, g.Prefix, "node group %d sets both ids and prefix", i)
		case len(g.IDs) > 0:
			for _, id := range g.IDs {
				if _, err := tb.AddNode(id, nodeType); err != nil {
					return err
				}
			}
		case g.Prefix != "":
			if _, err := tb.CreateNodes(g.Prefix, g.Count, nodeType); err != nil {
				return err
			}
		default:
			return core.Errorf(core.ErrConfiguration, "", "node group %d has neither ids nor prefix", i)
		}
	}

	for _, req := range b.desc.Segments {
		if _, err := tb.CreateSegment(ctx, req); err != nil {
			return err
		}
	}

	b.out.Nodes = nodes
	b.out.Network = network
	return nil
}

func (b *builder) addressing(ctx context.Context) error {
	pool, err := b.desc.Pool()
	if err != nil {
		return err
	}
	planner, err := core.NewAddressPlanner(pool, core.WithPlannerLogger(b.log))
	if err != nil {
		return err
	}
	addrs, err := planner.Assign(ctx, b.out.Network)
	if err != nil {
		return err
	}
	if left := planner.Remaining(); left > 0 {
		b.log.Debug(ctx, "unused pool subnets", logging.Int("remaining", left))
	}
	b.out.Addresses = addrs
	return nil
}

func (b *builder) traffic(ctx context.Context) error {
	ts, err := traffic.New(b.out.Network, traffic.WithLogger(b.log))
	if err != nil {
		return err
	}
	for _, spec := range b.desc.Echo {
		if _, _, err := ts.InstallEcho(ctx, spec); err != nil {
			return err
		}
	}
	for _, spec := range b.desc.Bulk {
		if _, _, err := ts.InstallBulk(ctx, spec); err != nil {
			return err
		}
	}

	stop := b.desc.Stop
	switch {
	case stop < 0:
		return core.Errorf(core.ErrScenarioTiming, b.desc.Name, "stop time %v is negative", stop)
	case stop == 0 && len(ts.Roles()) == 0:
		return core.Errorf(core.ErrConfiguration, b.desc.Name, "no stop time and no applications")
	case stop == 0:
		stop = ts.End()
	case stop < ts.End():
		b.log.Warn(ctx, "stop time cuts applications short",
			logging.String("stop", stop.String()),
			logging.String("last_deactivation", ts.End().String()),
		)
	}

	b.out.Traffic = ts
	b.out.Stop = stop
	return nil
}

func (b *builder) instrumentation(ctx context.Context) error {
	plan, err := instrument.New(b.out.Nodes, b.out.Network, instrument.WithLogger(b.log))
	if err != nil {
		return err
	}
	spec := b.desc.Instrumentation

	for _, c := range spec.Captures {
		if err := plan.EnableCapture(ctx, c.SegmentID, c.Prefix); err != nil {
			return err
		}
	}
	for _, c := range spec.CaptureKinds {
		if err := plan.EnableCaptureKind(ctx, c.Kind, c.Prefix); err != nil {
			return err
		}
	}
	if spec.FlowAccounting {
		plan.EnableFlowAccounting(spec.FlowReport)
	}
	if spec.Animation != "" {
		plan.SetAnimationFile(spec.Animation)
	}
	for _, g := range spec.Grids {
		if err := plan.PlaceGrid(g.Nodes, g.Grid); err != nil {
			return err
		}
	}
	for _, p := range spec.Positions {
		if err := plan.PlaceNode(p.NodeID, p.Position.X, p.Position.Y); err != nil {
			return err
		}
	}

	b.out.Plan = plan
	return nil
}
