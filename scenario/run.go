package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/engine"
	"github.com/pedrobellotti/nstestes/internal/logging"
	"github.com/pedrobellotti/nstestes/internal/observability"
)

// Apply hands the built scenario to eng: nodes, segments with their
// addressed interfaces, application roles, then instrumentation.
func (s *Scenario) Apply(ctx context.Context, eng engine.Engine) error {
	for _, n := range s.Nodes.ListNetworkNodes() {
		if err := eng.AddNode(ctx, *n); err != nil {
			return fmt.Errorf("add node %s: %w", n.ID, err)
		}
	}

	for _, seg := range s.Network.ListSegments() {
		ifaces := make([]*core.Interface, 0, len(seg.InterfaceIDs))
		for _, id := range seg.InterfaceIDs {
			ifaces = append(ifaces, s.Network.GetInterface(id))
		}
		if err := eng.AddSegment(ctx, seg, ifaces); err != nil {
			return fmt.Errorf("add segment %s: %w", seg.ID, err)
		}
	}

	for _, r := range s.Traffic.Roles() {
		if err := eng.InstallApplication(ctx, r); err != nil {
			return fmt.Errorf("install %s: %w", r.RoleID(), err)
		}
	}

	for _, c := range s.Plan.Captures() {
		if err := eng.EnableCapture(ctx, c); err != nil {
			return fmt.Errorf("capture %s: %w", c.SegmentID, err)
		}
	}
	if enabled, report := s.Plan.FlowAccounting(); enabled {
		if err := eng.EnableFlowMonitor(ctx, report); err != nil {
			return fmt.Errorf("flow monitor: %w", err)
		}
	}
	for _, p := range s.Plan.Placements() {
		if err := eng.SetPosition(ctx, p.NodeID, p.Position); err != nil {
			return fmt.Errorf("position %s: %w", p.NodeID, err)
		}
	}
	if err := eng.SetAnimation(ctx, s.Plan.AnimationFile()); err != nil {
		return fmt.Errorf("animation: %w", err)
	}
	return nil
}

// Run applies the scenario to eng, runs it up to Stop and destroys the
// engine. Sink flow records are attached to their roles before returning,
// so WriteSinkSummary reflects this run.
func (s *Scenario) Run(ctx context.Context, eng engine.Engine) (res *engine.Results, err error) {
	ctx = logging.ContextWithBuildID(ctx, s.BuildID)
	log := s.log.Named("runner").With(logging.String("scenario", s.Description.Name))

	ctx, span := observability.Tracer().Start(ctx, "scenario.run", trace.WithAttributes(
		attribute.String("scenario.name", s.Description.Name),
		attribute.Float64("scenario.stop_seconds", s.Stop.Seconds()),
	))
	defer func() {
		if derr := eng.Destroy(); derr != nil {
			err = errors.Join(err, fmt.Errorf("destroy engine: %w", derr))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := s.Apply(ctx, eng); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err = eng.Run(ctx, s.Stop)
	wall := time.Since(start)
	if res == nil {
		return nil, err
	}

	labels := make(map[string]string)
	for _, sink := range s.Traffic.Sinks() {
		sink.AttachFlowRecord(res.App(sink.ID).Flow)
		labels[sink.ID] = sink.Label
	}
	s.runMetrics.ObserveRun(res, wall, labels)

	log.Info(ctx, "scenario finished",
		logging.String("stopped_at", res.StoppedAt.String()),
		logging.Any("events", res.EventsProcessed),
		logging.Int("flows", len(res.Flows)),
		logging.Int("files", len(res.Files)),
		logging.String("wall", wall.String()),
	)
	return res, err
}

// WriteSinkSummary prints one "(<sink>) Total Bytes Received: N" line per
// bulk sink. Scenarios without bulk traffic print nothing.
func (s *Scenario) WriteSinkSummary(w io.Writer) error {
	if !s.Traffic.HasBulk() {
		return nil
	}
	for _, sink := range s.Traffic.Sinks() {
		if _, err := fmt.Fprintf(w, "(%s) Total Bytes Received: %d\n", sink.Label, sink.TotalRx()); err != nil {
			return err
		}
	}
	return nil
}
