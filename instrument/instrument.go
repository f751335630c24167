// Package instrument records which outputs a scenario run should produce.
// Nothing here changes topology, addresses or timing.
package instrument

import (
	"context"
	"fmt"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/internal/logging"
	"github.com/pedrobellotti/nstestes/kb"
	"github.com/pedrobellotti/nstestes/model"
)

// Default output names.
const (
	DefaultAnimationFile  = "animation.yaml"
	DefaultFlowReportFile = "flowmon.xml"
)

// CaptureRequest asks for per-interface capture files on one segment.
type CaptureRequest struct {
	SegmentID string
	Prefix    string
}

// Placement is a static node position.
type Placement struct {
	NodeID   string
	Position model.Position
}

// Grid lays nodes out on a regular grid. With RowFirst, Width nodes fill a
// row before the next row starts; otherwise Width nodes fill a column.
type Grid struct {
	MinX, MinY     float64
	DeltaX, DeltaY float64
	Width          int
	RowFirst       bool
}

// At returns the position of the i-th node.
func (g Grid) At(i int) model.Position {
	width := max(g.Width, 1)
	major, minor := i/width, i%width
	if g.RowFirst {
		return model.Position{X: g.MinX + g.DeltaX*float64(minor), Y: g.MinY + g.DeltaY*float64(major)}
	}
	return model.Position{X: g.MinX + g.DeltaX*float64(major), Y: g.MinY + g.DeltaY*float64(minor)}
}

// Plan collects instrumentation requests for one scenario.
type Plan struct {
	nodes *kb.KnowledgeBase
	net   *core.KnowledgeBase
	log   logging.Logger

	captures       []CaptureRequest
	captured       map[string]bool
	flowAccounting bool
	flowReport     string
	animation      string
	placements     []Placement
}

// Option customises a Plan.
type Option func(*Plan)

// WithLogger sets the plan logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Plan) {
		if l != nil {
			p.log = l
		}
	}
}

// New creates a plan for an addressed topology.
func New(nodes *kb.KnowledgeBase, network *core.KnowledgeBase, opts ...Option) (*Plan, error) {
	if nodes == nil || network == nil {
		return nil, fmt.Errorf("instrument: nil store")
	}
	if !network.Sealed() {
		return nil, core.Errorf(core.ErrConfiguration, "", "instrumentation requires an addressed topology")
	}
	p := &Plan{
		nodes:      nodes,
		net:        network,
		log:        logging.Noop(),
		captured:   make(map[string]bool),
		flowReport: DefaultFlowReportFile,
		animation:  DefaultAnimationFile,
	}
	for _, opt := range opts {
		opt(p)
	}
	nodes.Subscribe(p.recordPlacement)
	return p, nil
}

// EnableCapture turns on capture for every interface of segmentID. Files are
// named <prefix>-<node>-<interface index>.pcap. Enabling a segment twice is a
// no-op.
func (p *Plan) EnableCapture(ctx context.Context, segmentID, prefix string) error {
	seg := p.net.GetSegment(segmentID)
	if seg == nil {
		return core.UnknownEntity("segment", segmentID)
	}
	if p.captured[segmentID] {
		return nil
	}
	if prefix == "" {
		prefix = segmentID
	}
	p.captured[segmentID] = true
	p.captures = append(p.captures, CaptureRequest{SegmentID: segmentID, Prefix: prefix})
	p.log.Debug(ctx, "capture enabled", logging.String("segment", segmentID), logging.String("prefix", prefix))
	return nil
}

// EnableCaptureKind turns on capture for every segment of the given kind.
func (p *Plan) EnableCaptureKind(ctx context.Context, kind core.LinkKind, prefix string) error {
	found := false
	for _, seg := range p.net.ListSegments() {
		if seg.Kind != kind {
			continue
		}
		found = true
		if err := p.EnableCapture(ctx, seg.ID, prefix); err != nil {
			return err
		}
	}
	if !found {
		return core.UnknownEntity("segment of kind "+kind.String(), kind.String())
	}
	return nil
}

// EnableFlowAccounting asks the engine for a per-flow report. An empty
// file name keeps the default.
func (p *Plan) EnableFlowAccounting(reportFile string) {
	p.flowAccounting = true
	if reportFile != "" {
		p.flowReport = reportFile
	}
}

// SetAnimationFile names the visualization trace.
func (p *Plan) SetAnimationFile(name string) {
	if name != "" {
		p.animation = name
	}
}

// PlaceNode records a static position for nodeID in the node store. The
// plan learns about it through its placement subscription.
func (p *Plan) PlaceNode(nodeID string, x, y float64) error {
	if err := p.nodes.SetNodePosition(nodeID, model.Position{X: x, Y: y}); err != nil {
		return core.UnknownEntity("node", nodeID)
	}
	return nil
}

// recordPlacement keeps the first-placement order; re-placing a node only
// moves it.
func (p *Plan) recordPlacement(ev kb.PlacementEvent) {
	for i := range p.placements {
		if p.placements[i].NodeID == ev.Node.ID {
			p.placements[i].Position = ev.Position
			return
		}
	}
	p.placements = append(p.placements, Placement{NodeID: ev.Node.ID, Position: ev.Position})
}

// PlaceGrid positions nodeIDs on g in order. Every node is checked before
// any is placed.
func (p *Plan) PlaceGrid(nodeIDs []string, g Grid) error {
	for _, id := range nodeIDs {
		if !p.nodes.HasNode(id) {
			return core.UnknownEntity("node", id)
		}
	}
	for i, id := range nodeIDs {
		pos := g.At(i)
		if err := p.PlaceNode(id, pos.X, pos.Y); err != nil {
			return err
		}
	}
	return nil
}

// Captures returns capture requests in the order they were made.
func (p *Plan) Captures() []CaptureRequest {
	return append([]CaptureRequest(nil), p.captures...)
}

// FlowAccounting reports whether a flow report was requested, and its name.
func (p *Plan) FlowAccounting() (enabled bool, reportFile string) {
	return p.flowAccounting, p.flowReport
}

// AnimationFile returns the visualization trace name.
func (p *Plan) AnimationFile() string { return p.animation }

// Placements returns static positions in the order they were first set.
func (p *Plan) Placements() []Placement {
	return append([]Placement(nil), p.placements...)
}
