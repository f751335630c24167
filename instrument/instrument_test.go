package instrument

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/model"
)

func addressedPlan(t *testing.T) *Plan {
	t.Helper()
	ctx := context.Background()
	b := core.NewTopologyBuilder(nil, nil)
	if _, err := b.CreateNodes("n", 4, "HOST"); err != nil {
		t.Fatalf("CreateNodes: %v", err)
	}
	p2p := core.PointToPointConfig{DataRate: 5 * core.Mbps, Delay: 2 * time.Millisecond}
	for _, req := range []core.SegmentRequest{
		{ID: "a", Config: p2p, Nodes: []string{"n0", "n1"}},
		{ID: "b", Config: p2p, Nodes: []string{"n1", "n2"}},
		{ID: "lan", Config: core.SharedMediumConfig{DataRate: 100 * core.Mbps}, Nodes: []string{"n2", "n3"}},
	} {
		if _, err := b.CreateSegment(ctx, req); err != nil {
			t.Fatalf("CreateSegment: %v", err)
		}
	}
	planner, _ := core.NewAddressPlanner([]string{"10.1.1.0/24", "10.1.2.0/24", "10.1.3.0/24"})
	if _, err := planner.Assign(ctx, b.Network()); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	p, err := New(b.Nodes(), b.Network())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewRequiresAddressedTopology(t *testing.T) {
	b := core.NewTopologyBuilder(nil, nil)
	if _, err := New(b.Nodes(), b.Network()); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("New = %v, want ErrConfiguration", err)
	}
}

func TestEnableCapture(t *testing.T) {
	p := addressedPlan(t)
	ctx := context.Background()
	if err := p.EnableCapture(ctx, "a", "rede1"); err != nil {
		t.Fatalf("EnableCapture: %v", err)
	}
	if err := p.EnableCapture(ctx, "a", "again"); err != nil {
		t.Fatalf("EnableCapture twice: %v", err)
	}
	if err := p.EnableCapture(ctx, "missing", "x"); !errors.Is(err, core.ErrUnknownEntity) {
		t.Fatalf("EnableCapture(missing) = %v, want ErrUnknownEntity", err)
	}
	caps := p.Captures()
	if len(caps) != 1 || caps[0].Prefix != "rede1" {
		t.Fatalf("Captures = %+v", caps)
	}
}

func TestEnableCaptureKind(t *testing.T) {
	p := addressedPlan(t)
	ctx := context.Background()
	if err := p.EnableCaptureKind(ctx, core.PointToPoint, "p2p"); err != nil {
		t.Fatalf("EnableCaptureKind: %v", err)
	}
	if got := len(p.Captures()); got != 2 {
		t.Fatalf("captures = %d, want 2", got)
	}
	if err := p.EnableCaptureKind(ctx, core.WirelessCell, "wifi"); !errors.Is(err, core.ErrUnknownEntity) {
		t.Fatalf("EnableCaptureKind(wireless) = %v, want ErrUnknownEntity", err)
	}
}

func TestPlaceNodeAndGrid(t *testing.T) {
	p := addressedPlan(t)
	if err := p.PlaceNode("n0", 0, 0); err != nil {
		t.Fatalf("PlaceNode: %v", err)
	}
	if err := p.PlaceNode("ghost", 1, 1); !errors.Is(err, core.ErrUnknownEntity) {
		t.Fatalf("PlaceNode(ghost) = %v, want ErrUnknownEntity", err)
	}

	grid := Grid{DeltaX: 5, DeltaY: 10, Width: 3, RowFirst: true}
	if err := p.PlaceGrid([]string{"n0", "n1", "n2", "n3"}, grid); err != nil {
		t.Fatalf("PlaceGrid: %v", err)
	}
	placements := p.Placements()
	if len(placements) != 4 {
		t.Fatalf("placements = %d, want 4 (re-placing n0 must not duplicate)", len(placements))
	}
	if placements[3].Position != (model.Position{X: 0, Y: 10}) {
		t.Fatalf("n3 position = %+v, want {0 10}", placements[3].Position)
	}
	if placements[2].Position != (model.Position{X: 10, Y: 0}) {
		t.Fatalf("n2 position = %+v, want {10 0}", placements[2].Position)
	}

	if err := p.PlaceGrid([]string{"n0", "ghost"}, grid); !errors.Is(err, core.ErrUnknownEntity) {
		t.Fatalf("PlaceGrid with ghost = %v", err)
	}
}

func TestPlacementsFollowNodeStore(t *testing.T) {
	p := addressedPlan(t)
	if err := p.nodes.SetNodePosition("n2", model.Position{X: 3, Y: 4}); err != nil {
		t.Fatalf("SetNodePosition: %v", err)
	}
	if err := p.PlaceNode("n1", 1, 1); err != nil {
		t.Fatalf("PlaceNode: %v", err)
	}
	if err := p.nodes.SetNodePosition("n2", model.Position{X: 7, Y: 8}); err != nil {
		t.Fatalf("SetNodePosition: %v", err)
	}

	want := []Placement{
		{NodeID: "n2", Position: model.Position{X: 7, Y: 8}},
		{NodeID: "n1", Position: model.Position{X: 1, Y: 1}},
	}
	got := p.Placements()
	if len(got) != len(want) {
		t.Fatalf("placements = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("placement[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFlowAccountingAndAnimation(t *testing.T) {
	p := addressedPlan(t)
	if on, _ := p.FlowAccounting(); on {
		t.Fatalf("flow accounting enabled by default")
	}
	p.EnableFlowAccounting("flowRedeC.xml")
	if on, name := p.FlowAccounting(); !on || name != "flowRedeC.xml" {
		t.Fatalf("FlowAccounting = %v, %q", on, name)
	}
	if p.AnimationFile() != DefaultAnimationFile {
		t.Fatalf("AnimationFile = %q", p.AnimationFile())
	}
	p.SetAnimationFile("rede.json")
	if p.AnimationFile() != "rede.json" {
		t.Fatalf("AnimationFile = %q", p.AnimationFile())
	}
}

func TestGridColumnFirst(t *testing.T) {
	g := Grid{MinX: 1, MinY: 2, DeltaX: 5, DeltaY: 10, Width: 2}
	if got := g.At(3); got != (model.Position{X: 6, Y: 12}) {
		t.Fatalf("At(3) = %+v, want {6 12}", got)
	}
}
