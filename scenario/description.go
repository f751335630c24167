// Package scenario turns a declarative Description into a fully wired,
// addressed and scheduled scenario, and hands it to an engine.
package scenario

import (
	"time"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/instrument"
	"github.com/pedrobellotti/nstestes/traffic"
)

// DefaultPoolBase is the first subnet of the generated address pool.
const DefaultPoolBase = "10.1.1.0/24"

// Description is a complete scenario as data: topology, addressing, traffic,
// instrumentation and stop time.
type Description struct {
	Name    string
	Summary string

	Nodes    []NodeGroup
	Segments []core.SegmentRequest

	// AddressPool lists candidate subnets consumed in order, one per
	// segment. Empty means consecutive /24s from DefaultPoolBase.
	AddressPool []string

	Echo []traffic.EchoSpec
	Bulk []traffic.BulkSpec

	Instrumentation Instrumentation

	// Stop is the global simulation stop time. Zero stops at the latest
	// role deactivation.
	Stop time.Duration
}

// NodeGroup creates nodes either from explicit IDs or as Prefix0..PrefixN-1.
type NodeGroup struct {
	IDs    []string
	Prefix string
	Count  int
	Type   string
}

// Instrumentation lists the observation hooks of a scenario.
type Instrumentation struct {
	Captures     []instrument.CaptureRequest
	CaptureKinds []KindCapture

	FlowAccounting bool
	// FlowReport defaults to instrument.DefaultFlowReportFile.
	FlowReport string
	// Animation defaults to instrument.DefaultAnimationFile.
	Animation string

	// Grids are applied before Positions, so explicit positions win.
	Grids     []GridPlacement
	Positions []instrument.Placement
}

// KindCapture captures every segment of one link kind.
type KindCapture struct {
	Kind   core.LinkKind
	Prefix string
}

// GridPlacement lays Nodes out on Grid in order.
type GridPlacement struct {
	Nodes []string
	Grid  instrument.Grid
}

// RoleCount is the number of application roles the description installs.
func (d Description) RoleCount() int {
	return 2 * (len(d.Echo) + len(d.Bulk))
}

// Pool returns the address pool the build consumes.
func (d Description) Pool() ([]string, error) {
	if len(d.AddressPool) > 0 {
		return append([]string(nil), d.AddressPool...), nil
	}
	return core.SequentialPool(DefaultPoolBase, len(d.Segments))
}
