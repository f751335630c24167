// Package engine defines the narrow contract between the scenario builder
// and a discrete-event network engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/exp/slices"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/instrument"
	"github.com/pedrobellotti/nstestes/model"
	"github.com/pedrobellotti/nstestes/traffic"
)

// ErrDestroyed is returned by every call made after Destroy.
var ErrDestroyed = errors.New("engine destroyed")

// Engine is everything the builder needs from a simulator: create nodes,
// attach segments with their addressed interfaces, bind and schedule
// applications, enable capture and flow accounting, then run, stop at a
// global time and release resources.
type Engine interface {
	AddNode(ctx context.Context, node model.NetworkNode) error
	AddSegment(ctx context.Context, seg *core.LinkSegment, ifaces []*core.Interface) error
	InstallApplication(ctx context.Context, role traffic.ApplicationRole) error

	EnableCapture(ctx context.Context, req instrument.CaptureRequest) error
	EnableFlowMonitor(ctx context.Context, reportFile string) error
	SetPosition(ctx context.Context, nodeID string, pos model.Position) error
	SetAnimation(ctx context.Context, file string) error

	// Run executes every scheduled event up to stop and returns the
	// post-run counters.
	Run(ctx context.Context, stop time.Duration) (*Results, error)
	Destroy() error
}

// AppStats holds the post-run counters of one application role.
type AppStats struct {
	RoleID string

	RequestsSent     uint64
	RequestsReceived uint64
	RepliesSent      uint64
	RepliesReceived  uint64

	// Flow aggregates bytes/packets sent or received by the role.
	Flow model.FlowRecord
}

// FlowKey identifies a unidirectional transport flow.
type FlowKey struct {
	Source          net.IP
	Destination     net.IP
	SourcePort      int
	DestinationPort int
	Protocol        traffic.Transport
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s %s:%d -> %s:%d", k.Protocol, k.Source, k.SourcePort, k.Destination, k.DestinationPort)
}

// FlowStats are the counters of one flow.
type FlowStats struct {
	ID  int
	Key FlowKey
	model.FlowRecord
	DelayMean   time.Duration
	DelayStdDev time.Duration
}

// Results is returned by Engine.Run.
type Results struct {
	StoppedAt       time.Duration
	EventsProcessed uint64

	Applications map[string]AppStats
	Flows        []FlowStats

	// Files lists every output file written by the run.
	Files []string
}

// App returns the stats of roleID, zero-valued when absent.
func (r *Results) App(roleID string) AppStats {
	if r == nil || r.Applications == nil {
		return AppStats{RoleID: roleID}
	}
	st, ok := r.Applications[roleID]
	if !ok {
		return AppStats{RoleID: roleID}
	}
	return st
}

// RoleIDs returns application IDs in sorted order.
func (r *Results) RoleIDs() []string {
	ids := make([]string, 0, len(r.Applications))
	for id := range r.Applications {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// FlowTotals folds every monitored flow into one record.
func (r *Results) FlowTotals() model.FlowRecord {
	var total model.FlowRecord
	for _, fs := range r.Flows {
		total.Add(fs.FlowRecord)
	}
	return total
}
