// Package desim is a reference discrete-event engine for scenarios built by
// this module. It models lossless store-and-forward delivery: per-interface
// (point-to-point) or per-channel (shared and wireless) FIFO serialization
// plus propagation delay, shortest-path forwarding, UDP echo and a
// window-clocked bulk TCP transfer. It does not model PHY or MAC behaviour.
package desim

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/engine"
	"github.com/pedrobellotti/nstestes/instrument"
	"github.com/pedrobellotti/nstestes/internal/logging"
	"github.com/pedrobellotti/nstestes/model"
	"github.com/pedrobellotti/nstestes/traffic"
)

// DefaultMaxTraceRecords bounds the packet records kept in the animation
// trace.
const DefaultMaxTraceRecords = 10000

type node struct {
	model.NetworkNode
	pos    model.Position
	placed bool
}

type segment struct {
	*core.LinkSegment
	// busyUntil serializes a shared channel.
	busyUntil time.Duration
}

type iface struct {
	*core.Interface
	// busyUntil serializes a point-to-point transmitter.
	busyUntil time.Duration
	capture   *pcapFile
}

// Engine implements engine.Engine on top of an iti/evt event list.
type Engine struct {
	log       logging.Logger
	ctx       context.Context
	outDir    string
	maxTraces int

	clk *clock

	nodes     map[string]*node
	nodeOrder []string
	segments  map[string]*segment
	segOrder  []string
	ifaces    map[string]*iface
	byAddr    map[string]*iface

	routes     *core.ConnectivityService
	routeCache map[routeKey][]core.Hop

	apps      []*app
	listeners map[listenKey][]*app

	captures  []instrument.CaptureRequest
	pcaps     []*pcapFile
	flowmon   *flowMonitor
	anim      *animation
	walkers   []*randomWalk
	nextPktID uint64
	nextPort  int

	ran       bool
	destroyed bool
}

var _ engine.Engine = (*Engine)(nil)

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Applications log through
// logger.Named(role component).
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithOutputDir sets where capture, trace and report files are written.
func WithOutputDir(dir string) Option {
	return func(e *Engine) { e.outDir = dir }
}

// WithMaxTraceRecords bounds the packet records of the animation trace.
func WithMaxTraceRecords(n int) Option {
	return func(e *Engine) { e.maxTraces = n }
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:       logging.Noop(),
		ctx:       context.Background(),
		outDir:    ".",
		maxTraces: DefaultMaxTraceRecords,
		clk:       newClock(),
		nodes:     make(map[string]*node),
		segments:  make(map[string]*segment),
		ifaces:    make(map[string]*iface),
		byAddr:    make(map[string]*iface),
		listeners: make(map[listenKey][]*app),
		nextPort:  49153,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now implements timectrl.SimClock.
func (e *Engine) Now() time.Duration { return e.clk.Now() }

func (e *Engine) usable() error {
	if e.destroyed {
		return engine.ErrDestroyed
	}
	if e.ran {
		return fmt.Errorf("desim: engine already ran")
	}
	return nil
}

// AddNode creates a node.
func (e *Engine) AddNode(_ context.Context, n model.NetworkNode) error {
	if err := e.usable(); err != nil {
		return err
	}
	if _, ok := e.nodes[n.ID]; ok {
		return fmt.Errorf("desim: node %q already exists", n.ID)
	}
	e.nodes[n.ID] = &node{NetworkNode: n}
	e.nodeOrder = append(e.nodeOrder, n.ID)
	return nil
}

// AddSegment attaches an addressed segment.
func (e *Engine) AddSegment(_ context.Context, seg *core.LinkSegment, ifaces []*core.Interface) error {
	if err := e.usable(); err != nil {
		return err
	}
	if seg == nil || seg.Config == nil {
		return fmt.Errorf("desim: segment without configuration")
	}
	if _, ok := e.segments[seg.ID]; ok {
		return fmt.Errorf("desim: segment %q already exists", seg.ID)
	}
	for _, intf := range ifaces {
		if _, ok := e.nodes[intf.NodeID]; !ok {
			return fmt.Errorf("desim: segment %q references unknown node %q", seg.ID, intf.NodeID)
		}
		if !intf.Addressed() {
			return fmt.Errorf("desim: interface %q has no address", intf.ID)
		}
	}
	e.segments[seg.ID] = &segment{LinkSegment: seg}
	e.segOrder = append(e.segOrder, seg.ID)
	for _, intf := range ifaces {
		wrapped := &iface{Interface: intf}
		e.ifaces[intf.ID] = wrapped
		e.byAddr[intf.Address.String()] = wrapped
	}
	return nil
}

// ListSegments lets the connectivity service route over attached segments.
func (e *Engine) ListSegments() []*core.LinkSegment {
	out := make([]*core.LinkSegment, 0, len(e.segOrder))
	for _, id := range e.segOrder {
		out = append(out, e.segments[id].LinkSegment)
	}
	return out
}

// InstallApplication binds a role to its node and schedules it at Run.
func (e *Engine) InstallApplication(_ context.Context, role traffic.ApplicationRole) error {
	if err := e.usable(); err != nil {
		return err
	}
	if _, ok := e.nodes[role.Node()]; !ok {
		return fmt.Errorf("desim: application %q on unknown node %q", role.RoleID(), role.Node())
	}
	a := &app{role: role, stats: engine.AppStats{RoleID: role.RoleID()}}
	switch r := role.(type) {
	case *traffic.EchoServer:
		e.listen(listenKey{r.NodeID, r.Port, traffic.UDP}, a)
	case *traffic.BulkSink:
		e.listen(listenKey{r.NodeID, r.Port, r.Transport}, a)
	case *traffic.EchoClient, *traffic.BulkSource:
		a.localPort = e.nextPort
		e.nextPort++
	default:
		return fmt.Errorf("desim: unsupported application role %T", role)
	}
	e.apps = append(e.apps, a)
	return nil
}

// EnableCapture records capture for every interface of a segment.
func (e *Engine) EnableCapture(_ context.Context, req instrument.CaptureRequest) error {
	if err := e.usable(); err != nil {
		return err
	}
	if _, ok := e.segments[req.SegmentID]; !ok {
		return fmt.Errorf("desim: capture on unknown segment %q", req.SegmentID)
	}
	e.captures = append(e.captures, req)
	return nil
}

// EnableFlowMonitor turns on per-flow accounting.
func (e *Engine) EnableFlowMonitor(_ context.Context, reportFile string) error {
	if err := e.usable(); err != nil {
		return err
	}
	e.flowmon = newFlowMonitor(reportFile)
	return nil
}

// SetPosition places a node.
func (e *Engine) SetPosition(_ context.Context, nodeID string, pos model.Position) error {
	if err := e.usable(); err != nil {
		return err
	}
	n, ok := e.nodes[nodeID]
	if !ok {
		return fmt.Errorf("desim: position for unknown node %q", nodeID)
	}
	n.pos, n.placed = pos, true
	return nil
}

// SetAnimation names the visualization trace file.
func (e *Engine) SetAnimation(_ context.Context, file string) error {
	if err := e.usable(); err != nil {
		return err
	}
	e.anim = newAnimation(file, e.maxTraces)
	return nil
}

// Run schedules every application, dispatches events up to stop and writes
// the requested output files.
func (e *Engine) Run(ctx context.Context, stop time.Duration) (*engine.Results, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if stop <= 0 {
		return nil, fmt.Errorf("desim: stop time must be positive, got %v", stop)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.ran = true
	e.ctx = ctx
	e.routes = core.NewConnectivityService(e)
	e.routeCache = make(map[routeKey][]core.Hop)

	if err := e.openCaptures(); err != nil {
		e.closeCaptures()
		return nil, err
	}
	e.startMobility(stop)
	if e.anim != nil {
		e.anim.addNodes(e)
	}
	for _, a := range e.apps {
		e.schedule(a)
	}

	e.log.Info(ctx, "simulation started",
		logging.Int("nodes", len(e.nodes)),
		logging.Int("segments", len(e.segments)),
		logging.Int("applications", len(e.apps)),
		logging.String("stop", stop.String()),
	)

	e.clk.run(stop)

	res := &engine.Results{
		StoppedAt:       stop,
		EventsProcessed: e.clk.processed,
		Applications:    make(map[string]engine.AppStats, len(e.apps)),
	}
	for _, a := range e.apps {
		res.Applications[a.role.RoleID()] = a.stats
	}

	if err := e.closeCaptures(); err != nil {
		return nil, err
	}
	for _, pf := range e.pcaps {
		res.Files = append(res.Files, pf.path)
	}
	if e.flowmon != nil {
		res.Flows = e.flowmon.stats()
		path := filepath.Join(e.outDir, e.flowmon.file)
		if err := e.flowmon.write(path, res.Flows); err != nil {
			return nil, err
		}
		res.Files = append(res.Files, path)
	}
	if e.anim != nil {
		path := filepath.Join(e.outDir, e.anim.file)
		if err := e.anim.write(path); err != nil {
			return nil, err
		}
		res.Files = append(res.Files, path)
	}

	e.log.Info(ctx, "simulation finished",
		logging.Any("events", res.EventsProcessed),
		logging.Int("files", len(res.Files)),
	)
	return res, ctx.Err()
}

// Destroy releases open files. It is safe to call more than once.
func (e *Engine) Destroy() error {
	if e.destroyed {
		return nil
	}
	e.destroyed = true
	e.clk.halted = true
	return e.closeCaptures()
}

// ifaceOn returns nodeID's interface on segID.
func (e *Engine) ifaceOn(nodeID, segID string) *iface {
	return e.ifaces[core.InterfaceID(nodeID, segID)]
}

// ifaceFor returns the interface owning addr.
func (e *Engine) ifaceFor(addr net.IP) *iface {
	return e.byAddr[addr.String()]
}
