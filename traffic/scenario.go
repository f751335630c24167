package traffic

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/slices"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/internal/logging"
	"github.com/pedrobellotti/nstestes/timectrl"
)

// DefaultSendSize is the bulk source segment size when none is given.
const DefaultSendSize = 512

// EchoSpec describes one echo server/client pair. Segment names the server
// interface the client targets; it may be empty only when the server has a
// single interface.
type EchoSpec struct {
	Server       string
	Client       string
	Segment      string
	Port         int
	PacketSize   int
	PacketCount  int
	Interval     time.Duration
	ServerWindow timectrl.Window
	ClientWindow timectrl.Window
}

// BulkSpec describes one bulk sink/source pair. Segment names the sink
// interface the source targets. MaxBytes of zero means unlimited.
type BulkSpec struct {
	Sink         string
	Source       string
	Segment      string
	Label        string
	Port         int
	MaxBytes     uint64
	SendSize     int
	SinkWindow   timectrl.Window
	SourceWindow timectrl.Window
}

// EventKind classifies scheduled events.
type EventKind int

const (
	EventActivate EventKind = iota
	EventSendRequest
	EventDeactivate
)

func (k EventKind) String() string {
	switch k {
	case EventActivate:
		return "activate"
	case EventSendRequest:
		return "send-request"
	case EventDeactivate:
		return "deactivate"
	default:
		return "unknown"
	}
}

// Event is one declarative timeline entry.
type Event struct {
	At     time.Duration
	RoleID string
	Kind   EventKind
	// Sequence is the request index for EventSendRequest.
	Sequence int
}

type listenerKey struct {
	node      string
	port      int
	transport Transport
}

// Scenario installs application pairs on an addressed topology and
// produces their timeline. Nothing is handed to an engine here.
type Scenario struct {
	net  *core.KnowledgeBase
	conn *core.ConnectivityService
	log  logging.Logger

	roles     []ApplicationRole
	byID      map[string]ApplicationRole
	listeners map[listenerKey][]timectrl.Window
	echoPairs int
	bulkPairs int
}

// Option customises a Scenario.
type Option func(*Scenario)

// WithLogger sets the scenario logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scenario) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a scenario over an addressed topology.
func New(network *core.KnowledgeBase, opts ...Option) (*Scenario, error) {
	if network == nil || !network.Sealed() {
		return nil, core.Errorf(core.ErrConfiguration, "", "traffic requires an addressed topology")
	}
	s := &Scenario{
		net:       network,
		conn:      core.NewConnectivityService(network),
		log:       logging.Noop(),
		byID:      make(map[string]ApplicationRole),
		listeners: make(map[listenerKey][]timectrl.Window),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// InstallEcho validates spec and installs the server and client roles.
func (s *Scenario) InstallEcho(ctx context.Context, spec EchoSpec) (*EchoServer, *EchoClient, error) {
	pair := fmt.Sprintf("echo%d", s.echoPairs)
	serverID, clientID := pair+"-server", pair+"-client"

	if err := checkWindow(serverID, spec.ServerWindow); err != nil {
		return nil, nil, err
	}
	if err := checkWindow(clientID, spec.ClientWindow); err != nil {
		return nil, nil, err
	}
	if err := checkPort(pair, spec.Port); err != nil {
		return nil, nil, err
	}
	if spec.PacketSize < 1 {
		return nil, nil, core.Errorf(core.ErrConfiguration, clientID, "packet size must be positive, got %d", spec.PacketSize)
	}
	if spec.PacketCount < 1 {
		return nil, nil, core.Errorf(core.ErrConfiguration, clientID, "packet count must be positive, got %d", spec.PacketCount)
	}
	if spec.Interval <= 0 {
		return nil, nil, core.Errorf(core.ErrConfiguration, clientID, "interval must be positive, got %v", spec.Interval)
	}

	remote, err := s.resolve(spec.Client, spec.Server, spec.Segment, spec.Port)
	if err != nil {
		return nil, nil, err
	}

	// The client may not start more than one interval before the server.
	if spec.ClientWindow.Start < spec.ServerWindow.Start-spec.Interval {
		return nil, nil, core.Errorf(core.ErrScenarioTiming, clientID,
			"client starts at %v, more than one interval (%v) before server start %v",
			spec.ClientWindow.Start, spec.Interval, spec.ServerWindow.Start)
	}
	if err := checkSeries(clientID, spec); err != nil {
		return nil, nil, err
	}

	if err := s.claimListener(serverID, listenerKey{spec.Server, spec.Port, UDP}, spec.ServerWindow); err != nil {
		return nil, nil, err
	}

	server := &EchoServer{ID: serverID, NodeID: spec.Server, Port: spec.Port, Window: spec.ServerWindow}
	client := &EchoClient{
		ID:          clientID,
		NodeID:      spec.Client,
		Remote:      remote,
		PacketSize:  spec.PacketSize,
		PacketCount: spec.PacketCount,
		Interval:    spec.Interval,
		Window:      spec.ClientWindow,
	}
	s.add(server, client)
	s.echoPairs++

	s.log.Info(ctx, "echo pair installed",
		logging.String("server", spec.Server),
		logging.String("client", spec.Client),
		logging.String("target", fmt.Sprintf("%s:%d", remote.Address, remote.Port)),
		logging.Int("packets", spec.PacketCount),
		logging.Int("packet_size", spec.PacketSize),
	)
	return server, client, nil
}

// checkSeries verifies every request of the client falls inside both
// windows without materializing the series. Requests are evenly spaced from
// the client start, so only the first one and the first one past either end
// matter.
func checkSeries(clientID string, spec EchoSpec) error {
	start := spec.ClientWindow.Start
	if !spec.ServerWindow.Contains(start) {
		return core.Errorf(core.ErrScenarioTiming, clientID,
			"request 0 at %v falls outside server window %v", start, spec.ServerWindow)
	}
	server, serverOut := firstPast(start, spec.Interval, spec.PacketCount, spec.ServerWindow.End)
	client, clientOut := firstPast(start, spec.Interval, spec.PacketCount, spec.ClientWindow.End)
	switch {
	case serverOut && (!clientOut || server <= client):
		return core.Errorf(core.ErrScenarioTiming, clientID,
			"request %d at %v falls outside server window %v", server, requestAt(start, spec.Interval, server), spec.ServerWindow)
	case clientOut:
		return core.Errorf(core.ErrScenarioTiming, clientID,
			"request %d at %v falls outside client window %v", client, requestAt(start, spec.Interval, client), spec.ClientWindow)
	}
	return nil
}

// firstPast returns the index of the first of count requests, sent every
// interval from start, at or after end. start must be before end.
func firstPast(start, interval time.Duration, count int, end time.Duration) (int64, bool) {
	idx := int64((end-start-1)/interval) + 1
	return idx, int64(count) > idx
}

// requestAt saturates at the largest Duration instead of wrapping.
func requestAt(start, interval time.Duration, idx int64) time.Duration {
	if idx > 0 && interval > (math.MaxInt64-start)/time.Duration(idx) {
		return math.MaxInt64
	}
	return start + time.Duration(idx)*interval
}

// InstallBulk validates spec and installs the sink and source roles.
func (s *Scenario) InstallBulk(ctx context.Context, spec BulkSpec) (*BulkSink, *BulkSource, error) {
	pair := fmt.Sprintf("bulk%d", s.bulkPairs)
	sinkID, sourceID := pair+"-sink", pair+"-source"

	if err := checkWindow(sinkID, spec.SinkWindow); err != nil {
		return nil, nil, err
	}
	if err := checkWindow(sourceID, spec.SourceWindow); err != nil {
		return nil, nil, err
	}
	if !spec.SinkWindow.Overlaps(spec.SourceWindow) {
		return nil, nil, core.Errorf(core.ErrScenarioTiming, sourceID,
			"source window %v never overlaps sink window %v", spec.SourceWindow, spec.SinkWindow)
	}
	if err := checkPort(pair, spec.Port); err != nil {
		return nil, nil, err
	}
	sendSize := spec.SendSize
	if sendSize == 0 {
		sendSize = DefaultSendSize
	}
	if sendSize < 0 {
		return nil, nil, core.Errorf(core.ErrConfiguration, sourceID, "send size must be positive, got %d", sendSize)
	}

	remote, err := s.resolve(spec.Source, spec.Sink, spec.Segment, spec.Port)
	if err != nil {
		return nil, nil, err
	}
	if err := s.claimListener(sinkID, listenerKey{spec.Sink, spec.Port, TCP}, spec.SinkWindow); err != nil {
		return nil, nil, err
	}

	label := spec.Label
	if label == "" {
		label = spec.Sink
	}
	sink := &BulkSink{
		ID:        sinkID,
		Label:     label,
		NodeID:    spec.Sink,
		Port:      spec.Port,
		Transport: TCP,
		Window:    spec.SinkWindow,
	}
	source := &BulkSource{
		ID:        sourceID,
		NodeID:    spec.Source,
		Remote:    remote,
		Transport: TCP,
		MaxBytes:  spec.MaxBytes,
		SendSize:  sendSize,
		Window:    spec.SourceWindow,
	}
	s.add(sink, source)
	s.bulkPairs++

	s.log.Info(ctx, "bulk pair installed",
		logging.String("sink", spec.Sink),
		logging.String("source", spec.Source),
		logging.String("target", fmt.Sprintf("%s:%d", remote.Address, remote.Port)),
		logging.Any("max_bytes", spec.MaxBytes),
	)
	return sink, source, nil
}

// resolve turns (peer node, segment) into an explicit endpoint reachable
// from the originating node.
func (s *Scenario) resolve(from, peer, segment string, port int) (Endpoint, error) {
	if !s.net.HasNode(from) {
		return Endpoint{}, core.UnknownEntity("node", from)
	}
	if from == peer {
		return Endpoint{}, core.Errorf(core.ErrConfiguration, from, "application peers must be different nodes")
	}
	if segment == "" {
		sole, err := s.net.SoleSegment(peer)
		if err != nil {
			return Endpoint{}, err
		}
		segment = sole
	}
	addr, err := s.net.AddressOf(peer, segment)
	if err != nil {
		return Endpoint{}, err
	}
	if !s.conn.Reachable(from, segment) {
		return Endpoint{}, core.Errorf(core.ErrConfiguration, from, "node cannot reach segment %q", segment)
	}
	return Endpoint{NodeID: peer, SegmentID: segment, Address: addr, Port: port}, nil
}

func (s *Scenario) claimListener(roleID string, k listenerKey, w timectrl.Window) error {
	for _, other := range s.listeners[k] {
		if other.Overlaps(w) {
			return core.Errorf(core.ErrConfiguration, roleID,
				"%s port %d on %s already bound during %v", k.transport, k.port, k.node, other)
		}
	}
	s.listeners[k] = append(s.listeners[k], w)
	return nil
}

func (s *Scenario) add(roles ...ApplicationRole) {
	for _, r := range roles {
		s.roles = append(s.roles, r)
		s.byID[r.RoleID()] = r
	}
}

func checkWindow(roleID string, w timectrl.Window) error {
	if err := w.Validate(); err != nil {
		return core.Wrap(core.ErrScenarioTiming, roleID, err)
	}
	return nil
}

func checkPort(entity string, port int) error {
	if port < 1 || port > 65535 {
		return core.Errorf(core.ErrConfiguration, entity, "port %d out of range", port)
	}
	return nil
}

// Roles returns every installed role in install order.
func (s *Scenario) Roles() []ApplicationRole {
	return append([]ApplicationRole(nil), s.roles...)
}

// Role returns a role by ID, or nil.
func (s *Scenario) Role(id string) ApplicationRole {
	return s.byID[id]
}

// Sinks returns the bulk sinks in install order.
func (s *Scenario) Sinks() []*BulkSink {
	var out []*BulkSink
	for _, r := range s.roles {
		if sink, ok := r.(*BulkSink); ok {
			out = append(out, sink)
		}
	}
	return out
}

// HasBulk reports whether any bulk pair is installed.
func (s *Scenario) HasBulk() bool { return s.bulkPairs > 0 }

// Events returns the full timeline sorted by time. Events at the same
// instant keep install order.
func (s *Scenario) Events() []Event {
	var out []Event
	for _, r := range s.roles {
		w := r.ActiveWindow()
		out = append(out, Event{At: w.Start, RoleID: r.RoleID(), Kind: EventActivate})
		if c, ok := r.(*EchoClient); ok {
			for i, at := range c.RequestTimes() {
				out = append(out, Event{At: at, RoleID: c.ID, Kind: EventSendRequest, Sequence: i})
			}
		}
		out = append(out, Event{At: w.End, RoleID: r.RoleID(), Kind: EventDeactivate})
	}
	slices.SortStableFunc(out, func(a, b Event) int {
		switch {
		case a.At < b.At:
			return -1
		case a.At > b.At:
			return 1
		default:
			return 0
		}
	})
	return out
}

// End returns the latest deactivation time of any role.
func (s *Scenario) End() time.Duration {
	var end time.Duration
	for _, r := range s.roles {
		end = max(end, r.ActiveWindow().End)
	}
	return end
}
