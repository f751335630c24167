package traffic

import (
	"net"
	"time"

	"github.com/pedrobellotti/nstestes/model"
	"github.com/pedrobellotti/nstestes/timectrl"
)

// Transport is the transport protocol an application binds to.
type Transport string

const (
	UDP Transport = "udp"
	TCP Transport = "tcp"
)

// ApplicationRole is one installed application. It is implemented only by
// *EchoServer, *EchoClient, *BulkSink and *BulkSource; use a type switch to
// reach role-specific fields.
type ApplicationRole interface {
	RoleID() string
	Node() string
	ActiveWindow() timectrl.Window
	// Component names the role for per-component logging.
	Component() string
	role()
}

// Endpoint is a resolved peer: the node, the segment chosen to reach it and
// the address of the node on that segment.
type Endpoint struct {
	NodeID    string
	SegmentID string
	Address   net.IP
	Port      int
}

// EchoServer answers every request it receives while active.
type EchoServer struct {
	ID     string
	NodeID string
	Port   int
	Window timectrl.Window
}

func (r *EchoServer) RoleID() string                { return r.ID }
func (r *EchoServer) Node() string                  { return r.NodeID }
func (r *EchoServer) ActiveWindow() timectrl.Window { return r.Window }
func (r *EchoServer) Component() string             { return "echo-server" }
func (r *EchoServer) role()                         {}

// EchoClient sends PacketCount requests of PacketSize bytes, Interval
// apart, starting at its activation time.
type EchoClient struct {
	ID          string
	NodeID      string
	Remote      Endpoint
	PacketSize  int
	PacketCount int
	Interval    time.Duration
	Window      timectrl.Window
}

func (r *EchoClient) RoleID() string                { return r.ID }
func (r *EchoClient) Node() string                  { return r.NodeID }
func (r *EchoClient) ActiveWindow() timectrl.Window { return r.Window }
func (r *EchoClient) Component() string             { return "echo-client" }
func (r *EchoClient) role()                         {}

// RequestTimes returns the send timestamps of every request.
func (r *EchoClient) RequestTimes() []time.Duration {
	return timectrl.Series(r.Window.Start, r.Interval, r.PacketCount)
}

// BulkSink counts every byte delivered to it while active.
type BulkSink struct {
	ID        string
	Label     string
	NodeID    string
	Port      int
	Transport Transport
	Window    timectrl.Window

	flow *model.FlowRecord
}

func (r *BulkSink) RoleID() string                { return r.ID }
func (r *BulkSink) Node() string                  { return r.NodeID }
func (r *BulkSink) ActiveWindow() timectrl.Window { return r.Window }
func (r *BulkSink) Component() string             { return "bulk-sink" }
func (r *BulkSink) role()                         {}

// AttachFlowRecord stores the post-run counters reported by the engine.
func (r *BulkSink) AttachFlowRecord(rec model.FlowRecord) {
	r.flow = &rec
}

// FlowRecord returns the post-run counters. ok is false before the run.
func (r *BulkSink) FlowRecord() (rec model.FlowRecord, ok bool) {
	if r.flow == nil {
		return model.FlowRecord{}, false
	}
	return *r.flow, true
}

// TotalRx returns the bytes received, zero before the run.
func (r *BulkSink) TotalRx() uint64 {
	if r.flow == nil {
		return 0
	}
	return r.flow.RxBytes
}

// BulkSource sends as fast as the transport admits toward its sink.
// MaxBytes of zero means unlimited.
type BulkSource struct {
	ID        string
	NodeID    string
	Remote    Endpoint
	Transport Transport
	MaxBytes  uint64
	SendSize  int
	Window    timectrl.Window
}

func (r *BulkSource) RoleID() string                { return r.ID }
func (r *BulkSource) Node() string                  { return r.NodeID }
func (r *BulkSource) ActiveWindow() timectrl.Window { return r.Window }
func (r *BulkSource) Component() string             { return "bulk-source" }
func (r *BulkSource) role()                         {}

// Unlimited reports whether the source has no byte budget.
func (r *BulkSource) Unlimited() bool { return r.MaxBytes == 0 }
