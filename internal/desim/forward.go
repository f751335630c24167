package desim

import (
	"net"
	"time"

	"github.com/pedrobellotti/nstestes/core"
	"github.com/pedrobellotti/nstestes/engine"
	"github.com/pedrobellotti/nstestes/traffic"
)

// Header sizes used for serialization delay and accounting.
const (
	ethernetHeader = 14
	ipv4Header     = 20
	udpHeader      = 8
	tcpHeader      = 20

	speedOfLight = 299792458.0 // m/s
)

type packetKind int

const (
	echoRequest packetKind = iota
	echoReply
	bulkData
	bulkAck
)

func (k packetKind) String() string {
	switch k {
	case echoRequest:
		return "echo-request"
	case echoReply:
		return "echo-reply"
	case bulkData:
		return "data"
	default:
		return "ack"
	}
}

type packet struct {
	id      uint64
	kind    packetKind
	proto   traffic.Transport
	src     net.IP
	dst     net.IP
	srcPort int
	dstPort int
	payload int

	// seq numbers echo requests and bulk segments; acks echo the seq
	// they acknowledge.
	seq uint64

	sentAt time.Duration
}

func (p *packet) transportHeader() int {
	if p.proto == traffic.TCP {
		return tcpHeader
	}
	return udpHeader
}

// ipSize is the IP datagram length, which is what flow accounting counts.
func (p *packet) ipSize() int {
	return ipv4Header + p.transportHeader() + p.payload
}

// frameSize is the on-wire Ethernet frame length.
func (p *packet) frameSize() int {
	return ethernetHeader + p.ipSize()
}

func (p *packet) flowKey() engine.FlowKey {
	return engine.FlowKey{
		Source:          p.src,
		Destination:     p.dst,
		SourcePort:      p.srcPort,
		DestinationPort: p.dstPort,
		Protocol:        p.proto,
	}
}

// send injects p at fromNode. The route is fixed at injection time.
func (e *Engine) send(fromNode string, p *packet) {
	e.nextPktID++
	p.id = e.nextPktID
	p.sentAt = e.Now()

	if e.flowmon != nil {
		e.flowmon.sent(p)
	}

	dst := e.ifaceFor(p.dst)
	if dst == nil {
		e.log.Debug(e.ctx, "no interface owns destination", logAttrsFor(p)...)
		return
	}
	hops := e.route(fromNode, dst.SegmentID)
	if hops == nil {
		e.log.Debug(e.ctx, "destination unreachable", logAttrsFor(p)...)
		return
	}
	e.forward(p, hops, dst)
}

// route memoizes shortest paths; the topology is frozen once Run starts.
func (e *Engine) route(fromNode, toSegment string) []core.Hop {
	k := routeKey{fromNode, toSegment}
	if hops, ok := e.routeCache[k]; ok {
		return hops
	}
	hops := e.routes.Route(fromNode, toSegment)
	e.routeCache[k] = hops
	return hops
}

type routeKey struct{ from, segment string }

// forward transmits p across hops[0] and schedules the next hop at arrival.
func (e *Engine) forward(p *packet, hops []core.Hop, dst *iface) {
	hop := hops[0]
	if hop.NodeID == dst.NodeID {
		// Addressed to another interface of the node holding the packet.
		e.deliver(dst.NodeID, p)
		return
	}
	next := dst.NodeID
	if len(hops) > 1 {
		next = hops[1].NodeID
	}
	out := e.ifaceOn(hop.NodeID, hop.SegmentID)
	in := e.ifaceOn(next, hop.SegmentID)
	if out == nil || in == nil {
		return
	}

	arrival := e.transmit(p, e.segments[hop.SegmentID], out, in)
	e.clk.at(arrival, func() {
		if len(hops) > 1 {
			e.forward(p, hops[1:], dst)
			return
		}
		e.deliver(dst.NodeID, p)
	})
}

// transmit reserves the medium between out and in and returns the time the
// last bit reaches in. Station-to-station frames in a wireless cell are
// relayed through the access point and occupy the channel twice.
func (e *Engine) transmit(p *packet, seg *segment, out, in *iface) time.Duration {
	now := e.Now()
	size := p.frameSize()

	switch cfg := seg.Config.(type) {
	case core.PointToPointConfig:
		start := max(now, out.busyUntil)
		out.busyUntil = start + cfg.DataRate.TransmitTime(size)
		e.record(p, seg, out, in, start)
		return out.busyUntil + cfg.Delay

	case core.SharedMediumConfig:
		start := max(now, seg.busyUntil)
		seg.busyUntil = start + cfg.DataRate.TransmitTime(size)
		e.record(p, seg, out, in, start)
		return seg.busyUntil + cfg.Delay

	case core.WirelessConfig:
		tx := cfg.DataRate.TransmitTime(size)
		start := max(now, seg.busyUntil)
		ap := seg.AccessPointID
		if out.NodeID != ap && in.NodeID != ap {
			relay := e.ifaceOn(ap, seg.ID)
			e.record(p, seg, out, relay, start)
			second := start + tx + e.propagation(out.NodeID, ap)
			seg.busyUntil = second + tx
			e.record(p, seg, relay, in, second)
			return seg.busyUntil + e.propagation(ap, in.NodeID)
		}
		seg.busyUntil = start + tx
		e.record(p, seg, out, in, start)
		return seg.busyUntil + e.propagation(out.NodeID, in.NodeID)
	}
	return now
}

// propagation is the free-space delay between two placed nodes.
func (e *Engine) propagation(a, b string) time.Duration {
	na, nb := e.nodes[a], e.nodes[b]
	if na == nil || nb == nil {
		return 0
	}
	d := na.pos.DistanceTo(nb.pos)
	return time.Duration(d / speedOfLight * float64(time.Second))
}

// record feeds captures and the animation trace with one link transmission.
func (e *Engine) record(p *packet, seg *segment, out, in *iface, at time.Duration) {
	if out.capture != nil {
		out.capture.write(at, p, out, in)
	}
	if in != nil && in.capture != nil {
		in.capture.write(at, p, out, in)
	}
	if e.anim != nil && in != nil {
		e.anim.packet(at, p, seg.ID, out.NodeID, in.NodeID)
	}
}

// deliver hands p to the application bound on the destination node.
func (e *Engine) deliver(nodeID string, p *packet) {
	if e.flowmon != nil {
		e.flowmon.received(p, e.Now())
	}
	a := e.listenerFor(listenKey{nodeID, p.dstPort, p.proto})
	if a == nil {
		e.log.Debug(e.ctx, "no active listener, packet dropped", logAttrsFor(p)...)
		return
	}
	a.receive(e, p)
}
