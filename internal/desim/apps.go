package desim

import (
	"fmt"
	"net"
	"time"

	"github.com/pedrobellotti/nstestes/engine"
	"github.com/pedrobellotti/nstestes/internal/logging"
	"github.com/pedrobellotti/nstestes/traffic"
)

const (
	// bulkWindow bounds unacknowledged bulk bytes per source.
	bulkWindow = 64 * 1024
	// initialRTO is the retransmission timeout before any RTT sample.
	initialRTO = 3 * time.Second
	minRTO     = time.Second
)

type listenKey struct {
	node      string
	port      int
	transport traffic.Transport
}

// app is the runtime state of one installed role.
type app struct {
	role      traffic.ApplicationRole
	stats     engine.AppStats
	log       logging.Logger
	localPort int

	bulk *bulkState
}

// bulkState drives a window-clocked source with timeout retransmission.
type bulkState struct {
	nextSeq     uint64
	sent        uint64
	inflight    int
	outstanding map[uint64]*bulkSegment
	requeued    []uint64
	srtt        time.Duration
	// delivered dedups segments at the sink side.
	delivered map[uint64]bool
}

type bulkSegment struct {
	size     int
	sentAt   time.Duration
	inFlight bool
}

func (e *Engine) listen(k listenKey, a *app) {
	e.listeners[k] = append(e.listeners[k], a)
}

// listenerFor returns the first role bound on k whose window holds now.
func (e *Engine) listenerFor(k listenKey) *app {
	now := e.Now()
	for _, a := range e.listeners[k] {
		if a.role.ActiveWindow().Contains(now) {
			return a
		}
	}
	return nil
}

// schedule registers the role's own timeline on the clock.
func (e *Engine) schedule(a *app) {
	a.log = e.log.Named(a.role.Component()).With(logging.String("role", a.role.RoleID()))
	w := a.role.ActiveWindow()

	switch r := a.role.(type) {
	case *traffic.EchoServer, *traffic.BulkSink:
		if _, ok := r.(*traffic.BulkSink); ok {
			a.bulk = &bulkState{delivered: make(map[uint64]bool)}
		}
		e.clk.at(w.Start, func() {
			a.log.Debug(e.ctx, "listening", logging.String("window", w.String()))
		})

	case *traffic.EchoClient:
		e.listen(listenKey{r.NodeID, a.localPort, traffic.UDP}, a)
		for i, at := range r.RequestTimes() {
			seq := uint64(i)
			e.clk.at(at, func() { e.sendRequest(a, r, seq) })
		}

	case *traffic.BulkSource:
		e.listen(listenKey{r.NodeID, a.localPort, r.Transport}, a)
		a.bulk = &bulkState{outstanding: make(map[uint64]*bulkSegment)}
		e.clk.at(w.Start, func() {
			a.log.Debug(e.ctx, "source started", logging.String("remote", endpointString(r.Remote)))
			e.pump(a, r)
		})
	}
}

func (e *Engine) sendRequest(a *app, c *traffic.EchoClient, seq uint64) {
	if !c.Window.Contains(e.Now()) {
		return
	}
	p := &packet{
		kind:    echoRequest,
		proto:   traffic.UDP,
		src:     e.sourceAddress(c.NodeID, c.Remote),
		dst:     c.Remote.Address,
		srcPort: a.localPort,
		dstPort: c.Remote.Port,
		payload: c.PacketSize,
		seq:     seq,
	}
	a.stats.RequestsSent++
	a.countTx(p, e.Now())
	a.log.Info(e.ctx, "sent request",
		logging.Int("bytes", c.PacketSize),
		logging.String("to", endpointString(c.Remote)),
	)
	e.send(c.NodeID, p)
}

// pump sends bulk segments while the window and budget allow.
func (e *Engine) pump(a *app, r *traffic.BulkSource) {
	st := a.bulk
	now := e.Now()
	if !r.Window.Contains(now) {
		return
	}
	for st.inflight < bulkWindow {
		var seq uint64
		var seg *bulkSegment
		switch {
		case len(st.requeued) > 0:
			seq = st.requeued[0]
			st.requeued = st.requeued[1:]
			if seg = st.outstanding[seq]; seg == nil {
				continue
			}
		case r.Unlimited() || st.sent < r.MaxBytes:
			size := r.SendSize
			if !r.Unlimited() && r.MaxBytes-st.sent < uint64(size) {
				size = int(r.MaxBytes - st.sent)
			}
			seq = st.nextSeq
			st.nextSeq++
			st.sent += uint64(size)
			seg = &bulkSegment{size: size}
			st.outstanding[seq] = seg
		default:
			return
		}

		size := seg.size
		seg.sentAt, seg.inFlight = now, true
		st.inflight += size
		p := &packet{
			kind:    bulkData,
			proto:   r.Transport,
			src:     e.sourceAddress(r.NodeID, r.Remote),
			dst:     r.Remote.Address,
			srcPort: a.localPort,
			dstPort: r.Remote.Port,
			payload: size,
			seq:     seq,
		}
		a.countTx(p, now)
		e.send(r.NodeID, p)
		e.clk.after(st.rto(), func() { e.timeout(a, r, seq) })
	}
}

func (st *bulkState) rto() time.Duration {
	if st.srtt == 0 {
		return initialRTO
	}
	return max(minRTO, 2*st.srtt)
}

// timeout requeues seq when its ack has not arrived.
func (e *Engine) timeout(a *app, r *traffic.BulkSource, seq uint64) {
	st := a.bulk
	seg := st.outstanding[seq]
	if seg == nil || !seg.inFlight {
		return
	}
	seg.inFlight = false
	st.inflight -= seg.size
	st.requeued = append(st.requeued, seq)
	a.log.Debug(e.ctx, "retransmission timeout", logging.Any("seq", seq))
	e.pump(a, r)
}

// receive dispatches a delivered packet to the role's handler.
func (a *app) receive(e *Engine, p *packet) {
	now := e.Now()
	switch r := a.role.(type) {
	case *traffic.EchoServer:
		a.stats.RequestsReceived++
		a.countRx(p, now)
		a.log.Info(e.ctx, "received request",
			logging.Int("bytes", p.payload),
			logging.String("from", fmt.Sprintf("%s:%d", p.src, p.srcPort)),
		)
		reply := &packet{
			kind:    echoReply,
			proto:   traffic.UDP,
			src:     p.dst,
			dst:     p.src,
			srcPort: r.Port,
			dstPort: p.srcPort,
			payload: p.payload,
			seq:     p.seq,
		}
		a.stats.RepliesSent++
		a.countTx(reply, now)
		e.send(r.NodeID, reply)

	case *traffic.EchoClient:
		if p.kind != echoReply {
			return
		}
		a.stats.RepliesReceived++
		a.countRx(p, now)
		a.log.Info(e.ctx, "received reply",
			logging.Int("bytes", p.payload),
			logging.String("from", fmt.Sprintf("%s:%d", p.src, p.srcPort)),
		)

	case *traffic.BulkSink:
		if p.kind != bulkData {
			return
		}
		if !a.bulk.delivered[p.seq] {
			a.bulk.delivered[p.seq] = true
			a.countRx(p, now)
		}
		ack := &packet{
			kind:    bulkAck,
			proto:   r.Transport,
			src:     p.dst,
			dst:     p.src,
			srcPort: r.Port,
			dstPort: p.srcPort,
			seq:     p.seq,
		}
		e.send(r.NodeID, ack)

	case *traffic.BulkSource:
		if p.kind != bulkAck {
			return
		}
		st := a.bulk
		seg := st.outstanding[p.seq]
		if seg == nil {
			return
		}
		delete(st.outstanding, p.seq)
		if seg.inFlight {
			st.inflight -= seg.size
		}
		if rtt := now - seg.sentAt; st.srtt == 0 {
			st.srtt = rtt
		} else {
			st.srtt = (7*st.srtt + rtt) / 8
		}
		e.pump(a, r)
	}
}

// countTx records an application-level transmission.
func (a *app) countTx(p *packet, now time.Duration) {
	f := &a.stats.Flow
	if f.TxPackets == 0 {
		f.FirstTx = now
	}
	f.TxBytes += uint64(p.payload)
	f.TxPackets++
}

// countRx records an application-level reception.
func (a *app) countRx(p *packet, now time.Duration) {
	f := &a.stats.Flow
	f.RxBytes += uint64(p.payload)
	f.RxPackets++
	f.LastRx = now
	f.DelaySum += now - p.sentAt
}

// sourceAddress picks the sender's address on the first hop toward remote.
func (e *Engine) sourceAddress(nodeID string, remote traffic.Endpoint) net.IP {
	if hops := e.route(nodeID, remote.SegmentID); len(hops) > 0 {
		if intf := e.ifaceOn(nodeID, hops[0].SegmentID); intf != nil {
			return intf.Address
		}
	}
	return nil
}

func endpointString(ep traffic.Endpoint) string {
	return fmt.Sprintf("%s:%d", ep.Address, ep.Port)
}

func logAttrsFor(p *packet) []logging.Field {
	return []logging.Field{
		logging.String("kind", p.kind.String()),
		logging.String("flow", p.flowKey().String()),
		logging.Int("bytes", p.payload),
	}
}
