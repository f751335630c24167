package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"

	"github.com/containernetworking/plugins/pkg/ip"

	"github.com/pedrobellotti/nstestes/internal/logging"
)

// AddressPlanner hands out one pool subnet per segment, in segment creation
// order, and numbers the segment's interfaces from the lowest usable
// address upward. It is fully deterministic.
type AddressPlanner struct {
	pool []*net.IPNet
	next int
	log  logging.Logger
}

// PlannerOption customises an AddressPlanner.
type PlannerOption func(*AddressPlanner)

// WithPlannerLogger sets the planner logger.
func WithPlannerLogger(l logging.Logger) PlannerOption {
	return func(p *AddressPlanner) {
		if l != nil {
			p.log = l
		}
	}
}

// NewAddressPlanner parses the candidate subnets. Pool entries must be valid
// CIDRs and must not overlap one another.
func NewAddressPlanner(pool []string, opts ...PlannerOption) (*AddressPlanner, error) {
	p := &AddressPlanner{log: logging.Noop()}
	for _, opt := range opts {
		opt(p)
	}
	for _, cidr := range pool {
		_, subnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, Wrap(ErrConfiguration, cidr, err)
		}
		subnet = ip.Network(subnet)
		for _, prev := range p.pool {
			if Overlaps(prev, subnet) {
				return nil, Errorf(ErrConfiguration, cidr, "pool subnet overlaps %s", prev)
			}
		}
		p.pool = append(p.pool, subnet)
	}
	return p, nil
}

// Remaining returns how many pool subnets have not been handed out.
func (p *AddressPlanner) Remaining() int {
	return len(p.pool) - p.next
}

// Assign addresses every segment of the network KB and seals it. Either all
// segments are addressed or none is.
func (p *AddressPlanner) Assign(ctx context.Context, network *KnowledgeBase) (map[string]net.IP, error) {
	if network.Sealed() {
		return nil, Errorf(ErrConfiguration, "", "topology already addressed")
	}

	type plan struct {
		seg    *LinkSegment
		subnet *net.IPNet
		addrs  []net.IP
	}

	next := p.next
	var plans []plan
	for _, seg := range network.ListSegments() {
		if next >= len(p.pool) {
			return nil, Errorf(ErrAddressSpaceExhausted, seg.ID, "no pool subnet left for segment")
		}
		subnet := p.pool[next]
		next++

		if capacity := HostCapacity(subnet); uint64(len(seg.InterfaceIDs)) > capacity {
			return nil, Errorf(ErrAddressRangeExceeded, seg.ID,
				"%d interfaces do not fit in %s (%d usable)", len(seg.InterfaceIDs), subnet, capacity)
		}

		addrs := make([]net.IP, 0, len(seg.InterfaceIDs))
		addr := ip.NextIP(subnet.IP)
		for range seg.InterfaceIDs {
			addrs = append(addrs, addr)
			addr = ip.NextIP(addr)
		}
		plans = append(plans, plan{seg: seg, subnet: subnet, addrs: addrs})
	}

	out := make(map[string]net.IP, len(network.interfaceOrder))
	for _, pl := range plans {
		pl.seg.Subnet = pl.subnet
		for i, ifID := range pl.seg.InterfaceIDs {
			intf := network.GetInterface(ifID)
			intf.Address = pl.addrs[i]
			intf.Prefix = pl.subnet
			out[ifID] = pl.addrs[i]
		}
		p.log.Debug(ctx, "segment addressed",
			logging.String("segment", pl.seg.ID),
			logging.String("subnet", pl.subnet.String()),
			logging.Int("hosts", len(pl.addrs)),
		)
	}
	p.next = next
	network.Seal()
	return out, nil
}

// HostCapacity returns the number of usable host addresses of subnet,
// excluding the network and broadcast addresses.
func HostCapacity(subnet *net.IPNet) uint64 {
	ones, bits := subnet.Mask.Size()
	hostBits := bits - ones
	switch {
	case hostBits < 2:
		return 0
	case hostBits >= 64:
		return math.MaxUint64
	default:
		return (uint64(1) << hostBits) - 2
	}
}

// Overlaps reports whether two subnets share any address.
func Overlaps(a, b *net.IPNet) bool {
	return a.Contains(b.IP) || b.Contains(a.IP)
}

// SequentialPool returns count consecutive IPv4 networks of the same size
// starting at base, e.g. 10.1.1.0/24, 10.1.2.0/24, ...
func SequentialPool(base string, count int) ([]string, error) {
	_, subnet, err := net.ParseCIDR(base)
	if err != nil {
		return nil, fmt.Errorf("sequential pool: %w", err)
	}
	v4 := subnet.IP.To4()
	if v4 == nil {
		return nil, fmt.Errorf("sequential pool: %s is not IPv4", base)
	}
	ones, bits := subnet.Mask.Size()
	step := uint64(1) << (bits - ones)
	start := uint64(binary.BigEndian.Uint32(v4))
	if start+step*uint64(count) > 1<<32 {
		return nil, fmt.Errorf("sequential pool: %d networks from %s overflow the address space", count, base)
	}

	out := make([]string, 0, count)
	for i := range count {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(start+uint64(i)*step))
		out = append(out, fmt.Sprintf("%s/%d", net.IP(buf[:]), ones))
	}
	return out, nil
}

// Broadcast returns the last address of subnet.
func Broadcast(subnet *net.IPNet) net.IP {
	first := ip.Network(subnet).IP
	out := make(net.IP, len(first))
	for i := range first {
		out[i] = first[i] | ^subnet.Mask[i]
	}
	return out
}

// InSubnet reports whether addr is a usable host address of subnet.
func InSubnet(subnet *net.IPNet, addr net.IP) bool {
	if !subnet.Contains(addr) {
		return false
	}
	return ip.Cmp(addr, subnet.IP) > 0 && ip.Cmp(addr, Broadcast(subnet)) < 0
}
