package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

// buildMixed creates LAN(4) + P2P + WiFi(3 stations + AP) in that order.
func buildMixed(t *testing.T) *TopologyBuilder {
	t.Helper()
	b := NewTopologyBuilder(nil, nil)
	ctx := context.Background()
	if _, err := b.CreateNodes("lan", 4, "HOST"); err != nil {
		t.Fatalf("CreateNodes lan: %v", err)
	}
	if _, err := b.CreateNodes("sta", 3, "STA"); err != nil {
		t.Fatalf("CreateNodes sta: %v", err)
	}
	if _, err := b.AddNode("ap", "AP"); err != nil {
		t.Fatalf("AddNode ap: %v", err)
	}
	reqs := []SegmentRequest{
		{ID: "lan", Config: SharedMediumConfig{DataRate: 100 * Mbps}, Nodes: []string{"lan0", "lan1", "lan2", "lan3"}},
		{ID: "p2p", Config: p2p, Nodes: []string{"lan0", "ap"}},
		{ID: "wifi", Config: DefaultWirelessConfig(), Nodes: []string{"sta0", "sta1", "sta2"}, AccessPoint: "ap"},
	}
	for _, req := range reqs {
		if _, err := b.CreateSegment(ctx, req); err != nil {
			t.Fatalf("CreateSegment %s: %v", req.ID, err)
		}
	}
	return b
}

func TestAssignConsecutiveAddressesPerSegment(t *testing.T) {
	b := buildMixed(t)
	pool, err := SequentialPool("10.1.1.0/24", 3)
	if err != nil {
		t.Fatalf("SequentialPool: %v", err)
	}
	planner, err := NewAddressPlanner(pool)
	if err != nil {
		t.Fatalf("NewAddressPlanner: %v", err)
	}
	if _, err := planner.Assign(context.Background(), b.Network()); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	want := map[string]string{
		"lan0/lan": "10.1.1.1", "lan3/lan": "10.1.1.4",
		"lan0/p2p": "10.1.2.1", "ap/p2p": "10.1.2.2",
		"sta0/wifi": "10.1.3.1", "sta2/wifi": "10.1.3.3", "ap/wifi": "10.1.3.4",
	}
	for id, addr := range want {
		intf := b.Network().GetInterface(id)
		if intf == nil || intf.Address.String() != addr {
			t.Errorf("%s address = %v, want %s", id, intf, addr)
		}
	}
	if got := b.Network().GetSegment("wifi").Subnet.String(); got != "10.1.3.0/24" {
		t.Fatalf("wifi subnet = %s", got)
	}
	if !b.Network().Sealed() {
		t.Fatalf("topology not sealed after Assign")
	}
	if addr, err := b.Network().AddressOf("ap", "wifi"); err != nil || addr.String() != "10.1.3.4" {
		t.Fatalf("AddressOf(ap, wifi) = %v, %v", addr, err)
	}
}

func TestAssignSubnetsNeverOverlap(t *testing.T) {
	b := buildMixed(t)
	planner, err := NewAddressPlanner([]string{"10.1.2.0/24", "10.1.1.0/24", "192.168.0.0/29"})
	if err != nil {
		t.Fatalf("NewAddressPlanner: %v", err)
	}
	if _, err := planner.Assign(context.Background(), b.Network()); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	segs := b.Network().ListSegments()
	for i := range segs {
		for j := i + 1; j < len(segs); j++ {
			if Overlaps(segs[i].Subnet, segs[j].Subnet) {
				t.Fatalf("%s (%s) overlaps %s (%s)", segs[i].ID, segs[i].Subnet, segs[j].ID, segs[j].Subnet)
			}
		}
		for _, ifID := range segs[i].InterfaceIDs {
			addr := b.Network().GetInterface(ifID).Address
			if !InSubnet(segs[i].Subnet, addr) {
				t.Fatalf("%s address %s outside usable range of %s", ifID, addr, segs[i].Subnet)
			}
		}
	}
	// Pool order decides, not numeric order.
	if got := segs[0].Subnet.String(); got != "10.1.2.0/24" {
		t.Fatalf("first segment subnet = %s, want 10.1.2.0/24", got)
	}
}

func TestAssignIsDeterministic(t *testing.T) {
	assign := func() map[string]string {
		b := buildMixed(t)
		planner, err := NewAddressPlanner([]string{"10.1.1.0/24", "10.1.2.0/24", "10.1.3.0/24"})
		if err != nil {
			t.Fatalf("NewAddressPlanner: %v", err)
		}
		got, err := planner.Assign(context.Background(), b.Network())
		if err != nil {
			t.Fatalf("Assign: %v", err)
		}
		out := make(map[string]string, len(got))
		for k, v := range got {
			out[k] = v.String()
		}
		return out
	}
	first, second := assign(), assign()
	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Fatalf("assignments differ:\n%v\n%v", first, second)
	}
}

func TestAssignPoolExhausted(t *testing.T) {
	b := buildMixed(t)
	planner, err := NewAddressPlanner([]string{"10.1.1.0/24", "10.1.2.0/24"})
	if err != nil {
		t.Fatalf("NewAddressPlanner: %v", err)
	}
	_, err = planner.Assign(context.Background(), b.Network())
	if !errors.Is(err, ErrAddressSpaceExhausted) {
		t.Fatalf("Assign error = %v, want ErrAddressSpaceExhausted", err)
	}
	if EntityOf(err) != "wifi" {
		t.Fatalf("offending segment = %q, want wifi", EntityOf(err))
	}
	if intf := b.Network().GetInterface("lan0/lan"); intf.Addressed() {
		t.Fatalf("failed Assign left partial addresses behind")
	}
	if b.Network().Sealed() {
		t.Fatalf("failed Assign sealed the topology")
	}
}

func TestAssignRangeExceeded(t *testing.T) {
	b := buildMixed(t)
	// A /30 holds two hosts; the LAN has four interfaces.
	planner, err := NewAddressPlanner([]string{"10.0.0.0/30", "10.0.1.0/24", "10.0.2.0/24"})
	if err != nil {
		t.Fatalf("NewAddressPlanner: %v", err)
	}
	_, err = planner.Assign(context.Background(), b.Network())
	if !errors.Is(err, ErrAddressRangeExceeded) || EntityOf(err) != "lan" {
		t.Fatalf("Assign error = %v, want ErrAddressRangeExceeded for lan", err)
	}
}

func TestNewAddressPlannerRejectsOverlappingPool(t *testing.T) {
	if _, err := NewAddressPlanner([]string{"10.1.0.0/16", "10.1.2.0/24"}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("overlapping pool error = %v", err)
	}
	if _, err := NewAddressPlanner([]string{"not-a-cidr"}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("bad CIDR error = %v", err)
	}
}

func TestHostCapacity(t *testing.T) {
	cases := map[string]uint64{
		"10.0.0.0/24": 254,
		"10.0.0.0/30": 2,
		"10.0.0.0/31": 0,
		"10.0.0.0/32": 0,
		"10.0.0.0/16": 65534,
	}
	for cidr, want := range cases {
		_, n, _ := net.ParseCIDR(cidr)
		if got := HostCapacity(n); got != want {
			t.Errorf("HostCapacity(%s) = %d, want %d", cidr, got, want)
		}
	}
}

func TestSequentialPool(t *testing.T) {
	pool, err := SequentialPool("10.1.255.0/24", 2)
	if err != nil {
		t.Fatalf("SequentialPool: %v", err)
	}
	if pool[0] != "10.1.255.0/24" || pool[1] != "10.2.0.0/24" {
		t.Fatalf("pool = %v", pool)
	}
	if _, err := SequentialPool("255.255.255.0/24", 2); err == nil {
		t.Fatalf("expected overflow error")
	}
}
