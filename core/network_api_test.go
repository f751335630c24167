package core

import (
	"context"
	"errors"
	"net"
	"testing"
)

// TestKnowledgeBaseNetworkAPI exercises the lookups higher layers use to
// resolve peers: per-node interfaces, sole-segment resolution and
// (node, segment) addressing.
func TestKnowledgeBaseNetworkAPI(t *testing.T) {
	b := buildMixed(t)
	kb := b.Network()

	if got := kb.InterfacesForNode("lan0"); len(got) != 2 || got[0].SegmentID != "lan" || got[1].SegmentID != "p2p" {
		t.Fatalf("InterfacesForNode(lan0) = %v", got)
	}
	if got := kb.InterfacesForNode("ap"); len(got) != 2 || got[1].SegmentID != "wifi" {
		t.Fatalf("InterfacesForNode(ap) = %v", got)
	}

	if seg, err := kb.SoleSegment("sta1"); err != nil || seg != "wifi" {
		t.Fatalf("SoleSegment(sta1) = %q, %v", seg, err)
	}
	if _, err := kb.SoleSegment("lan0"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("SoleSegment of a multi-homed node = %v, want configuration error", err)
	}
	if _, err := kb.SoleSegment("ghost"); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("SoleSegment(ghost) = %v, want unknown entity", err)
	}

	if _, err := kb.AddressOf("lan1", "lan"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("AddressOf before addressing = %v, want configuration error", err)
	}

	planner, err := NewAddressPlanner([]string{"10.1.1.0/24", "10.1.2.0/24", "10.1.3.0/24"})
	if err != nil {
		t.Fatalf("NewAddressPlanner: %v", err)
	}
	if _, err := planner.Assign(context.Background(), kb); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	addr, err := kb.AddressOf("ap", "p2p")
	if err != nil || !addr.Equal(net.ParseIP("10.1.2.2")) {
		t.Fatalf("AddressOf(ap, p2p) = %v, %v", addr, err)
	}
	addr, err = kb.AddressOf("ap", "wifi")
	if err != nil || !addr.Equal(net.ParseIP("10.1.3.4")) {
		t.Fatalf("AddressOf(ap, wifi) = %v, %v; want the last address of the cell", addr, err)
	}

	segments, interfaces := kb.Counts()
	if segments != 3 || interfaces != 10 {
		t.Fatalf("Counts = %d segments, %d interfaces; want 3 and 10", segments, interfaces)
	}
}
