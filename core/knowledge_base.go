package core

import (
	"fmt"
	"net"
)

// NodeDirectory is the subset of the node registry the network KB needs to
// tell an unknown node apart from a node that is merely not attached.
type NodeDirectory interface {
	HasNode(id string) bool
}

// KnowledgeBase stores the link segments and interfaces of one scenario.
// Segments and interfaces are kept in creation order, which is the order
// the address planner consumes them in.
type KnowledgeBase struct {
	nodes NodeDirectory

	segments     map[string]*LinkSegment
	segmentOrder []string

	interfaces     map[string]*Interface
	interfaceOrder []string
	byNode         map[string][]string

	macCounter uint64
	sealed     bool
}

// NewKnowledgeBase creates an empty network knowledge base backed by the
// given node directory.
func NewKnowledgeBase(nodes NodeDirectory) *KnowledgeBase {
	return &KnowledgeBase{
		nodes:      nodes,
		segments:   make(map[string]*LinkSegment),
		interfaces: make(map[string]*Interface),
		byNode:     make(map[string][]string),
	}
}

//
// ---------- Segments ----------
//

// addSegment stores seg and one placeholder interface per member.
func (kb *KnowledgeBase) addSegment(seg *LinkSegment) {
	kb.segments[seg.ID] = seg
	kb.segmentOrder = append(kb.segmentOrder, seg.ID)

	seg.InterfaceIDs = make([]string, 0, len(seg.NodeIDs))
	for idx, nodeID := range seg.NodeIDs {
		kb.macCounter++
		intf := &Interface{
			ID:        InterfaceID(nodeID, seg.ID),
			NodeID:    nodeID,
			SegmentID: seg.ID,
			Index:     idx,
			NodeIndex: len(kb.byNode[nodeID]),
			MAC:       macFromCounter(kb.macCounter),
		}
		kb.interfaces[intf.ID] = intf
		kb.interfaceOrder = append(kb.interfaceOrder, intf.ID)
		kb.byNode[nodeID] = append(kb.byNode[nodeID], intf.ID)
		seg.InterfaceIDs = append(seg.InterfaceIDs, intf.ID)
	}
}

// GetSegment returns a segment by ID, or nil if not found.
func (kb *KnowledgeBase) GetSegment(id string) *LinkSegment {
	return kb.segments[id]
}

// ListSegments returns all segments in creation order.
func (kb *KnowledgeBase) ListSegments() []*LinkSegment {
	out := make([]*LinkSegment, 0, len(kb.segmentOrder))
	for _, id := range kb.segmentOrder {
		out = append(out, kb.segments[id])
	}
	return out
}

//
// ---------- Interfaces ----------
//

// GetInterface returns an interface by ID, or nil if not found.
func (kb *KnowledgeBase) GetInterface(id string) *Interface {
	return kb.interfaces[id]
}

// InterfacesForNode returns the node's interfaces in creation order.
func (kb *KnowledgeBase) InterfacesForNode(nodeID string) []*Interface {
	out := make([]*Interface, 0, len(kb.byNode[nodeID]))
	for _, id := range kb.byNode[nodeID] {
		out = append(out, kb.interfaces[id])
	}
	return out
}

// InterfaceFor resolves the interface of nodeID on segmentID. Unknown
// nodes and segments yield ErrUnknownEntity; a node that exists but is not
// attached to the segment yields ErrConfiguration.
func (kb *KnowledgeBase) InterfaceFor(nodeID, segmentID string) (*Interface, error) {
	if kb.nodes != nil && !kb.nodes.HasNode(nodeID) {
		return nil, UnknownEntity("node", nodeID)
	}
	seg, ok := kb.segments[segmentID]
	if !ok {
		return nil, UnknownEntity("segment", segmentID)
	}
	intf, ok := kb.interfaces[InterfaceID(nodeID, seg.ID)]
	if !ok {
		return nil, Errorf(ErrConfiguration, nodeID, "node is not attached to segment %q", segmentID)
	}
	return intf, nil
}

// AddressOf is the (node, segment) -> address relation used for every peer
// resolution.
func (kb *KnowledgeBase) AddressOf(nodeID, segmentID string) (net.IP, error) {
	intf, err := kb.InterfaceFor(nodeID, segmentID)
	if err != nil {
		return nil, err
	}
	if !intf.Addressed() {
		return nil, Errorf(ErrConfiguration, segmentID, "segment has no addresses yet")
	}
	return intf.Address, nil
}

// SoleSegment returns the only segment nodeID is attached to. Nodes with
// several interfaces must be resolved with an explicit segment.
func (kb *KnowledgeBase) SoleSegment(nodeID string) (string, error) {
	if kb.nodes != nil && !kb.nodes.HasNode(nodeID) {
		return "", UnknownEntity("node", nodeID)
	}
	ifaces := kb.byNode[nodeID]
	switch len(ifaces) {
	case 0:
		return "", Errorf(ErrConfiguration, nodeID, "node has no interfaces")
	case 1:
		return kb.interfaces[ifaces[0]].SegmentID, nil
	default:
		return "", Errorf(ErrConfiguration, nodeID,
			"node has %d interfaces; the peer segment must be named explicitly", len(ifaces))
	}
}

// HasNode reports whether the backing node directory knows id.
func (kb *KnowledgeBase) HasNode(id string) bool {
	if kb.nodes == nil {
		return len(kb.byNode[id]) > 0
	}
	return kb.nodes.HasNode(id)
}

//
// ---------- Lifecycle ----------
//

// Seal freezes the topology. It is called once addresses are assigned.
func (kb *KnowledgeBase) Seal() { kb.sealed = true }

// Sealed reports whether the topology accepts further segments.
func (kb *KnowledgeBase) Sealed() bool { return kb.sealed }

// Counts returns the number of segments and interfaces.
func (kb *KnowledgeBase) Counts() (segments, interfaces int) {
	return len(kb.segmentOrder), len(kb.interfaceOrder)
}

func (kb *KnowledgeBase) String() string {
	return fmt.Sprintf("network kb: %d segments, %d interfaces", len(kb.segmentOrder), len(kb.interfaceOrder))
}
