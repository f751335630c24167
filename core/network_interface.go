package core

import (
	"fmt"
	"net"
	"strings"
)

// Interface is the attachment point of one node to one segment. It is
// created as a placeholder by the topology builder and receives its address
// from the address planner.
type Interface struct {
	ID        string
	NodeID    string
	SegmentID string

	// Index is the attachment position within the segment.
	Index int
	// NodeIndex counts the node's interfaces in creation order.
	NodeIndex int

	MAC net.HardwareAddr

	Address net.IP
	Prefix  *net.IPNet
}

// IDSeparator joins node and segment in interface IDs. Node and segment
// IDs may not contain it, so every (node, segment) pair keeps its own key.
const IDSeparator = "/"

// InterfaceID names the interface of nodeID on segmentID.
func InterfaceID(nodeID, segmentID string) string {
	return nodeID + IDSeparator + segmentID
}

// Addressed reports whether the planner has assigned an address.
func (i *Interface) Addressed() bool {
	return i != nil && i.Address != nil
}

// CIDR renders the address with its prefix length, e.g. "10.1.1.1/24".
func (i *Interface) CIDR() string {
	if !i.Addressed() || i.Prefix == nil {
		return ""
	}
	ones, _ := i.Prefix.Mask.Size()
	return fmt.Sprintf("%s/%d", i.Address, ones)
}

// macFromCounter allocates locally sequential MAC addresses, starting at
// 00:00:00:00:00:01.
func macFromCounter(n uint64) net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	for i := 5; i >= 0; i-- {
		mac[i] = byte(n)
		n >>= 8
	}
	return mac
}

// checkEntityID rejects IDs that would make interface IDs ambiguous.
func checkEntityID(what, id string) error {
	if strings.Contains(id, IDSeparator) {
		return Errorf(ErrConfiguration, id, "%s ID may not contain %q", what, IDSeparator)
	}
	return nil
}
