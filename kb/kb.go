package kb

import (
	"errors"
	"fmt"

	"github.com/pedrobellotti/nstestes/model"
)

var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node not found")
	ErrNodeBadInput = errors.New("invalid node")
)

// PlacementEvent is sent to subscribers each time a node is placed.
type PlacementEvent struct {
	Node     model.NetworkNode
	Position model.Position
}

// KnowledgeBase stores the nodes of one scenario and their static
// placement. Nodes are created once and never removed. A build runs on a
// single goroutine, so the store carries no locks.
type KnowledgeBase struct {
	nodes     map[string]*model.NetworkNode
	order     []string
	positions map[string]model.Position

	subs []func(PlacementEvent)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes:     make(map[string]*model.NetworkNode),
		positions: make(map[string]model.Position),
	}
}

// AddNetworkNode adds a new network node. It returns an error if the ID is
// empty or already exists.
func (kb *KnowledgeBase) AddNetworkNode(n *model.NetworkNode) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w: empty node ID", ErrNodeBadInput)
	}
	if _, exists := kb.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %q", ErrNodeExists, n.ID)
	}
	kb.nodes[n.ID] = n
	kb.order = append(kb.order, n.ID)
	return nil
}

// GetNetworkNode returns the network node with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetNetworkNode(id string) *model.NetworkNode {
	return kb.nodes[id]
}

// HasNode reports whether id names a node.
func (kb *KnowledgeBase) HasNode(id string) bool {
	_, ok := kb.nodes[id]
	return ok
}

// ListNetworkNodes returns all network nodes in creation order.
func (kb *KnowledgeBase) ListNetworkNodes() []*model.NetworkNode {
	res := make([]*model.NetworkNode, 0, len(kb.order))
	for _, id := range kb.order {
		res = append(res, kb.nodes[id])
	}
	return res
}

// NodeCount returns the number of nodes.
func (kb *KnowledgeBase) NodeCount() int {
	return len(kb.order)
}

// SetNodePosition records a static placement and notifies subscribers.
func (kb *KnowledgeBase) SetNodePosition(id string, pos model.Position) error {
	n, ok := kb.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	kb.positions[id] = pos
	kb.notify(PlacementEvent{Node: *n, Position: pos})
	return nil
}

// GetNodePosition returns the recorded placement, if any.
func (kb *KnowledgeBase) GetNodePosition(id string) (model.Position, bool) {
	pos, ok := kb.positions[id]
	return pos, ok
}

// Subscribe registers fn for every later placement. Callbacks run
// synchronously, in registration order.
func (kb *KnowledgeBase) Subscribe(fn func(PlacementEvent)) {
	kb.subs = append(kb.subs, fn)
}

func (kb *KnowledgeBase) notify(ev PlacementEvent) {
	for _, sub := range kb.subs {
		sub(ev)
	}
}
