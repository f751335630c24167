package core

import (
	"context"
	"fmt"

	"github.com/pedrobellotti/nstestes/internal/logging"
	"github.com/pedrobellotti/nstestes/kb"
	"github.com/pedrobellotti/nstestes/model"
)

// SegmentRequest describes one segment to create. For a wireless cell
// Nodes holds the stations and AccessPoint the AP; for the other kinds
// AccessPoint must be empty.
type SegmentRequest struct {
	ID          string
	Config      LinkConfig
	Nodes       []string
	AccessPoint string
}

// TopologyBuilder creates nodes and groups them into link segments.
type TopologyBuilder struct {
	nodes *kb.KnowledgeBase
	net   *KnowledgeBase
	log   logging.Logger
}

// TopologyOption customises a TopologyBuilder.
type TopologyOption func(*TopologyBuilder)

// WithTopologyLogger sets the builder logger.
func WithTopologyLogger(l logging.Logger) TopologyOption {
	return func(b *TopologyBuilder) {
		if l != nil {
			b.log = l
		}
	}
}

// NewTopologyBuilder wires a builder over the two stores. Either store may
// be nil, in which case a fresh one is created.
func NewTopologyBuilder(nodes *kb.KnowledgeBase, network *KnowledgeBase, opts ...TopologyOption) *TopologyBuilder {
	if nodes == nil {
		nodes = kb.NewKnowledgeBase()
	}
	if network == nil {
		network = NewKnowledgeBase(nodes)
	}
	b := &TopologyBuilder{nodes: nodes, net: network, log: logging.Noop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Nodes returns the node registry.
func (b *TopologyBuilder) Nodes() *kb.KnowledgeBase { return b.nodes }

// Network returns the segment/interface store.
func (b *TopologyBuilder) Network() *KnowledgeBase { return b.net }

// AddNode creates a single node.
func (b *TopologyBuilder) AddNode(id, nodeType string) (*model.NetworkNode, error) {
	if err := checkEntityID("node", id); err != nil {
		return nil, err
	}
	n := &model.NetworkNode{ID: id, Name: id, Type: nodeType}
	if err := b.nodes.AddNetworkNode(n); err != nil {
		return nil, Wrap(ErrConfiguration, id, err)
	}
	return n, nil
}

// CreateNodes creates count nodes named prefix0 .. prefix{count-1}.
func (b *TopologyBuilder) CreateNodes(prefix string, count int, nodeType string) ([]string, error) {
	if count < 1 {
		return nil, Errorf(ErrConfiguration, prefix, "node count must be at least 1, got %d", count)
	}
	ids := make([]string, 0, count)
	for i := range count {
		id := fmt.Sprintf("%s%d", prefix, i)
		if _, err := b.AddNode(id, nodeType); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CreateSegment validates req, records the segment and appends exactly one
// placeholder interface per member in attachment order.
func (b *TopologyBuilder) CreateSegment(ctx context.Context, req SegmentRequest) (*LinkSegment, error) {
	if b.net.Sealed() {
		return nil, Errorf(ErrConfiguration, req.ID, "topology is already addressed")
	}
	if req.ID == "" {
		return nil, Errorf(ErrConfiguration, "", "segment ID is empty")
	}
	if err := checkEntityID("segment", req.ID); err != nil {
		return nil, err
	}
	if b.net.GetSegment(req.ID) != nil {
		return nil, Errorf(ErrConfiguration, req.ID, "segment already exists")
	}
	if req.Config == nil {
		return nil, Errorf(ErrConfiguration, req.ID, "missing link configuration")
	}
	if err := req.Config.Validate(); err != nil {
		return nil, Wrap(ErrConfiguration, req.ID, err)
	}

	kind := req.Config.Kind()
	members, err := b.members(kind, req)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(members))
	for _, id := range members {
		if !b.nodes.HasNode(id) {
			return nil, Errorf(ErrConfiguration, req.ID, "node %q does not exist", id)
		}
		if _, dup := seen[id]; dup {
			return nil, Errorf(ErrConfiguration, req.ID, "node %q attached twice", id)
		}
		seen[id] = struct{}{}
	}

	seg := &LinkSegment{
		ID:            req.ID,
		Kind:          kind,
		Config:        req.Config,
		NodeIDs:       members,
		AccessPointID: req.AccessPoint,
	}
	b.net.addSegment(seg)

	b.log.Debug(ctx, "segment created",
		logging.String("segment", seg.ID),
		logging.String("kind", kind.String()),
		logging.Int("interfaces", len(seg.InterfaceIDs)),
	)
	return seg, nil
}

// members checks node-count rules and returns the attachment order.
func (b *TopologyBuilder) members(kind LinkKind, req SegmentRequest) ([]string, error) {
	switch kind {
	case PointToPoint:
		if req.AccessPoint != "" {
			return nil, Errorf(ErrConfiguration, req.ID, "point-to-point link has no access point")
		}
		if len(req.Nodes) != 2 {
			return nil, Errorf(ErrConfiguration, req.ID, "point-to-point link needs exactly 2 nodes, got %d", len(req.Nodes))
		}
	case SharedMedium:
		if req.AccessPoint != "" {
			return nil, Errorf(ErrConfiguration, req.ID, "shared medium has no access point")
		}
		if len(req.Nodes) < 2 {
			return nil, Errorf(ErrConfiguration, req.ID, "shared medium needs at least 2 nodes, got %d", len(req.Nodes))
		}
	case WirelessCell:
		if req.AccessPoint == "" {
			return nil, Errorf(ErrConfiguration, req.ID, "wireless cell needs exactly one access point")
		}
		if len(req.Nodes) < 1 {
			return nil, Errorf(ErrConfiguration, req.ID, "wireless cell needs at least 1 station")
		}
		out := make([]string, 0, len(req.Nodes)+1)
		out = append(out, req.Nodes...)
		return append(out, req.AccessPoint), nil
	default:
		return nil, Errorf(ErrConfiguration, req.ID, "unsupported link kind %v", kind)
	}
	return append([]string(nil), req.Nodes...), nil
}
