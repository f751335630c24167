package core

import (
	"strings"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Hop is one forwarding step: leave NodeID through its interface on
// SegmentID.
type Hop struct {
	NodeID    string
	SegmentID string
}

// ConnectivityService answers reachability questions over a snapshot of the
// segment graph. Nodes and segments are both vertices; every interface is an
// edge between its node and its segment.
type ConnectivityService struct {
	g     *simple.UndirectedGraph
	ids   map[string]int64
	names map[int64]vertex
}

type vertex struct {
	id      string
	segment bool
}

// SegmentLister yields segments in creation order. *KnowledgeBase
// implements it; engines that keep their own copy can too.
type SegmentLister interface {
	ListSegments() []*LinkSegment
}

// NewConnectivityService snapshots the current segments of kb.
func NewConnectivityService(kb SegmentLister) *ConnectivityService {
	cs := &ConnectivityService{
		g:     simple.NewUndirectedGraph(),
		ids:   make(map[string]int64),
		names: make(map[int64]vertex),
	}
	for _, seg := range kb.ListSegments() {
		sv := cs.vertexID(vertex{id: seg.ID, segment: true})
		for _, nodeID := range seg.NodeIDs {
			nv := cs.vertexID(vertex{id: nodeID})
			cs.g.SetEdge(simple.Edge{F: simple.Node(nv), T: simple.Node(sv)})
		}
	}
	return cs
}

func key(v vertex) string {
	if v.segment {
		return "segment:" + v.id
	}
	return "node:" + v.id
}

func (cs *ConnectivityService) vertexID(v vertex) int64 {
	k := key(v)
	if id, ok := cs.ids[k]; ok {
		return id
	}
	id := int64(len(cs.ids))
	cs.ids[k] = id
	cs.names[id] = v
	cs.g.AddNode(simple.Node(id))
	return id
}

// Route returns the hops from fromNode to the segment toSegment. The last
// hop always leaves through toSegment. It returns nil when no path exists.
func (cs *ConnectivityService) Route(fromNode, toSegment string) []Hop {
	src, ok := cs.ids[key(vertex{id: fromNode})]
	if !ok {
		return nil
	}
	dst, ok := cs.ids[key(vertex{id: toSegment, segment: true})]
	if !ok {
		return nil
	}
	shortest := path.DijkstraFrom(cs.g.Node(src), cs.g)
	nodes, _ := shortest.To(dst)
	if len(nodes) < 2 {
		return nil
	}

	// The path alternates node, segment, node, segment ... segment.
	hops := make([]Hop, 0, len(nodes)/2)
	for i := 0; i+1 < len(nodes); i += 2 {
		hops = append(hops, Hop{
			NodeID:    cs.names[nodes[i].ID()].id,
			SegmentID: cs.names[nodes[i+1].ID()].id,
		})
	}
	return hops
}

// Reachable reports whether fromNode can send to a member of toSegment.
func (cs *ConnectivityService) Reachable(fromNode, toSegment string) bool {
	return cs.Route(fromNode, toSegment) != nil
}

// Islands returns the node IDs of each connected component, sorted, with
// components ordered by their first node.
func (cs *ConnectivityService) Islands() [][]string {
	var out [][]string
	for _, comp := range topo.ConnectedComponents(cs.g) {
		ids := cs.nodeIDs(comp)
		if len(ids) > 0 {
			out = append(out, ids)
		}
	}
	slices.SortFunc(out, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	return out
}

func (cs *ConnectivityService) nodeIDs(vs []graph.Node) []string {
	var ids []string
	for _, v := range vs {
		if name := cs.names[v.ID()]; !name.segment {
			ids = append(ids, name.id)
		}
	}
	slices.Sort(ids)
	return ids
}
