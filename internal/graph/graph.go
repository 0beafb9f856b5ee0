package graph

import (
	"sort"

	"kai-model/internal/ids"
)

// NodeIndex is the position of a node in one graph instance. Indexes are not
// stable across clones or serialization; ids are.
type NodeIndex int

// EdgeWeight is the payload of an edge.
type EdgeWeight struct {
	Kind EdgeKind `json:"kind"`
}

// NewEdgeWeight returns an edge weight of the given kind.
func NewEdgeWeight(kind EdgeKind) EdgeWeight {
	return EdgeWeight{Kind: kind}
}

// EdgeReference is one edge as seen from a traversal.
type EdgeReference struct {
	Weight EdgeWeight
	Source NodeIndex
	Target NodeIndex
}

type edge struct {
	source NodeIndex
	target NodeIndex
	weight EdgeWeight
}

// WorkspaceSnapshotGraph holds the nodes and edges of one snapshot. It is not
// safe for concurrent use; the snapshot gate serializes access.
type WorkspaceSnapshotGraph struct {
	nodes     map[NodeIndex]NodeWeight
	nodeIndex map[ids.ID]NodeIndex
	outgoing  map[NodeIndex][]edge
	incoming  map[NodeIndex][]edge
	nextIndex NodeIndex
	edgeCount int

	cycleCheck int
}

// New returns an empty graph.
func New() *WorkspaceSnapshotGraph {
	return &WorkspaceSnapshotGraph{
		nodes:     make(map[NodeIndex]NodeWeight),
		nodeIndex: make(map[ids.ID]NodeIndex),
		outgoing:  make(map[NodeIndex][]edge),
		incoming:  make(map[NodeIndex][]edge),
	}
}

// GenerateULID returns a fresh time-ordered id for a new node.
func (g *WorkspaceSnapshotGraph) GenerateULID() (ids.ID, error) {
	return ids.New()
}

// NodeCount returns the number of nodes.
func (g *WorkspaceSnapshotGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *WorkspaceSnapshotGraph) EdgeCount() int {
	return g.edgeCount
}

// HasNode reports whether a node with the id exists.
func (g *WorkspaceSnapshotGraph) HasNode(id ids.ID) bool {
	_, ok := g.nodeIndex[id]
	return ok
}

// AddOrReplaceNode inserts a node, or replaces the weight of the node with the
// same id while keeping its position and edges.
func (g *WorkspaceSnapshotGraph) AddOrReplaceNode(weight NodeWeight) (NodeIndex, error) {
	weight, err := upgrade(weight)
	if err != nil {
		return 0, err
	}
	weight = weight.Clone()

	if idx, ok := g.nodeIndex[weight.ID()]; ok {
		g.nodes[idx] = weight
		return idx, nil
	}

	idx := g.nextIndex
	g.nextIndex++
	g.nodes[idx] = weight
	g.nodeIndex[weight.ID()] = idx
	return idx, nil
}

// RemoveNode deletes a node and every edge touching it. Removing an absent
// node is a no-op.
func (g *WorkspaceSnapshotGraph) RemoveNode(id ids.ID) {
	idx, ok := g.nodeIndex[id]
	if !ok {
		return
	}

	for _, e := range g.outgoing[idx] {
		g.incoming[e.target] = dropEdge(g.incoming[e.target], e)
		g.edgeCount--
	}
	for _, e := range g.incoming[idx] {
		if e.source == idx {
			continue // self loop, already counted above
		}
		g.outgoing[e.source] = dropEdge(g.outgoing[e.source], e)
		g.edgeCount--
	}

	delete(g.outgoing, idx)
	delete(g.incoming, idx)
	delete(g.nodes, idx)
	delete(g.nodeIndex, id)
}

// GetNodeIndexByID resolves an id to its index.
func (g *WorkspaceSnapshotGraph) GetNodeIndexByID(id ids.ID) (NodeIndex, error) {
	idx, ok := g.nodeIndex[id]
	if !ok {
		return 0, notFoundByID(id)
	}
	return idx, nil
}

// GetNodeWeight returns the weight at an index.
func (g *WorkspaceSnapshotGraph) GetNodeWeight(idx NodeIndex) (NodeWeight, error) {
	w, ok := g.nodes[idx]
	if !ok {
		return NodeWeight{}, notFoundByIndex(idx)
	}
	w, err := upgrade(w)
	if err != nil {
		return NodeWeight{}, err
	}
	return w.Clone(), nil
}

// GetNodeWeightByID returns the weight of the node with the id.
func (g *WorkspaceSnapshotGraph) GetNodeWeightByID(id ids.ID) (NodeWeight, error) {
	idx, err := g.GetNodeIndexByID(id)
	if err != nil {
		return NodeWeight{}, err
	}
	return g.GetNodeWeight(idx)
}

// EntityKindForID returns the entity kind of a node.
func (g *WorkspaceSnapshotGraph) EntityKindForID(id ids.ID) (EntityKind, error) {
	w, err := g.GetNodeWeightByID(id)
	if err != nil {
		return "", err
	}
	return w.Kind(), nil
}

// AddEdge appends an edge from source to target. While a cycle check guard is
// held, a containment edge that would close a containment cycle is rejected
// and the graph is left untouched.
func (g *WorkspaceSnapshotGraph) AddEdge(source ids.ID, weight EdgeWeight, target ids.ID) error {
	srcIdx, err := g.GetNodeIndexByID(source)
	if err != nil {
		return err
	}
	dstIdx, err := g.GetNodeIndexByID(target)
	if err != nil {
		return err
	}

	if g.cycleCheck > 0 && weight.Kind.IsContainment() {
		if srcIdx == dstIdx || g.reachesByContainment(dstIdx, srcIdx) {
			return &EdgeCreatesCycleError{Source: source, Target: target, Kind: weight.Kind}
		}
	}

	e := edge{source: srcIdx, target: dstIdx, weight: weight}
	g.outgoing[srcIdx] = append(g.outgoing[srcIdx], e)
	g.incoming[dstIdx] = append(g.incoming[dstIdx], e)
	g.edgeCount++
	return nil
}

// RemoveEdge removes at most one edge of the kind from source to target. A
// missing edge is not an error; a missing endpoint is.
func (g *WorkspaceSnapshotGraph) RemoveEdge(source, target ids.ID, kind EdgeKind) error {
	srcIdx, err := g.GetNodeIndexByID(source)
	if err != nil {
		return err
	}
	dstIdx, err := g.GetNodeIndexByID(target)
	if err != nil {
		return err
	}

	for _, e := range g.outgoing[srcIdx] {
		if e.target == dstIdx && e.weight.Kind == kind {
			g.outgoing[srcIdx] = dropEdge(g.outgoing[srcIdx], e)
			g.incoming[dstIdx] = dropEdge(g.incoming[dstIdx], e)
			g.edgeCount--
			return nil
		}
	}
	return nil
}

// HasEdge reports whether an edge of the kind exists from source to target.
func (g *WorkspaceSnapshotGraph) HasEdge(source, target ids.ID, kind EdgeKind) bool {
	srcIdx, ok := g.nodeIndex[source]
	if !ok {
		return false
	}
	dstIdx, ok := g.nodeIndex[target]
	if !ok {
		return false
	}
	for _, e := range g.outgoing[srcIdx] {
		if e.target == dstIdx && e.weight.Kind == kind {
			return true
		}
	}
	return false
}

// IncomingSourcesForEdgeWeightKind returns the direct predecessors of a node
// connected by edges of the kind. Callers must not depend on the order.
func (g *WorkspaceSnapshotGraph) IncomingSourcesForEdgeWeightKind(id ids.ID, kind EdgeKind) ([]NodeIndex, error) {
	idx, err := g.GetNodeIndexByID(id)
	if err != nil {
		return nil, err
	}

	var sources []NodeIndex
	for _, e := range g.incoming[idx] {
		if e.weight.Kind == kind {
			sources = append(sources, e.source)
		}
	}
	return sources, nil
}

// OutgoingTargetsForEdgeWeightKind returns the direct successors of a node
// connected by edges of the kind.
func (g *WorkspaceSnapshotGraph) OutgoingTargetsForEdgeWeightKind(id ids.ID, kind EdgeKind) ([]NodeIndex, error) {
	idx, err := g.GetNodeIndexByID(id)
	if err != nil {
		return nil, err
	}

	var targets []NodeIndex
	for _, e := range g.outgoing[idx] {
		if e.weight.Kind == kind {
			targets = append(targets, e.target)
		}
	}
	return targets, nil
}

// EdgesDirected returns every edge leaving (Outgoing) or entering (Incoming)
// the node at idx, in insertion order.
func (g *WorkspaceSnapshotGraph) EdgesDirected(idx NodeIndex, dir Direction) []EdgeReference {
	var list []edge
	if dir == Outgoing {
		list = g.outgoing[idx]
	} else {
		list = g.incoming[idx]
	}

	refs := make([]EdgeReference, 0, len(list))
	for _, e := range list {
		refs = append(refs, EdgeReference{Weight: e.weight, Source: e.source, Target: e.target})
	}
	return refs
}

// EdgesDirectedForEdgeWeightKind is EdgesDirected filtered to one edge kind.
func (g *WorkspaceSnapshotGraph) EdgesDirectedForEdgeWeightKind(idx NodeIndex, dir Direction, kind EdgeKind) []EdgeReference {
	var refs []EdgeReference
	for _, ref := range g.EdgesDirected(idx, dir) {
		if ref.Weight.Kind == kind {
			refs = append(refs, ref)
		}
	}
	return refs
}

// reachesByContainment reports whether to is reachable from from by following
// containment edges forward.
func (g *WorkspaceSnapshotGraph) reachesByContainment(from, to NodeIndex) bool {
	visited := map[NodeIndex]bool{from: true}
	queue := []NodeIndex{from}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == to {
			return true
		}
		for _, e := range g.outgoing[current] {
			if !e.weight.Kind.IsContainment() || visited[e.target] {
				continue
			}
			visited[e.target] = true
			queue = append(queue, e.target)
		}
	}
	return false
}

// Clone returns an independent copy. Node indexes are preserved.
func (g *WorkspaceSnapshotGraph) Clone() *WorkspaceSnapshotGraph {
	c := &WorkspaceSnapshotGraph{
		nodes:     make(map[NodeIndex]NodeWeight, len(g.nodes)),
		nodeIndex: make(map[ids.ID]NodeIndex, len(g.nodeIndex)),
		outgoing:  make(map[NodeIndex][]edge, len(g.outgoing)),
		incoming:  make(map[NodeIndex][]edge, len(g.incoming)),
		nextIndex: g.nextIndex,
		edgeCount: g.edgeCount,
	}
	for idx, w := range g.nodes {
		c.nodes[idx] = w.Clone()
	}
	for id, idx := range g.nodeIndex {
		c.nodeIndex[id] = idx
	}
	for idx, list := range g.outgoing {
		c.outgoing[idx] = append([]edge(nil), list...)
	}
	for idx, list := range g.incoming {
		c.incoming[idx] = append([]edge(nil), list...)
	}
	return c
}

// NodeWeights returns every node weight ordered by id.
func (g *WorkspaceSnapshotGraph) NodeWeights() []NodeWeight {
	weights := make([]NodeWeight, 0, len(g.nodes))
	for _, w := range g.nodes {
		weights = append(weights, w.Clone())
	}
	sort.Slice(weights, func(i, j int) bool {
		return ids.Compare(weights[i].ID(), weights[j].ID()) < 0
	})
	return weights
}

// EdgeRecord is an edge expressed by node ids.
type EdgeRecord struct {
	Source ids.ID   `json:"source"`
	Kind   EdgeKind `json:"kind"`
	Target ids.ID   `json:"target"`
}

// Edges returns every edge ordered by source, kind and target.
func (g *WorkspaceSnapshotGraph) Edges() []EdgeRecord {
	records := make([]EdgeRecord, 0, g.edgeCount)
	for srcIdx, list := range g.outgoing {
		src := g.nodes[srcIdx].ID()
		for _, e := range list {
			records = append(records, EdgeRecord{
				Source: src,
				Kind:   e.weight.Kind,
				Target: g.nodes[e.target].ID(),
			})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if c := ids.Compare(records[i].Source, records[j].Source); c != 0 {
			return c < 0
		}
		if records[i].Kind != records[j].Kind {
			return records[i].Kind < records[j].Kind
		}
		return ids.Compare(records[i].Target, records[j].Target) < 0
	})
	return records
}

// OutgoingEdgeRecords returns the outgoing edges of one node ordered by kind
// and target.
func (g *WorkspaceSnapshotGraph) OutgoingEdgeRecords(id ids.ID) []EdgeRecord {
	idx, ok := g.nodeIndex[id]
	if !ok {
		return nil
	}
	records := make([]EdgeRecord, 0, len(g.outgoing[idx]))
	for _, e := range g.outgoing[idx] {
		records = append(records, EdgeRecord{Source: id, Kind: e.weight.Kind, Target: g.nodes[e.target].ID()})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Kind != records[j].Kind {
			return records[i].Kind < records[j].Kind
		}
		return ids.Compare(records[i].Target, records[j].Target) < 0
	})
	return records
}

func dropEdge(list []edge, target edge) []edge {
	for i, e := range list {
		if e == target {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
