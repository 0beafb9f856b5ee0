package graph

import (
	"fmt"
)

// SerializedVersion is the format version of Serialized.
const SerializedVersion = 1

// Serialized is the stable, order-independent form of a graph. Nodes are
// ordered by id and edges by (source, kind, target).
type Serialized struct {
	Version int          `json:"version"`
	Nodes   []NodeWeight `json:"nodes"`
	Edges   []EdgeRecord `json:"edges"`
}

// Serialize exports the graph.
func (g *WorkspaceSnapshotGraph) Serialize() Serialized {
	return Serialized{
		Version: SerializedVersion,
		Nodes:   g.NodeWeights(),
		Edges:   g.Edges(),
	}
}

// FromSerialized rebuilds a graph. Node weights are upgraded to the current
// version as they are inserted.
func FromSerialized(s Serialized) (*WorkspaceSnapshotGraph, error) {
	if s.Version != SerializedVersion {
		return nil, fmt.Errorf("unsupported serialized graph version %d", s.Version)
	}

	g := New()
	for _, w := range s.Nodes {
		if g.HasNode(w.ID()) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNodeInSerialized, w.ID())
		}
		if _, err := g.AddOrReplaceNode(w); err != nil {
			return nil, fmt.Errorf("restoring node %s: %w", w.ID(), err)
		}
	}
	for _, e := range s.Edges {
		if err := g.AddEdge(e.Source, NewEdgeWeight(e.Kind), e.Target); err != nil {
			return nil, fmt.Errorf("restoring edge %s -> %s: %w", e.Source, e.Target, err)
		}
	}
	return g, nil
}
