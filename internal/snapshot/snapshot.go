// Package snapshot provides WorkspaceSnapshot, the read/write gate around the
// working copy of one change set's graph, and its persistence in the CAS.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"kai-model/internal/cas"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
)

// WorkspaceSnapshot owns one mutable graph. Readers run concurrently; writers
// are exclusive for the duration of their call.
type WorkspaceSnapshot struct {
	mu      sync.RWMutex
	working *graph.WorkspaceSnapshotGraph
}

// New returns a snapshot over an empty graph.
func New() *WorkspaceSnapshot {
	return FromGraph(graph.New())
}

// FromGraph wraps an existing graph. The snapshot takes ownership of g.
func FromGraph(g *graph.WorkspaceSnapshotGraph) *WorkspaceSnapshot {
	return &WorkspaceSnapshot{working: g}
}

// Read runs fn with shared access to the working copy. fn must not retain g.
func (s *WorkspaceSnapshot) Read(ctx context.Context, fn func(g *graph.WorkspaceSnapshotGraph) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.working)
}

// Write runs fn with exclusive access to the working copy.
func (s *WorkspaceSnapshot) Write(ctx context.Context, fn func(g *graph.WorkspaceSnapshotGraph) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.working)
}

// GenerateULID returns a fresh node id.
func (s *WorkspaceSnapshot) GenerateULID(ctx context.Context) (ids.ID, error) {
	if err := ctx.Err(); err != nil {
		return ids.Nil, err
	}
	return ids.New()
}

// GetNodeWeight returns the weight at an index of the working copy.
func (s *WorkspaceSnapshot) GetNodeWeight(ctx context.Context, idx graph.NodeIndex) (graph.NodeWeight, error) {
	var w graph.NodeWeight
	err := s.Read(ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		var err error
		w, err = g.GetNodeWeight(idx)
		return err
	})
	return w, err
}

// GetNodeWeightByID returns the weight of a node by id.
func (s *WorkspaceSnapshot) GetNodeWeightByID(ctx context.Context, id ids.ID) (graph.NodeWeight, error) {
	var w graph.NodeWeight
	err := s.Read(ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		var err error
		w, err = g.GetNodeWeightByID(id)
		return err
	})
	return w, err
}

// AddOrReplaceNode inserts or replaces a node by id.
func (s *WorkspaceSnapshot) AddOrReplaceNode(ctx context.Context, w graph.NodeWeight) error {
	return s.Write(ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		_, err := g.AddOrReplaceNode(w)
		return err
	})
}

// AddEdge adds an edge between two nodes.
func (s *WorkspaceSnapshot) AddEdge(ctx context.Context, source ids.ID, w graph.EdgeWeight, target ids.ID) error {
	return s.Write(ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		return g.AddEdge(source, w, target)
	})
}

// RemoveEdge removes at most one edge of the kind.
func (s *WorkspaceSnapshot) RemoveEdge(ctx context.Context, source, target ids.ID, kind graph.EdgeKind) error {
	return s.Write(ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		return g.RemoveEdge(source, target, kind)
	})
}

// IncomingSourcesForEdgeWeightKind returns the direct predecessors of a node
// by edge kind.
func (s *WorkspaceSnapshot) IncomingSourcesForEdgeWeightKind(ctx context.Context, id ids.ID, kind graph.EdgeKind) ([]graph.NodeIndex, error) {
	var sources []graph.NodeIndex
	err := s.Read(ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		var err error
		sources, err = g.IncomingSourcesForEdgeWeightKind(id, kind)
		return err
	})
	return sources, err
}

// EnableCycleCheck turns on containment cycle checking for the working copy.
// Hold the guard only around the edge insertion it protects.
func (s *WorkspaceSnapshot) EnableCycleCheck(ctx context.Context) (*graph.CycleCheckGuard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	inner := s.working.EnableCycleCheck()
	s.mu.Unlock()

	return graph.NewCycleCheckGuard(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		inner.Release()
	}), nil
}

// Fork returns an independent snapshot with a copy of the working graph.
func (s *WorkspaceSnapshot) Fork() *WorkspaceSnapshot {
	return FromGraph(s.CloneGraph())
}

// CloneGraph returns a copy of the working graph.
func (s *WorkspaceSnapshot) CloneGraph() *graph.WorkspaceSnapshotGraph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.working.Clone()
}

// Replace swaps in a new working graph.
func (s *WorkspaceSnapshot) Replace(g *graph.WorkspaceSnapshotGraph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working = g
}

// Persist writes the working graph into the CAS and returns its address.
// Identical graphs share an address.
func (s *WorkspaceSnapshot) Persist(ctx context.Context, store cas.Store, tenancy cas.Tenancy, actor cas.Actor) (cas.ContentHash, error) {
	var serialized graph.Serialized
	if err := s.Read(ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		serialized = g.Serialize()
		return nil
	}); err != nil {
		return cas.ContentHash{}, err
	}

	address, _, err := cas.WriteJSON(ctx, store, serialized, tenancy, actor)
	if err != nil {
		return cas.ContentHash{}, fmt.Errorf("writing snapshot: %w", err)
	}
	return address, nil
}

// Load rebuilds a snapshot from its CAS address.
func Load(ctx context.Context, store cas.Store, address cas.ContentHash) (*WorkspaceSnapshot, error) {
	found, err := store.ReadMany(ctx, []cas.ContentHash{address})
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	data, ok := found[address]
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %s", ErrSnapshotNotFound, address.Short())
	}

	var serialized graph.Serialized
	if err := json.Unmarshal(data, &serialized); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	g, err := graph.FromSerialized(serialized)
	if err != nil {
		return nil, err
	}
	return FromGraph(g), nil
}
