package component

import (
	"context"

	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/session"
)

// ParentsIn returns the direct frame parents of a component ordered by id.
// A consistent graph has at most one.
func ParentsIn(g *graph.WorkspaceSnapshotGraph, child ids.ComponentID) ([]ids.ComponentID, error) {
	sources, err := g.IncomingSourcesForEdgeWeightKind(child, graph.EdgeFrameContains)
	if err != nil {
		return nil, err
	}
	return idsAt(g, sources)
}

// ChildrenIn returns the direct frame children of a component ordered by id.
func ChildrenIn(g *graph.WorkspaceSnapshotGraph, parent ids.ComponentID) ([]ids.ComponentID, error) {
	targets, err := g.OutgoingTargetsForEdgeWeightKind(parent, graph.EdgeFrameContains)
	if err != nil {
		return nil, err
	}
	return idsAt(g, targets)
}

// Parents returns every direct frame parent of a component.
func Parents(ctx context.Context, s *session.Session, child ids.ComponentID) ([]ids.ComponentID, error) {
	var parents []ids.ComponentID
	err := read(ctx, s, func(g *graph.WorkspaceSnapshotGraph) error {
		var err error
		parents, err = ParentsIn(g, child)
		return err
	})
	return parents, err
}

// ParentOf returns the frame parent of a component. The bool is false when
// the component is not in a frame. More than one parent is reported as a
// *MultipleParentsError.
func ParentOf(ctx context.Context, s *session.Session, child ids.ComponentID) (ids.ComponentID, bool, error) {
	parents, err := Parents(ctx, s, child)
	if err != nil {
		return ids.Nil, false, err
	}
	switch len(parents) {
	case 0:
		return ids.Nil, false, nil
	case 1:
		return parents[0], true, nil
	default:
		return ids.Nil, false, &MultipleParentsError{Child: child, Parents: parents}
	}
}

// Children returns the direct frame children of a component.
func Children(ctx context.Context, s *session.Session, parent ids.ComponentID) ([]ids.ComponentID, error) {
	var children []ids.ComponentID
	err := read(ctx, s, func(g *graph.WorkspaceSnapshotGraph) error {
		var err error
		children, err = ChildrenIn(g, parent)
		return err
	})
	return children, err
}

// AddEdgeToFrame puts child inside parent. Both must be components. It does
// not validate frame types and does not engage the cycle check; callers that
// need either go through the frame orchestrator.
func AddEdgeToFrame(ctx context.Context, s *session.Session, parent, child ids.ComponentID) error {
	return write(ctx, s, func(g *graph.WorkspaceSnapshotGraph) error {
		if _, err := TypeIn(g, parent); err != nil {
			return err
		}
		if _, err := TypeIn(g, child); err != nil {
			return err
		}
		if g.HasEdge(parent, child, graph.EdgeFrameContains) {
			return nil
		}
		return g.AddEdge(parent, graph.NewEdgeWeight(graph.EdgeFrameContains), child)
	})
}

// RemoveEdgeFromFrame takes child out of parent. A missing edge is a no-op.
func RemoveEdgeFromFrame(ctx context.Context, s *session.Session, parent, child ids.ComponentID) error {
	return write(ctx, s, func(g *graph.WorkspaceSnapshotGraph) error {
		return g.RemoveEdge(parent, child, graph.EdgeFrameContains)
	})
}
