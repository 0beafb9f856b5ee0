// Package component provides components, their sockets and the frame edges
// between them, stored as nodes of the workspace snapshot graph.
package component

import (
	"context"
	"fmt"
	"sort"

	"kai-model/internal/cas"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/session"
)

// Re-export the component types.
type Type = graph.ComponentType
type Arity = graph.SocketArity

const (
	TypeComponent              = graph.ComponentTypeComponent
	TypeConfigurationFrameDown = graph.ComponentTypeConfigurationFrameDown
	TypeConfigurationFrameUp   = graph.ComponentTypeConfigurationFrameUp
	TypeAggregationFrame       = graph.ComponentTypeAggregationFrame

	ArityOne  = graph.ArityOne
	ArityMany = graph.ArityMany
)

const contentVersionV1 = 1

// Content is what a component node's content hash points to.
type Content struct {
	Version int        `json:"version"`
	V1      *ContentV1 `json:"v1,omitempty"`
}

// ContentV1 is the first content layout.
type ContentV1 struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// New creates a component node.
func New(ctx context.Context, s *session.Session, name string, typ Type) (ids.ComponentID, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return ids.Nil, err
	}

	hash, _, err := cas.WriteJSON(ctx, s.CAS(), Content{
		Version: contentVersionV1,
		V1:      &ContentV1{Name: name, Type: typ},
	}, s.Tenancy(), s.Actor())
	if err != nil {
		return ids.Nil, fmt.Errorf("writing component content: %w", err)
	}

	id, err := snap.GenerateULID(ctx)
	if err != nil {
		return ids.Nil, err
	}
	if err := snap.AddOrReplaceNode(ctx, graph.NewComponentNodeWeight(id, id, hash, typ)); err != nil {
		return ids.Nil, fmt.Errorf("inserting component: %w", err)
	}
	return id, nil
}

// Get returns the stored content of a component.
func Get(ctx context.Context, s *session.Session, id ids.ComponentID) (ContentV1, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return ContentV1{}, err
	}
	w, err := snap.GetNodeWeightByID(ctx, id)
	if err != nil {
		return ContentV1{}, err
	}
	if _, err := w.Component(); err != nil {
		return ContentV1{}, err
	}

	content, ok, err := cas.ReadAs[Content](ctx, s.CAS(), w.ContentHash())
	if err != nil {
		return ContentV1{}, fmt.Errorf("reading component content: %w", err)
	}
	if !ok {
		return ContentV1{}, &MissingContentError{ID: id, Hash: w.ContentHash()}
	}
	if content.Version != contentVersionV1 || content.V1 == nil {
		return ContentV1{}, fmt.Errorf("component %s: unsupported content version %d", id, content.Version)
	}
	return *content.V1, nil
}

// SetType changes a component's type by writing new content and replacing
// the node weight. Id and lineage id are kept.
func SetType(ctx context.Context, s *session.Session, id ids.ComponentID, typ Type) error {
	current, err := Get(ctx, s, id)
	if err != nil {
		return err
	}
	current.Type = typ

	hash, _, err := cas.WriteJSON(ctx, s.CAS(), Content{Version: contentVersionV1, V1: &current}, s.Tenancy(), s.Actor())
	if err != nil {
		return fmt.Errorf("writing component content: %w", err)
	}

	return write(ctx, s, func(g *graph.WorkspaceSnapshotGraph) error {
		w, err := g.GetNodeWeightByID(id)
		if err != nil {
			return err
		}
		replaced := graph.NewComponentNodeWeight(w.ID(), w.LineageID(), hash, typ)
		_, err = g.AddOrReplaceNode(replaced)
		return err
	})
}

// TypeOf returns a component's type.
func TypeOf(ctx context.Context, s *session.Session, id ids.ComponentID) (Type, error) {
	var typ Type
	err := read(ctx, s, func(g *graph.WorkspaceSnapshotGraph) error {
		var err error
		typ, err = TypeIn(g, id)
		return err
	})
	return typ, err
}

// TypeIn returns a component's type from a graph already held by the caller.
func TypeIn(g *graph.WorkspaceSnapshotGraph, id ids.ComponentID) (Type, error) {
	w, err := g.GetNodeWeightByID(id)
	if err != nil {
		return "", err
	}
	if _, err := w.Component(); err != nil {
		return "", err
	}
	if f := w.ComponentFields(); f != nil {
		return f.Type, nil
	}
	return TypeComponent, nil
}

func read(ctx context.Context, s *session.Session, fn func(g *graph.WorkspaceSnapshotGraph) error) error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	return snap.Read(ctx, fn)
}

func write(ctx context.Context, s *session.Session, fn func(g *graph.WorkspaceSnapshotGraph) error) error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	return snap.Write(ctx, fn)
}

// idsAt maps node indexes to ids in id order.
func idsAt(g *graph.WorkspaceSnapshotGraph, indexes []graph.NodeIndex) ([]ids.ID, error) {
	out := make([]ids.ID, 0, len(indexes))
	for _, idx := range indexes {
		w, err := g.GetNodeWeight(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, w.ID())
	}
	sort.Slice(out, func(i, j int) bool { return ids.Compare(out[i], out[j]) < 0 })
	return out, nil
}
