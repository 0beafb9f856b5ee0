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

// SocketSpec describes a socket to add to a component. Annotations decide
// which sockets are compatible.
type SocketSpec struct {
	Name        string
	Annotations []string
	Arity       Arity
}

// InputSocket is an input socket instance on a component.
type InputSocket struct {
	ID               ids.InputSocketID
	ComponentID      ids.ComponentID
	AttributeValueID ids.AttributeValueID
	Name             string
	Annotations      []string
	Arity            Arity
}

// OutputSocket is an output socket instance on a component.
type OutputSocket struct {
	ID               ids.OutputSocketID
	ComponentID      ids.ComponentID
	AttributeValueID ids.AttributeValueID
	Name             string
	Annotations      []string
}

// ComponentInputSocket identifies an input socket on a component and the
// attribute value that holds its computed value.
type ComponentInputSocket struct {
	ComponentID      ids.ComponentID
	InputSocketID    ids.InputSocketID
	AttributeValueID ids.AttributeValueID
}

// ComponentOutputSocket identifies an output socket on a component.
type ComponentOutputSocket struct {
	ComponentID      ids.ComponentID
	OutputSocketID   ids.OutputSocketID
	AttributeValueID ids.AttributeValueID
}

// Ref returns the identifying triple of the socket.
func (s InputSocket) Ref() ComponentInputSocket {
	return ComponentInputSocket{ComponentID: s.ComponentID, InputSocketID: s.ID, AttributeValueID: s.AttributeValueID}
}

// Ref returns the identifying triple of the socket.
func (s OutputSocket) Ref() ComponentOutputSocket {
	return ComponentOutputSocket{ComponentID: s.ComponentID, OutputSocketID: s.ID, AttributeValueID: s.AttributeValueID}
}

type socketContent struct {
	Version int              `json:"version"`
	V1      *socketContentV1 `json:"v1,omitempty"`
}

type socketContentV1 struct {
	Name        string         `json:"name"`
	Kind        graph.NodeKind `json:"kind"`
	Annotations []string       `json:"annotations,omitempty"`
	Arity       Arity          `json:"arity"`
}

type attributeValueContent struct {
	Version int                      `json:"version"`
	V1      *attributeValueContentV1 `json:"v1,omitempty"`
}

type attributeValueContentV1 struct {
	Socket ids.ID `json:"socket"`
}

// AddInputSocket adds an input socket and its attribute value to a component.
func AddInputSocket(ctx context.Context, s *session.Session, componentID ids.ComponentID, spec SocketSpec) (InputSocket, error) {
	if spec.Arity == "" {
		spec.Arity = ArityMany
	}
	socketID, avID, err := addSocket(ctx, s, componentID, graph.KindInputSocket, spec)
	if err != nil {
		return InputSocket{}, err
	}
	return InputSocket{
		ID:               socketID,
		ComponentID:      componentID,
		AttributeValueID: avID,
		Name:             spec.Name,
		Annotations:      append([]string(nil), spec.Annotations...),
		Arity:            spec.Arity,
	}, nil
}

// AddOutputSocket adds an output socket and its attribute value to a component.
func AddOutputSocket(ctx context.Context, s *session.Session, componentID ids.ComponentID, spec SocketSpec) (OutputSocket, error) {
	spec.Arity = ArityMany
	socketID, avID, err := addSocket(ctx, s, componentID, graph.KindOutputSocket, spec)
	if err != nil {
		return OutputSocket{}, err
	}
	return OutputSocket{
		ID:               socketID,
		ComponentID:      componentID,
		AttributeValueID: avID,
		Name:             spec.Name,
		Annotations:      append([]string(nil), spec.Annotations...),
	}, nil
}

func addSocket(ctx context.Context, s *session.Session, componentID ids.ComponentID, kind graph.NodeKind, spec SocketSpec) (ids.ID, ids.ID, error) {
	socketHash, _, err := cas.WriteJSON(ctx, s.CAS(), socketContent{
		Version: contentVersionV1,
		V1:      &socketContentV1{Name: spec.Name, Kind: kind, Annotations: spec.Annotations, Arity: spec.Arity},
	}, s.Tenancy(), s.Actor())
	if err != nil {
		return ids.Nil, ids.Nil, fmt.Errorf("writing socket content: %w", err)
	}

	socketID, err := ids.New()
	if err != nil {
		return ids.Nil, ids.Nil, err
	}
	avID, err := ids.New()
	if err != nil {
		return ids.Nil, ids.Nil, err
	}

	avHash, _, err := cas.WriteJSON(ctx, s.CAS(), attributeValueContent{
		Version: contentVersionV1,
		V1:      &attributeValueContentV1{Socket: socketID},
	}, s.Tenancy(), s.Actor())
	if err != nil {
		return ids.Nil, ids.Nil, fmt.Errorf("writing attribute value content: %w", err)
	}

	err = write(ctx, s, func(g *graph.WorkspaceSnapshotGraph) error {
		if _, err := TypeIn(g, componentID); err != nil {
			return err
		}
		fields := graph.SocketFields{Name: spec.Name, Annotations: spec.Annotations, Arity: spec.Arity}
		if _, err := g.AddOrReplaceNode(graph.NewSocketNodeWeight(kind, socketID, socketID, socketHash, fields)); err != nil {
			return err
		}
		if _, err := g.AddOrReplaceNode(graph.NewNodeWeight(graph.KindAttributeValue, avID, avID, avHash)); err != nil {
			return err
		}
		if err := g.AddEdge(componentID, graph.NewEdgeWeight(graph.EdgeSocket), socketID); err != nil {
			return err
		}
		return g.AddEdge(socketID, graph.NewEdgeWeight(graph.EdgeSocketValue), avID)
	})
	if err != nil {
		return ids.Nil, ids.Nil, fmt.Errorf("adding %s to %s: %w", kind, componentID, err)
	}
	return socketID, avID, nil
}

// InputSockets returns the input sockets of a component ordered by id.
func InputSockets(ctx context.Context, s *session.Session, componentID ids.ComponentID) ([]InputSocket, error) {
	var sockets []InputSocket
	err := read(ctx, s, func(g *graph.WorkspaceSnapshotGraph) error {
		var err error
		sockets, err = InputSocketsIn(g, componentID)
		return err
	})
	return sockets, err
}

// OutputSockets returns the output sockets of a component ordered by id.
func OutputSockets(ctx context.Context, s *session.Session, componentID ids.ComponentID) ([]OutputSocket, error) {
	var sockets []OutputSocket
	err := read(ctx, s, func(g *graph.WorkspaceSnapshotGraph) error {
		var err error
		sockets, err = OutputSocketsIn(g, componentID)
		return err
	})
	return sockets, err
}

type socketNode struct {
	id     ids.ID
	av     ids.ID
	fields graph.SocketFields
}

func socketsIn(g *graph.WorkspaceSnapshotGraph, componentID ids.ComponentID, kind graph.NodeKind) ([]socketNode, error) {
	targets, err := g.OutgoingTargetsForEdgeWeightKind(componentID, graph.EdgeSocket)
	if err != nil {
		return nil, err
	}

	var nodes []socketNode
	for _, idx := range targets {
		w, err := g.GetNodeWeight(idx)
		if err != nil {
			return nil, err
		}
		if w.Kind() != kind {
			continue
		}
		n := socketNode{id: w.ID()}
		if f := w.SocketFields(); f != nil {
			n.fields = *f
		}
		values, err := g.OutgoingTargetsForEdgeWeightKind(n.id, graph.EdgeSocketValue)
		if err != nil {
			return nil, err
		}
		if len(values) > 0 {
			av, err := g.GetNodeWeight(values[0])
			if err != nil {
				return nil, err
			}
			n.av = av.ID()
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return ids.Compare(nodes[i].id, nodes[j].id) < 0 })
	return nodes, nil
}

// InputSocketsIn returns the input sockets of a component from a graph
// already held by the caller.
func InputSocketsIn(g *graph.WorkspaceSnapshotGraph, componentID ids.ComponentID) ([]InputSocket, error) {
	nodes, err := socketsIn(g, componentID, graph.KindInputSocket)
	if err != nil {
		return nil, err
	}
	sockets := make([]InputSocket, 0, len(nodes))
	for _, n := range nodes {
		arity := n.fields.Arity
		if arity == "" {
			arity = ArityMany
		}
		sockets = append(sockets, InputSocket{
			ID:               n.id,
			ComponentID:      componentID,
			AttributeValueID: n.av,
			Name:             n.fields.Name,
			Annotations:      n.fields.Annotations,
			Arity:            arity,
		})
	}
	return sockets, nil
}

// OutputSocketsIn returns the output sockets of a component from a graph
// already held by the caller.
func OutputSocketsIn(g *graph.WorkspaceSnapshotGraph, componentID ids.ComponentID) ([]OutputSocket, error) {
	nodes, err := socketsIn(g, componentID, graph.KindOutputSocket)
	if err != nil {
		return nil, err
	}
	sockets := make([]OutputSocket, 0, len(nodes))
	for _, n := range nodes {
		sockets = append(sockets, OutputSocket{
			ID:               n.id,
			ComponentID:      componentID,
			AttributeValueID: n.av,
			Name:             n.fields.Name,
			Annotations:      n.fields.Annotations,
		})
	}
	return sockets, nil
}

// Connect draws an explicit connection from an output socket to an input
// socket. Connecting the same pair twice is a no-op.
func Connect(ctx context.Context, s *session.Session, from ids.OutputSocketID, to ids.InputSocketID) error {
	return write(ctx, s, func(g *graph.WorkspaceSnapshotGraph) error {
		if err := expectSocket(g, to, graph.KindInputSocket); err != nil {
			return err
		}
		if err := expectSocket(g, from, graph.KindOutputSocket); err != nil {
			return err
		}
		if g.HasEdge(to, from, graph.EdgeConnection) {
			return nil
		}
		return g.AddEdge(to, graph.NewEdgeWeight(graph.EdgeConnection), from)
	})
}

// ExplicitSourcesIn returns the output sockets explicitly connected to an
// input socket.
func ExplicitSourcesIn(g *graph.WorkspaceSnapshotGraph, input ids.InputSocketID) ([]ids.OutputSocketID, error) {
	targets, err := g.OutgoingTargetsForEdgeWeightKind(input, graph.EdgeConnection)
	if err != nil {
		return nil, err
	}
	return idsAt(g, targets)
}

func expectSocket(g *graph.WorkspaceSnapshotGraph, id ids.ID, kind graph.NodeKind) error {
	w, err := g.GetNodeWeightByID(id)
	if err != nil {
		return err
	}
	if w.Kind() != kind {
		return &SocketNotFoundError{ID: id, Input: kind == graph.KindInputSocket}
	}
	return nil
}
