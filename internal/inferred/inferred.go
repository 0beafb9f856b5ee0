// Package inferred derives the socket wiring implied by frame nesting.
//
// A configurationFrameDown frame offers its output sockets to the input
// sockets of every descendant; the closest providing ancestor wins. A
// configurationFrameUp frame feeds its own input sockets from the output
// sockets of its descendants; the shallowest providing level wins. Sockets
// are compatible when their annotation sets intersect, compared case
// insensitively, with the socket name counting as an annotation. Inputs that
// carry an explicit connection are never inferred, and an arity-one input
// with several candidates at the winning level infers nothing.
package inferred

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"kai-model/internal/component"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/snapshot"
)

var tracer = otel.Tracer("kai-model/internal/inferred")

// SocketAttributeValuePair is one inferred wiring from an output socket to an
// input socket. It is comparable and used as a set element when diffing.
type SocketAttributeValuePair struct {
	Input  component.ComponentInputSocket
	Output component.ComponentOutputSocket
}

// Graph is the inferred wiring of every frame tree touched by a query.
type Graph struct {
	pairs      []SocketAttributeValuePair
	components map[ids.ComponentID]struct{}
}

// InferredConnections returns every pair, ordered by input then output.
func (g *Graph) InferredConnections() []SocketAttributeValuePair {
	return append([]SocketAttributeValuePair(nil), g.pairs...)
}

// InferredConnectionsForComponent returns the pairs with either end on the
// component.
func (g *Graph) InferredConnectionsForComponent(id ids.ComponentID) []SocketAttributeValuePair {
	var out []SocketAttributeValuePair
	for _, p := range g.pairs {
		if p.Input.ComponentID == id || p.Output.ComponentID == id {
			out = append(out, p)
		}
	}
	return out
}

// Set returns the pairs as a set.
func (g *Graph) Set() map[SocketAttributeValuePair]struct{} {
	set := make(map[SocketAttributeValuePair]struct{}, len(g.pairs))
	for _, p := range g.pairs {
		set[p] = struct{}{}
	}
	return set
}

// Components returns the components of the assembled trees ordered by id.
func (g *Graph) Components() []ids.ComponentID {
	out := make([]ids.ComponentID, 0, len(g.components))
	for id := range g.components {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return ids.Compare(out[i], out[j]) < 0 })
	return out
}

// AssembleForComponents computes the inferred wiring of every frame tree
// containing one of the seed components. It is recomputed from scratch on
// every call. Seeds that do not exist are an error.
func AssembleForComponents(ctx context.Context, snap *snapshot.WorkspaceSnapshot, seeds []ids.ComponentID) (*Graph, error) {
	ctx, span := tracer.Start(ctx, "inferred.AssembleForComponents")
	defer span.End()

	result := &Graph{components: make(map[ids.ComponentID]struct{})}
	err := snap.Read(ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		a := &assembler{g: g, typeCache: make(map[ids.ComponentID]component.Type)}

		roots, err := a.roots(seeds)
		if err != nil {
			return err
		}
		members, err := a.subtrees(roots)
		if err != nil {
			return err
		}
		for _, id := range members {
			result.components[id] = struct{}{}
		}

		pairs, err := a.infer(members)
		if err != nil {
			return err
		}
		result.pairs = pairs
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("seeds", len(seeds)),
		attribute.Int("components", len(result.components)),
		attribute.Int("pairs", len(result.pairs)),
	)
	return result, nil
}

type assembler struct {
	g         *graph.WorkspaceSnapshotGraph
	typeCache map[ids.ComponentID]component.Type
}

func (a *assembler) typeOf(id ids.ComponentID) (component.Type, error) {
	if t, ok := a.typeCache[id]; ok {
		return t, nil
	}
	t, err := component.TypeIn(a.g, id)
	if err != nil {
		return "", err
	}
	a.typeCache[id] = t
	return t, nil
}

// roots walks up from each seed to the components without a parent. Every
// parent of a multi-parent component is followed.
func (a *assembler) roots(seeds []ids.ComponentID) ([]ids.ComponentID, error) {
	visited := make(map[ids.ComponentID]bool)
	rootSet := make(map[ids.ComponentID]bool)
	queue := append([]ids.ComponentID(nil), seeds...)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		if _, err := a.typeOf(current); err != nil {
			return nil, err
		}
		parents, err := component.ParentsIn(a.g, current)
		if err != nil {
			return nil, err
		}
		if len(parents) == 0 {
			rootSet[current] = true
			continue
		}
		queue = append(queue, parents...)
	}

	roots := make([]ids.ComponentID, 0, len(rootSet))
	for id := range rootSet {
		roots = append(roots, id)
	}
	sort.Slice(roots, func(i, j int) bool { return ids.Compare(roots[i], roots[j]) < 0 })
	return roots, nil
}

// subtrees returns every component reachable downward from the roots.
func (a *assembler) subtrees(roots []ids.ComponentID) ([]ids.ComponentID, error) {
	visited := make(map[ids.ComponentID]bool)
	var members []ids.ComponentID
	queue := append([]ids.ComponentID(nil), roots...)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		members = append(members, current)

		children, err := component.ChildrenIn(a.g, current)
		if err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}

	sort.Slice(members, func(i, j int) bool { return ids.Compare(members[i], members[j]) < 0 })
	return members, nil
}

func (a *assembler) infer(members []ids.ComponentID) ([]SocketAttributeValuePair, error) {
	seen := make(map[SocketAttributeValuePair]struct{})
	var pairs []SocketAttributeValuePair
	add := func(found []SocketAttributeValuePair) {
		for _, p := range found {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			pairs = append(pairs, p)
		}
	}

	for _, id := range members {
		inputs, err := component.InputSocketsIn(a.g, id)
		if err != nil {
			return nil, err
		}
		if len(inputs) == 0 {
			continue
		}

		typ, err := a.typeOf(id)
		if err != nil {
			return nil, err
		}

		for _, in := range inputs {
			explicit, err := component.ExplicitSourcesIn(a.g, in.ID)
			if err != nil {
				return nil, err
			}
			if len(explicit) > 0 {
				continue
			}

			down, err := a.fromAncestors(in)
			if err != nil {
				return nil, err
			}
			add(down)

			if typ == component.TypeConfigurationFrameUp {
				up, err := a.fromDescendants(in)
				if err != nil {
					return nil, err
				}
				add(up)
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return lessPair(pairs[i], pairs[j]) })
	return pairs, nil
}

// fromAncestors walks up the frame chain of the input's component and
// returns the matches of the closest configurationFrameDown that has any.
// The walk stops at a component with zero or several parents.
func (a *assembler) fromAncestors(in component.InputSocket) ([]SocketAttributeValuePair, error) {
	visited := map[ids.ComponentID]bool{in.ComponentID: true}
	current := in.ComponentID

	for {
		parents, err := component.ParentsIn(a.g, current)
		if err != nil {
			return nil, err
		}
		if len(parents) != 1 {
			return nil, nil
		}
		parent := parents[0]
		if visited[parent] {
			return nil, nil
		}
		visited[parent] = true

		typ, err := a.typeOf(parent)
		if err != nil {
			return nil, err
		}
		if typ == component.TypeConfigurationFrameDown {
			outputs, err := component.OutputSocketsIn(a.g, parent)
			if err != nil {
				return nil, err
			}
			if matches := matching(in, outputs); len(matches) > 0 {
				return resolve(in, matches), nil
			}
		}
		current = parent
	}
}

// fromDescendants searches the descendants of an up frame level by level and
// returns the matches of the shallowest level that has any. A descendant with
// several parents is skipped along with its subtree.
func (a *assembler) fromDescendants(in component.InputSocket) ([]SocketAttributeValuePair, error) {
	visited := map[ids.ComponentID]bool{in.ComponentID: true}
	level := []ids.ComponentID{in.ComponentID}

	for len(level) > 0 {
		var next []ids.ComponentID
		for _, id := range level {
			children, err := component.ChildrenIn(a.g, id)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				if visited[c] {
					continue
				}
				visited[c] = true
				parents, err := component.ParentsIn(a.g, c)
				if err != nil {
					return nil, err
				}
				if len(parents) != 1 {
					continue
				}
				next = append(next, c)
			}
		}

		var matches []component.OutputSocket
		for _, id := range next {
			outputs, err := component.OutputSocketsIn(a.g, id)
			if err != nil {
				return nil, err
			}
			matches = append(matches, matching(in, outputs)...)
		}
		if len(matches) > 0 {
			return resolve(in, matches), nil
		}
		level = next
	}
	return nil, nil
}

func resolve(in component.InputSocket, matches []component.OutputSocket) []SocketAttributeValuePair {
	if in.Arity == component.ArityOne && len(matches) > 1 {
		return nil
	}
	pairs := make([]SocketAttributeValuePair, 0, len(matches))
	for _, out := range matches {
		pairs = append(pairs, SocketAttributeValuePair{Input: in.Ref(), Output: out.Ref()})
	}
	return pairs
}

func matching(in component.InputSocket, outputs []component.OutputSocket) []component.OutputSocket {
	var out []component.OutputSocket
	for _, o := range outputs {
		if Compatible(in, o) {
			out = append(out, o)
		}
	}
	return out
}

// Compatible reports whether an output socket can feed an input socket.
func Compatible(in component.InputSocket, out component.OutputSocket) bool {
	want := annotationSet(in.Name, in.Annotations)
	for _, a := range annotationSet(out.Name, out.Annotations) {
		if contains(want, a) {
			return true
		}
	}
	return false
}

func annotationSet(name string, annotations []string) []string {
	set := make([]string, 0, len(annotations)+1)
	if name != "" {
		set = append(set, strings.ToLower(name))
	}
	for _, a := range annotations {
		set = append(set, strings.ToLower(a))
	}
	return set
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func lessPair(a, b SocketAttributeValuePair) bool {
	if c := ids.Compare(a.Input.InputSocketID, b.Input.InputSocketID); c != 0 {
		return c < 0
	}
	return ids.Compare(a.Output.OutputSocketID, b.Output.OutputSocketID) < 0
}
