package inferred

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kai-model/internal/cas"
	"kai-model/internal/component"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/session"
	"kai-model/internal/snapshot"
)

type fixture struct {
	t   *testing.T
	ctx context.Context
	s   *session.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := session.New(cas.NewMemoryStore(), snapshot.New(), session.Options{WorkspaceID: ids.MustNew()})
	return &fixture{t: t, ctx: context.Background(), s: s}
}

func (f *fixture) component(name string, typ component.Type) ids.ComponentID {
	f.t.Helper()
	id, err := component.New(f.ctx, f.s, name, typ)
	if err != nil {
		f.t.Fatalf("creating %s: %v", name, err)
	}
	return id
}

func (f *fixture) input(id ids.ComponentID, name string, arity component.Arity, annotations ...string) component.InputSocket {
	f.t.Helper()
	sock, err := component.AddInputSocket(f.ctx, f.s, id, component.SocketSpec{Name: name, Annotations: annotations, Arity: arity})
	if err != nil {
		f.t.Fatalf("adding input %s: %v", name, err)
	}
	return sock
}

func (f *fixture) output(id ids.ComponentID, name string, annotations ...string) component.OutputSocket {
	f.t.Helper()
	sock, err := component.AddOutputSocket(f.ctx, f.s, id, component.SocketSpec{Name: name, Annotations: annotations})
	if err != nil {
		f.t.Fatalf("adding output %s: %v", name, err)
	}
	return sock
}

func (f *fixture) nest(parent, child ids.ComponentID) {
	f.t.Helper()
	if err := component.AddEdgeToFrame(f.ctx, f.s, parent, child); err != nil {
		f.t.Fatalf("nesting: %v", err)
	}
}

func (f *fixture) assemble(seeds ...ids.ComponentID) *Graph {
	f.t.Helper()
	snap, err := f.s.Snapshot()
	if err != nil {
		f.t.Fatalf("snapshot: %v", err)
	}
	g, err := AssembleForComponents(f.ctx, snap, seeds)
	if err != nil {
		f.t.Fatalf("assemble: %v", err)
	}
	return g
}

func pair(in component.InputSocket, out component.OutputSocket) SocketAttributeValuePair {
	return SocketAttributeValuePair{Input: in.Ref(), Output: out.Ref()}
}

func TestDownFrame_PushesToDescendants(t *testing.T) {
	f := newFixture(t)
	frame := f.component("region", component.TypeConfigurationFrameDown)
	out := f.output(frame, "region")
	child := f.component("vpc", component.TypeComponent)
	in := f.input(child, "region", component.ArityOne)
	f.nest(frame, child)

	// Seeding from either end yields the same tree.
	for _, seed := range []ids.ComponentID{frame, child} {
		got := f.assemble(seed).InferredConnections()
		if diff := cmp.Diff([]SocketAttributeValuePair{pair(in, out)}, got); diff != "" {
			t.Errorf("seed %s: pairs mismatch (-want +got):\n%s", seed, diff)
		}
	}
}

func TestDownFrame_ClosestAncestorWins(t *testing.T) {
	f := newFixture(t)
	gp := f.component("gp", component.TypeConfigurationFrameDown)
	f.output(gp, "region")
	parent := f.component("parent", component.TypeConfigurationFrameDown)
	closest := f.output(parent, "region")
	child := f.component("child", component.TypeComponent)
	in := f.input(child, "region", component.ArityOne)
	f.nest(gp, parent)
	f.nest(parent, child)

	got := f.assemble(child).InferredConnections()
	if diff := cmp.Diff([]SocketAttributeValuePair{pair(in, closest)}, got); diff != "" {
		t.Errorf("pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestDownFrame_PassesThroughNonProvidingFrames(t *testing.T) {
	f := newFixture(t)
	gp := f.component("gp", component.TypeConfigurationFrameDown)
	out := f.output(gp, "region")
	parent := f.component("parent", component.TypeConfigurationFrameDown)
	child := f.component("child", component.TypeComponent)
	in := f.input(child, "region", component.ArityOne)
	f.nest(gp, parent)
	f.nest(parent, child)

	got := f.assemble(child).InferredConnections()
	if diff := cmp.Diff([]SocketAttributeValuePair{pair(in, out)}, got); diff != "" {
		t.Errorf("pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestCompatibility(t *testing.T) {
	tests := []struct {
		name      string
		inName    string
		inAnn     []string
		outName   string
		outAnn    []string
		wantMatch bool
	}{
		{"same name", "region", nil, "region", nil, true},
		{"case insensitive", "Region", nil, "REGION", nil, true},
		{"annotation intersection", "vpc", nil, "vpc-id", []string{"VPC"}, true},
		{"disjoint", "subnet", []string{"Subnet ID"}, "region", []string{"Region"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := component.InputSocket{Name: tt.inName, Annotations: tt.inAnn}
			out := component.OutputSocket{Name: tt.outName, Annotations: tt.outAnn}
			if got := Compatible(in, out); got != tt.wantMatch {
				t.Errorf("Compatible = %v, want %v", got, tt.wantMatch)
			}
		})
	}
}

func TestExplicitConnectionSuppressesInference(t *testing.T) {
	f := newFixture(t)
	frame := f.component("frame", component.TypeConfigurationFrameDown)
	f.output(frame, "region")
	other := f.component("other", component.TypeComponent)
	explicit := f.output(other, "region")
	child := f.component("child", component.TypeComponent)
	in := f.input(child, "region", component.ArityOne)
	f.nest(frame, child)

	if err := component.Connect(f.ctx, f.s, explicit.ID, in.ID); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if got := f.assemble(child).InferredConnections(); len(got) != 0 {
		t.Errorf("expected no inferred pairs, got %v", got)
	}
}

func TestArity(t *testing.T) {
	f := newFixture(t)
	frame := f.component("frame", component.TypeConfigurationFrameDown)
	out1 := f.output(frame, "subnet-a", "subnet")
	out2 := f.output(frame, "subnet-b", "subnet")
	one := f.component("one", component.TypeComponent)
	f.input(one, "subnet", component.ArityOne)
	many := f.component("many", component.TypeComponent)
	inMany := f.input(many, "subnet", component.ArityMany)
	f.nest(frame, one)
	f.nest(frame, many)

	g := f.assemble(frame)
	if got := g.InferredConnectionsForComponent(one); len(got) != 0 {
		t.Errorf("expected ambiguous arity-one input to infer nothing, got %v", got)
	}

	want := []SocketAttributeValuePair{pair(inMany, out1), pair(inMany, out2)}
	if diff := cmp.Diff(want, g.InferredConnectionsForComponent(many)); diff != "" {
		t.Errorf("pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestUpFrame_PullsFromDescendants(t *testing.T) {
	f := newFixture(t)
	up := f.component("up", component.TypeConfigurationFrameUp)
	in := f.input(up, "instance", component.ArityMany)
	c1 := f.component("c1", component.TypeComponent)
	out1 := f.output(c1, "instance")
	c2 := f.component("c2", component.TypeComponent)
	out2 := f.output(c2, "instance")
	f.nest(up, c1)
	f.nest(up, c2)

	want := []SocketAttributeValuePair{pair(in, out1), pair(in, out2)}
	if diff := cmp.Diff(want, f.assemble(c1).InferredConnections()); diff != "" {
		t.Errorf("pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestMultipleParents_Degrades(t *testing.T) {
	f := newFixture(t)
	f1 := f.component("f1", component.TypeConfigurationFrameDown)
	f.output(f1, "region")
	f2 := f.component("f2", component.TypeConfigurationFrameDown)
	f.output(f2, "region")
	child := f.component("child", component.TypeComponent)
	f.input(child, "region", component.ArityOne)
	f.nest(f1, child)
	f.nest(f2, child)

	g := f.assemble(child)
	if got := g.InferredConnections(); len(got) != 0 {
		t.Errorf("expected no pairs through an ambiguous parent, got %v", got)
	}
	if diff := cmp.Diff([]ids.ComponentID{f1, f2, child}, g.Components()); diff != "" {
		t.Errorf("components mismatch (-want +got):\n%s", diff)
	}
}

func TestMultipleParents_DegradesForUpFrames(t *testing.T) {
	f := newFixture(t)
	up1 := f.component("up1", component.TypeConfigurationFrameUp)
	f.input(up1, "region", component.ArityOne)
	up2 := f.component("up2", component.TypeConfigurationFrameUp)
	f.input(up2, "region", component.ArityOne)
	child := f.component("child", component.TypeComponent)
	f.output(child, "region")
	grandchild := f.component("grandchild", component.TypeComponent)
	f.output(grandchild, "region")
	f.nest(up1, child)
	f.nest(up2, child)
	f.nest(child, grandchild)

	if got := f.assemble(child).InferredConnections(); len(got) != 0 {
		t.Errorf("expected no pairs through an ambiguous child, got %v", got)
	}
}

func TestUnrelatedTreesExcluded(t *testing.T) {
	f := newFixture(t)
	frame := f.component("frame", component.TypeConfigurationFrameDown)
	f.output(frame, "region")
	child := f.component("child", component.TypeComponent)
	f.input(child, "region", component.ArityOne)
	f.nest(frame, child)

	loner := f.component("loner", component.TypeComponent)

	if got := f.assemble(loner).InferredConnections(); len(got) != 0 {
		t.Errorf("expected no pairs for an unrelated tree, got %v", got)
	}
}

func TestAssemble_MissingSeed(t *testing.T) {
	f := newFixture(t)
	snap, _ := f.s.Snapshot()
	_, err := AssembleForComponents(f.ctx, snap, []ids.ComponentID{ids.MustNew()})
	if !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}
