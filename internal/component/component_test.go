package component

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kai-model/internal/cas"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/session"
	"kai-model/internal/snapshot"
)

func setupSession(t *testing.T) *session.Session {
	t.Helper()
	return session.New(cas.NewMemoryStore(), snapshot.New(), session.Options{
		WorkspaceID: ids.MustNew(),
		ChangeSetID: ids.MustNew(),
	})
}

func mustNew(t *testing.T, s *session.Session, name string, typ Type) ids.ComponentID {
	t.Helper()
	id, err := New(context.Background(), s, name, typ)
	if err != nil {
		t.Fatalf("creating %s: %v", name, err)
	}
	return id
}

func TestNewAndGet(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	id := mustNew(t, s, "vpc", TypeConfigurationFrameDown)

	got, err := Get(ctx, s, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(ContentV1{Name: "vpc", Type: TypeConfigurationFrameDown}, got); diff != "" {
		t.Errorf("content mismatch (-want +got):\n%s", diff)
	}

	typ, err := TypeOf(ctx, s, id)
	if err != nil {
		t.Fatalf("type: %v", err)
	}
	if typ != TypeConfigurationFrameDown {
		t.Errorf("expected %s, got %s", TypeConfigurationFrameDown, typ)
	}
}

func TestSetType_CopyOnWrite(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	id := mustNew(t, s, "subnet", TypeComponent)

	snap, _ := s.Snapshot()
	before, _ := snap.GetNodeWeightByID(ctx, id)

	if err := SetType(ctx, s, id, TypeConfigurationFrameUp); err != nil {
		t.Fatalf("set type: %v", err)
	}

	after, err := snap.GetNodeWeightByID(ctx, id)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if after.LineageID() != before.LineageID() {
		t.Error("expected lineage id preserved")
	}
	if after.ContentHash() == before.ContentHash() {
		t.Error("expected new content hash")
	}
	if typ, _ := TypeOf(ctx, s, id); typ != TypeConfigurationFrameUp {
		t.Errorf("expected %s, got %s", TypeConfigurationFrameUp, typ)
	}
}

func TestTypeOf_NotAComponent(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	id := mustNew(t, s, "vpc", TypeComponent)
	sock, err := AddInputSocket(ctx, s, id, SocketSpec{Name: "region"})
	if err != nil {
		t.Fatalf("add socket: %v", err)
	}

	if _, err := TypeOf(ctx, s, sock.ID); !errors.Is(err, graph.ErrUnexpectedNodeWeightKind) {
		t.Errorf("expected ErrUnexpectedNodeWeightKind, got %v", err)
	}
	if _, err := TypeOf(ctx, s, ids.MustNew()); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestSockets(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	id := mustNew(t, s, "instance", TypeComponent)

	in, err := AddInputSocket(ctx, s, id, SocketSpec{Name: "subnet", Annotations: []string{"Subnet"}, Arity: ArityOne})
	if err != nil {
		t.Fatalf("add input: %v", err)
	}
	out, err := AddOutputSocket(ctx, s, id, SocketSpec{Name: "instance", Annotations: []string{"Instance"}})
	if err != nil {
		t.Fatalf("add output: %v", err)
	}

	inputs, err := InputSockets(ctx, s, id)
	if err != nil {
		t.Fatalf("inputs: %v", err)
	}
	if diff := cmp.Diff([]InputSocket{in}, inputs); diff != "" {
		t.Errorf("inputs mismatch (-want +got):\n%s", diff)
	}

	outputs, err := OutputSockets(ctx, s, id)
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	if diff := cmp.Diff([]OutputSocket{out}, outputs); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}

	if in.AttributeValueID == ids.Nil || in.AttributeValueID == out.AttributeValueID {
		t.Error("expected each socket to own a distinct attribute value")
	}
	if in.Ref().InputSocketID != in.ID || out.Ref().OutputSocketID != out.ID {
		t.Error("expected refs to carry socket ids")
	}
}

func TestAddSocket_MissingComponent(t *testing.T) {
	s := setupSession(t)
	_, err := AddInputSocket(context.Background(), s, ids.MustNew(), SocketSpec{Name: "x"})
	if !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	a := mustNew(t, s, "a", TypeComponent)
	b := mustNew(t, s, "b", TypeComponent)
	out, _ := AddOutputSocket(ctx, s, a, SocketSpec{Name: "out"})
	in, _ := AddInputSocket(ctx, s, b, SocketSpec{Name: "in"})

	if err := Connect(ctx, s, out.ID, in.ID); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := Connect(ctx, s, out.ID, in.ID); err != nil {
		t.Fatalf("connect again: %v", err)
	}

	snap, _ := s.Snapshot()
	var sources []ids.OutputSocketID
	snap.Read(ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		var err error
		sources, err = ExplicitSourcesIn(g, in.ID)
		return err
	})
	if diff := cmp.Diff([]ids.OutputSocketID{out.ID}, sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}

	// Swapped arguments are rejected.
	if err := Connect(ctx, s, in.ID, out.ID); !errors.Is(err, ErrSocketNotFound) {
		t.Errorf("expected ErrSocketNotFound, got %v", err)
	}
}

func TestFrameEdges(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	frame := mustNew(t, s, "frame", TypeConfigurationFrameDown)
	c1 := mustNew(t, s, "c1", TypeComponent)
	c2 := mustNew(t, s, "c2", TypeComponent)

	if _, ok, err := ParentOf(ctx, s, c1); err != nil || ok {
		t.Fatalf("expected no parent, got ok=%v err=%v", ok, err)
	}

	for _, c := range []ids.ComponentID{c2, c1, c1} {
		if err := AddEdgeToFrame(ctx, s, frame, c); err != nil {
			t.Fatalf("add edge: %v", err)
		}
	}

	parent, ok, err := ParentOf(ctx, s, c1)
	if err != nil || !ok || parent != frame {
		t.Fatalf("expected parent %s, got %s ok=%v err=%v", frame, parent, ok, err)
	}

	children, err := Children(ctx, s, frame)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if diff := cmp.Diff([]ids.ComponentID{c1, c2}, children); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}

	if err := RemoveEdgeFromFrame(ctx, s, frame, c1); err != nil {
		t.Fatalf("remove edge: %v", err)
	}
	if err := RemoveEdgeFromFrame(ctx, s, frame, c1); err != nil {
		t.Fatalf("remove absent edge: %v", err)
	}
	if _, ok, _ := ParentOf(ctx, s, c1); ok {
		t.Error("expected c1 to have no parent after removal")
	}
}

func TestParentOf_MultipleParents(t *testing.T) {
	ctx := context.Background()
	s := setupSession(t)
	f1 := mustNew(t, s, "f1", TypeConfigurationFrameDown)
	f2 := mustNew(t, s, "f2", TypeConfigurationFrameDown)
	child := mustNew(t, s, "child", TypeComponent)

	AddEdgeToFrame(ctx, s, f1, child)
	AddEdgeToFrame(ctx, s, f2, child)

	_, _, err := ParentOf(ctx, s, child)
	var multi *MultipleParentsError
	if !errors.As(err, &multi) {
		t.Fatalf("expected MultipleParentsError, got %v", err)
	}
	if diff := cmp.Diff([]ids.ComponentID{f1, f2}, multi.Parents); diff != "" {
		t.Errorf("parents mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(err, ErrMultipleParents) {
		t.Error("expected error to match ErrMultipleParents")
	}
}
