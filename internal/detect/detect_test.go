package detect

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kai-model/internal/cas"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
)

func addNode(t *testing.T, g *graph.WorkspaceSnapshotGraph, kind graph.NodeKind) ids.ID {
	t.Helper()
	id := ids.MustNew()
	if _, err := g.AddOrReplaceNode(graph.NewNodeWeight(kind, id, id, cas.Hash(id[:]))); err != nil {
		t.Fatalf("adding node: %v", err)
	}
	return id
}

func TestChanges(t *testing.T) {
	base := graph.New()
	unchanged := addNode(t, base, graph.KindComponent)
	rehashed := addNode(t, base, graph.KindSchemaVariant)
	rewired := addNode(t, base, graph.KindComponent)
	removed := addNode(t, base, graph.KindFunc)

	head := base.Clone()
	head.RemoveNode(removed)
	added := addNode(t, head, graph.KindSchemaVariant)

	w, _ := head.GetNodeWeightByID(rehashed)
	head.AddOrReplaceNode(w.WithContentHash(cas.Hash([]byte("v2"))))

	if err := head.AddEdge(rewired, graph.NewEdgeWeight(graph.EdgeUse), added); err != nil {
		t.Fatalf("adding edge: %v", err)
	}

	want := []Change{
		{ID: rehashed, EntityKind: graph.KindSchemaVariant, Action: ActionModified},
		{ID: rewired, EntityKind: graph.KindComponent, Action: ActionModified},
		{ID: removed, EntityKind: graph.KindFunc, Action: ActionRemoved},
		{ID: added, EntityKind: graph.KindSchemaVariant, Action: ActionAdded},
	}
	got := Changes(base, head)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}

	for _, c := range got {
		if c.ID == unchanged {
			t.Error("unchanged node reported as changed")
		}
	}

	if s := Summarize(got); s != (Summary{Added: 1, Modified: 2, Removed: 1}) {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestChanges_NilBase(t *testing.T) {
	head := graph.New()
	id := addNode(t, head, graph.KindComponent)

	got := Changes(nil, head)
	want := []Change{{ID: id, EntityKind: graph.KindComponent, Action: ActionAdded}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestChanges_Identical(t *testing.T) {
	g := graph.New()
	addNode(t, g, graph.KindComponent)
	if got := Changes(g, g.Clone()); len(got) != 0 {
		t.Errorf("expected no changes, got %v", got)
	}
}

func TestFormatText(t *testing.T) {
	changes := []Change{
		{ID: ids.MustNew(), EntityKind: graph.KindComponent, Action: ActionAdded},
		{ID: ids.MustNew(), EntityKind: graph.KindFunc, Action: ActionRemoved},
	}
	out := FormatText(changes)
	if !strings.Contains(out, "+ Component") || !strings.Contains(out, "- Func") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "2 nodes (1 added, 0 modified, 1 removed)") {
		t.Errorf("missing summary:\n%s", out)
	}
	if FormatText(nil) != "" {
		t.Error("expected empty output for no changes")
	}
}
