package frame

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"kai-model/internal/cas"
	"kai-model/internal/component"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/metrics"
	"kai-model/internal/session"
	"kai-model/internal/snapshot"
	"kai-model/internal/wsevent"
)

type fixture struct {
	t    *testing.T
	ctx  context.Context
	s    *session.Session
	logs *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	s := session.New(cas.NewMemoryStore(), snapshot.New(), session.Options{
		WorkspaceID: ids.MustNew(),
		ChangeSetID: ids.MustNew(),
		Logger:      zap.New(core),
	})
	return &fixture{t: t, ctx: context.Background(), s: s, logs: logs}
}

func (f *fixture) component(name string, typ component.Type) ids.ComponentID {
	f.t.Helper()
	id, err := component.New(f.ctx, f.s, name, typ)
	if err != nil {
		f.t.Fatalf("creating %s: %v", name, err)
	}
	return id
}

func (f *fixture) input(id ids.ComponentID, name string) component.InputSocket {
	f.t.Helper()
	sock, err := component.AddInputSocket(f.ctx, f.s, id, component.SocketSpec{Name: name, Arity: component.ArityOne})
	if err != nil {
		f.t.Fatalf("adding input: %v", err)
	}
	return sock
}

func (f *fixture) output(id ids.ComponentID, name string) component.OutputSocket {
	f.t.Helper()
	sock, err := component.AddOutputSocket(f.ctx, f.s, id, component.SocketSpec{Name: name})
	if err != nil {
		f.t.Fatalf("adding output: %v", err)
	}
	return sock
}

func (f *fixture) attach(child, parent ids.ComponentID) {
	f.t.Helper()
	if err := UpsertParent(f.ctx, f.s, child, parent); err != nil {
		f.t.Fatalf("attaching: %v", err)
	}
}

// commit flushes pending effects so later assertions only see new ones.
func (f *fixture) commit() {
	f.t.Helper()
	if _, err := f.s.Commit(f.ctx); err != nil {
		f.t.Fatalf("commit: %v", err)
	}
}

func (f *fixture) edges() []graph.EdgeRecord {
	f.t.Helper()
	snap, err := f.s.Snapshot()
	if err != nil {
		f.t.Fatalf("snapshot: %v", err)
	}
	var edges []graph.EdgeRecord
	snap.Read(f.ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		edges = g.Edges()
		return nil
	})
	return edges
}

func (f *fixture) removedEdges() []wsevent.InferredEdge {
	f.t.Helper()
	events := f.s.PendingEvents()
	if len(events) != 1 {
		f.t.Fatalf("expected exactly 1 pending event, got %d", len(events))
	}
	edges, err := events[0].InferredEdges()
	if err != nil {
		f.t.Fatalf("decoding event: %v", err)
	}
	return edges
}

func TestUpsertParent_Idempotent(t *testing.T) {
	f := newFixture(t)
	frame := f.component("region", component.TypeConfigurationFrameDown)
	f.output(frame, "region")
	child := f.component("vpc", component.TypeComponent)
	in := f.input(child, "region")

	f.attach(child, frame)

	// First attach: an event is always queued, even with nothing removed.
	if got := f.removedEdges(); len(got) != 0 {
		t.Errorf("expected no removed edges, got %v", got)
	}
	if diff := cmp.Diff([]ids.AttributeValueID{in.AttributeValueID}, f.s.PendingDependentValues()); diff != "" {
		t.Errorf("enqueued values mismatch (-want +got):\n%s", diff)
	}
	f.commit()
	before := f.edges()

	f.attach(child, frame)

	if diff := cmp.Diff(before, f.edges()); diff != "" {
		t.Errorf("graph changed on second attach (-before +after):\n%s", diff)
	}
	if got := f.s.PendingDependentValues(); len(got) != 0 {
		t.Errorf("expected nothing enqueued on second attach, got %v", got)
	}
	if got := f.s.PendingEvents(); len(got) != 0 {
		t.Errorf("expected no event on second attach, got %d", len(got))
	}
}

func TestUpsertParent_CycleRejected(t *testing.T) {
	f := newFixture(t)
	a := f.component("a", component.TypeConfigurationFrameDown)
	b := f.component("b", component.TypeConfigurationFrameDown)
	f.attach(b, a)
	f.commit()
	before := f.edges()

	rejected := testutil.ToFloat64(metrics.FrameOperations.WithLabelValues(opUpsertParent, metrics.OutcomeRejected))

	err := UpsertParent(f.ctx, f.s, a, b)
	if !errors.Is(err, graph.ErrEdgeCreatesCycle) {
		t.Fatalf("expected ErrEdgeCreatesCycle, got %v", err)
	}
	if diff := cmp.Diff(before, f.edges()); diff != "" {
		t.Errorf("graph changed after rejected attach (-before +after):\n%s", diff)
	}
	if got := testutil.ToFloat64(metrics.FrameOperations.WithLabelValues(opUpsertParent, metrics.OutcomeRejected)); got != rejected+1 {
		t.Errorf("expected rejected counter to grow by 1, got %v -> %v", rejected, got)
	}
}

func TestUpsertParent_CycleRejectedRestoresOldParent(t *testing.T) {
	f := newFixture(t)
	p := f.component("p", component.TypeConfigurationFrameDown)
	a := f.component("a", component.TypeConfigurationFrameDown)
	b := f.component("b", component.TypeConfigurationFrameDown)
	f.attach(a, p)
	f.attach(b, a)
	f.commit()
	before := f.edges()

	// Moving a under its own child removes a from p first; that must be undone.
	if err := UpsertParent(f.ctx, f.s, a, b); !errors.Is(err, graph.ErrEdgeCreatesCycle) {
		t.Fatalf("expected ErrEdgeCreatesCycle, got %v", err)
	}
	if diff := cmp.Diff(before, f.edges()); diff != "" {
		t.Errorf("graph changed after rejected move (-before +after):\n%s", diff)
	}
}

func TestUpsertParent_SelfRejected(t *testing.T) {
	f := newFixture(t)
	a := f.component("a", component.TypeConfigurationFrameUp)

	if err := UpsertParent(f.ctx, f.s, a, a); !errors.Is(err, graph.ErrEdgeCreatesCycle) {
		t.Fatalf("expected ErrEdgeCreatesCycle, got %v", err)
	}
	if got := f.edges(); len(got) != 0 {
		t.Errorf("expected no edges, got %v", got)
	}
}

func TestUpsertParent_TypeGating(t *testing.T) {
	tests := []struct {
		name    string
		typ     component.Type
		wantErr error
	}{
		{"plain component", component.TypeComponent, ErrParentIsNotAFrame},
		{"aggregation frame", component.TypeAggregationFrame, ErrAggregateFramesUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			parent := f.component("parent", tt.typ)
			child := f.component("child", component.TypeComponent)
			before := f.edges()

			err := UpsertParent(f.ctx, f.s, child, parent)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if diff := cmp.Diff(before, f.edges()); diff != "" {
				t.Errorf("graph changed (-before +after):\n%s", diff)
			}
			if len(f.s.PendingEvents()) != 0 || len(f.s.PendingDependentValues()) != 0 {
				t.Error("expected no pending effects after rejection")
			}
		})
	}

	f := newFixture(t)
	parent := f.component("parent", component.TypeComponent)
	child := f.component("child", component.TypeComponent)
	var notFrame *ParentIsNotAFrameError
	if err := UpsertParent(f.ctx, f.s, child, parent); !errors.As(err, &notFrame) || notFrame.ParentID != parent {
		t.Errorf("expected ParentIsNotAFrameError for %s, got %v", parent, err)
	}
}

func TestUpsertParent_MovesBetweenFrames(t *testing.T) {
	f := newFixture(t)
	f1 := f.component("f1", component.TypeConfigurationFrameDown)
	out1 := f.output(f1, "region")
	f2 := f.component("f2", component.TypeConfigurationFrameDown)
	f.output(f2, "region")
	child := f.component("child", component.TypeComponent)
	in := f.input(child, "region")

	f.attach(child, f1)
	f.commit()

	f.attach(child, f2)

	parent, ok, err := component.ParentOf(f.ctx, f.s, child)
	if err != nil || !ok || parent != f2 {
		t.Fatalf("expected parent %s, got %s ok=%v err=%v", f2, parent, ok, err)
	}

	want := []wsevent.InferredEdge{{
		FromComponentID: f1,
		FromSocketID:    out1.ID,
		ToComponentID:   child,
		ToSocketID:      in.ID,
		ToDelete:        true,
	}}
	if diff := cmp.Diff(want, f.removedEdges()); diff != "" {
		t.Errorf("removed edges mismatch (-want +got):\n%s", diff)
	}
	// Removed and added pairs share the child's input value; it is enqueued once.
	if diff := cmp.Diff([]ids.AttributeValueID{in.AttributeValueID}, f.s.PendingDependentValues()); diff != "" {
		t.Errorf("enqueued values mismatch (-want +got):\n%s", diff)
	}
}

func TestOrphanChild_DiffCompleteness(t *testing.T) {
	f := newFixture(t)
	gp := f.component("grandparent", component.TypeConfigurationFrameDown)
	out := f.output(gp, "region")
	parent := f.component("parent", component.TypeConfigurationFrameDown)
	child := f.component("child", component.TypeComponent)
	in := f.input(child, "region")
	f.attach(parent, gp)
	f.attach(child, parent)
	f.commit()

	if err := OrphanChild(f.ctx, f.s, child); err != nil {
		t.Fatalf("orphan: %v", err)
	}

	removed := f.removedEdges()
	if len(removed) != 1 {
		t.Fatalf("expected exactly 1 removed pair, got %d", len(removed))
	}
	if removed[0].FromSocketID != out.ID || removed[0].ToSocketID != in.ID {
		t.Errorf("unexpected removed pair %+v", removed[0])
	}
	if diff := cmp.Diff([]ids.AttributeValueID{in.AttributeValueID}, f.s.PendingDependentValues()); diff != "" {
		t.Errorf("enqueued values mismatch (-want +got):\n%s", diff)
	}

	if _, ok, _ := component.ParentOf(f.ctx, f.s, child); ok {
		t.Error("expected child to have no parent")
	}
}

func TestOrphanChild_RemovedAndAddedBothEnqueued(t *testing.T) {
	f := newFixture(t)
	up := f.component("up", component.TypeConfigurationFrameUp)
	region := f.input(up, "region")
	zone := f.input(up, "zone")
	a := f.component("a", component.TypeComponent)
	f.output(a, "region")
	zoneOut := f.output(a, "zone")
	c := f.component("c", component.TypeComponent)
	f.output(c, "region")
	f.attach(a, up)
	f.attach(c, up)
	f.commit()

	// Two region providers leave the arity-one input unwired until a leaves.
	if err := OrphanChild(f.ctx, f.s, a); err != nil {
		t.Fatalf("orphan: %v", err)
	}

	want := []wsevent.InferredEdge{{
		FromComponentID: a,
		FromSocketID:    zoneOut.ID,
		ToComponentID:   up,
		ToSocketID:      zone.ID,
		ToDelete:        true,
	}}
	if diff := cmp.Diff(want, f.removedEdges()); diff != "" {
		t.Errorf("removed edges mismatch (-want +got):\n%s", diff)
	}

	byID := cmpopts.SortSlices(func(x, y ids.AttributeValueID) bool { return ids.Compare(x, y) < 0 })
	wantValues := []ids.AttributeValueID{region.AttributeValueID, zone.AttributeValueID}
	if diff := cmp.Diff(wantValues, f.s.PendingDependentValues(), byID); diff != "" {
		t.Errorf("enqueued values mismatch (-want +got):\n%s", diff)
	}
}

func TestOrphanChild_NoParent(t *testing.T) {
	f := newFixture(t)
	child := f.component("child", component.TypeComponent)

	if err := OrphanChild(f.ctx, f.s, child); err != nil {
		t.Fatalf("orphan: %v", err)
	}
	if len(f.s.PendingEvents()) != 0 {
		t.Error("expected no event for a component without parent")
	}
}

func TestOrphanChild_MultipleParentsDegraded(t *testing.T) {
	f := newFixture(t)
	f1 := f.component("f1", component.TypeConfigurationFrameDown)
	f.output(f1, "region")
	f2 := f.component("f2", component.TypeConfigurationFrameDown)
	child := f.component("child", component.TypeComponent)
	f.input(child, "region")

	// Build the broken state directly; the orchestrator never produces it.
	for _, p := range []ids.ComponentID{f1, f2} {
		if err := component.AddEdgeToFrame(f.ctx, f.s, p, child); err != nil {
			t.Fatalf("adding edge: %v", err)
		}
	}

	if err := OrphanChild(f.ctx, f.s, child); err != nil {
		t.Fatalf("orphan: %v", err)
	}

	parents, err := component.Parents(f.ctx, f.s, child)
	if err != nil {
		t.Fatalf("parents: %v", err)
	}
	if len(parents) != 0 {
		t.Errorf("expected every parent edge removed, got %v", parents)
	}
	if len(f.s.PendingEvents()) != 0 {
		t.Error("expected no event in degraded mode")
	}
	if len(f.s.PendingDependentValues()) != 0 {
		t.Error("expected nothing enqueued in degraded mode")
	}
	if n := f.logs.FilterLevelExact(zapcore.WarnLevel).Len(); n != 1 {
		t.Errorf("expected 1 warning, got %d", n)
	}
}

func TestUpsertParent_MultipleParents(t *testing.T) {
	f := newFixture(t)
	f1 := f.component("f1", component.TypeConfigurationFrameDown)
	f2 := f.component("f2", component.TypeConfigurationFrameDown)
	f3 := f.component("f3", component.TypeConfigurationFrameDown)
	child := f.component("child", component.TypeComponent)
	component.AddEdgeToFrame(f.ctx, f.s, f1, child)
	component.AddEdgeToFrame(f.ctx, f.s, f2, child)

	if err := UpsertParent(f.ctx, f.s, child, f3); !errors.Is(err, component.ErrMultipleParents) {
		t.Errorf("expected ErrMultipleParents, got %v", err)
	}
}

func TestUpsertParent_RollbackDropsEffects(t *testing.T) {
	f := newFixture(t)
	frame := f.component("frame", component.TypeConfigurationFrameDown)
	f.output(frame, "region")
	child := f.component("child", component.TypeComponent)
	f.input(child, "region")
	f.commit()

	f.attach(child, frame)
	if err := f.s.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if _, ok, _ := component.ParentOf(f.ctx, f.s, child); ok {
		t.Error("expected attach undone by rollback")
	}
	if len(f.s.PendingEvents()) != 0 || len(f.s.PendingDependentValues()) != 0 {
		t.Error("expected pending effects dropped by rollback")
	}
}
