package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"kai-model/internal/cas"
	"kai-model/internal/component"
	"kai-model/internal/frame"
	"kai-model/internal/ids"
	"kai-model/internal/session"
	"kai-model/internal/snapshot"
	"kai-model/internal/store"
	"kai-model/internal/worker"
	"kai-model/internal/wsevent"
)

type frameSeed struct {
	workspace ids.WorkspacePk
	changeSet ids.ChangeSetID
	f1, f2    ids.ComponentID
	child     ids.ComponentID
	out1      component.OutputSocket
	in        component.InputSocket
}

// seedFrames commits a change set holding two down frames offering "region"
// with child attached to the first, then drains the queue.
func seedFrames(t *testing.T, db *store.DB) frameSeed {
	t.Helper()
	ctx := context.Background()
	seed := frameSeed{workspace: ids.MustNew(), changeSet: ids.MustNew()}

	s := session.New(db, snapshot.New(), session.Options{
		WorkspaceID: seed.workspace,
		ChangeSetID: seed.changeSet,
		Committer:   db,
	})
	defer s.Close()

	var err error
	newComponent := func(name string, typ component.Type) ids.ComponentID {
		id, err := component.New(ctx, s, name, typ)
		if err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
		return id
	}
	seed.f1 = newComponent("f1", component.TypeConfigurationFrameDown)
	seed.f2 = newComponent("f2", component.TypeConfigurationFrameDown)
	seed.child = newComponent("child", component.TypeComponent)

	if seed.out1, err = component.AddOutputSocket(ctx, s, seed.f1, component.SocketSpec{Name: "region"}); err != nil {
		t.Fatalf("output f1: %v", err)
	}
	if _, err = component.AddOutputSocket(ctx, s, seed.f2, component.SocketSpec{Name: "region"}); err != nil {
		t.Fatalf("output f2: %v", err)
	}
	if seed.in, err = component.AddInputSocket(ctx, s, seed.child, component.SocketSpec{Name: "region", Arity: component.ArityOne}); err != nil {
		t.Fatalf("input: %v", err)
	}
	if err := frame.UpsertParent(ctx, s, seed.child, seed.f1); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := s.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	drain := worker.NewRunner(db, worker.ProcessorFunc(func(context.Context, store.DependentValueItem) error { return nil }), worker.Options{})
	if _, err := drain.ProcessAll(ctx); err != nil {
		t.Fatalf("draining queue: %v", err)
	}
	return seed
}

func dialEvents(t *testing.T, s *server, workspace ids.WorkspacePk) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(newRouter(s))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?workspace=" + workspace.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for s.hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestSessionCommitReachesHubAndQueue(t *testing.T) {
	s, db := newTestServer(t)
	seed := seedFrames(t, db)
	conn := dialEvents(t, s, seed.workspace)
	ctx := context.Background()

	sess, err := s.newSession(ctx, seed.workspace, seed.changeSet)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer sess.Close()

	if err := frame.UpsertParent(ctx, sess, seed.child, seed.f2); err != nil {
		t.Fatalf("UpsertParent: %v", err)
	}
	address, err := sess.Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}
	var ev wsevent.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if ev.Kind != wsevent.KindRemoveInferredEdges || ev.ChangeSetID != seed.changeSet {
		t.Fatalf("unexpected event %s for change set %s", ev.Kind, ev.ChangeSetID)
	}
	edges, err := ev.InferredEdges()
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	want := []wsevent.InferredEdge{{
		FromComponentID: seed.f1,
		FromSocketID:    seed.out1.ID,
		ToComponentID:   seed.child,
		ToSocketID:      seed.in.ID,
		ToDelete:        true,
	}}
	if diff := cmp.Diff(want, edges); diff != "" {
		t.Errorf("removed edges mismatch (-want +got):\n%s", diff)
	}

	var mu sync.Mutex
	var claimed []store.DependentValueItem
	runner := worker.NewRunner(db, worker.ProcessorFunc(func(_ context.Context, item store.DependentValueItem) error {
		mu.Lock()
		defer mu.Unlock()
		claimed = append(claimed, item)
		return nil
	}), worker.Options{})
	if _, err := runner.ProcessAll(ctx); err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("worker claimed %d items, want 1", len(claimed))
	}
	if claimed[0].AttributeValueID != seed.in.AttributeValueID || claimed[0].SnapshotAddress != address {
		t.Errorf("claimed %s at %s, want %s at %s",
			claimed[0].AttributeValueID, claimed[0].SnapshotAddress.Short(),
			seed.in.AttributeValueID, address.Short())
	}
}

func TestNewSessionUnknownChangeSet(t *testing.T) {
	s, _ := newTestServer(t)
	_, err := s.newSession(context.Background(), ids.MustNew(), ids.MustNew())
	if !errors.Is(err, store.ErrChangeSetNotFound) {
		t.Errorf("expected ErrChangeSetNotFound, got %v", err)
	}
}

func TestFrameRoutes(t *testing.T) {
	s, db := newTestServer(t)
	seed := seedFrames(t, db)
	h := newRouter(s)
	path := func(changeSet, comp ids.ID) string {
		return "/v1/workspaces/" + seed.workspace.String() + "/change-sets/" + changeSet.String() +
			"/components/" + comp.String() + "/parent"
	}
	do := func(method, target, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(method, target, strings.NewReader(body)))
		return w
	}
	pointer := func() cas.ContentHash {
		p, err := db.GetChangeSetPointer(context.Background(), seed.workspace, seed.changeSet)
		if err != nil {
			t.Fatalf("pointer: %v", err)
		}
		return p.SnapshotAddress
	}

	w := do("PUT", path(seed.changeSet, seed.child), `{"parentId":"`+seed.f2.String()+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("move: status %d: %s", w.Code, w.Body.String())
	}
	var resp frameResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Snapshot != pointer() {
		t.Errorf("response snapshot %s, pointer at %s", resp.Snapshot.Short(), pointer().Short())
	}

	if w := do("DELETE", path(seed.changeSet, seed.child), ""); w.Code != http.StatusOK {
		t.Fatalf("orphan: status %d: %s", w.Code, w.Body.String())
	}
	sess, err := s.newSession(context.Background(), seed.workspace, seed.changeSet)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer sess.Close()
	if _, ok, err := component.ParentOf(context.Background(), sess, seed.child); err != nil || ok {
		t.Errorf("expected committed orphan, got parent=%v err=%v", ok, err)
	}

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"unknown change set", "DELETE", path(ids.MustNew(), seed.child), "", http.StatusNotFound},
		{"parent is not a frame", "PUT", path(seed.changeSet, seed.f1), `{"parentId":"` + seed.child.String() + `"}`, http.StatusConflict},
		{"bad body", "PUT", path(seed.changeSet, seed.child), `{`, http.StatusBadRequest},
		{"bad id", "DELETE", "/v1/workspaces/nope/change-sets/" + seed.changeSet.String() + "/components/" + seed.child.String() + "/parent", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(tt.method, tt.target, tt.body); w.Code != tt.want {
				t.Errorf("status %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}
