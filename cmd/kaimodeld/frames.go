package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"kai-model/internal/cas"
	"kai-model/internal/component"
	"kai-model/internal/frame"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/session"
	"kai-model/internal/snapshot"
	"kai-model/internal/store"
	"kai-model/internal/wsevent"
)

var (
	_ session.Committer = (*store.DB)(nil)
	_ session.Publisher = (*wsevent.Hub)(nil)
)

// newSession opens a session on the current snapshot of a change set. Its
// commits move the change set pointer, enqueue dependent values for the
// worker and publish events to the hub.
func (s *server) newSession(ctx context.Context, workspace ids.WorkspacePk, changeSet ids.ChangeSetID) (*session.Session, error) {
	pointer, err := s.db.GetChangeSetPointer(ctx, workspace, changeSet)
	if err != nil {
		return nil, fmt.Errorf("change set %s: %w", changeSet, err)
	}
	snap, err := snapshot.Load(ctx, s.db, pointer.SnapshotAddress)
	if err != nil {
		return nil, err
	}
	return session.New(s.db, snap, session.Options{
		WorkspaceID: workspace,
		ChangeSetID: changeSet,
		Committer:   s.db,
		Publisher:   s.hub,
		Logger:      s.logger,
	}), nil
}

type setParentRequest struct {
	ParentID ids.ComponentID `json:"parentId"`
}

type frameResponse struct {
	Snapshot cas.ContentHash `json:"snapshot"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// handleSetParent handles PUT .../components/{component}/parent.
func (s *server) handleSetParent(w http.ResponseWriter, r *http.Request) {
	var req setParentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	s.withComponent(w, r, func(ctx context.Context, sess *session.Session, child ids.ComponentID) error {
		return frame.UpsertParent(ctx, sess, child, req.ParentID)
	})
}

// handleOrphan handles DELETE .../components/{component}/parent.
func (s *server) handleOrphan(w http.ResponseWriter, r *http.Request) {
	s.withComponent(w, r, func(ctx context.Context, sess *session.Session, child ids.ComponentID) error {
		return frame.OrphanChild(ctx, sess, child)
	})
}

// withComponent runs fn in a session on the change set named by the path and
// commits it.
func (s *server) withComponent(w http.ResponseWriter, r *http.Request, fn func(context.Context, *session.Session, ids.ComponentID) error) {
	var parsed [3]ids.ID
	for i, name := range []string{"workspace", "changeSet", "component"} {
		id, err := ids.Parse(r.PathValue(name))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name, err)
			return
		}
		parsed[i] = id
	}
	ctx := r.Context()

	sess, err := s.newSession(ctx, parsed[0], parsed[1])
	if err != nil {
		writeError(w, errorStatus(err), "opening change set", err)
		return
	}
	defer sess.Close()

	if err := fn(ctx, sess, parsed[2]); err != nil {
		writeError(w, errorStatus(err), "updating frame", err)
		return
	}
	address, err := sess.Commit(ctx)
	if err != nil {
		s.logger.Error("commit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "committing change set", err)
		return
	}
	writeJSON(w, http.StatusOK, frameResponse{Snapshot: address})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrChangeSetNotFound), errors.Is(err, graph.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrEdgeCreatesCycle),
		errors.Is(err, frame.ErrParentIsNotAFrame),
		errors.Is(err, frame.ErrAggregateFramesUnsupported),
		errors.Is(err, component.ErrMultipleParents):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
