// Package session provides the transaction boundary every graph operation runs
// inside. Graph mutations, dependent-value enqueues and client events become
// visible together at Commit, or not at all.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"kai-model/internal/cas"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/snapshot"
	"kai-model/internal/wsevent"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrNoWorkspace   = errors.New("session has no workspace")
)

var tracer = otel.Tracer("kai-model/internal/session")

// Commit is everything that must become durable in one atomic unit.
type Commit struct {
	WorkspaceID     ids.WorkspacePk
	ChangeSetID     ids.ChangeSetID
	SnapshotAddress cas.ContentHash
	DependentValues []ids.AttributeValueID
	Actor           cas.Actor
}

// Committer makes a Commit durable. Implementations must apply all of it or
// none of it.
type Committer interface {
	CommitChangeSet(ctx context.Context, c Commit) error
}

// Publisher delivers events after a successful commit.
type Publisher interface {
	Publish(ctx context.Context, events []wsevent.Event) error
}

// Options configure a Session. Committer and Publisher may be nil; the
// session then only persists the snapshot to the CAS and drops events.
type Options struct {
	WorkspaceID ids.WorkspacePk
	ChangeSetID ids.ChangeSetID
	Actor       cas.Actor
	Committer   Committer
	Publisher   Publisher
	Logger      *zap.Logger
}

// Session carries the context of one logical request against one change set.
// It is not meant to be shared by concurrent requests on the same change set.
type Session struct {
	store     cas.Store
	snap      *snapshot.WorkspaceSnapshot
	committer Committer
	publisher Publisher
	logger    *zap.Logger

	workspace ids.WorkspacePk
	changeSet ids.ChangeSetID
	actor     cas.Actor

	mu            sync.Mutex
	base          *graph.WorkspaceSnapshotGraph
	pendingValues []ids.AttributeValueID
	pendingSeen   map[ids.AttributeValueID]struct{}
	pendingEvents []wsevent.Event
	closed        bool
}

// New opens a session over a snapshot. The snapshot's current graph is the
// state Rollback returns to until the first Commit.
func New(store cas.Store, snap *snapshot.WorkspaceSnapshot, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	actor := opts.Actor
	if actor == "" {
		actor = cas.SystemActor
	}
	return &Session{
		store:     store,
		snap:      snap,
		committer: opts.Committer,
		publisher: opts.Publisher,
		logger: logger.With(
			zap.String("component", "session"),
			zap.String("changeSet", opts.ChangeSetID.String()),
		),
		workspace:   opts.WorkspaceID,
		changeSet:   opts.ChangeSetID,
		actor:       actor,
		base:        snap.CloneGraph(),
		pendingSeen: make(map[ids.AttributeValueID]struct{}),
	}
}

// WorkspaceID returns the workspace the session is scoped to.
func (s *Session) WorkspaceID() (ids.WorkspacePk, error) {
	if s.workspace == ids.Nil {
		return ids.Nil, ErrNoWorkspace
	}
	return s.workspace, nil
}

// ChangeSetID returns the change set the session works on.
func (s *Session) ChangeSetID() ids.ChangeSetID { return s.changeSet }

// Actor returns who the session acts for.
func (s *Session) Actor() cas.Actor { return s.actor }

// Tenancy returns the tenancy CAS writes are recorded under.
func (s *Session) Tenancy() cas.Tenancy {
	return cas.Tenancy{WorkspacePk: s.workspace, ChangeSetID: s.changeSet}
}

// Scope returns the event scope of the session.
func (s *Session) Scope() wsevent.Scope {
	return wsevent.Scope{WorkspaceID: s.workspace, ChangeSetID: s.changeSet}
}

// CAS returns the content store.
func (s *Session) CAS() cas.Store { return s.store }

// Logger returns the session logger.
func (s *Session) Logger() *zap.Logger { return s.logger }

// Snapshot returns the working snapshot.
func (s *Session) Snapshot() (*snapshot.WorkspaceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.snap, nil
}

// AddDependentValuesAndEnqueue schedules attribute values for recomputation
// when the session commits. Duplicates are enqueued once.
func (s *Session) AddDependentValuesAndEnqueue(ctx context.Context, values []ids.AttributeValueID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	for _, id := range values {
		if _, ok := s.pendingSeen[id]; ok {
			continue
		}
		s.pendingSeen[id] = struct{}{}
		s.pendingValues = append(s.pendingValues, id)
	}
	return nil
}

// PublishOnCommit defers an event until the session commits. Events are
// dropped on rollback.
func (s *Session) PublishOnCommit(ev wsevent.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.pendingEvents = append(s.pendingEvents, ev)
	return nil
}

// PendingDependentValues returns the values enqueued since the last commit.
func (s *Session) PendingDependentValues() []ids.AttributeValueID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ids.AttributeValueID(nil), s.pendingValues...)
}

// PendingEvents returns the events waiting for commit.
func (s *Session) PendingEvents() []wsevent.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wsevent.Event(nil), s.pendingEvents...)
}

// Commit persists the snapshot, hands it to the Committer together with the
// pending dependent values, and then publishes pending events. If the
// Committer fails nothing is published and pending effects are kept.
func (s *Session) Commit(ctx context.Context) (cas.ContentHash, error) {
	ctx, span := tracer.Start(ctx, "session.Commit")
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return cas.ContentHash{}, ErrSessionClosed
	}

	address, err := s.snap.Persist(ctx, s.store, s.Tenancy(), s.actor)
	if err != nil {
		s.mu.Unlock()
		span.RecordError(err)
		return cas.ContentHash{}, fmt.Errorf("persisting snapshot: %w", err)
	}

	c := Commit{
		WorkspaceID:     s.workspace,
		ChangeSetID:     s.changeSet,
		SnapshotAddress: address,
		DependentValues: append([]ids.AttributeValueID(nil), s.pendingValues...),
		Actor:           s.actor,
	}
	if s.committer != nil {
		if err := s.committer.CommitChangeSet(ctx, c); err != nil {
			s.mu.Unlock()
			span.RecordError(err)
			return cas.ContentHash{}, fmt.Errorf("committing change set: %w", err)
		}
	}

	events := s.pendingEvents
	s.base = s.snap.CloneGraph()
	s.pendingValues = nil
	s.pendingSeen = make(map[ids.AttributeValueID]struct{})
	s.pendingEvents = nil
	s.mu.Unlock()

	span.SetAttributes(
		attribute.String("snapshot", address.Short()),
		attribute.Int("dependentValues", len(c.DependentValues)),
		attribute.Int("events", len(events)),
	)

	if len(events) > 0 {
		if s.publisher == nil {
			s.logger.Debug("no publisher, dropping events", zap.Int("count", len(events)))
		} else if err := s.publisher.Publish(ctx, events); err != nil {
			// The commit is durable; clients resync on their next load.
			s.logger.Warn("publishing events failed", zap.Error(err), zap.Int("count", len(events)))
		}
	}

	s.logger.Debug("committed",
		zap.String("snapshot", address.Short()),
		zap.Int("dependentValues", len(c.DependentValues)))
	return address, nil
}

// Rollback discards every mutation and pending effect since the last commit.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.rollbackLocked()
	return nil
}

func (s *Session) rollbackLocked() {
	s.snap.Replace(s.base.Clone())
	s.pendingValues = nil
	s.pendingSeen = make(map[ids.AttributeValueID]struct{})
	s.pendingEvents = nil
}

// Close rolls back anything uncommitted and ends the session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.rollbackLocked()
	s.closed = true
}
