// Package frame attaches components to frames and detaches them, keeping the
// inferred socket wiring, client notifications and value recomputation in
// step with the graph.
//
// Every step runs against the session passed in. Graph mutation, the
// RemoveInferredEdges event and the dependent-value enqueue only become
// visible when that session commits.
package frame

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kai-model/internal/component"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/inferred"
	"kai-model/internal/metrics"
	"kai-model/internal/session"
	"kai-model/internal/snapshot"
	"kai-model/internal/wsevent"
)

const (
	opUpsertParent = "upsert_parent"
	opOrphanChild  = "orphan_child"
)

var tracer = otel.Tracer("kai-model/internal/frame")

// UpsertParent puts child inside newParent, moving it out of its current
// frame if it has one. Attaching to the current parent is a no-op.
func UpsertParent(ctx context.Context, s *session.Session, child, newParent ids.ComponentID) (err error) {
	ctx, span := tracer.Start(ctx, "frame.UpsertParent", trace.WithAttributes(
		attribute.String("child", child.String()),
		attribute.String("parent", newParent.String()),
	))
	defer span.End()

	outcome := metrics.OutcomeOK
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			if outcome == metrics.OutcomeOK {
				outcome = metrics.OutcomeError
			}
		}
		metrics.FrameOperations.WithLabelValues(opUpsertParent, outcome).Inc()
		metrics.FrameOperationDuration.WithLabelValues(opUpsertParent).Observe(time.Since(start).Seconds())
	}()

	snap, err := s.Snapshot()
	if err != nil {
		return err
	}

	oldParent, hasParent, err := component.ParentOf(ctx, s, child)
	if err != nil {
		return err
	}
	if hasParent && oldParent == newParent {
		outcome = metrics.OutcomeNoop
		return nil
	}

	if err := checkFrameType(ctx, s, newParent); err != nil {
		outcome = metrics.OutcomeRejected
		return err
	}

	initial, err := assemble(ctx, snap, newParent, child)
	if err != nil {
		return err
	}

	var postRemoval pairSet
	if hasParent {
		if err := component.RemoveEdgeFromFrame(ctx, s, oldParent, child); err != nil {
			return fmt.Errorf("detaching from %s: %w", oldParent, err)
		}
		postRemoval, err = assemble(ctx, snap, oldParent, child)
		if err != nil {
			return err
		}
	}

	if err := attach(ctx, s, snap, newParent, child); err != nil {
		if hasParent {
			// Put the old edge back so a rejected move leaves the graph as it was.
			if restoreErr := component.AddEdgeToFrame(ctx, s, oldParent, child); restoreErr != nil {
				return fmt.Errorf("%w (restoring parent %s: %v)", err, oldParent, restoreErr)
			}
		}
		if errors.Is(err, graph.ErrEdgeCreatesCycle) {
			outcome = metrics.OutcomeRejected
		}
		return err
	}

	current, err := assemble(ctx, snap, newParent, child)
	if err != nil {
		return err
	}

	removed := union(difference(initial, current), difference(postRemoval, current))
	added := difference(current, initial)
	if hasParent {
		added = union(added, difference(current, postRemoval))
	}

	span.SetAttributes(attribute.Int("removed", len(removed)), attribute.Int("added", len(added)))
	return finish(ctx, s, removed, added)
}

// OrphanChild takes child out of its frame. A child with no parent is left
// alone. A child with several parents is detached from all of them without
// any inferred-edge bookkeeping or event.
func OrphanChild(ctx context.Context, s *session.Session, child ids.ComponentID) (err error) {
	ctx, span := tracer.Start(ctx, "frame.OrphanChild", trace.WithAttributes(
		attribute.String("child", child.String()),
	))
	defer span.End()

	outcome := metrics.OutcomeOK
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			outcome = metrics.OutcomeError
		}
		metrics.FrameOperations.WithLabelValues(opOrphanChild, outcome).Inc()
		metrics.FrameOperationDuration.WithLabelValues(opOrphanChild).Observe(time.Since(start).Seconds())
	}()

	snap, err := s.Snapshot()
	if err != nil {
		return err
	}

	parents, err := component.Parents(ctx, s, child)
	if err != nil {
		return err
	}

	switch len(parents) {
	case 0:
		outcome = metrics.OutcomeNoop
		return nil

	case 1:
		parent := parents[0]
		before, err := assemble(ctx, snap, parent, child)
		if err != nil {
			return err
		}
		if err := component.RemoveEdgeFromFrame(ctx, s, parent, child); err != nil {
			return fmt.Errorf("detaching from %s: %w", parent, err)
		}
		after, err := assemble(ctx, snap, parent, child)
		if err != nil {
			return err
		}

		removed := difference(before, after)
		added := difference(after, before)
		span.SetAttributes(attribute.Int("removed", len(removed)), attribute.Int("added", len(added)))
		return finish(ctx, s, removed, added)

	default:
		outcome = metrics.OutcomeDegraded
		s.Logger().Warn("component has multiple frame parents, detaching from all without inferred edge bookkeeping",
			zap.String("child", child.String()),
			zap.Int("parents", len(parents)))
		for _, parent := range parents {
			if err := component.RemoveEdgeFromFrame(ctx, s, parent, child); err != nil {
				return fmt.Errorf("detaching from %s: %w", parent, err)
			}
		}
		return nil
	}
}

func checkFrameType(ctx context.Context, s *session.Session, parent ids.ComponentID) error {
	typ, err := component.TypeOf(ctx, s, parent)
	if err != nil {
		return err
	}
	switch typ {
	case component.TypeConfigurationFrameDown, component.TypeConfigurationFrameUp:
		return nil
	case component.TypeAggregationFrame:
		return &AggregateFramesUnsupportedError{ParentID: parent}
	default:
		return &ParentIsNotAFrameError{ParentID: parent, Type: typ}
	}
}

// attach adds the containment edge with the cycle check held only around
// the insertion.
func attach(ctx context.Context, s *session.Session, snap *snapshot.WorkspaceSnapshot, parent, child ids.ComponentID) error {
	guard, err := snap.EnableCycleCheck(ctx)
	if err != nil {
		return err
	}
	defer guard.Release()

	return component.AddEdgeToFrame(ctx, s, parent, child)
}

func assemble(ctx context.Context, snap *snapshot.WorkspaceSnapshot, seeds ...ids.ComponentID) (pairSet, error) {
	g, err := inferred.AssembleForComponents(ctx, snap, seeds)
	if err != nil {
		return nil, fmt.Errorf("assembling inferred connections: %w", err)
	}
	return g.Set(), nil
}

// finish publishes the removal event, even when nothing was removed, and
// enqueues the input values of every pair that changed.
func finish(ctx context.Context, s *session.Session, removed, added pairSet) error {
	ev, err := wsevent.RemoveInferredEdges(s.Scope(), removedEdges(removed))
	if err != nil {
		return err
	}
	if err := s.PublishOnCommit(ev); err != nil {
		return err
	}

	values := inputValues(removed, added)
	if len(values) > 0 {
		if err := s.AddDependentValuesAndEnqueue(ctx, values); err != nil {
			return fmt.Errorf("enqueueing dependent values: %w", err)
		}
	}

	metrics.InferredEdgesRemoved.Add(float64(len(removed)))
	metrics.DependentValuesEnqueued.Add(float64(len(values)))
	return nil
}
