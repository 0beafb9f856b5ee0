package approval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"kai-model/internal/cas"
	"kai-model/internal/detect"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/metrics"
	"kai-model/internal/session"
)

// List computes the requirements for changes using DefaultPolicy.
func List(ctx context.Context, s *session.Session, changes []detect.Change) ([]Requirement, error) {
	return DefaultPolicy().List(ctx, s, changes)
}

type definitionRef struct {
	id         ids.ApprovalRequirementDefinitionID
	entityID   ids.EntityID
	entityKind graph.EntityKind
}

// List computes the requirements for changes. Virtual rules come first, in
// change order; explicit requirements follow. Every definition's content is
// resolved with a single batch read, and a hash shared by several definitions
// is read once.
//
// A change whose node is gone from the working graph keeps the kind recorded
// on the change and can only produce virtual rules.
func (p *Policy) List(ctx context.Context, s *session.Session, changes []detect.Change) ([]Requirement, error) {
	ctx, span := tracer.Start(ctx, "approval.List")
	defer span.End()

	workspace, err := s.WorkspaceID()
	if err != nil {
		return nil, err
	}
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}

	var requirements []Requirement
	cache := make(map[cas.ContentHash][]definitionRef)
	var hashes []cas.ContentHash

	err = snap.Read(ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		for _, change := range changes {
			kind := change.EntityKind
			var definitions []graph.NodeWeight

			if g.HasNode(change.ID) {
				resolved, err := g.EntityKindForID(change.ID)
				if err != nil {
					return err
				}
				kind = resolved

				idx, err := g.GetNodeIndexByID(change.ID)
				if err != nil {
					return err
				}
				for _, ref := range g.EdgesDirectedForEdgeWeightKind(idx, graph.Outgoing, graph.EdgeHasApprovalRequirement) {
					w, err := g.GetNodeWeight(ref.Target)
					if err != nil {
						return err
					}
					def, err := w.ApprovalRequirementDefinition()
					if err != nil {
						return err
					}
					definitions = append(definitions, def)
				}
			} else if kind == "" {
				return &graph.NodeNotFoundError{ID: change.ID, ByID: true}
			}

			if len(definitions) == 0 {
				for _, rule := range p.VirtualRules(change.ID, kind, workspace) {
					requirements = append(requirements, Virtual(rule))
				}
				continue
			}

			for _, def := range definitions {
				hash := def.ContentHash()
				if _, ok := cache[hash]; !ok {
					hashes = append(hashes, hash)
				}
				cache[hash] = append(cache[hash], definitionRef{id: def.ID(), entityID: change.ID, entityKind: kind})
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	virtualCount := len(requirements)
	if len(hashes) > 0 {
		metrics.CASBatchReads.Inc()
		metrics.CASBatchSize.Observe(float64(len(hashes)))

		contents, err := cas.TryReadManyAs[DefinitionContent](ctx, s.CAS(), hashes)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("reading approval requirement contents: %w", err)
		}

		for _, hash := range hashes {
			refs := cache[hash]
			content, ok := contents[hash]
			if !ok {
				err := &MissingContentFromContentMapError{Hash: hash, ID: refs[0].id}
				span.RecordError(err)
				return nil, err
			}
			v1, err := content.upgrade()
			if err != nil {
				return nil, err
			}
			for _, ref := range refs {
				requirements = append(requirements, Explicit(ref.id, Rule{
					EntityID:   ref.entityID,
					EntityKind: ref.entityKind,
					Minimum:    v1.Minimum,
					Approvers:  append([]Approver(nil), v1.Approvers...),
				}))
			}
		}
	}

	explicitCount := len(requirements) - virtualCount
	metrics.ApprovalRequirements.WithLabelValues(string(VariantVirtual)).Add(float64(virtualCount))
	metrics.ApprovalRequirements.WithLabelValues(string(VariantExplicit)).Add(float64(explicitCount))
	span.SetAttributes(
		attribute.Int("changes", len(changes)),
		attribute.Int("virtual", virtualCount),
		attribute.Int("explicit", explicitCount),
	)
	return requirements, nil
}
