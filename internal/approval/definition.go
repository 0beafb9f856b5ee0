package approval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kai-model/internal/cas"
	"kai-model/internal/graph"
	"kai-model/internal/ids"
	"kai-model/internal/session"
)

var tracer = otel.Tracer("kai-model/internal/approval")

const contentVersionV1 = 1

// DefinitionContent is the CAS payload of a definition node.
type DefinitionContent struct {
	Version int                  `json:"version"`
	V1      *DefinitionContentV1 `json:"v1,omitempty"`
}

// DefinitionContentV1 is the first content layout.
type DefinitionContentV1 struct {
	Minimum   int        `json:"minimum"`
	Approvers []Approver `json:"approvers"`
}

// upgrade brings content to the current layout.
func (c DefinitionContent) upgrade() (DefinitionContentV1, error) {
	switch c.Version {
	case contentVersionV1:
		if c.V1 == nil {
			return DefinitionContentV1{}, fmt.Errorf("%w: version %d without payload", ErrUnknownContentVersion, c.Version)
		}
		return *c.V1, nil
	default:
		return DefinitionContentV1{}, fmt.Errorf("%w: %d", ErrUnknownContentVersion, c.Version)
	}
}

// NewDefinition stores an approval requirement definition and attaches it to
// the entity it governs.
func NewDefinition(ctx context.Context, s *session.Session, entityID ids.EntityID, minimum int, approvers []Approver) (ids.ApprovalRequirementDefinitionID, error) {
	ctx, span := tracer.Start(ctx, "approval.NewDefinition", trace.WithAttributes(
		attribute.String("entity", entityID.String()),
		attribute.Int("minimum", minimum),
	))
	defer span.End()

	if minimum < 0 {
		return ids.Nil, ErrInvalidMinimum
	}
	for _, a := range approvers {
		if err := a.validate(); err != nil {
			return ids.Nil, err
		}
	}

	snap, err := s.Snapshot()
	if err != nil {
		return ids.Nil, err
	}

	content := DefinitionContent{
		Version: contentVersionV1,
		V1:      &DefinitionContentV1{Minimum: minimum, Approvers: append([]Approver{}, approvers...)},
	}
	hash, _, err := cas.WriteJSON(ctx, s.CAS(), content, s.Tenancy(), s.Actor())
	if err != nil {
		span.RecordError(err)
		return ids.Nil, fmt.Errorf("writing approval requirement content: %w", err)
	}

	id, err := snap.GenerateULID(ctx)
	if err != nil {
		return ids.Nil, err
	}
	lineageID, err := snap.GenerateULID(ctx)
	if err != nil {
		return ids.Nil, err
	}

	err = snap.Write(ctx, func(g *graph.WorkspaceSnapshotGraph) error {
		if !g.HasNode(entityID) {
			return &graph.NodeNotFoundError{ID: entityID, ByID: true}
		}
		if _, err := g.AddOrReplaceNode(graph.NewApprovalRequirementDefinitionNodeWeight(id, lineageID, hash)); err != nil {
			return err
		}
		return g.AddEdge(entityID, graph.NewEdgeWeight(graph.EdgeHasApprovalRequirement), id)
	})
	if err != nil {
		span.RecordError(err)
		return ids.Nil, fmt.Errorf("inserting approval requirement definition: %w", err)
	}

	span.SetAttributes(attribute.String("definition", id.String()))
	return id, nil
}
