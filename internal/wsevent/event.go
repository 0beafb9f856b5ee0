// Package wsevent defines the events pushed to workspace clients and the
// websocket hub that delivers them.
package wsevent

import (
	"encoding/json"
	"fmt"
	"sort"

	"kai-model/internal/ids"
)

// Kind names an event type on the wire.
type Kind string

const (
	KindRemoveInferredEdges Kind = "RemoveInferredEdges"
)

// Scope is the workspace and change set an event belongs to.
type Scope struct {
	WorkspaceID ids.WorkspacePk
	ChangeSetID ids.ChangeSetID
}

// Event is one message delivered to every client subscribed to its workspace.
type Event struct {
	Kind        Kind            `json:"kind"`
	WorkspaceID ids.WorkspacePk `json:"workspaceId"`
	ChangeSetID ids.ChangeSetID `json:"changeSetId"`
	Payload     json.RawMessage `json:"payload"`
}

// InferredEdge is one inferred socket wiring as clients see it.
type InferredEdge struct {
	FromComponentID ids.ComponentID    `json:"fromComponentId"`
	FromSocketID    ids.OutputSocketID `json:"fromSocketId"`
	ToComponentID   ids.ComponentID    `json:"toComponentId"`
	ToSocketID      ids.InputSocketID  `json:"toSocketId"`
	ToDelete        bool               `json:"toDelete"`
}

type removeInferredEdgesPayload struct {
	Edges []InferredEdge `json:"edges"`
}

// RemoveInferredEdges builds the event telling clients to drop inferred edges.
// An empty edge list still produces an event.
func RemoveInferredEdges(scope Scope, edges []InferredEdge) (Event, error) {
	sorted := make([]InferredEdge, len(edges))
	copy(sorted, edges)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if c := ids.Compare(a.ToSocketID, b.ToSocketID); c != 0 {
			return c < 0
		}
		if c := ids.Compare(a.ToComponentID, b.ToComponentID); c != 0 {
			return c < 0
		}
		if c := ids.Compare(a.FromSocketID, b.FromSocketID); c != 0 {
			return c < 0
		}
		return ids.Compare(a.FromComponentID, b.FromComponentID) < 0
	})

	payload, err := json.Marshal(removeInferredEdgesPayload{Edges: sorted})
	if err != nil {
		return Event{}, fmt.Errorf("encoding payload: %w", err)
	}
	return Event{
		Kind:        KindRemoveInferredEdges,
		WorkspaceID: scope.WorkspaceID,
		ChangeSetID: scope.ChangeSetID,
		Payload:     payload,
	}, nil
}

// InferredEdges decodes the payload of a RemoveInferredEdges event.
func (e Event) InferredEdges() ([]InferredEdge, error) {
	if e.Kind != KindRemoveInferredEdges {
		return nil, fmt.Errorf("event %s carries no inferred edges", e.Kind)
	}
	var p removeInferredEdgesPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return p.Edges, nil
}
