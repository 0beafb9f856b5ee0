// Package detect computes the changes between two versions of a workspace
// snapshot graph.
package detect

import (
	"kai-model/internal/graph"
	"kai-model/internal/ids"
)

// Action represents the type of change to a node.
type Action string

const (
	ActionAdded    Action = "added"
	ActionModified Action = "modified"
	ActionRemoved  Action = "removed"
)

// Change is one node that differs between two graph versions. EntityKind is
// taken from the head graph, or from the base graph for removed nodes.
type Change struct {
	ID         ids.EntityID     `json:"id"`
	EntityKind graph.EntityKind `json:"entityKind"`
	Action     Action           `json:"action"`
}

// Summary counts changes by action.
type Summary struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

// Summarize counts a change list.
func Summarize(changes []Change) Summary {
	var s Summary
	for _, c := range changes {
		switch c.Action {
		case ActionAdded:
			s.Added++
		case ActionModified:
			s.Modified++
		case ActionRemoved:
			s.Removed++
		}
	}
	return s
}
