package graph

import (
	"errors"
	"fmt"

	"kai-model/internal/ids"
)

var (
	ErrNodeNotFound              = errors.New("node not found")
	ErrEdgeCreatesCycle          = errors.New("edge creates cycle")
	ErrUnexpectedNodeWeightKind  = errors.New("unexpected node weight kind")
	ErrUnknownNodeWeightVersion  = errors.New("unknown node weight version")
	ErrDuplicateNodeInSerialized = errors.New("duplicate node in serialized graph")
)

// NodeNotFoundError reports a missing node, by id or by index.
type NodeNotFoundError struct {
	ID    ids.ID
	Index NodeIndex
	ByID  bool
}

func (e *NodeNotFoundError) Error() string {
	if e.ByID {
		return fmt.Sprintf("node not found: %s", e.ID)
	}
	return fmt.Sprintf("node not found at index %d", e.Index)
}

func (e *NodeNotFoundError) Unwrap() error { return ErrNodeNotFound }

// EdgeCreatesCycleError reports a rejected containment edge.
type EdgeCreatesCycleError struct {
	Source ids.ID
	Target ids.ID
	Kind   EdgeKind
}

func (e *EdgeCreatesCycleError) Error() string {
	return fmt.Sprintf("%s edge %s -> %s creates cycle", e.Kind, e.Source, e.Target)
}

func (e *EdgeCreatesCycleError) Unwrap() error { return ErrEdgeCreatesCycle }

// UnexpectedNodeWeightKindError reports a node of the wrong kind.
type UnexpectedNodeWeightKindError struct {
	ID       ids.ID
	Expected NodeKind
	Actual   NodeKind
}

func (e *UnexpectedNodeWeightKindError) Error() string {
	return fmt.Sprintf("node %s: expected %s, got %s", e.ID, e.Expected, e.Actual)
}

func (e *UnexpectedNodeWeightKindError) Unwrap() error { return ErrUnexpectedNodeWeightKind }

func notFoundByID(id ids.ID) error {
	return &NodeNotFoundError{ID: id, ByID: true}
}

func notFoundByIndex(idx NodeIndex) error {
	return &NodeNotFoundError{Index: idx}
}
