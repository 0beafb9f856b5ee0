// Package ids provides the identifier types shared across the workspace graph.
//
// Every id is a 128-bit UUIDv7: the high bits carry a millisecond timestamp and
// the rest is random, so ids sort by creation time and never collide in practice.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is the underlying identifier for graph nodes.
type ID = uuid.UUID

// Typed aliases used at API boundaries. They are aliases rather than defined
// types so values flow between the graph and domain packages without conversion.
type (
	ComponentID                     = ID
	InputSocketID                   = ID
	OutputSocketID                  = ID
	AttributeValueID                = ID
	SchemaVariantID                 = ID
	ApprovalRequirementDefinitionID = ID
	EntityID                        = ID
	UserPk                          = ID
	WorkspacePk                     = ID
	ChangeSetID                     = ID
)

// Nil is the zero id.
var Nil = uuid.Nil

// New returns a fresh time-ordered id. Ids generated by one process are
// strictly increasing.
func New() (ID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Nil, fmt.Errorf("generating id: %w", err)
	}
	return id, nil
}

// MustNew is New for tests and static setup.
func MustNew() ID {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}

// Parse parses the canonical text form of an id.
func Parse(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("parsing id %q: %w", s, err)
	}
	return id, nil
}

// Compare orders two ids bytewise, which for v7 ids is creation order.
func Compare(a, b ID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
