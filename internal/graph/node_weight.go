package graph

import (
	"fmt"

	"kai-model/internal/cas"
	"kai-model/internal/ids"
)

// Version is the node weight schema version.
type Version int

const (
	VersionV1 Version = 1

	// CurrentVersion is what new weights are written as.
	CurrentVersion = VersionV1
)

// NodeWeight is the versioned payload attached to every node. Exactly one
// version field is set, matching Version.
type NodeWeight struct {
	Version Version       `json:"version"`
	V1      *NodeWeightV1 `json:"v1,omitempty"`
}

// NodeWeightV1 carries the identity fields, the content hash of the CAS payload,
// and the inline fields used for filtering without a CAS round-trip.
type NodeWeightV1 struct {
	ID          ids.ID          `json:"id"`
	LineageID   ids.ID          `json:"lineageId"`
	Kind        NodeKind        `json:"kind"`
	ContentHash cas.ContentHash `json:"contentHash"`

	Component *ComponentFields `json:"component,omitempty"`
	Socket    *SocketFields    `json:"socket,omitempty"`
}

// ComponentFields are inline on Component nodes.
type ComponentFields struct {
	Type ComponentType `json:"type"`
}

// SocketFields are inline on InputSocket and OutputSocket nodes.
type SocketFields struct {
	Name        string      `json:"name"`
	Annotations []string    `json:"annotations,omitempty"`
	Arity       SocketArity `json:"arity"`
}

// NewNodeWeight builds a current-version weight with no inline fields.
func NewNodeWeight(kind NodeKind, id, lineageID ids.ID, hash cas.ContentHash) NodeWeight {
	return NodeWeight{
		Version: CurrentVersion,
		V1: &NodeWeightV1{
			ID:          id,
			LineageID:   lineageID,
			Kind:        kind,
			ContentHash: hash,
		},
	}
}

// NewComponentNodeWeight builds a Component weight.
func NewComponentNodeWeight(id, lineageID ids.ID, hash cas.ContentHash, typ ComponentType) NodeWeight {
	w := NewNodeWeight(KindComponent, id, lineageID, hash)
	w.V1.Component = &ComponentFields{Type: typ}
	return w
}

// NewSocketNodeWeight builds an InputSocket or OutputSocket weight.
func NewSocketNodeWeight(kind NodeKind, id, lineageID ids.ID, hash cas.ContentHash, fields SocketFields) NodeWeight {
	w := NewNodeWeight(kind, id, lineageID, hash)
	fields.Annotations = append([]string(nil), fields.Annotations...)
	w.V1.Socket = &fields
	return w
}

// NewApprovalRequirementDefinitionNodeWeight builds an approval requirement
// definition weight.
func NewApprovalRequirementDefinitionNodeWeight(id, lineageID ids.ID, hash cas.ContentHash) NodeWeight {
	return NewNodeWeight(KindApprovalRequirementDefinition, id, lineageID, hash)
}

// upgrade brings a weight to CurrentVersion. It runs lazily on read and never
// rewrites the stored weight.
func upgrade(w NodeWeight) (NodeWeight, error) {
	switch w.Version {
	case VersionV1:
		if w.V1 == nil {
			return w, fmt.Errorf("%w: version %d without payload", ErrUnknownNodeWeightVersion, w.Version)
		}
		return w, nil
	default:
		return w, fmt.Errorf("%w: %d", ErrUnknownNodeWeightVersion, w.Version)
	}
}

func (w NodeWeight) current() *NodeWeightV1 {
	if w.V1 == nil {
		return &NodeWeightV1{}
	}
	return w.V1
}

// ID returns the node id.
func (w NodeWeight) ID() ids.ID { return w.current().ID }

// LineageID returns the lineage id.
func (w NodeWeight) LineageID() ids.ID { return w.current().LineageID }

// Kind returns the node kind.
func (w NodeWeight) Kind() NodeKind { return w.current().Kind }

// ContentHash returns the hash of the CAS payload.
func (w NodeWeight) ContentHash() cas.ContentHash { return w.current().ContentHash }

// ComponentFields returns the inline component fields, or nil.
func (w NodeWeight) ComponentFields() *ComponentFields { return w.current().Component }

// SocketFields returns the inline socket fields, or nil.
func (w NodeWeight) SocketFields() *SocketFields { return w.current().Socket }

// WithContentHash returns a copy pointing at new content. Id and lineage id are
// preserved, which is how a node is updated copy-on-write.
func (w NodeWeight) WithContentHash(hash cas.ContentHash) NodeWeight {
	c := w.Clone()
	c.current().ContentHash = hash
	return c
}

// Clone returns a deep copy.
func (w NodeWeight) Clone() NodeWeight {
	if w.V1 == nil {
		return w
	}
	v1 := *w.V1
	if w.V1.Component != nil {
		comp := *w.V1.Component
		v1.Component = &comp
	}
	if w.V1.Socket != nil {
		sock := *w.V1.Socket
		sock.Annotations = append([]string(nil), w.V1.Socket.Annotations...)
		v1.Socket = &sock
	}
	return NodeWeight{Version: w.Version, V1: &v1}
}

// Equal reports whether two weights carry the same data.
func (w NodeWeight) Equal(o NodeWeight) bool {
	if w.Version != o.Version {
		return false
	}
	a, b := w.current(), o.current()
	if a.ID != b.ID || a.LineageID != b.LineageID || a.Kind != b.Kind || a.ContentHash != b.ContentHash {
		return false
	}
	if (a.Component == nil) != (b.Component == nil) {
		return false
	}
	if a.Component != nil && *a.Component != *b.Component {
		return false
	}
	if (a.Socket == nil) != (b.Socket == nil) {
		return false
	}
	if a.Socket != nil {
		if a.Socket.Name != b.Socket.Name || a.Socket.Arity != b.Socket.Arity {
			return false
		}
		if len(a.Socket.Annotations) != len(b.Socket.Annotations) {
			return false
		}
		for i := range a.Socket.Annotations {
			if a.Socket.Annotations[i] != b.Socket.Annotations[i] {
				return false
			}
		}
	}
	return true
}

// ApprovalRequirementDefinition returns the weight if it is an approval
// requirement definition, and an error otherwise.
func (w NodeWeight) ApprovalRequirementDefinition() (NodeWeight, error) {
	return w.expectKind(KindApprovalRequirementDefinition)
}

// Component returns the weight if it is a component.
func (w NodeWeight) Component() (NodeWeight, error) {
	return w.expectKind(KindComponent)
}

func (w NodeWeight) expectKind(kind NodeKind) (NodeWeight, error) {
	if w.Kind() != kind {
		return w, &UnexpectedNodeWeightKindError{ID: w.ID(), Expected: kind, Actual: w.Kind()}
	}
	return w, nil
}
