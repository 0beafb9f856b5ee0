// Package graph provides the workspace snapshot graph: versioned node weights
// connected by typed edges, with cycle-checked mutation and traversal helpers.
package graph

// NodeKind represents the type of a node.
type NodeKind string

const (
	KindCategory                      NodeKind = "Category"
	KindSchema                        NodeKind = "Schema"
	KindSchemaVariant                 NodeKind = "SchemaVariant"
	KindComponent                     NodeKind = "Component"
	KindInputSocket                   NodeKind = "InputSocket"
	KindOutputSocket                  NodeKind = "OutputSocket"
	KindAttributeValue                NodeKind = "AttributeValue"
	KindFunc                          NodeKind = "Func"
	KindApprovalRequirementDefinition NodeKind = "ApprovalRequirementDefinition"
)

// EntityKind is the kind of entity a node represents, as reported to change
// detection and approval policy.
type EntityKind = NodeKind

// EdgeKind represents the type of relationship between nodes.
type EdgeKind string

const (
	EdgeContain                EdgeKind = "Contain"                // Category -> entity
	EdgeFrameContains          EdgeKind = "FrameContains"          // frame Component -> child Component
	EdgeHasApprovalRequirement EdgeKind = "HasApprovalRequirement" // entity -> ApprovalRequirementDefinition
	EdgePrototype              EdgeKind = "Prototype"              // AttributeValue -> Func
	EdgeUse                    EdgeKind = "Use"                    // Component -> SchemaVariant
	EdgeSocket                 EdgeKind = "Socket"                 // Component -> Input/OutputSocket
	EdgeSocketValue            EdgeKind = "SocketValue"            // Input/OutputSocket -> AttributeValue
	EdgeConnection             EdgeKind = "Connection"             // InputSocket -> OutputSocket (explicit wiring)
)

// IsContainment reports whether edges of this kind must stay acyclic.
func (k EdgeKind) IsContainment() bool {
	switch k {
	case EdgeContain, EdgeFrameContains:
		return true
	default:
		return false
	}
}

// Direction selects incoming or outgoing edges.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// ComponentType controls how a component participates in frames.
type ComponentType string

const (
	ComponentTypeComponent              ComponentType = "component"
	ComponentTypeConfigurationFrameDown ComponentType = "configurationFrameDown"
	ComponentTypeConfigurationFrameUp   ComponentType = "configurationFrameUp"
	ComponentTypeAggregationFrame       ComponentType = "aggregationFrame"
)

// IsFrame reports whether components of this type may contain children.
func (t ComponentType) IsFrame() bool {
	return t == ComponentTypeConfigurationFrameDown ||
		t == ComponentTypeConfigurationFrameUp ||
		t == ComponentTypeAggregationFrame
}

// SocketArity is how many connections an input socket accepts.
type SocketArity string

const (
	ArityOne  SocketArity = "one"
	ArityMany SocketArity = "many"
)
