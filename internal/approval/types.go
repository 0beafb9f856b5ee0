// Package approval computes which approvals a change set needs before it may
// merge, and checks collected approvals against them.
//
// Requirements come from two places: explicit definitions attached to an
// entity with a HasApprovalRequirement edge, and virtual rules synthesized by
// a Policy for entity kinds that have no explicit definition.
package approval

import (
	"fmt"

	"kai-model/internal/graph"
	"kai-model/internal/ids"
)

// ApproverKind discriminates Approver.
type ApproverKind string

const (
	ApproverUser             ApproverKind = "user"
	ApproverPermissionLookup ApproverKind = "permissionLookup"
)

// PermissionLookup matches every user holding a permission on an object.
type PermissionLookup struct {
	ObjectType string `json:"objectType" yaml:"objectType"`
	ObjectID   string `json:"objectId" yaml:"objectId"`
	Permission string `json:"permission" yaml:"permission"`
}

// Approver is either one user or a permission lookup.
type Approver struct {
	Kind   ApproverKind      `json:"kind"`
	User   *ids.UserPk       `json:"user,omitempty"`
	Lookup *PermissionLookup `json:"lookup,omitempty"`
}

// UserApprover returns an approver for one user.
func UserApprover(user ids.UserPk) Approver {
	return Approver{Kind: ApproverUser, User: &user}
}

// PermissionLookupApprover returns an approver for every holder of a
// permission on an object.
func PermissionLookupApprover(objectType, objectID, permission string) Approver {
	return Approver{
		Kind:   ApproverPermissionLookup,
		Lookup: &PermissionLookup{ObjectType: objectType, ObjectID: objectID, Permission: permission},
	}
}

func (a Approver) validate() error {
	switch a.Kind {
	case ApproverUser:
		if a.User == nil {
			return fmt.Errorf("%w: user approver without user", ErrInvalidApprover)
		}
	case ApproverPermissionLookup:
		if a.Lookup == nil {
			return fmt.Errorf("%w: permission lookup without lookup", ErrInvalidApprover)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidApprover, a.Kind)
	}
	return nil
}

// Rule is what a requirement demands: at least Minimum distinct approvals
// from users matching any of Approvers.
type Rule struct {
	EntityID   ids.EntityID     `json:"entityId"`
	EntityKind graph.EntityKind `json:"entityKind"`
	Minimum    int              `json:"minimum"`
	Approvers  []Approver       `json:"approvers"`
}

// Variant discriminates Requirement.
type Variant string

const (
	VariantExplicit Variant = "explicit"
	VariantVirtual  Variant = "virtual"
)

// Requirement is a computed approval requirement. Explicit requirements are
// backed by a definition node and carry its id; virtual ones are synthesized
// by policy and are never persisted.
type Requirement struct {
	Variant Variant                             `json:"variant"`
	ID      ids.ApprovalRequirementDefinitionID `json:"id"`
	Rule    Rule                                `json:"rule"`
}

// Explicit returns a requirement backed by a definition node.
func Explicit(id ids.ApprovalRequirementDefinitionID, rule Rule) Requirement {
	return Requirement{Variant: VariantExplicit, ID: id, Rule: rule}
}

// Virtual returns a policy-synthesized requirement.
func Virtual(rule Rule) Requirement {
	return Requirement{Variant: VariantVirtual, Rule: rule}
}

// IsExplicit reports whether the requirement is backed by a definition.
func (r Requirement) IsExplicit() bool { return r.Variant == VariantExplicit }
