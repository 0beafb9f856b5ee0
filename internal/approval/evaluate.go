package approval

import (
	"context"
	"fmt"

	"kai-model/internal/ids"
)

// State summarizes a set of evaluated requirements.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
)

// PermissionChecker answers permission lookups. Implementations usually talk
// to an external authorization service.
type PermissionChecker interface {
	HasPermission(ctx context.Context, user ids.UserPk, lookup PermissionLookup) (bool, error)
}

// PermissionCheckerFunc adapts a function to PermissionChecker.
type PermissionCheckerFunc func(ctx context.Context, user ids.UserPk, lookup PermissionLookup) (bool, error)

func (f PermissionCheckerFunc) HasPermission(ctx context.Context, user ids.UserPk, lookup PermissionLookup) (bool, error) {
	return f(ctx, user, lookup)
}

// Status is one requirement with the approvals that count toward it.
type Status struct {
	Requirement Requirement  `json:"requirement"`
	Approvers   []ids.UserPk `json:"approvers"`
	Satisfied   bool         `json:"satisfied"`
}

// Evaluation is the outcome of checking approvals against requirements.
type Evaluation struct {
	State    State    `json:"state"`
	Statuses []Status `json:"statuses"`
}

// Evaluate checks which requirements the given approvals satisfy. Each
// approving user counts at most once per requirement. checker may be nil
// when no requirement uses a permission lookup.
func Evaluate(ctx context.Context, requirements []Requirement, approvals []ids.UserPk, checker PermissionChecker) (Evaluation, error) {
	users := dedupUsers(approvals)
	eval := Evaluation{State: StateApproved, Statuses: make([]Status, 0, len(requirements))}

	for _, req := range requirements {
		status := Status{Requirement: req}
		for _, user := range users {
			ok, err := matchesAny(ctx, user, req.Rule.Approvers, checker)
			if err != nil {
				return Evaluation{}, err
			}
			if ok {
				status.Approvers = append(status.Approvers, user)
			}
		}
		status.Satisfied = len(status.Approvers) >= req.Rule.Minimum
		if !status.Satisfied {
			eval.State = StatePending
		}
		eval.Statuses = append(eval.Statuses, status)
	}
	return eval, nil
}

func matchesAny(ctx context.Context, user ids.UserPk, approvers []Approver, checker PermissionChecker) (bool, error) {
	for _, a := range approvers {
		switch a.Kind {
		case ApproverUser:
			if a.User != nil && *a.User == user {
				return true, nil
			}
		case ApproverPermissionLookup:
			if a.Lookup == nil {
				continue
			}
			if checker == nil {
				return false, ErrNoPermissionChecker
			}
			ok, err := checker.HasPermission(ctx, user, *a.Lookup)
			if err != nil {
				return false, fmt.Errorf("checking %s on %s %s: %w", a.Lookup.Permission, a.Lookup.ObjectType, a.Lookup.ObjectID, err)
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func dedupUsers(users []ids.UserPk) []ids.UserPk {
	seen := make(map[ids.UserPk]bool, len(users))
	out := make([]ids.UserPk, 0, len(users))
	for _, u := range users {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
