package approval

import (
	"errors"
	"fmt"

	"kai-model/internal/cas"
	"kai-model/internal/ids"
)

var (
	ErrMissingContentFromContentMap = errors.New("content missing from content map")
	ErrInvalidApprover              = errors.New("invalid approver")
	ErrInvalidMinimum               = errors.New("minimum approvers must not be negative")
	ErrUnknownContentVersion        = errors.New("unknown approval requirement content version")
	ErrNoPermissionChecker          = errors.New("permission lookup needs a permission checker")
	ErrInvalidPolicy                = errors.New("invalid approval policy")
)

// MissingContentFromContentMapError reports a definition whose content hash
// is absent from the CAS. The graph and the CAS disagree; this is not
// recoverable by retrying.
type MissingContentFromContentMapError struct {
	Hash cas.ContentHash
	ID   ids.ApprovalRequirementDefinitionID
}

func (e *MissingContentFromContentMapError) Error() string {
	return fmt.Sprintf("content %s for approval requirement definition %s missing from content map", e.Hash.Short(), e.ID)
}

func (e *MissingContentFromContentMapError) Unwrap() error { return ErrMissingContentFromContentMap }
