package component

import (
	"errors"
	"fmt"
	"strings"

	"kai-model/internal/cas"
	"kai-model/internal/ids"
)

var (
	ErrMultipleParents = errors.New("component has multiple frame parents")
	ErrMissingContent  = errors.New("content missing from store")
	ErrSocketNotFound  = errors.New("socket not found")
)

// MultipleParentsError reports a component contained by more than one frame.
type MultipleParentsError struct {
	Child   ids.ComponentID
	Parents []ids.ComponentID
}

func (e *MultipleParentsError) Error() string {
	parents := make([]string, len(e.Parents))
	for i, p := range e.Parents {
		parents[i] = p.String()
	}
	return fmt.Sprintf("component %s has multiple frame parents: %s", e.Child, strings.Join(parents, ", "))
}

func (e *MultipleParentsError) Unwrap() error { return ErrMultipleParents }

// MissingContentError reports a node whose content hash is not in the CAS.
type MissingContentError struct {
	ID   ids.ID
	Hash cas.ContentHash
}

func (e *MissingContentError) Error() string {
	return fmt.Sprintf("content %s of node %s missing from store", e.Hash.Short(), e.ID)
}

func (e *MissingContentError) Unwrap() error { return ErrMissingContent }

// SocketNotFoundError reports a socket id that is not a socket of the
// expected kind.
type SocketNotFoundError struct {
	ID    ids.ID
	Input bool
}

func (e *SocketNotFoundError) Error() string {
	kind := "output"
	if e.Input {
		kind = "input"
	}
	return fmt.Sprintf("%s socket not found: %s", kind, e.ID)
}

func (e *SocketNotFoundError) Unwrap() error { return ErrSocketNotFound }
