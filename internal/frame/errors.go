package frame

import (
	"errors"
	"fmt"

	"kai-model/internal/component"
	"kai-model/internal/ids"
)

var (
	ErrParentIsNotAFrame          = errors.New("parent is not a frame")
	ErrAggregateFramesUnsupported = errors.New("aggregation frames are not supported")
)

// ParentIsNotAFrameError reports an attach under a plain component.
type ParentIsNotAFrameError struct {
	ParentID ids.ComponentID
	Type     component.Type
}

func (e *ParentIsNotAFrameError) Error() string {
	return fmt.Sprintf("component %s of type %s cannot contain children", e.ParentID, e.Type)
}

func (e *ParentIsNotAFrameError) Unwrap() error { return ErrParentIsNotAFrame }

// AggregateFramesUnsupportedError reports an attach under an aggregation frame.
type AggregateFramesUnsupportedError struct {
	ParentID ids.ComponentID
}

func (e *AggregateFramesUnsupportedError) Error() string {
	return fmt.Sprintf("cannot attach to aggregation frame %s", e.ParentID)
}

func (e *AggregateFramesUnsupportedError) Unwrap() error { return ErrAggregateFramesUnsupported }
