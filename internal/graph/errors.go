package graph

import (
	"errors"
	"fmt"
)

var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrPathNotFound    = errors.New("file not found on search path")
	ErrInvalidURL      = errors.New("url does not reference a resource")
	ErrDuplicateID     = errors.New("duplicate node id")
	ErrEvaluationCycle = errors.New("formula evaluation cycle")
	ErrNotInstanced    = errors.New("node is not an instance")
	ErrParentMismatch  = errors.New("parent and child disagree on instancing")
)

// NodeNotFoundError records which node was searching and what it was
// looking for.
type NodeNotFoundError struct {
	Node    string
	Missing string
	Msg     string
}

func (e *NodeNotFoundError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("not found on %s: %s", e.Node, e.Missing)
}

func (e *NodeNotFoundError) Is(target error) bool { return target == ErrNodeNotFound }

func notFound(n *Node, missing string) error {
	name := "<nil>"
	if n != nil {
		name = n.String()
	}
	return &NodeNotFoundError{Node: name, Missing: missing}
}

// PathNotFoundError is returned when no search path contains a file.
type PathNotFoundError struct {
	Path string
}

func (e *PathNotFoundError) Error() string { return "couldn't find file: " + e.Path }

func (e *PathNotFoundError) Is(target error) bool { return target == ErrPathNotFound }
