package graph

import (
	"errors"
	"fmt"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
)

var (
	ErrInvalidNodeKind = errors.New("invalid node kind")
	ErrInvalidNode     = errors.New("invalid node")
	ErrNoRoot          = errors.New("graph has no root node")
	ErrMultipleRoots   = errors.New("graph has multiple root nodes")
	ErrCycle           = errors.New("graph contains a cycle")
	ErrNodeNotFound    = errors.New("node not found")
)

// NodeValidationError reports a node that violates the closed variant
// rules.
type NodeValidationError struct {
	ID     conversation.BranchID
	Reason string
}

func (e *NodeValidationError) Error() string {
	if e == nil {
		return ErrInvalidNode.Error()
	}
	return fmt.Sprintf("%s %q: %s", ErrInvalidNode, e.ID, e.Reason)
}

func (e *NodeValidationError) Is(target error) bool { return target == ErrInvalidNode }
