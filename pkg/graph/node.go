package graph

import (
	"fmt"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
)

// Kind is the closed set of node variants. Anything else is rejected at
// construction.
type Kind string

const (
	KindMain   Kind = "main"
	KindBranch Kind = "branch"
)

func (k Kind) Valid() bool {
	switch k {
	case KindMain, KindBranch:
		return true
	default:
		return false
	}
}

// Node is one presentation node. Node ids equal branch ids 1:1, the main
// branch included.
type Node struct {
	ID   conversation.BranchID `json:"id"`
	Kind Kind                  `json:"kind"`
	// ParentID is zero for the main node and set for every branch node.
	ParentID conversation.BranchID `json:"parentID,omitempty"`
	// GroupID ties together the sibling branches of one multi-model
	// fan-out; layout keeps group members adjacent.
	GroupID string `json:"groupID,omitempty"`
	// MessageCount is the number of messages in the branch's display
	// context. It drives node height.
	MessageCount int  `json:"messageCount"`
	Minimized    bool `json:"minimized,omitempty"`
}

type NodeOption func(*Node)

func WithGroupID(groupID string) NodeOption {
	return func(n *Node) {
		n.GroupID = groupID
	}
}

func WithMessageCount(count int) NodeOption {
	return func(n *Node) {
		n.MessageCount = count
	}
}

func WithMinimized(minimized bool) NodeOption {
	return func(n *Node) {
		n.Minimized = minimized
	}
}

func NewMainNode(id conversation.BranchID, options ...NodeOption) Node {
	ret := Node{
		ID:   id,
		Kind: KindMain,
	}
	for _, option := range options {
		option(&ret)
	}
	return ret
}

// NewBranchNode builds a branch node. A zero parent id defaults to the
// main branch: records written before parents were tracked omit the
// field, and re-rooting them under main is the defined recovery.
func NewBranchNode(id conversation.BranchID, parentID conversation.BranchID, options ...NodeOption) Node {
	if parentID.IsZero() {
		parentID = conversation.MainBranchID
	}
	ret := Node{
		ID:       id,
		Kind:     KindBranch,
		ParentID: parentID,
	}
	for _, option := range options {
		option(&ret)
	}
	return ret
}

// Validate enforces the closed variant rules: the kind must be known,
// main nodes carry no parent, branch nodes always carry one.
func (n Node) Validate() error {
	if !n.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidNodeKind, n.Kind)
	}
	if n.ID.IsZero() {
		return &NodeValidationError{ID: n.ID, Reason: "empty node id"}
	}
	switch n.Kind {
	case KindMain:
		if !n.ParentID.IsZero() {
			return &NodeValidationError{ID: n.ID, Reason: "main node cannot have a parent"}
		}
	case KindBranch:
		if n.ParentID.IsZero() {
			return &NodeValidationError{ID: n.ID, Reason: "branch node requires a parent"}
		}
		if n.ParentID == n.ID {
			return &NodeValidationError{ID: n.ID, Reason: "node cannot be its own parent"}
		}
	}
	return nil
}

func (n Node) IsRoot() bool {
	return n.Kind == KindMain
}

// Edge links a parent branch to a child branch.
type Edge struct {
	ID     string                `json:"id"`
	Source conversation.BranchID `json:"source"`
	Target conversation.BranchID `json:"target"`
}

func NewEdge(source, target conversation.BranchID) Edge {
	return Edge{
		ID:     fmt.Sprintf("e-%s-%s", source, target),
		Source: source,
		Target: target,
	}
}
