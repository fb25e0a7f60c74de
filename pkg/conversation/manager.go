package conversation

// Package conversation provides the storage and context-resolution core
// for branching AI chat conversations.
//
// A conversation is a tree of branches forked off arbitrary messages.
// Messages live exactly once in a MessageStore; each branch keeps a
// BranchContext with a frozen snapshot of the message ids it inherited
// at fork time plus the ids of messages created within the branch.
//
// The Manager interface is the resolution layer on top of the two
// stores:
// - capturing inherited-context snapshots when a branch is forked
// - resolving a branch's display context (inherited + own messages)
// - assembling the full prompt context sent to a model, including
//   long-term memory and explicitly linked branches
// - validating that a branch's references still resolve
//
// Missing references are never fatal on read paths: unresolved ids are
// filtered out silently, so a branch whose history was partially deleted
// still renders.

import (
	"context"
	"strings"
	"time"
)

// Manager defines the high-level context-resolution operations over a
// message store and a branch store.
type Manager interface {
	// CreateContextSnapshot captures the context a new branch inherits
	// when forking off parentID at the given message. The returned
	// snapshot includes the branch-point message as its last element.
	CreateContextSnapshot(parentID BranchID, branchPointMessageID MessageID) (*ContextSnapshot, error)
	// GetInheritedContext resolves a branch's snapshot to messages.
	// Empty for the root branch and for unknown branch ids.
	GetInheritedContext(branchID BranchID) Conversation
	// GetBranchMessages resolves the messages created within the branch.
	GetBranchMessages(branchID BranchID) Conversation
	// GetContextForDisplay returns inherited followed by branch-own
	// messages, the sequence as the user sees it.
	GetContextForDisplay(branchID BranchID) Conversation
	// GetFullContext assembles the payload handed to an inference
	// engine: display context, long-term memory and explicitly linked
	// branches, with a token count over the whole of it.
	GetFullContext(ctx context.Context, branchID BranchID) (*FullContext, error)
	// ValidateContext reports whether every message id the branch
	// references still resolves in the message store.
	ValidateContext(branchID BranchID) bool
}

// FullContext is the complete payload for one inference call. Messages
// holds the branch's display context; Linked carries the contexts of
// explicitly linked branches, never of siblings or unrelated branches.
type FullContext struct {
	Messages      Conversation    `json:"messages"`
	Branch        *BranchContext  `json:"branch"`
	Linked        []LinkedContext `json:"linked,omitempty"`
	MemoryContext string          `json:"memoryContext,omitempty"`
	Time          time.Time       `json:"time"`
	TokenCount    int             `json:"tokenCount"`
}

// LinkedContext is the display context of one explicitly linked branch.
type LinkedContext struct {
	BranchID BranchID     `json:"branchID"`
	Messages Conversation `json:"messages"`
}

// Prompt renders the full context as a single prompt string: memory
// first, then linked contexts, then the conversation itself.
func (fc *FullContext) Prompt() string {
	var sb strings.Builder
	if fc.MemoryContext != "" {
		sb.WriteString("[memory]: ")
		sb.WriteString(fc.MemoryContext)
		sb.WriteString("\n")
	}
	for _, linked := range fc.Linked {
		sb.WriteString("[linked ")
		sb.WriteString(linked.BranchID.String())
		sb.WriteString("]:\n")
		sb.WriteString(linked.Messages.GetSinglePrompt())
		sb.WriteString("\n")
	}
	sb.WriteString(fc.Messages.GetSinglePrompt())
	return sb.String()
}
