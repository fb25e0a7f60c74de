package conversation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Debugging counter for snapshot operations
var snapshotCallCounter = int64(0)

type ManagerImpl struct {
	messages *MessageStore
	branches *BranchStore
	memory   MemoryProvider
}

var _ Manager = (*ManagerImpl)(nil)

type ManagerOption func(*ManagerImpl)

func WithMemoryProvider(provider MemoryProvider) ManagerOption {
	return func(m *ManagerImpl) {
		m.memory = provider
	}
}

func NewManager(messages *MessageStore, branches *BranchStore, options ...ManagerOption) *ManagerImpl {
	ret := &ManagerImpl{
		messages: messages,
		branches: branches,
		memory:   NopMemoryProvider{},
	}
	for _, option := range options {
		option(ret)
	}

	return ret
}

// CreateContextSnapshot resolves the parent's display sequence and
// truncates it inclusively at the branch-point message.
//
// If the branch point is not part of the parent's display sequence but
// still resolves in the message store (it may belong to a subtree the
// parent never displayed), the snapshot falls back to the parent's
// display sequence with the branch point appended. Only a branch point
// that resolves nowhere is an error.
func (m *ManagerImpl) CreateContextSnapshot(parentID BranchID, branchPointMessageID MessageID) (*ContextSnapshot, error) {
	snapshotCallID := atomic.AddInt64(&snapshotCallCounter, 1)

	display := m.GetContextForDisplay(parentID)

	log.Trace().
		Int64("snapshot_call_id", snapshotCallID).
		Str("parent_id", parentID.String()).
		Str("branch_point", branchPointMessageID.String()).
		Int("parent_display_len", len(display)).
		Msg("creating context snapshot")

	for idx, msg := range display {
		if msg.ID == branchPointMessageID {
			inherited := display[:idx+1].IDs()
			log.Trace().
				Int64("snapshot_call_id", snapshotCallID).
				Int("inherited_count", len(inherited)).
				Msg("branch point found in parent display sequence")
			return NewContextSnapshot(branchPointMessageID, inherited), nil
		}
	}

	if m.messages.Has(branchPointMessageID) {
		inherited := append(display.IDs(), branchPointMessageID)
		log.Trace().
			Int64("snapshot_call_id", snapshotCallID).
			Int("inherited_count", len(inherited)).
			Msg("branch point outside parent display sequence, appending")
		return NewContextSnapshot(branchPointMessageID, inherited), nil
	}

	log.Debug().
		Int64("snapshot_call_id", snapshotCallID).
		Str("branch_point", branchPointMessageID.String()).
		Msg("branch point message not found anywhere")

	return nil, &MissingReferenceError{Kind: "branch point message", ID: branchPointMessageID.String()}
}

func (m *ManagerImpl) GetInheritedContext(branchID BranchID) Conversation {
	bc, ok := m.branches.Get(branchID)
	if !ok || bc.Snapshot == nil {
		return Conversation{}
	}
	return m.messages.GetMany(bc.Snapshot.InheritedMessageIDs)
}

func (m *ManagerImpl) GetBranchMessages(branchID BranchID) Conversation {
	bc, ok := m.branches.Get(branchID)
	if !ok {
		return Conversation{}
	}
	return m.messages.GetMany(bc.MessageIDs)
}

// GetContextForDisplay returns the sequence the user sees for a branch:
// inherited messages first, branch-own messages after.
func (m *ManagerImpl) GetContextForDisplay(branchID BranchID) Conversation {
	bc, ok := m.branches.Get(branchID)
	if !ok {
		return Conversation{}
	}
	out := m.messages.GetMany(bc.InheritedIDs())
	return append(out, m.messages.GetMany(bc.MessageIDs)...)
}

// GetFullContext assembles the inference payload for a branch. Memory
// retrieval failures degrade to an empty memory context; they never fail
// the call.
func (m *ManagerImpl) GetFullContext(ctx context.Context, branchID BranchID) (*FullContext, error) {
	bc, ok := m.branches.Get(branchID)
	if !ok {
		return nil, &BranchNotFoundError{ID: branchID}
	}

	display := m.messages.GetMany(bc.InheritedIDs())
	display = append(display, m.messages.GetMany(bc.MessageIDs)...)

	memoryContext, err := m.memory.Retrieve(ctx, branchID, display)
	if err != nil {
		log.Warn().Err(err).
			Str("branch_id", branchID.String()).
			Msg("memory retrieval failed, continuing without memory context")
		memoryContext = ""
	}

	var linked []LinkedContext
	for _, linkedID := range bc.Metadata.LinkedBranches {
		linkedBranch, ok := m.branches.Get(linkedID)
		if !ok {
			log.Trace().
				Str("branch_id", branchID.String()).
				Str("linked_id", linkedID.String()).
				Msg("skipping unresolved linked branch")
			continue
		}
		msgs := m.messages.GetMany(linkedBranch.InheritedIDs())
		msgs = append(msgs, m.messages.GetMany(linkedBranch.MessageIDs)...)
		linked = append(linked, LinkedContext{BranchID: linkedID, Messages: msgs})
	}

	ret := &FullContext{
		Messages:      display,
		Branch:        bc,
		Linked:        linked,
		MemoryContext: memoryContext,
		Time:          time.Now(),
	}

	count, err := CountTokens(ret.Prompt())
	if err != nil {
		log.Warn().Err(err).Msg("token counting failed")
	} else {
		ret.TokenCount = count
	}

	log.Trace().
		Str("branch_id", branchID.String()).
		Int("message_count", len(display)).
		Int("linked_count", len(linked)).
		Int("token_count", ret.TokenCount).
		Msg("assembled full context")

	return ret, nil
}

// ValidateContext reports whether every message id referenced by the
// branch, inherited and own, resolves in the message store.
func (m *ManagerImpl) ValidateContext(branchID BranchID) bool {
	bc, ok := m.branches.Get(branchID)
	if !ok {
		return false
	}

	for _, id := range bc.InheritedIDs() {
		if !m.messages.Has(id) {
			return false
		}
	}
	for _, id := range bc.MessageIDs {
		if !m.messages.Has(id) {
			return false
		}
	}
	return true
}
