package conversation

import (
	"time"

	"github.com/huandu/go-clone"
)

// ContextSnapshot freezes the context a branch inherits from its parent
// at the moment of forking. The inherited list includes the branch-point
// message as its last element. Snapshots are captured once and never
// recomputed from live parent state; later edits to the parent do not
// leak into existing branches.
type ContextSnapshot struct {
	BranchPointMessageID MessageID   `json:"branchPointMessageID" yaml:"branchPointMessageID"`
	InheritedMessageIDs  []MessageID `json:"inheritedMessageIDs" yaml:"inheritedMessageIDs"`
	Time                 time.Time   `json:"time" yaml:"time"`
}

func NewContextSnapshot(branchPointMessageID MessageID, inheritedMessageIDs []MessageID) *ContextSnapshot {
	ids := make([]MessageID, len(inheritedMessageIDs))
	copy(ids, inheritedMessageIDs)
	return &ContextSnapshot{
		BranchPointMessageID: branchPointMessageID,
		InheritedMessageIDs:  ids,
		Time:                 time.Now(),
	}
}

func (cs *ContextSnapshot) Clone() *ContextSnapshot {
	if cs == nil {
		return nil
	}
	return clone.Clone(cs).(*ContextSnapshot)
}

func (cs *ContextSnapshot) Contains(id MessageID) bool {
	if cs == nil {
		return false
	}
	for _, inherited := range cs.InheritedMessageIDs {
		if inherited == id {
			return true
		}
	}
	return false
}

// BranchMetadata carries per-branch bookkeeping. Updates go through
// BranchMetadataPatch and are shallow-merged.
type BranchMetadata struct {
	SelectedModels []string   `json:"selectedModels,omitempty" yaml:"selectedModels,omitempty"`
	GroupID        string     `json:"groupID,omitempty" yaml:"groupID,omitempty"`
	LastActivity   time.Time  `json:"lastActivity,omitempty" yaml:"lastActivity,omitempty"`
	LinkedBranches []BranchID `json:"linkedBranches,omitempty" yaml:"linkedBranches,omitempty"`
}

// BranchMetadataPatch applies a partial metadata update. Nil fields keep
// the current value.
type BranchMetadataPatch struct {
	SelectedModels []string
	GroupID        *string
	LastActivity   *time.Time
	LinkedBranches []BranchID
}

func (m *BranchMetadata) apply(patch BranchMetadataPatch) {
	if patch.SelectedModels != nil {
		m.SelectedModels = append([]string(nil), patch.SelectedModels...)
	}
	if patch.GroupID != nil {
		m.GroupID = *patch.GroupID
	}
	if patch.LastActivity != nil {
		m.LastActivity = *patch.LastActivity
	}
	if patch.LinkedBranches != nil {
		m.LinkedBranches = append([]BranchID(nil), patch.LinkedBranches...)
	}
}

// BranchContext is the per-branch record: parent link, frozen inherited
// context and the ids of messages created within the branch. MessageIDs
// holds branch-own messages only, in creation order, without duplicates.
type BranchContext struct {
	ID       BranchID `json:"id" yaml:"id"`
	ParentID BranchID `json:"parentID,omitempty" yaml:"parentID,omitempty"`
	// Snapshot is nil for the root branch.
	Snapshot   *ContextSnapshot `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
	MessageIDs []MessageID      `json:"messageIDs" yaml:"messageIDs"`
	Metadata   BranchMetadata   `json:"metadata" yaml:"metadata"`
	CreatedAt  time.Time        `json:"createdAt" yaml:"createdAt"`
}

type BranchOption func(*BranchContext)

func WithParent(parentID BranchID) BranchOption {
	return func(bc *BranchContext) {
		bc.ParentID = parentID
	}
}

func WithSnapshot(snapshot *ContextSnapshot) BranchOption {
	return func(bc *BranchContext) {
		bc.Snapshot = snapshot
	}
}

func WithSelectedModels(models ...string) BranchOption {
	return func(bc *BranchContext) {
		bc.Metadata.SelectedModels = append([]string(nil), models...)
	}
}

func WithGroup(groupID string) BranchOption {
	return func(bc *BranchContext) {
		bc.Metadata.GroupID = groupID
	}
}

func WithCreatedAt(t time.Time) BranchOption {
	return func(bc *BranchContext) {
		bc.CreatedAt = t
	}
}

func NewBranchContext(id BranchID, options ...BranchOption) *BranchContext {
	ret := &BranchContext{
		ID:         id,
		MessageIDs: []MessageID{},
		CreatedAt:  time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// NewMainBranch creates the root branch record: no parent, no snapshot.
func NewMainBranch() *BranchContext {
	return NewBranchContext(MainBranchID)
}

func (bc *BranchContext) Clone() *BranchContext {
	if bc == nil {
		return nil
	}
	return clone.Clone(bc).(*BranchContext)
}

func (bc *BranchContext) IsRoot() bool {
	return bc.ParentID.IsZero()
}

func (bc *BranchContext) HasMessage(id MessageID) bool {
	for _, own := range bc.MessageIDs {
		if own == id {
			return true
		}
	}
	return false
}

// InheritedIDs returns the snapshot's inherited ids, empty for the root.
func (bc *BranchContext) InheritedIDs() []MessageID {
	if bc.Snapshot == nil {
		return nil
	}
	return bc.Snapshot.InheritedMessageIDs
}
