package conversation

import (
	"errors"
	"testing"
	"time"
)

func TestBranchStore_Lifecycle(t *testing.T) {
	store := NewBranchStore()

	main := NewMainBranch()
	if err := store.Set(main); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	branch := NewBranchContext(NewBranchID(), WithParent(MainBranchID))
	if err := store.Set(branch); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 branches, got %d", store.Len())
	}

	got, ok := store.Get(branch.ID)
	if !ok {
		t.Fatalf("expected branch to exist")
	}
	got.ParentID = BranchID("mutated")
	again, _ := store.Get(branch.ID)
	if again.ParentID != MainBranchID {
		t.Fatalf("expected clone-on-read semantics")
	}

	if err := store.Delete(branch.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Has(branch.ID) {
		t.Fatalf("expected branch to be deleted")
	}
}

func TestBranchStore_DeleteRootRefused(t *testing.T) {
	store := NewBranchStore()
	if err := store.Set(NewMainBranch()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Delete(MainBranchID); !errors.Is(err, ErrRootBranchImmutable) {
		t.Fatalf("expected ErrRootBranchImmutable, got %v", err)
	}
	if !store.Has(MainBranchID) {
		t.Fatalf("expected root branch to survive")
	}
}

func TestBranchStore_AddMessageIdempotent(t *testing.T) {
	store := NewBranchStore()
	branch := NewBranchContext(NewBranchID(), WithParent(MainBranchID))
	if err := store.Set(branch); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	msgID := NewMessageID()
	if err := store.AddMessage(branch.ID, msgID); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if err := store.AddMessage(branch.ID, msgID); err != nil {
		t.Fatalf("second AddMessage failed: %v", err)
	}

	got, _ := store.Get(branch.ID)
	if len(got.MessageIDs) != 1 {
		t.Fatalf("expected 1 message id, got %d", len(got.MessageIDs))
	}

	if err := store.RemoveMessage(branch.ID, msgID); err != nil {
		t.Fatalf("RemoveMessage failed: %v", err)
	}
	got, _ = store.Get(branch.ID)
	if len(got.MessageIDs) != 0 {
		t.Fatalf("expected empty message id list, got %d", len(got.MessageIDs))
	}
}

func TestBranchStore_AddMessageUnknownBranch(t *testing.T) {
	store := NewBranchStore()
	err := store.AddMessage(BranchID("nope"), NewMessageID())
	if !errors.Is(err, ErrBranchNotFound) {
		t.Fatalf("expected ErrBranchNotFound, got %v", err)
	}
}

func TestBranchStore_UpdateMetadataShallowMerge(t *testing.T) {
	store := NewBranchStore()
	branch := NewBranchContext(NewBranchID(),
		WithParent(MainBranchID),
		WithSelectedModels("gpt-4", "claude"),
		WithGroup("group-1"),
	)
	if err := store.Set(branch); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	now := time.Now()
	if err := store.UpdateMetadata(branch.ID, BranchMetadataPatch{LastActivity: &now}); err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}

	got, _ := store.Get(branch.ID)
	if len(got.Metadata.SelectedModels) != 2 {
		t.Fatalf("expected selected models to survive partial update")
	}
	if got.Metadata.GroupID != "group-1" {
		t.Fatalf("expected group id to survive partial update")
	}
	if !got.Metadata.LastActivity.Equal(now) {
		t.Fatalf("expected last activity to be updated")
	}

	group := "group-2"
	if err := store.UpdateMetadata(branch.ID, BranchMetadataPatch{GroupID: &group}); err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}
	got, _ = store.Get(branch.ID)
	if got.Metadata.GroupID != "group-2" {
		t.Fatalf("expected group id to be replaced, got %q", got.Metadata.GroupID)
	}
	if !got.Metadata.LastActivity.Equal(now) {
		t.Fatalf("expected last activity to survive group update")
	}
}

func TestBranchStore_GetByParentOrdering(t *testing.T) {
	store := NewBranchStore()
	if err := store.Set(NewMainBranch()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	base := time.Now()
	older := NewBranchContext(BranchID("branch-b"), WithParent(MainBranchID), WithCreatedAt(base))
	newer := NewBranchContext(BranchID("branch-a"), WithParent(MainBranchID), WithCreatedAt(base.Add(time.Second)))
	if err := store.Set(newer); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(older); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	children := store.GetByParent(MainBranchID)
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if children[0].ID != older.ID || children[1].ID != newer.ID {
		t.Fatalf("expected creation-time ordering")
	}
}
