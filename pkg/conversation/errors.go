package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrMissingReference    = errors.New("missing reference")
	ErrBranchNotFound      = errors.New("branch not found")
	ErrRootBranchImmutable = errors.New("root branch cannot be deleted or re-parented")
	ErrSnapshotImmutable   = errors.New("context snapshot is immutable once captured")
	ErrMessageFinalized    = errors.New("message already finalized")
	ErrStoreClosed         = errors.New("store is closed")
)

// MissingReferenceError reports an id that had to resolve but didn't.
// Read paths never raise it; they skip unresolved ids silently.
type MissingReferenceError struct {
	Kind string
	ID   string
}

func (e *MissingReferenceError) Error() string {
	if e == nil {
		return ErrMissingReference.Error()
	}
	return fmt.Sprintf("%s: %s %q", ErrMissingReference, e.Kind, e.ID)
}

func (e *MissingReferenceError) Is(target error) bool { return target == ErrMissingReference }

// BranchNotFoundError reports mutations against an unknown branch id.
type BranchNotFoundError struct {
	ID BranchID
}

func (e *BranchNotFoundError) Error() string {
	if e == nil {
		return ErrBranchNotFound.Error()
	}
	return fmt.Sprintf("%s: %q", ErrBranchNotFound, e.ID)
}

func (e *BranchNotFoundError) Is(target error) bool { return target == ErrBranchNotFound }
