package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BranchStore keeps the BranchContext record of every live branch, keyed
// by branch id. Deleting a record here removes only that record; cascade
// semantics live in the session layer, which walks the graph and deletes
// innermost-first.
type BranchStore struct {
	mu       sync.RWMutex
	branches map[BranchID]*BranchContext
	closed   bool
}

func NewBranchStore() *BranchStore {
	return &BranchStore{
		branches: map[BranchID]*BranchContext{},
	}
}

// Set upserts a branch record.
func (s *BranchStore) Set(bc *BranchContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if bc == nil || bc.ID.IsZero() {
		return &BranchNotFoundError{ID: ""}
	}

	s.branches[bc.ID] = bc.Clone()

	log.Trace().
		Str("branch_id", bc.ID.String()).
		Str("parent_id", bc.ParentID.String()).
		Int("store_size", len(s.branches)).
		Msg("branch stored")

	return nil
}

// Get returns a clone of the branch record, or false when unknown.
func (s *BranchStore) Get(id BranchID) (*BranchContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false
	}

	bc, ok := s.branches[id]
	if !ok || bc == nil {
		return nil, false
	}
	return bc.Clone(), true
}

func (s *BranchStore) Has(id BranchID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, ok := s.branches[id]
	return ok
}

// Delete removes a single branch record. The root branch is refused;
// unknown ids are ignored.
func (s *BranchStore) Delete(id BranchID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	bc, ok := s.branches[id]
	if !ok || bc == nil {
		return nil
	}
	if bc.IsRoot() {
		return ErrRootBranchImmutable
	}
	delete(s.branches, id)
	return nil
}

// GetByParent returns the direct children of a branch, ordered by
// creation time then id.
func (s *BranchStore) GetByParent(parentID BranchID) []*BranchContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	var out []*BranchContext
	for _, bc := range s.branches {
		if bc.ParentID == parentID {
			out = append(out, bc.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// AddMessage appends a message id to the branch's own list. Adding an id
// that is already present is a no-op.
func (s *BranchStore) AddMessage(branchID BranchID, messageID MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	bc, ok := s.branches[branchID]
	if !ok || bc == nil {
		return &BranchNotFoundError{ID: branchID}
	}
	if bc.HasMessage(messageID) {
		return nil
	}
	bc.MessageIDs = append(bc.MessageIDs, messageID)
	bc.Metadata.LastActivity = time.Now()
	return nil
}

// RemoveMessage drops a message id from the branch's own list. Unknown
// message ids are ignored.
func (s *BranchStore) RemoveMessage(branchID BranchID, messageID MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	bc, ok := s.branches[branchID]
	if !ok || bc == nil {
		return &BranchNotFoundError{ID: branchID}
	}
	for i, own := range bc.MessageIDs {
		if own == messageID {
			bc.MessageIDs = append(bc.MessageIDs[:i], bc.MessageIDs[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateMetadata shallow-merges a partial metadata update into the
// branch record.
func (s *BranchStore) UpdateMetadata(branchID BranchID, patch BranchMetadataPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	bc, ok := s.branches[branchID]
	if !ok || bc == nil {
		return &BranchNotFoundError{ID: branchID}
	}
	bc.Metadata.apply(patch)
	return nil
}

// List returns clones of all branch records, ordered by id.
func (s *BranchStore) List() []*BranchContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	ids := make([]BranchID, 0, len(s.branches))
	for id := range s.branches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*BranchContext, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.branches[id].Clone())
	}
	return out
}

func (s *BranchStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.branches)
}

// Export returns all branch records ordered by id.
func (s *BranchStore) Export() []*BranchContext {
	return s.List()
}

// Import merges branch records into the store, overwriting on id
// collision.
func (s *BranchStore) Import(branches []*BranchContext) error {
	for _, bc := range branches {
		if bc == nil {
			continue
		}
		if err := s.Set(bc); err != nil {
			return err
		}
	}
	return nil
}

func (s *BranchStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *BranchStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
