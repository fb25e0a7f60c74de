package conversation

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// MessageStore is the flat, id-keyed store holding every message across
// all branches. Branches reference messages by id; the record itself is
// never copied per branch.
//
// The store is safe for concurrent use. Reads hand out clones so callers
// never observe internal pointers; streaming mutations go through
// dedicated methods that update the stored record under the lock.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[MessageID]*Message
	closed   bool
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: map[MessageID]*Message{},
	}
}

// Set upserts messages by id.
func (s *MessageStore) Set(msgs ...*Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		s.messages[msg.ID] = msg.Clone()
	}

	log.Trace().
		Int("message_count", len(msgs)).
		Int("store_size", len(s.messages)).
		Msg("messages stored")

	return nil
}

// Get returns a clone of the message, or false when the id is unknown.
func (s *MessageStore) Get(id MessageID) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false
	}

	msg, ok := s.messages[id]
	if !ok || msg == nil {
		return nil, false
	}
	return msg.Clone(), true
}

// GetMany resolves ids in order. Unresolved ids are skipped silently, so
// the result may be shorter than the input.
func (s *MessageStore) GetMany(ids []MessageID) Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	out := make(Conversation, 0, len(ids))
	dropped := 0
	for _, id := range ids {
		msg, ok := s.messages[id]
		if !ok || msg == nil {
			dropped++
			continue
		}
		out = append(out, msg.Clone())
	}

	if dropped > 0 {
		log.Trace().
			Int("requested", len(ids)).
			Int("dropped", dropped).
			Msg("skipped unresolved message ids")
	}

	return out
}

// Has reports whether the id resolves.
func (s *MessageStore) Has(id MessageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, ok := s.messages[id]
	return ok
}

// Delete removes messages by id. Unknown ids are ignored.
func (s *MessageStore) Delete(ids ...MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	for _, id := range ids {
		delete(s.messages, id)
	}
	return nil
}

// GetByNode returns the messages owned by a branch, ordered by creation
// time, id as tiebreak.
func (s *MessageStore) GetByNode(nodeID BranchID) Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	var out Conversation
	for _, msg := range s.messages {
		if msg.NodeID == nodeID {
			out = append(out, msg.Clone())
		}
	}
	sortMessages(out)
	return out
}

// ApplyStreamingDelta appends a delta to an in-flight message under the
// store lock.
func (s *MessageStore) ApplyStreamingDelta(id MessageID, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	msg, ok := s.messages[id]
	if !ok || msg == nil {
		return &MissingReferenceError{Kind: "message", ID: id.String()}
	}
	return msg.AppendStreamingText(delta)
}

// FinalizeMessage transitions a streaming message to its final form and
// returns a clone of the result. Finalizing twice is a no-op.
func (s *MessageStore) FinalizeMessage(id MessageID) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	msg, ok := s.messages[id]
	if !ok || msg == nil {
		return nil, &MissingReferenceError{Kind: "message", ID: id.String()}
	}
	msg.Finalize()
	return msg.Clone(), nil
}

// Size returns the number of distinct messages in the store.
func (s *MessageStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// IDs returns all message ids, sorted by their string form.
func (s *MessageStore) IDs() []MessageID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	ids := make([]MessageID, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Export returns clones of all messages, ordered by creation time then id.
func (s *MessageStore) Export() Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	out := make(Conversation, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, msg.Clone())
	}
	sortMessages(out)
	return out
}

// Import merges messages into the store, overwriting on id collision.
func (s *MessageStore) Import(msgs Conversation) error {
	return s.Set(msgs...)
}

func (s *MessageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MessageStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func sortMessages(msgs Conversation) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Time.Equal(msgs[j].Time) {
			return msgs[i].ID.String() < msgs[j].ID.String()
		}
		return msgs[i].Time.Before(msgs[j].Time)
	})
}
