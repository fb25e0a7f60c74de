package session

// Package session orchestrates one branching conversation: it owns the
// store pair, the context manager, the presentation graph and layout
// wiring, the event publisher and the per-branch generation handles.
// Stores are created with the session and torn down with it; nothing in
// here is global state.

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
	"github.com/casualhermit27/branched-sub001/pkg/conversation/serde"
	"github.com/casualhermit27/branched-sub001/pkg/events"
	"github.com/casualhermit27/branched-sub001/pkg/graph"
	"github.com/casualhermit27/branched-sub001/pkg/layout"
)

const (
	defaultForkAttempts = 3
	defaultForkBackoff  = 50 * time.Millisecond
)

type Session struct {
	id string

	messages *conversation.MessageStore
	branches *conversation.BranchStore
	manager  conversation.Manager

	layoutEngine *layout.Engine
	scheduler    *layout.Scheduler
	publisher    *events.PublisherManager

	memory conversation.MemoryProvider

	forkAttempts int
	forkBackoff  time.Duration

	layoutMu   sync.RWMutex
	positioned []layout.PositionedNode
	layoutErr  error

	mu        sync.Mutex
	active    map[conversation.BranchID]*GenerationHandle
	minimized map[conversation.BranchID]bool
}

type SessionOption func(*Session)

func WithID(id string) SessionOption {
	return func(s *Session) {
		s.id = id
	}
}

func WithLayoutEngine(engine *layout.Engine) SessionOption {
	return func(s *Session) {
		s.layoutEngine = engine
	}
}

func WithPublisher(publisher *events.PublisherManager) SessionOption {
	return func(s *Session) {
		s.publisher = publisher
	}
}

func WithMemoryProvider(provider conversation.MemoryProvider) SessionOption {
	return func(s *Session) {
		s.memory = provider
	}
}

// WithForkRetry tunes the bounded retry used when the fork message is
// not yet visible at branch-creation time.
func WithForkRetry(attempts int, backoff time.Duration) SessionOption {
	return func(s *Session) {
		if attempts > 0 {
			s.forkAttempts = attempts
		}
		s.forkBackoff = backoff
	}
}

// NewSession builds a session with fresh stores and the main branch
// already in place.
func NewSession(options ...SessionOption) *Session {
	s := &Session{
		id:           uuid.NewString(),
		messages:     conversation.NewMessageStore(),
		branches:     conversation.NewBranchStore(),
		layoutEngine: layout.NewEngine(),
		publisher:    events.NewPublisherManager(),
		forkAttempts: defaultForkAttempts,
		forkBackoff:  defaultForkBackoff,
		active:       map[conversation.BranchID]*GenerationHandle{},
		minimized:    map[conversation.BranchID]bool{},
	}

	for _, option := range options {
		option(s)
	}

	var managerOptions []conversation.ManagerOption
	if s.memory != nil {
		managerOptions = append(managerOptions, conversation.WithMemoryProvider(s.memory))
	}
	s.manager = conversation.NewManager(s.messages, s.branches, managerOptions...)
	s.scheduler = layout.NewScheduler(s.runLayoutPass)

	_ = s.branches.Set(conversation.NewMainBranch())

	log.Debug().Str("session_id", s.id).Msg("session created")

	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Messages() *conversation.MessageStore {
	return s.messages
}

func (s *Session) Branches() *conversation.BranchStore {
	return s.branches
}

func (s *Session) Manager() conversation.Manager {
	return s.manager
}

func (s *Session) Publisher() *events.PublisherManager {
	return s.publisher
}

// Topic returns the watermill topic generation events for this session
// are published on.
func (s *Session) Topic() string {
	return events.SessionTopic(s.id)
}

type createBranchSettings struct {
	models  []string
	groupID string
}

type CreateBranchOption func(*createBranchSettings)

// WithModels selects the models the new branch generates with. More
// than one model fans out into one branch per model, created in model
// order and sharing a group id.
func WithModels(models ...string) CreateBranchOption {
	return func(settings *createBranchSettings) {
		settings.models = models
	}
}

func WithGroupID(groupID string) CreateBranchOption {
	return func(settings *createBranchSettings) {
		settings.groupID = groupID
	}
}

// CreateBranch forks the parent branch at a message. The inherited
// snapshot is captured once and shared (cloned) across all sibling
// branches of a fan-out, so siblings agree on their history even if the
// parent moves on while they are being created.
//
// A fork message that is not visible yet is retried a bounded number of
// times before the creation fails; this absorbs the race between
// restoring a conversation and forking it.
func (s *Session) CreateBranch(ctx context.Context, parentID conversation.BranchID, forkMessageID conversation.MessageID, options ...CreateBranchOption) ([]*conversation.BranchContext, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	settings := &createBranchSettings{}
	for _, option := range options {
		option(settings)
	}

	if !s.branches.Has(parentID) {
		return nil, &conversation.BranchNotFoundError{ID: parentID}
	}

	snapshot, err := s.snapshotWithRetry(ctx, parentID, forkMessageID)
	if err != nil {
		return nil, err
	}

	models := settings.models
	if len(models) == 0 {
		models = []string{""}
	}
	groupID := settings.groupID
	if groupID == "" && len(models) > 1 {
		groupID = conversation.NewGroupID()
	}

	created := make([]*conversation.BranchContext, 0, len(models))
	for _, model := range models {
		branchOptions := []conversation.BranchOption{
			conversation.WithParent(parentID),
			conversation.WithSnapshot(snapshot.Clone()),
		}
		if model != "" {
			branchOptions = append(branchOptions, conversation.WithSelectedModels(model))
		}
		if groupID != "" {
			branchOptions = append(branchOptions, conversation.WithGroup(groupID))
		}

		bc := conversation.NewBranchContext(conversation.NewBranchID(), branchOptions...)
		if err := s.branches.Set(bc); err != nil {
			return created, errors.Wrap(err, "storing branch")
		}
		created = append(created, bc)
	}

	log.Debug().
		Str("session_id", s.id).
		Str("parent_id", parentID.String()).
		Str("fork_message", forkMessageID.String()).
		Str("group_id", groupID).
		Int("branch_count", len(created)).
		Msg("created branches")

	s.scheduler.Request()

	return created, nil
}

func (s *Session) snapshotWithRetry(ctx context.Context, parentID conversation.BranchID, forkMessageID conversation.MessageID) (*conversation.ContextSnapshot, error) {
	var lastErr error
	for attempt := 0; attempt < s.forkAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.forkBackoff):
			}
			log.Trace().
				Int("attempt", attempt+1).
				Str("fork_message", forkMessageID.String()).
				Msg("retrying context snapshot")
		}

		snapshot, err := s.manager.CreateContextSnapshot(parentID, forkMessageID)
		if err == nil {
			return snapshot, nil
		}
		if !errors.Is(err, conversation.ErrMissingReference) {
			return nil, err
		}
		lastErr = err
	}

	return nil, errors.Wrapf(lastErr, "fork message not visible after %d attempts", s.forkAttempts)
}

// SendUserMessage appends a user turn to the branch, chained to the last
// message of the branch's display context.
func (s *Session) SendUserMessage(branchID conversation.BranchID, text string) (*conversation.Message, error) {
	if !s.branches.Has(branchID) {
		return nil, &conversation.BranchNotFoundError{ID: branchID}
	}

	messageOptions := []conversation.MessageOption{conversation.WithNodeID(branchID)}
	if display := s.manager.GetContextForDisplay(branchID); len(display) > 0 {
		messageOptions = append(messageOptions, conversation.WithParentID(display[len(display)-1].ID))
	}

	msg := conversation.NewUserMessage(text, messageOptions...)
	if err := s.messages.Set(msg); err != nil {
		return nil, errors.Wrap(err, "storing message")
	}
	if err := s.branches.AddMessage(branchID, msg.ID); err != nil {
		return nil, errors.Wrap(err, "attaching message")
	}

	log.Trace().
		Str("branch_id", branchID.String()).
		Str("message_id", msg.ID.String()).
		Msg("user message appended")

	s.scheduler.Request()

	return msg, nil
}

// DeleteBranch removes a branch and its whole subtree, deepest branches
// first. Running generations anywhere in the subtree are cancelled and
// drained before their branch goes away. Branch-own messages are deleted
// from the message store; inherited messages belong to ancestors and are
// left alone.
func (s *Session) DeleteBranch(branchID conversation.BranchID) error {
	if branchID.IsMain() {
		return conversation.ErrRootBranchImmutable
	}
	if !s.branches.Has(branchID) {
		return &conversation.BranchNotFoundError{ID: branchID}
	}

	g, err := s.Graph()
	if err != nil {
		return errors.Wrap(err, "deriving graph for cascade")
	}

	doomed := append(g.DescendantsInnermostFirst(branchID), branchID)
	for _, id := range doomed {
		if h, ok := s.ActiveGeneration(id); ok {
			h.Cancel()
			<-h.Done()
		}

		bc, ok := s.branches.Get(id)
		if !ok {
			continue
		}
		if len(bc.MessageIDs) > 0 {
			if err := s.messages.Delete(bc.MessageIDs...); err != nil {
				return errors.Wrapf(err, "deleting messages of branch %s", id)
			}
		}
		if err := s.branches.Delete(id); err != nil {
			return errors.Wrapf(err, "deleting branch %s", id)
		}

		s.mu.Lock()
		delete(s.minimized, id)
		s.mu.Unlock()
	}

	log.Debug().
		Str("session_id", s.id).
		Str("branch_id", branchID.String()).
		Int("deleted_count", len(doomed)).
		Msg("deleted branch subtree")

	s.scheduler.Request()

	return nil
}

// LinkBranches records an explicit cross-branch reference so the target
// branch's context rides along in the source branch's inference payload.
// Linking is idempotent and never implied by ancestry.
func (s *Session) LinkBranches(branchID, targetID conversation.BranchID) error {
	if branchID == targetID {
		return errors.New("cannot link a branch to itself")
	}
	bc, ok := s.branches.Get(branchID)
	if !ok {
		return &conversation.BranchNotFoundError{ID: branchID}
	}
	if !s.branches.Has(targetID) {
		return &conversation.BranchNotFoundError{ID: targetID}
	}

	for _, linked := range bc.Metadata.LinkedBranches {
		if linked == targetID {
			return nil
		}
	}

	linked := append(append([]conversation.BranchID(nil), bc.Metadata.LinkedBranches...), targetID)
	return s.branches.UpdateMetadata(branchID, conversation.BranchMetadataPatch{LinkedBranches: linked})
}

func (s *Session) UnlinkBranches(branchID, targetID conversation.BranchID) error {
	bc, ok := s.branches.Get(branchID)
	if !ok {
		return &conversation.BranchNotFoundError{ID: branchID}
	}

	linked := make([]conversation.BranchID, 0, len(bc.Metadata.LinkedBranches))
	for _, l := range bc.Metadata.LinkedBranches {
		if l != targetID {
			linked = append(linked, l)
		}
	}
	if len(linked) == len(bc.Metadata.LinkedBranches) {
		return nil
	}
	return s.branches.UpdateMetadata(branchID, conversation.BranchMetadataPatch{LinkedBranches: linked})
}

// SetMinimized toggles a node's minimized presentation state and queues
// a relayout.
func (s *Session) SetMinimized(branchID conversation.BranchID, minimized bool) {
	s.mu.Lock()
	if minimized {
		s.minimized[branchID] = true
	} else {
		delete(s.minimized, branchID)
	}
	s.mu.Unlock()

	s.scheduler.Request()
}

func (s *Session) minimizedView() map[conversation.BranchID]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[conversation.BranchID]bool, len(s.minimized))
	for id, m := range s.minimized {
		out[id] = m
	}
	return out
}

// Graph derives the current presentation graph from the branch store.
func (s *Session) Graph() (*graph.Graph, error) {
	return graph.FromStores(s.branches, s.manager, s.minimizedView())
}

// Layout requests a layout pass and returns the most recent positions.
// A pass already in flight is never re-entered; the request coalesces
// into one follow-up pass and the previous result is returned.
func (s *Session) Layout() ([]layout.PositionedNode, error) {
	s.scheduler.Request()

	s.layoutMu.RLock()
	defer s.layoutMu.RUnlock()
	if s.layoutErr != nil {
		return nil, s.layoutErr
	}
	return append([]layout.PositionedNode(nil), s.positioned...), nil
}

func (s *Session) runLayoutPass() {
	g, err := s.Graph()
	if err != nil {
		s.layoutMu.Lock()
		s.layoutErr = err
		s.layoutMu.Unlock()
		log.Debug().Err(err).Msg("layout pass skipped, graph derivation failed")
		return
	}

	positioned := s.layoutEngine.Layout(g.Nodes, g.Edges)

	s.layoutMu.Lock()
	s.positioned = positioned
	s.layoutErr = nil
	s.layoutMu.Unlock()
}

// Export snapshots the session into a serde document, including the
// current presentation state.
func (s *Session) Export() *serde.Document {
	return serde.Export(s.messages, s.branches,
		serde.WithSessionID(s.id),
		serde.WithPresentation(s.presentation()),
	)
}

func (s *Session) presentation() []serde.NodePresentation {
	s.layoutMu.RLock()
	positioned := s.positioned
	s.layoutMu.RUnlock()
	minimized := s.minimizedView()

	positions := make(map[conversation.BranchID]layout.Point, len(positioned))
	for _, pn := range positioned {
		positions[pn.ID] = pn.Position
	}

	records := s.branches.List()
	out := make([]serde.NodePresentation, 0, len(records))
	for _, bc := range records {
		entry := serde.NodePresentation{ID: bc.ID, Minimized: minimized[bc.ID]}
		if p, ok := positions[bc.ID]; ok {
			point := p
			entry.Position = &point
		}
		out = append(out, entry)
	}
	return out
}

// Import validates the document and merges it into the session's stores.
// Minimized flags from the document's presentation state are adopted;
// positions are recomputed by the next layout pass.
func (s *Session) Import(doc *serde.Document) error {
	if err := serde.Apply(doc, s.messages, s.branches); err != nil {
		return err
	}

	s.mu.Lock()
	for _, p := range doc.Presentation {
		if p.Minimized {
			s.minimized[p.ID] = true
		}
	}
	s.mu.Unlock()

	log.Debug().
		Str("session_id", s.id).
		Int("message_count", len(doc.Messages)).
		Int("branch_count", len(doc.Branches)).
		Msg("imported document")

	s.scheduler.Request()

	return nil
}

func (s *Session) SaveToFile(path string) error {
	return serde.SaveFile(path, s.Export())
}

func (s *Session) LoadFromFile(path string) error {
	doc, err := serde.LoadFile(path)
	if err != nil {
		return err
	}
	return s.Import(doc)
}

// Close cancels all in-flight generations, waits for them to drain and
// closes the stores.
func (s *Session) Close() error {
	s.mu.Lock()
	handles := make([]*GenerationHandle, 0, len(s.active))
	for _, h := range s.active {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
		<-h.Done()
	}

	_ = s.messages.Close()
	_ = s.branches.Close()

	log.Debug().Str("session_id", s.id).Msg("session closed")
	return nil
}

func (s *Session) touch(branchID conversation.BranchID) {
	now := time.Now()
	_ = s.branches.UpdateMetadata(branchID, conversation.BranchMetadataPatch{LastActivity: &now})
}
