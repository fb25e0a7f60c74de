package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
	"github.com/casualhermit27/branched-sub001/pkg/engine"
	"github.com/casualhermit27/branched-sub001/pkg/events"
)

var (
	ErrNilEngine           = errors.New("nil inference engine")
	ErrGenerationHandleNil = errors.New("generation handle is nil")
)

// ConcurrentGenerationError reports that a generation was cancelled
// because a newer one took over its branch. It matches
// context.Canceled, so callers that only care about cancellation need
// no special case.
type ConcurrentGenerationError struct {
	BranchID conversation.BranchID
}

func (e *ConcurrentGenerationError) Error() string {
	return fmt.Sprintf("generation superseded on branch %q", e.BranchID)
}

func (e *ConcurrentGenerationError) Is(target error) bool { return target == context.Canceled }

// GenerationHandle represents one in-flight generation on one branch.
// It is cancelable and waitable; the generation itself is always driven
// by context cancellation.
type GenerationHandle struct {
	BranchID     conversation.BranchID
	GenerationID string
	// MessageID is the streaming message record the generation writes
	// into.
	MessageID conversation.MessageID

	done chan struct{}

	mu         sync.Mutex
	cancel     context.CancelFunc
	superseded bool
	out        *conversation.Message
	err        error
}

func newGenerationHandle(branchID conversation.BranchID, generationID string, messageID conversation.MessageID, cancel context.CancelFunc) *GenerationHandle {
	return &GenerationHandle{
		BranchID:     branchID,
		GenerationID: generationID,
		MessageID:    messageID,
		done:         make(chan struct{}),
		cancel:       cancel,
	}
}

func (h *GenerationHandle) setResult(out *conversation.Message, err error) {
	h.mu.Lock()
	h.out = out
	h.err = err
	close(h.done)
	h.cancel = nil
	h.mu.Unlock()
}

// markSuperseded records that a newer generation is taking over the
// branch, so Wait can report the takeover instead of a bare
// cancellation.
func (h *GenerationHandle) markSuperseded() {
	h.mu.Lock()
	h.superseded = true
	h.mu.Unlock()
}

// Cancel interrupts the generation. Safe to call multiple times.
func (h *GenerationHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the generation completes and returns the finalized
// message and error.
func (h *GenerationHandle) Wait() (*conversation.Message, error) {
	if h == nil {
		return nil, ErrGenerationHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.superseded && errors.Is(h.err, context.Canceled) {
		return h.out, &ConcurrentGenerationError{BranchID: h.BranchID}
	}
	return h.out, h.err
}

// IsRunning reports whether the generation appears to still be running.
func (h *GenerationHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed once the generation has flushed and
// finalized.
func (h *GenerationHandle) Done() <-chan struct{} {
	return h.done
}

type generationSettings struct {
	model string
}

type GenerationOption func(*generationSettings)

// WithModel overrides the model recorded on the streaming message and
// the published events. Defaults to the branch's first selected model.
func WithModel(model string) GenerationOption {
	return func(settings *generationSettings) {
		settings.model = model
	}
}

// StartGeneration runs an inference for the branch asynchronously and
// returns a handle to it.
//
// One writer per branch: if the branch already has a generation in
// flight it is cancelled and drained before the new handle takes over.
// Distinct branches generate concurrently. Streaming deltas accumulate
// on a single message record, which is finalized with all buffered text
// flushed no matter how the generation ends. Events go out on the
// session's topic: start, one partial per delta, then final, interrupt
// or error.
func (s *Session) StartGeneration(ctx context.Context, branchID conversation.BranchID, eng engine.Engine, options ...GenerationOption) (*GenerationHandle, error) {
	if eng == nil {
		return nil, ErrNilEngine
	}
	if ctx == nil {
		ctx = context.Background()
	}
	settings := &generationSettings{}
	for _, option := range options {
		option(settings)
	}

	bc, ok := s.branches.Get(branchID)
	if !ok {
		return nil, &conversation.BranchNotFoundError{ID: branchID}
	}

	model := settings.model
	if model == "" && len(bc.Metadata.SelectedModels) > 0 {
		model = bc.Metadata.SelectedModels[0]
	}
	if model == "" {
		model = "assistant"
	}

	payload, err := s.manager.GetFullContext(ctx, branchID)
	if err != nil {
		return nil, errors.Wrap(err, "assembling generation context")
	}

	messageOptions := []conversation.MessageOption{conversation.WithNodeID(branchID)}
	if len(payload.Messages) > 0 {
		messageOptions = append(messageOptions, conversation.WithParentID(payload.Messages[len(payload.Messages)-1].ID))
	}
	streaming := conversation.NewStreamingMessage(model, messageOptions...)
	if err := s.messages.Set(streaming); err != nil {
		return nil, errors.Wrap(err, "storing streaming message")
	}
	if err := s.branches.AddMessage(branchID, streaming.ID); err != nil {
		return nil, errors.Wrap(err, "attaching streaming message")
	}

	generationID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	handle := newGenerationHandle(branchID, generationID, streaming.ID, cancel)

	// Cancellation-token handoff: whoever holds the branch is cancelled
	// and drained before the new handle is installed.
	for {
		s.mu.Lock()
		prev := s.active[branchID]
		if prev == nil || !prev.IsRunning() {
			s.active[branchID] = handle
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		log.Debug().
			Str("branch_id", branchID.String()).
			Str("generation_id", prev.GenerationID).
			Msg("cancelling previous generation for branch")
		prev.markSuperseded()
		prev.Cancel()
		<-prev.Done()
	}

	meta := events.EventMetadata{
		MessageID:    streaming.ID,
		SessionID:    s.id,
		BranchID:     branchID,
		GenerationID: generationID,
		Model:        model,
	}
	s.publisher.PublishBlind(events.NewStartEvent(meta))

	log.Debug().
		Str("branch_id", branchID.String()).
		Str("generation_id", generationID).
		Str("model", model).
		Int("context_messages", len(payload.Messages)).
		Msg("generation started")

	go func() {
		defer cancel()
		defer func() {
			s.mu.Lock()
			if s.active[branchID] == handle {
				delete(s.active, branchID)
			}
			s.mu.Unlock()
		}()

		out, runErr := s.runGeneration(runCtx, eng, payload, meta)
		handle.setResult(out, runErr)

		s.touch(branchID)
		s.scheduler.Request()
	}()

	return handle, nil
}

func (s *Session) runGeneration(ctx context.Context, eng engine.Engine, payload *conversation.FullContext, meta events.EventMetadata) (*conversation.Message, error) {
	messageID := meta.MessageID
	completion := ""

	handler := func(chunk engine.StreamChunk) error {
		if chunk.Type != engine.ChunkTypeDelta || chunk.Delta == "" {
			return nil
		}
		if err := s.messages.ApplyStreamingDelta(messageID, chunk.Delta); err != nil {
			return err
		}
		completion += chunk.Delta
		s.publisher.PublishBlind(events.NewPartialTextEvent(meta, chunk.Delta, completion))
		return nil
	}

	var (
		result *conversation.Message
		runErr error
	)
	if streamer, ok := eng.(engine.StreamingEngine); ok {
		result, runErr = streamer.RunInferenceStream(ctx, payload, handler)
	} else {
		result, runErr = eng.RunInference(ctx, payload)
	}

	// A non-streaming engine produced everything at once; push it into
	// the message record so finalization flushes it like any other text.
	if runErr == nil && result != nil && completion == "" && result.Text != "" {
		if err := s.messages.ApplyStreamingDelta(messageID, result.Text); err == nil {
			completion = result.Text
		}
	}

	final, finalizeErr := s.messages.FinalizeMessage(messageID)
	if finalizeErr != nil {
		log.Debug().
			Err(finalizeErr).
			Str("message_id", messageID.String()).
			Msg("streaming message gone before finalization")
	}

	text := ""
	if final != nil {
		text = final.Text
	}

	switch {
	case runErr == nil:
		s.publisher.PublishBlind(events.NewFinalEvent(meta, text))
		log.Debug().
			Str("generation_id", meta.GenerationID).
			Int("text_len", len(text)).
			Msg("generation complete")
		return final, nil
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		s.publisher.PublishBlind(events.NewInterruptEvent(meta, text))
		log.Debug().
			Str("generation_id", meta.GenerationID).
			Int("text_len", len(text)).
			Msg("generation interrupted")
		return final, runErr
	default:
		s.publisher.PublishBlind(events.NewErrorEvent(meta, runErr))
		log.Debug().
			Err(runErr).
			Str("generation_id", meta.GenerationID).
			Msg("generation failed")
		return final, runErr
	}
}

// CancelGeneration interrupts the branch's in-flight generation and
// reports whether there was one. The generation drains asynchronously;
// wait on its handle for the flushed result.
func (s *Session) CancelGeneration(branchID conversation.BranchID) bool {
	s.mu.Lock()
	h := s.active[branchID]
	s.mu.Unlock()

	if h == nil || !h.IsRunning() {
		return false
	}
	h.Cancel()
	return true
}

// ActiveGeneration returns the running handle for a branch, if any.
func (s *Session) ActiveGeneration(branchID conversation.BranchID) (*GenerationHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.active[branchID]
	if h == nil || !h.IsRunning() {
		return nil, false
	}
	return h, true
}
