package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
)

func testMetadata() EventMetadata {
	return EventMetadata{
		MessageID:    conversation.NewMessageID(),
		SessionID:    "session-1",
		BranchID:     conversation.MainBranchID,
		GenerationID: "gen-1",
		Model:        "echo",
	}
}

func TestPartialTextEventRoundTrip(t *testing.T) {
	meta := testMetadata()
	ev := NewPartialTextEvent(meta, "wor", "hello wor")

	b, err := json.Marshal(ev)
	require.NoError(t, err)

	decoded, err := NewEventFromJson(b)
	require.NoError(t, err)
	require.Equal(t, EventTypePartialText, decoded.Type())

	partial, ok := decoded.(*EventPartialText)
	require.True(t, ok)
	assert.Equal(t, "wor", partial.Delta)
	assert.Equal(t, "hello wor", partial.Completion)
	assert.Equal(t, meta.MessageID, partial.Metadata().MessageID)
	assert.Equal(t, meta.BranchID, partial.Metadata().BranchID)
	assert.Equal(t, meta.GenerationID, partial.Metadata().GenerationID)
}

func TestEventTypesDecodeToTypedEvents(t *testing.T) {
	meta := testMetadata()
	cases := []struct {
		event Event
		want  EventType
	}{
		{NewStartEvent(meta), EventTypeStart},
		{NewFinalEvent(meta, "done"), EventTypeFinal},
		{NewInterruptEvent(meta, "partial tex"), EventTypeInterrupt},
		{NewErrorEvent(meta, errors.New("engine exploded")), EventTypeError},
	}
	for _, tc := range cases {
		b, err := json.Marshal(tc.event)
		require.NoError(t, err)
		decoded, err := NewEventFromJson(b)
		require.NoError(t, err)
		assert.Equal(t, tc.want, decoded.Type())
	}
}

func TestUnknownEventTypeStaysGeneric(t *testing.T) {
	decoded, err := NewEventFromJson([]byte(`{"type":"mystery","meta":{}}`))
	require.NoError(t, err)
	assert.Equal(t, EventType("mystery"), decoded.Type())
	_, isImpl := decoded.(*EventImpl)
	assert.True(t, isImpl)
}

func TestErrorEventCarriesMessage(t *testing.T) {
	ev := NewErrorEvent(testMetadata(), errors.New("boom"))
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	decoded, err := NewEventFromJson(b)
	require.NoError(t, err)
	typed, ok := decoded.(*EventError)
	require.True(t, ok)
	assert.Equal(t, "boom", typed.ErrorString)
}

type capturePublisher struct {
	published []*message.Message
	fail      bool
}

func (c *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	if c.fail {
		return errors.New("publisher down")
	}
	c.published = append(c.published, msgs...)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestPublisherManagerStampsSequenceNumbers(t *testing.T) {
	pm := NewPublisherManager()
	capture := &capturePublisher{}
	pm.SubscribePublisher("topic-a", capture)

	require.NoError(t, pm.Publish(NewStartEvent(testMetadata())))
	require.NoError(t, pm.Publish(NewFinalEvent(testMetadata(), "x")))

	require.Len(t, capture.published, 2)
	assert.Equal(t, "0", capture.published[0].Metadata.Get("sequence_number"))
	assert.Equal(t, "1", capture.published[1].Metadata.Get("sequence_number"))
}

func TestPublisherManagerFanOut(t *testing.T) {
	pm := NewPublisherManager()
	first := &capturePublisher{}
	second := &capturePublisher{}
	pm.SubscribePublisher("topic-a", first)
	pm.SubscribePublisher("topic-a", second)

	require.NoError(t, pm.Publish(NewStartEvent(testMetadata())))
	assert.Len(t, first.published, 1)
	assert.Len(t, second.published, 1)
}

func TestPublishBlindSwallowsPublisherErrors(t *testing.T) {
	pm := NewPublisherManager()
	pm.SubscribePublisher("topic-a", &capturePublisher{fail: true})
	// a failing downstream publisher is logged, not surfaced
	pm.PublishBlind(NewStartEvent(testMetadata()))
}

type recordingHandler struct {
	types []EventType
	errs  []string
}

func (r *recordingHandler) HandleStart(_ context.Context, e *EventGenerationStart) error {
	r.types = append(r.types, e.Type())
	return nil
}

func (r *recordingHandler) HandlePartial(_ context.Context, e *EventPartialText) error {
	r.types = append(r.types, e.Type())
	return nil
}

func (r *recordingHandler) HandleFinal(_ context.Context, e *EventFinal) error {
	r.types = append(r.types, e.Type())
	return nil
}

func (r *recordingHandler) HandleInterrupt(_ context.Context, e *EventInterrupt) error {
	r.types = append(r.types, e.Type())
	return nil
}

func (r *recordingHandler) HandleError(_ context.Context, e *EventError) error {
	r.types = append(r.types, e.Type())
	r.errs = append(r.errs, e.ErrorString)
	return nil
}

func TestDispatchHandlerRoutesByType(t *testing.T) {
	rec := &recordingHandler{}
	dispatch := NewDispatchHandler(rec)

	meta := testMetadata()
	for _, ev := range []Event{
		NewStartEvent(meta),
		NewPartialTextEvent(meta, "a", "a"),
		NewFinalEvent(meta, "ab"),
		NewErrorEvent(meta, errors.New("late failure")),
	} {
		b, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, dispatch(message.NewMessage("m", b)))
	}

	assert.Equal(t, []EventType{EventTypeStart, EventTypePartialText, EventTypeFinal, EventTypeError}, rec.types)
	assert.Equal(t, []string{"late failure"}, rec.errs)
}

func TestDispatchHandlerToleratesGarbage(t *testing.T) {
	rec := &recordingHandler{}
	dispatch := NewDispatchHandler(rec)
	require.NoError(t, dispatch(message.NewMessage("m", []byte("not json"))))
	assert.Empty(t, rec.types)
}
