package events

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
)

type EventType string

const (
	// EventTypeStart through EventTypeFinal cover one generation's
	// happy path; interrupt and error terminate it early.
	EventTypeStart       EventType = "start"
	EventTypePartialText EventType = "partial"
	EventTypeFinal       EventType = "final"
	EventTypeInterrupt   EventType = "interrupt"
	EventTypeError       EventType = "error"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata carries the correlation identifiers attached to every
// generation event published over watermill.
type EventMetadata struct {
	MessageID    conversation.MessageID `json:"message_id" yaml:"message_id"`
	SessionID    string                 `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	BranchID     conversation.BranchID  `json:"branch_id,omitempty" yaml:"branch_id,omitempty"`
	GenerationID string                 `json:"generation_id,omitempty" yaml:"generation_id,omitempty"`
	Model        string                 `json:"model,omitempty" yaml:"model,omitempty"`
	// Extra carries open context values the core does not interpret.
	Extra map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	if !em.MessageID.IsZero() {
		e.Str("message_id", em.MessageID.String())
	}
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if !em.BranchID.IsZero() {
		e.Str("branch_id", em.BranchID.String())
	}
	if em.GenerationID != "" {
		e.Str("generation_id", em.GenerationID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if len(em.Extra) > 0 {
		e.Dict("extra", zerolog.Dict().Fields(em.Extra))
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw JSON the event was decoded from, set by NewEventFromJson
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) SetPayload(b []byte) {
	e.payload = b
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

type EventGenerationStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventGenerationStart {
	return &EventGenerationStart{
		EventImpl: EventImpl{
			Type_:     EventTypeStart,
			Metadata_: metadata,
		},
	}
}

var _ Event = &EventGenerationStart{}

// EventPartialText carries one streaming delta plus the accumulated
// text so far, so consumers can render without replaying the stream.
type EventPartialText struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialTextEvent(metadata EventMetadata, delta string, completion string) *EventPartialText {
	return &EventPartialText{
		EventImpl: EventImpl{
			Type_:     EventTypePartialText,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventPartialText{}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventFinal{}

// EventInterrupt reports a cancelled generation; Text holds whatever
// partial text had been flushed before the cancellation.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{
			Type_:     EventTypeInterrupt,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventInterrupt{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
	}
}

var _ Event = &EventError{}

// NewEventFromJson decodes an event back into its typed form based on
// the type header.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}

	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		ret, ok := ToTypedEvent[EventGenerationStart](e)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventGenerationStart")
		}
		return ret, nil
	case EventTypePartialText:
		ret, ok := ToTypedEvent[EventPartialText](e)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventPartialText")
		}
		return ret, nil
	case EventTypeFinal:
		ret, ok := ToTypedEvent[EventFinal](e)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventFinal")
		}
		return ret, nil
	case EventTypeInterrupt:
		ret, ok := ToTypedEvent[EventInterrupt](e)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventInterrupt")
		}
		return ret, nil
	case EventTypeError:
		ret, ok := ToTypedEvent[EventError](e)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventError")
		}
		return ret, nil
	}

	return e, nil
}

// ToTypedEvent re-decodes an event's payload into a concrete type.
func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}

func (e EventGenerationStart) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
}

func (e EventPartialText) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("delta", e.Delta).Str("completion", e.Completion)
}

func (e EventFinal) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("text", e.Text)
}

func (e EventInterrupt) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("text", e.Text)
}

func (e EventError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("error", e.ErrorString)
}

// SessionTopic is the watermill topic a session publishes its
// generation events on.
func SessionTopic(sessionID string) string {
	return "session." + sessionID
}
