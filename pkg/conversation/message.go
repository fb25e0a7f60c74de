package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-clone"
)

// Message represents a single chat message. The same record is shared by
// every branch that inherits it; message content lives here and nowhere
// else.
type Message struct {
	ParentID MessageID `json:"parentID" yaml:"parentID"`
	ID       MessageID `json:"id" yaml:"id"`
	// NodeID is the branch that owns the message, i.e. the branch it was
	// created in. Inheriting branches reference the message by id only.
	NodeID     BranchID  `json:"nodeID,omitempty" yaml:"nodeID,omitempty"`
	Time       time.Time `json:"time" yaml:"time"`
	LastUpdate time.Time `json:"lastUpdate" yaml:"lastUpdate"`

	Text   string `json:"text" yaml:"text"`
	IsUser bool   `json:"isUser" yaml:"isUser"`
	// Model is the producing model for assistant messages, empty for user
	// messages.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// GroupID ties together the sibling responses of one multi-model
	// fan-out.
	GroupID string `json:"groupID,omitempty" yaml:"groupID,omitempty"`

	// Streaming state. StreamingText accumulates deltas until Finalize
	// moves it into Text.
	Streaming     bool   `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	StreamingText string `json:"streamingText,omitempty" yaml:"streamingText,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(message *Message) {
		message.Metadata = metadata
	}
}

func WithTime(time time.Time) MessageOption {
	return func(message *Message) {
		message.Time = time
	}
}

func WithParentID(parentID MessageID) MessageOption {
	return func(message *Message) {
		message.ParentID = parentID
	}
}

func WithID(id MessageID) MessageOption {
	return func(message *Message) {
		message.ID = id
	}
}

func WithNodeID(nodeID BranchID) MessageOption {
	return func(message *Message) {
		message.NodeID = nodeID
	}
}

func WithGroupID(groupID string) MessageOption {
	return func(message *Message) {
		message.GroupID = groupID
	}
}

func NewMessage(text string, isUser bool, options ...MessageOption) *Message {
	ret := &Message{
		ID:         NewMessageID(),
		Time:       time.Now(),
		LastUpdate: time.Now(),
		Text:       text,
		IsUser:     isUser,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func NewUserMessage(text string, options ...MessageOption) *Message {
	return NewMessage(text, true, options...)
}

func NewAssistantMessage(model string, text string, options ...MessageOption) *Message {
	msg := NewMessage(text, false, options...)
	msg.Model = model
	return msg
}

// NewStreamingMessage creates an empty assistant message that accumulates
// streamed deltas until it is finalized.
func NewStreamingMessage(model string, options ...MessageOption) *Message {
	msg := NewMessage("", false, options...)
	msg.Model = model
	msg.Streaming = true
	return msg
}

// AppendStreamingText accumulates a delta on an in-flight message.
func (m *Message) AppendStreamingText(delta string) error {
	if !m.Streaming {
		return ErrMessageFinalized
	}
	m.StreamingText += delta
	m.LastUpdate = time.Now()
	return nil
}

// Finalize moves the accumulated streaming text into Text and marks the
// message immutable. Finalizing an already-final message is a no-op.
func (m *Message) Finalize() {
	if !m.Streaming {
		return
	}
	m.Text = m.StreamingText
	m.StreamingText = ""
	m.Streaming = false
	m.LastUpdate = time.Now()
}

// DisplayText returns the streamed text while in flight, the final text
// afterwards.
func (m *Message) DisplayText() string {
	if m.Streaming {
		return m.StreamingText
	}
	return m.Text
}

func (m *Message) Clone() *Message {
	return clone.Clone(m).(*Message)
}

func (m *Message) Role() string {
	if m.IsUser {
		return "user"
	}
	if m.Model != "" {
		return m.Model
	}
	return "assistant"
}

type Conversation []*Message

// GetSinglePrompt concatenates the conversation into a single prompt
// string, one "[role]: text" line per message.
func (messages Conversation) GetSinglePrompt() string {
	if len(messages) == 0 {
		return ""
	}

	if len(messages) == 1 {
		return messages[0].DisplayText()
	}

	var sb strings.Builder
	for _, message := range messages {
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", message.Role(), message.DisplayText()))
	}

	return sb.String()
}

// IDs returns the message ids in conversation order.
func (messages Conversation) IDs() []MessageID {
	ids := make([]MessageID, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.ID)
	}
	return ids
}

func (messages Conversation) Clone() Conversation {
	out := make(Conversation, 0, len(messages))
	for _, message := range messages {
		out = append(out, message.Clone())
	}
	return out
}
