package engine

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
)

// EchoEngine replies by repeating the last user message character by
// character, with a configurable delay per character. It honors
// context cancellation mid-stream, which makes it a usable stand-in
// for a real provider in tests and the demo.
type EchoEngine struct {
	TimePerCharacter time.Duration
	model            string
}

type EchoOption func(*EchoEngine)

func WithTimePerCharacter(d time.Duration) EchoOption {
	return func(e *EchoEngine) {
		e.TimePerCharacter = d
	}
}

func WithModel(model string) EchoOption {
	return func(e *EchoEngine) {
		e.model = model
	}
}

func NewEchoEngine(options ...EchoOption) *EchoEngine {
	ret := &EchoEngine{
		TimePerCharacter: 10 * time.Millisecond,
		model:            "echo",
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (e *EchoEngine) Model() string {
	return e.model
}

func (e *EchoEngine) RunInference(ctx context.Context, payload *conversation.FullContext) (*conversation.Message, error) {
	return e.RunInferenceStream(ctx, payload, nil)
}

// RunInferenceStream streams the echoed reply through the handler. On
// cancellation it returns the context error; whatever deltas were
// already handed to the handler stand as the partial result.
func (e *EchoEngine) RunInferenceStream(ctx context.Context, payload *conversation.FullContext, handler StreamChunkHandler) (*conversation.Message, error) {
	text, err := echoPrompt(payload)
	if err != nil {
		return nil, err
	}

	eg, ctx := errgroup.WithContext(ctx)

	var sb strings.Builder
	eg.Go(func() error {
		for _, r := range text {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.TimePerCharacter):
				sb.WriteRune(r)
				if handler != nil {
					err := handler(StreamChunk{Type: ChunkTypeDelta, Delta: string(r)})
					if err != nil {
						return err
					}
				}
			}
		}
		if handler != nil {
			return handler(StreamChunk{Type: ChunkTypeComplete, IsComplete: true})
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return conversation.NewAssistantMessage(e.model, sb.String()), nil
}

// echoPrompt picks the text to repeat: the most recent user message,
// or the last message of the context when no user turn exists.
func echoPrompt(payload *conversation.FullContext) (string, error) {
	if payload == nil || len(payload.Messages) == 0 {
		return "", errors.New("no input")
	}
	for i := len(payload.Messages) - 1; i >= 0; i-- {
		if payload.Messages[i].IsUser {
			return payload.Messages[i].DisplayText(), nil
		}
	}
	return payload.Messages[len(payload.Messages)-1].DisplayText(), nil
}

var _ StreamingEngine = (*EchoEngine)(nil)
