package engine

// Package engine defines the boundary between the branch graph core
// and whatever produces assistant replies. Provider adapters live
// outside this module; the core only depends on these interfaces and
// ships EchoEngine as a scripted stand-in for tests and demos.

import (
	"context"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
)

// Engine produces one assistant message for a fully resolved branch
// context.
type Engine interface {
	RunInference(ctx context.Context, payload *conversation.FullContext) (*conversation.Message, error)
}

type ChunkType string

const (
	ChunkTypeDelta    ChunkType = "delta"
	ChunkTypeComplete ChunkType = "complete"
)

// StreamChunk is one increment of a streamed reply. Delta carries new
// text on delta chunks; the complete chunk closes the stream.
type StreamChunk struct {
	Type       ChunkType `json:"type"`
	Delta      string    `json:"delta,omitempty"`
	IsComplete bool      `json:"isComplete"`
}

// StreamChunkHandler consumes stream chunks in order. Returning an
// error aborts the inference run.
type StreamChunkHandler func(chunk StreamChunk) error

// StreamingEngine additionally streams the reply incrementally through
// a chunk handler before returning the final message.
type StreamingEngine interface {
	Engine
	RunInferenceStream(ctx context.Context, payload *conversation.FullContext, handler StreamChunkHandler) (*conversation.Message, error)
}
