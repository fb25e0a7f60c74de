package conversation

import "context"

// MemoryProvider supplies long-term memory context for a branch. The
// memory service itself is an external collaborator; implementations
// wrap whatever backend provides it.
type MemoryProvider interface {
	Retrieve(ctx context.Context, branchID BranchID, messages Conversation) (string, error)
}

// NopMemoryProvider returns no memory context. It is the default.
type NopMemoryProvider struct{}

func (NopMemoryProvider) Retrieve(_ context.Context, _ BranchID, _ Conversation) (string, error) {
	return "", nil
}

var _ MemoryProvider = NopMemoryProvider{}

// StaticMemoryProvider returns a fixed memory context, mainly for tests
// and demos.
type StaticMemoryProvider struct {
	Context string
}

func (p StaticMemoryProvider) Retrieve(_ context.Context, _ BranchID, _ Conversation) (string, error) {
	return p.Context, nil
}

var _ MemoryProvider = StaticMemoryProvider{}
