package domain

import (
	"context"
	"iter"
)

// LLMClient defines how the core application talks to a model backend.
// Backend failures are returned as is; the pipeline wraps them in
// *ModelInvocationError.
type LLMClient interface {
	Generate(ctx context.Context, prompt Prompt) (*Message, error)
	Stream(ctx context.Context, prompt Prompt) iter.Seq2[Chunk, error]
}

// TokenCounter measures a single message the way the backend does.
type TokenCounter interface {
	CountTokens(ctx context.Context, msg *Message) (int, error)
}

// ThreadStore owns every thread's history.
type ThreadStore interface {
	// GetHistory returns a copy of the thread's messages, empty for unknown ids.
	GetHistory(ctx context.Context, id ThreadID) ([]*Message, error)
	Append(ctx context.Context, id ThreadID, msgs ...*Message) error
	CountThreads(ctx context.Context) (int, error)
}
