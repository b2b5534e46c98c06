package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/PabloGalante/parrot-api/internal/domain"
)

// MockLLM is a deterministic parrot for local development: it repeats the
// latest human message back with a squawk.
type MockLLM struct{}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

func (m *MockLLM) Generate(_ context.Context, p domain.Prompt) (*domain.Message, error) {
	return &domain.Message{Role: domain.RoleAI, Content: parrot(p)}, nil
}

// Stream yields the same reply as Generate, one word at a time.
func (m *MockLLM) Stream(ctx context.Context, p domain.Prompt) iter.Seq2[domain.Chunk, error] {
	reply := parrot(p)
	return func(yield func(domain.Chunk, error) bool) {
		for _, w := range strings.SplitAfter(reply, " ") {
			if err := ctx.Err(); err != nil {
				yield(domain.Chunk{}, err)
				return
			}
			if !yield(domain.Chunk{Kind: domain.ChunkAI, Text: w}, nil) {
				return
			}
		}
	}
}

func parrot(p domain.Prompt) string {
	var last string
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == domain.RoleHuman {
			last = p.Messages[i].Content
			break
		}
	}
	return fmt.Sprintf("Squawk! %q? Polly has heard better. Squawk!", last)
}
