package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/PabloGalante/parrot-api/internal/domain"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient talks to any OpenAI compatible chat completions endpoint.
type OpenAIClient struct {
	client    *openai.Client
	modelName string
}

func NewOpenAIClient(apiKey, baseURL, modelName string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai client needs an API key")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if modelName == "" {
		modelName = defaultOpenAIModel
	}

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(cfg),
		modelName: modelName,
	}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, p domain.Prompt) (*domain.Message, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(p, false))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("openai returned empty text")
	}

	return &domain.Message{Role: domain.RoleAI, Content: resp.Choices[0].Message.Content}, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, p domain.Prompt) iter.Seq2[domain.Chunk, error] {
	req := c.request(p, true)

	return func(yield func(domain.Chunk, error) bool) {
		stream, err := c.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield(domain.Chunk{}, fmt.Errorf("openai stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(domain.Chunk{}, fmt.Errorf("openai stream: %w", err))
				return
			}

			for _, ch := range streamChunks(resp) {
				if !yield(ch, nil) {
					return
				}
			}
		}
	}
}

func (c *OpenAIClient) request(p domain.Prompt, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(p.Messages))
	for _, m := range p.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:    c.modelName,
		Messages: msgs,
		Stream:   stream,
	}
}

func openAIRole(r domain.Role) string {
	switch r {
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	case domain.RoleAI:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// streamChunks maps one stream delta. Tool call deltas are ChunkOther.
func streamChunks(resp openai.ChatCompletionStreamResponse) []domain.Chunk {
	var out []domain.Chunk
	for _, choice := range resp.Choices {
		if choice.Index != 0 {
			continue
		}
		for _, tc := range choice.Delta.ToolCalls {
			out = append(out, domain.Chunk{Kind: domain.ChunkOther, Text: tc.Function.Name + tc.Function.Arguments})
		}
		if choice.Delta.Content != "" {
			out = append(out, domain.Chunk{Kind: domain.ChunkAI, Text: choice.Delta.Content})
		}
	}
	return out
}
