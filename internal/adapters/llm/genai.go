package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/PabloGalante/parrot-api/internal/domain"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GenAIOptions selects the backend. Project and Location are used by Vertex
// AI, APIKey by the Gemini Developer API.
type GenAIOptions struct {
	Backend   genai.Backend
	Project   string
	Location  string
	APIKey    string
	ModelName string
}

// GenAIClient talks to Gemini models through Vertex AI or the Gemini API.
// It implements both domain.LLMClient and domain.TokenCounter.
type GenAIClient struct {
	client    *genai.Client
	modelName string
}

func NewGenAIClient(ctx context.Context, opts GenAIOptions) (*GenAIClient, error) {
	cc := &genai.ClientConfig{Backend: opts.Backend}
	switch opts.Backend {
	case genai.BackendVertexAI:
		if opts.Project == "" || opts.Location == "" {
			return nil, fmt.Errorf("vertex backend needs a project and a location")
		}
		cc.Project = opts.Project
		cc.Location = opts.Location
	case genai.BackendGeminiAPI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("gemini backend needs an API key")
		}
		cc.APIKey = opts.APIKey
	default:
		return nil, fmt.Errorf("unsupported genai backend %v", opts.Backend)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	modelName := opts.ModelName
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	return &GenAIClient{client: client, modelName: modelName}, nil
}

func (c *GenAIClient) Generate(ctx context.Context, p domain.Prompt) (*domain.Message, error) {
	contents, cfg := toGenAI(p)

	res, err := c.client.Models.GenerateContent(ctx, c.modelName, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai generate content: %w", err)
	}

	var text strings.Builder
	for _, ch := range chunksOf(res) {
		if ch.Kind == domain.ChunkAI {
			text.WriteString(ch.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("genai returned empty text")
	}

	return &domain.Message{Role: domain.RoleAI, Content: text.String()}, nil
}

func (c *GenAIClient) Stream(ctx context.Context, p domain.Prompt) iter.Seq2[domain.Chunk, error] {
	contents, cfg := toGenAI(p)

	return func(yield func(domain.Chunk, error) bool) {
		for res, err := range c.client.Models.GenerateContentStream(ctx, c.modelName, contents, cfg) {
			if err != nil {
				yield(domain.Chunk{}, fmt.Errorf("genai stream: %w", err))
				return
			}
			for _, ch := range chunksOf(res) {
				if !yield(ch, nil) {
					return
				}
			}
		}
	}
}

// CountTokens asks the model for the size of one message.
func (c *GenAIClient) CountTokens(ctx context.Context, m *domain.Message) (int, error) {
	contents := []*genai.Content{genai.NewContentFromText(m.Content, roleOf(m.Role))}

	res, err := c.client.Models.CountTokens(ctx, c.modelName, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("genai count tokens: %w", err)
	}
	return int(res.TotalTokens), nil
}

// toGenAI splits the prompt into the system instruction and the turns.
func toGenAI(p domain.Prompt) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := p.System()

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		contents = append(contents, genai.NewContentFromText(m.Content, roleOf(m.Role)))
	}

	cfg := &genai.GenerateContentConfig{}
	if system != nil {
		// System instructions carry the user role.
		cfg.SystemInstruction = genai.NewContentFromText(system.Content, genai.RoleUser)
	}
	return contents, cfg
}

func roleOf(r domain.Role) genai.Role {
	if r == domain.RoleAI {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// chunksOf maps one response to chunks. Thoughts, function calls and usage
// metadata are kept as ChunkOther.
func chunksOf(res *genai.GenerateContentResponse) []domain.Chunk {
	if res == nil {
		return nil
	}

	var out []domain.Chunk
	// Only the first candidate is the reply.
	if len(res.Candidates) > 0 && res.Candidates[0] != nil && res.Candidates[0].Content != nil {
		for _, part := range res.Candidates[0].Content.Parts {
			switch {
			case part == nil:
			case part.FunctionCall != nil:
				out = append(out, domain.Chunk{Kind: domain.ChunkOther, Text: "function_call:" + part.FunctionCall.Name})
			case part.Thought:
				out = append(out, domain.Chunk{Kind: domain.ChunkOther, Text: part.Text})
			case part.Text != "":
				out = append(out, domain.Chunk{Kind: domain.ChunkAI, Text: part.Text})
			}
		}
	}
	if u := res.UsageMetadata; u != nil {
		out = append(out, domain.Chunk{
			Kind: domain.ChunkOther,
			Text: fmt.Sprintf("usage: prompt=%d candidates=%d", u.PromptTokenCount, u.CandidatesTokenCount),
		})
	}
	return out
}
