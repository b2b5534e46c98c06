package llm

import (
	"context"

	"github.com/pkoukk/tiktoken-go"

	"github.com/PabloGalante/parrot-api/internal/domain"
	"github.com/PabloGalante/parrot-api/internal/observability"
)

// tokensPerMessage approximates the role and separator overhead every chat
// message carries on top of its content.
const tokensPerMessage = 4

// TiktokenCounter counts tokens locally with a BPE encoding. When the
// encoding cannot be loaded it estimates four bytes per token.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter picks the encoding of model, cl100k_base otherwise.
func NewTiktokenCounter(model string) *TiktokenCounter {
	log := observability.Logger()

	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return &TiktokenCounter{encoding: enc}
		}
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn().Err(err).Msg("tiktoken encoding unavailable, estimating token counts")
		return &TiktokenCounter{}
	}
	return &TiktokenCounter{encoding: enc}
}

func (t *TiktokenCounter) CountTokens(_ context.Context, m *domain.Message) (int, error) {
	if t.encoding == nil {
		return tokensPerMessage + estimateTokens(m.Content), nil
	}
	return tokensPerMessage + len(t.encoding.Encode(m.Content, nil, nil)), nil
}

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
