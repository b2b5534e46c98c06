// Package history bounds a thread's message history to a token budget.
package history

import (
	"context"
	"fmt"

	"github.com/PabloGalante/parrot-api/internal/domain"
	"github.com/PabloGalante/parrot-api/internal/observability"
)

// Result is the outcome of one Trim call.
type Result struct {
	Messages []*domain.Message
	// Tokens is the total of the kept messages, system message included.
	Tokens int
	// Dropped counts the non-system messages that did not make it.
	Dropped int
	// Oversized holds messages that alone exceed the budget.
	Oversized []*domain.Message
}

// Trimmer keeps the most recent part of a history that fits a token budget.
type Trimmer struct {
	counter domain.TokenCounter
}

func NewTrimmer(counter domain.TokenCounter) *Trimmer {
	return &Trimmer{counter: counter}
}

// Trim returns the longest suffix of history that fits in maxTokens and
// starts on a human message. A leading system message is always kept and
// its tokens are charged first. Messages are never split.
func (t *Trimmer) Trim(ctx context.Context, history []*domain.Message, maxTokens int) (Result, error) {
	var (
		res    Result
		system *domain.Message
		rest   = history
	)

	if len(rest) > 0 && rest[0].Role == domain.RoleSystem {
		system = rest[0]
		rest = rest[1:]
	}

	budget := maxTokens
	if system != nil {
		n, err := t.counter.CountTokens(ctx, system)
		if err != nil {
			return Result{}, fmt.Errorf("count system tokens: %w", err)
		}
		res.Tokens = n
		budget = max(maxTokens-n, 0)
	}

	log := observability.LoggerFromContext(ctx)

	// Walk backwards and stop at the first message that does not fit.
	counts := make([]int, len(rest))
	start := len(rest)
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		n, err := t.counter.CountTokens(ctx, rest[i])
		if err != nil {
			return Result{}, fmt.Errorf("count tokens of message %s: %w", rest[i].ID, err)
		}
		if n > budget {
			res.Oversized = append(res.Oversized, rest[i])
			log.Warn().
				Str("message_id", string(rest[i].ID)).
				Str("role", string(rest[i].Role)).
				Int("tokens", n).
				Int("budget", budget).
				Msg("message exceeds the trim budget on its own, dropping it")
		}
		if used+n > budget {
			break
		}
		counts[i] = n
		used += n
		start = i
	}

	// The kept suffix must open on a human turn.
	for start < len(rest) && rest[start].Role != domain.RoleHuman {
		used -= counts[start]
		start++
	}

	kept := rest[start:]
	res.Dropped = len(rest) - len(kept)
	res.Tokens += used

	res.Messages = make([]*domain.Message, 0, len(kept)+1)
	if system != nil {
		res.Messages = append(res.Messages, system)
	}
	res.Messages = append(res.Messages, kept...)

	return res, nil
}
