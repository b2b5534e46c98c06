// Package prompt turns a trimmed history into model-ready input.
package prompt

import (
	"github.com/PabloGalante/parrot-api/internal/domain"
)

// Assembler prepends a fixed persona to every prompt.
type Assembler struct {
	system string
}

func NewAssembler(system string) *Assembler {
	return &Assembler{system: system}
}

// Assemble returns the system message followed by history in order.
// A system message already present in history is replaced, never duplicated.
func (a *Assembler) Assemble(history []*domain.Message) domain.Prompt {
	msgs := make([]*domain.Message, 0, len(history)+1)
	msgs = append(msgs, &domain.Message{
		Role:    domain.RoleSystem,
		Content: a.system,
	})
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	return domain.Prompt{Messages: msgs}
}
