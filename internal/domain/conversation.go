package domain

// Message is one entry in a thread's history. Messages are never mutated
// after they are created.
type Message struct {
	ID        MessageID
	ThreadID  ThreadID
	Role      Role
	Content   string
	CreatedAt Timestamp
}

// Prompt is the model-ready input: the system message first, then the
// trimmed history in conversational order.
type Prompt struct {
	Messages []*Message
}

// System returns the leading system message, if any, and the rest.
func (p Prompt) System() (*Message, []*Message) {
	if len(p.Messages) > 0 && p.Messages[0].Role == RoleSystem {
		return p.Messages[0], p.Messages[1:]
	}
	return nil, p.Messages
}
