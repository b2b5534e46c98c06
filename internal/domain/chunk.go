package domain

// ChunkKind tags the origin of a streamed fragment.
type ChunkKind int

const (
	ChunkAI ChunkKind = iota
	ChunkHuman
	ChunkSystem
	ChunkOther // tool calls, thoughts, usage metadata
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkAI:
		return "ai"
	case ChunkHuman:
		return "human"
	case ChunkSystem:
		return "system"
	default:
		return "other"
	}
}

// Chunk is one incremental fragment emitted by a streaming model call.
type Chunk struct {
	Kind ChunkKind
	Text string
}
