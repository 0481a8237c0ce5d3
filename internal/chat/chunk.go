// ABOUTME: Provider streaming chunk wire shape consumed by the decoder
// ABOUTME: Limited to the fields the pipeline needs, tolerant of extras

package chat

// Chunk is one parsed provider stream chunk. The schema is deliberately
// limited to what the decoder needs; unknown fields are ignored so API
// additions don't break parsing.
type Chunk struct {
	ID        string        `json:"id"`
	Created   int64         `json:"created"`
	Model     string        `json:"model"`
	Choices   []ChunkChoice `json:"choices"`
	Citations []string      `json:"citations,omitempty"`
	Usage     *ChunkUsage   `json:"usage,omitempty"`
	Error     *ChunkError   `json:"error,omitempty"`
}

// ChunkChoice is one completion choice within a chunk.
type ChunkChoice struct {
	Delta        *ChunkDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// ChunkDelta carries the incremental content of a choice.
type ChunkDelta struct {
	Role             *string         `json:"role"`
	Content          *string         `json:"content"`
	ReasoningContent *string         `json:"reasoning_content"`
	ToolCalls        []ChunkToolCall `json:"tool_calls"`
}

// ChunkToolCall is a fragment of a tool call, addressed by index.
type ChunkToolCall struct {
	Index    int           `json:"index"`
	ID       *string       `json:"id"`
	Type     *string       `json:"type"`
	Function ChunkFunction `json:"function"`
}

// ChunkFunction carries tool call name/argument fragments.
type ChunkFunction struct {
	Name      *string `json:"name"`
	Arguments *string `json:"arguments"`
}

// ChunkUsage is the provider token usage counter pair.
type ChunkUsage struct {
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
}

// ChunkError is an error object delivered in-band by the provider.
type ChunkError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}
