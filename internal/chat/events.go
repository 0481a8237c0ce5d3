// ABOUTME: Normalized stream events produced by the provider stream decoder
// ABOUTME: Closed set of event variants plus finish reason and usage types

package chat

import "encoding/json"

// EventType indicates the kind of a normalized stream event.
type EventType int

const (
	EventResponseMetadata EventType = iota
	EventTextDelta
	EventReasoningDelta
	EventToolCallDelta
	EventToolCall
	EventSource
	EventError
	EventFinish
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventResponseMetadata:
		return "response-metadata"
	case EventTextDelta:
		return "text-delta"
	case EventReasoningDelta:
		return "reasoning"
	case EventToolCallDelta:
		return "tool-call-delta"
	case EventToolCall:
		return "tool-call"
	case EventSource:
		return "source"
	case EventError:
		return "error"
	case EventFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// FinishReason is the normalized reason a provider stream ended.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content-filter"
	FinishReasonToolCalls     FinishReason = "tool-calls"
	FinishReasonError         FinishReason = "error"
	FinishReasonUnknown       FinishReason = "unknown"
)

// mapFinishReason translates a provider finish_reason into the
// normalized vocabulary.
func mapFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishReasonStop
	case "length":
		return FinishReasonLength
	case "content_filter":
		return FinishReasonContentFilter
	case "function_call", "tool_calls":
		return FinishReasonToolCalls
	default:
		return FinishReasonUnknown
	}
}

// Usage is the last reported token usage snapshot. Nil counters mean the
// provider never reported them; they are never synthesized to zero.
type Usage struct {
	PromptTokens     *int `json:"promptTokens"`
	CompletionTokens *int `json:"completionTokens"`
}

// ResponseMetadata identifies the provider response, emitted once per
// stream on the first successfully parsed chunk.
type ResponseMetadata struct {
	ID      string `json:"id,omitempty"`
	Model   string `json:"model,omitempty"`
	Created int64  `json:"created,omitempty"`
}

// ToolCallEvent is a completed tool call with fully assembled arguments.
type ToolCallEvent struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

// ToolCallDeltaEvent carries an argument text fragment for a call in
// progress.
type ToolCallDeltaEvent struct {
	ToolCallID    string `json:"toolCallId"`
	ToolName      string `json:"toolName"`
	ArgsTextDelta string `json:"argsTextDelta"`
}

// SourceEvent is a citation URL reported by the provider.
type SourceEvent struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Event is one normalized stream event. Exactly the fields relevant to
// Type are populated.
type Event struct {
	Type EventType

	Metadata      *ResponseMetadata
	TextDelta     string
	ToolCall      *ToolCallEvent
	ToolCallDelta *ToolCallDeltaEvent
	Source        *SourceEvent
	Err           error

	// For EventFinish
	FinishReason FinishReason
	Usage        Usage
}
