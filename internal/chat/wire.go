// ABOUTME: Provider chat-completion wire message types sent on each turn
// ABOUTME: Handles the string-or-parts content duality of the OpenAI-style API

package chat

import "encoding/json"

// ProviderToolCall is a tool call entry on an assistant wire message.
type ProviderToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ProviderFunction `json:"function"`
}

// ProviderFunction names the function and carries its serialized arguments.
type ProviderFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ImageURL wraps an inline image content part.
type ImageURL struct {
	URL string `json:"url"`
}

// FileData wraps an inline generic file content part.
type FileData struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// ContentPart is one element of a multi-part user message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
	File     *FileData `json:"file,omitempty"`
}

// ProviderMessage is one entry of the conversation sent to the provider.
// Content marshals as a plain string unless Parts is set, in which case
// it marshals as a part array.
type ProviderMessage struct {
	Role       string
	Content    string
	Parts      []ContentPart
	ToolCalls  []ProviderToolCall
	ToolCallID string

	// ReasoningContent and ReasoningSignature are provider-specific
	// opaque reasoning metadata replayed verbatim on assistant entries.
	ReasoningContent   string
	ReasoningSignature json.RawMessage
}

type providerMessageJSON struct {
	Role               string             `json:"role"`
	Content            any                `json:"content"`
	ToolCalls          []ProviderToolCall `json:"tool_calls,omitempty"`
	ToolCallID         string             `json:"tool_call_id,omitempty"`
	ReasoningContent   string             `json:"reasoning_content,omitempty"`
	ReasoningSignature json.RawMessage    `json:"reasoning_signature,omitempty"`
}

// MarshalJSON renders Content as either a string or a part array.
func (m ProviderMessage) MarshalJSON() ([]byte, error) {
	out := providerMessageJSON{
		Role:               m.Role,
		ToolCalls:          m.ToolCalls,
		ToolCallID:         m.ToolCallID,
		ReasoningContent:   m.ReasoningContent,
		ReasoningSignature: m.ReasoningSignature,
	}
	if m.Parts != nil {
		out.Content = m.Parts
	} else {
		out.Content = m.Content
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both content encodings.
func (m *ProviderMessage) UnmarshalJSON(data []byte) error {
	var in struct {
		Role               string             `json:"role"`
		Content            json.RawMessage    `json:"content"`
		ToolCalls          []ProviderToolCall `json:"tool_calls"`
		ToolCallID         string             `json:"tool_call_id"`
		ReasoningContent   string             `json:"reasoning_content"`
		ReasoningSignature json.RawMessage    `json:"reasoning_signature"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Role = in.Role
	m.ToolCalls = in.ToolCalls
	m.ToolCallID = in.ToolCallID
	m.ReasoningContent = in.ReasoningContent
	m.ReasoningSignature = in.ReasoningSignature
	m.Content = ""
	m.Parts = nil
	if len(in.Content) == 0 || string(in.Content) == "null" {
		return nil
	}
	if in.Content[0] == '[' {
		return json.Unmarshal(in.Content, &m.Parts)
	}
	return json.Unmarshal(in.Content, &m.Content)
}
