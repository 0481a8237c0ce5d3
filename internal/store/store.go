// ABOUTME: Store interface and data types for conversation persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation that already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// Role identifies the kind of a persisted message.
type Role string

// Message roles. Only user, assistant and tool-result messages are ever
// sent back to a provider; the rest are UI/audit artifacts.
const (
	RoleUser             Role = "user"
	RoleAssistant        Role = "assistant"
	RoleToolResult       Role = "tool-result"
	RoleToolAuthRequest  Role = "tool-auth-request"
	RoleToolAuthResponse Role = "tool-auth-response"
	RoleToolOutput       Role = "tool-output"
	RoleToolDebug        Role = "tool-debug"
	RoleError            Role = "error"
)

// PartType identifies the kind of an assistant message part.
type PartType string

const (
	PartTypeText      PartType = "text"
	PartTypeReasoning PartType = "reasoning"
	PartTypeToolCall  PartType = "tool-call"
	PartTypeError     PartType = "error"
	PartTypeDebug     PartType = "debug"
)

// ToolCall is a completed tool invocation requested by the assistant.
type ToolCall struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

// ToolCallResult is the outcome of a tool invocation.
type ToolCallResult struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Result     json.RawMessage `json:"result"`
}

// Part is one ordered element of an assistant message.
type Part struct {
	Type PartType `json:"type"`

	// Text carries the content for text, reasoning, error and debug parts.
	Text string `json:"text,omitempty"`

	// Signature is provider-specific opaque metadata attached to a
	// reasoning part. It is passed back verbatim, never reinterpreted.
	Signature json.RawMessage `json:"signature,omitempty"`

	ToolCall *ToolCall `json:"toolCall,omitempty"`
}

// Attachment references an uploaded file owned by a user message.
// Content is resolved through an external storage collaborator.
type Attachment struct {
	ID       string `json:"id"`
	Mimetype string `json:"mimetype"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
}

// Message is a node in a conversation tree. Every message except a
// conversation root has Parent referencing an earlier message in the
// same conversation.
type Message struct {
	ID             string
	ConversationID string
	Parent         *string
	Role           Role
	SentAt         time.Time

	// Content is the plain text payload for user, error, debug and
	// tool-output messages.
	Content string

	// Parts is the ordered payload of an assistant message.
	Parts []Part

	// Attachments belong to user messages.
	Attachments []Attachment

	// ToolCall is the call awaiting approval on a tool-auth-request.
	ToolCall *ToolCall

	// ToolResult is the payload of a tool-result message.
	ToolResult *ToolCallResult

	// Allow is the verdict carried by a tool-auth-response.
	Allow bool
}

// ToolCalls returns the completed tool calls held by an assistant message.
func (m *Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Type == PartTypeToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// Text concatenates the text parts of an assistant message.
func (m *Message) Text() string {
	if m.Role != RoleAssistant {
		return m.Content
	}
	var text string
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			text += p.Text
		}
	}
	return text
}

// Conversation groups a forest of messages under one id.
type Conversation struct {
	ID        string
	OwnerID   string
	Title     string
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
	ListConversations(ctx context.Context, ownerID string, limit int) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// DeleteMessages removes the given message ids. Cascading is computed
	// by the caller via tree traversal, not by the database.
	DeleteMessages(ctx context.Context, ids []string) error

	// Close releases any resources held by the store
	Close() error
}
