// ABOUTME: JSON wire protocol spoken with satellite processes
// ABOUTME: register / tool-call / tool-result / tool-output message shapes

package satellite

import "encoding/json"

// Wire message types.
const (
	MessageTypeRegister   = "register"
	MessageTypeToolCall   = "tool-call"
	MessageTypeToolResult = "tool-result"
	MessageTypeToolOutput = "tool-output"
)

// ToolDescriptor describes one tool advertised by a satellite.
type ToolDescriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Annotations  map[string]any  `json:"annotations,omitempty"`
}

// OutputAttachment is a file produced by a tool mid-call, announced via
// a tool-output message.
type OutputAttachment struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Message is the envelope for every frame exchanged with a satellite.
// Fields are populated according to Type.
type Message struct {
	Type string `json:"type"`

	// register
	Name  string           `json:"name,omitempty"`
	Tools []ToolDescriptor `json:"tools,omitempty"`

	// tool-call / tool-result / tool-output correlation id
	ID string `json:"id,omitempty"`

	// tool-call
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// tool-result
	OK     bool            `json:"ok,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// tool-output
	Attachment *OutputAttachment `json:"attachment,omitempty"`
}
