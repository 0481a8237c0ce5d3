// ABOUTME: Converts persisted conversation messages to the provider wire format
// ABOUTME: Rebuilds user attachments as inline content the target model can consume

package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/logicleai/logicle/internal/models"
	"github.com/logicleai/logicle/internal/store"
)

// FileStore resolves attachment ids to their content. It is an external
// collaborator; the pipeline only depends on this interface.
type FileStore interface {
	ReadFile(ctx context.Context, id string) ([]byte, error)
}

// Image formats the providers reliably accept inline. Anything else
// uploaded as an "image" would make the request fail, so it is gated
// here rather than at upload time.
var acceptableImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

// Converter translates persisted messages into provider wire messages.
type Converter struct {
	files  FileStore
	logger *slog.Logger
}

// NewConverter creates a converter backed by the given file storage.
func NewConverter(files FileStore, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{files: files, logger: logger.With("component", "converter")}
}

// ToProviderMessage converts one persisted message. It returns nil for
// message kinds that are UI/audit artifacts and never reach a provider.
func (c *Converter) ToProviderMessage(ctx context.Context, m *store.Message, caps models.Capabilities) (*ProviderMessage, error) {
	switch m.Role {
	case store.RoleToolAuthRequest, store.RoleToolAuthResponse,
		store.RoleToolDebug, store.RoleToolOutput, store.RoleError:
		return nil, nil

	case store.RoleToolResult:
		if m.ToolResult == nil {
			return nil, fmt.Errorf("tool-result message %s has no result payload", m.ID)
		}
		return &ProviderMessage{
			Role:       "tool",
			ToolCallID: m.ToolResult.ToolCallID,
			Content:    string(m.ToolResult.Result),
		}, nil

	case store.RoleAssistant:
		return c.assistantMessage(m), nil

	case store.RoleUser:
		return c.userMessage(ctx, m, caps)

	default:
		return nil, fmt.Errorf("unsupported message role %q", m.Role)
	}
}

func (c *Converter) assistantMessage(m *store.Message) *ProviderMessage {
	out := &ProviderMessage{Role: "assistant"}
	for _, p := range m.Parts {
		switch p.Type {
		case store.PartTypeText:
			out.Content += p.Text
		case store.PartTypeReasoning:
			// Replayed verbatim; the signature is opaque provider
			// metadata and must never be reinterpreted.
			if len(p.Signature) > 0 {
				out.ReasoningContent = p.Text
				out.ReasoningSignature = p.Signature
			}
		case store.PartTypeToolCall:
			if p.ToolCall == nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, ProviderToolCall{
				ID:   p.ToolCall.ToolCallID,
				Type: "function",
				Function: ProviderFunction{
					Name:      p.ToolCall.ToolName,
					Arguments: string(p.ToolCall.Args),
				},
			})
		case store.PartTypeError, store.PartTypeDebug:
			// UI artifacts, not replayed.
		}
	}
	return out
}

func (c *Converter) userMessage(ctx context.Context, m *store.Message, caps models.Capabilities) (*ProviderMessage, error) {
	if len(m.Attachments) == 0 {
		return &ProviderMessage{Role: "user", Content: m.Content}, nil
	}

	parts := []ContentPart{}
	if len(m.Content) != 0 {
		parts = append(parts, ContentPart{Type: "text", Text: m.Content})
	}
	for _, att := range m.Attachments {
		parts = append(parts, ContentPart{
			Type: "text",
			Text: fmt.Sprintf("Attachment %q (id=%s, type=%s)", att.Name, att.ID, att.Mimetype),
		})
		part, err := c.attachmentPart(ctx, att, caps)
		if err != nil {
			return nil, err
		}
		if part != nil {
			parts = append(parts, *part)
		}
	}
	return &ProviderMessage{Role: "user", Parts: parts}, nil
}

// attachmentPart builds the inline content part for an attachment, or
// nil when the model cannot consume it. Dropping is deliberate: an
// unsupported inline payload would fail the whole request and block the
// conversation from continuing.
func (c *Converter) attachmentPart(ctx context.Context, att store.Attachment, caps models.Capabilities) (*ContentPart, error) {
	asImage := caps.Vision && slices.Contains(acceptableImageTypes, att.Mimetype)
	asFile := caps.AcceptsMedia(att.Mimetype)
	if !asImage && !asFile {
		c.logger.Debug("dropping attachment the model cannot consume",
			"attachment_id", att.ID, "mimetype", att.Mimetype)
		return nil, nil
	}

	data, err := c.files.ReadFile(ctx, att.ID)
	if err != nil {
		c.logger.Warn("can't read attachment content, dropping it",
			"attachment_id", att.ID, "error", err)
		return nil, nil
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", att.Mimetype, base64.StdEncoding.EncodeToString(data))

	if asImage {
		return &ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}}, nil
	}
	return &ContentPart{Type: "file", File: &FileData{Filename: att.Name, FileData: dataURL}}, nil
}

// IsConversable reports whether a message kind takes part in the
// provider exchange at all; everything else is filtered before
// conversion.
func IsConversable(role store.Role) bool {
	switch role {
	case store.RoleUser, store.RoleAssistant, store.RoleToolResult:
		return true
	default:
		return false
	}
}

// SanitizeOrphanToolCalls repairs a provider message list in which tool
// calls were left without results, typically after an interrupted turn.
// For every tool call not matched by a tool result before the next
// non-tool message, a synthetic "not available" result is inserted
// immediately before that message. The pass is idempotent: a second run
// finds no pending calls.
func SanitizeOrphanToolCalls(messages []*ProviderMessage) []*ProviderMessage {
	out := make([]*ProviderMessage, 0, len(messages))
	pending := make(map[string]ProviderToolCall)
	order := []string{}

	flush := func() {
		for _, id := range order {
			call, ok := pending[id]
			if !ok {
				continue
			}
			out = append(out, syntheticToolResult(call))
		}
		pending = make(map[string]ProviderToolCall)
		order = order[:0]
	}

	for _, m := range messages {
		switch {
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			for _, call := range m.ToolCalls {
				if _, seen := pending[call.ID]; !seen {
					order = append(order, call.ID)
				}
				pending[call.ID] = call
			}
			out = append(out, m)
		case m.Role == "tool":
			delete(pending, m.ToolCallID)
			out = append(out, m)
		default:
			flush()
			out = append(out, m)
		}
	}
	flush()
	return out
}

func syntheticToolResult(call ProviderToolCall) *ProviderMessage {
	result, _ := json.Marshal("not available")
	return &ProviderMessage{
		Role:       "tool",
		ToolCallID: call.ID,
		Content:    string(result),
	}
}
