// ABOUTME: Conversation service orchestrating the assistant turn loop
// ABOUTME: All messages flow through here - history is the source of truth, not a side effect

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/logicleai/logicle/internal/chat"
	"github.com/logicleai/logicle/internal/metrics"
	"github.com/logicleai/logicle/internal/models"
	"github.com/logicleai/logicle/internal/provider"
	"github.com/logicleai/logicle/internal/satellite"
	"github.com/logicleai/logicle/internal/store"
)

// maxToolIterations caps how many provider round-trips a single user
// message may trigger through tool calls.
const maxToolIterations = 10

// maxTitleLength is the crop applied to generated conversation titles.
const maxTitleLength = 128

// ChunkStream is an open provider stream yielding raw chunks.
type ChunkStream interface {
	Next() ([]byte, error)
	Close() error
}

// Completer starts streaming chat completions.
type Completer interface {
	Stream(ctx context.Context, req *provider.ChatRequest) (ChunkStream, error)
}

// ProviderCompleter adapts the provider client to the Completer
// interface.
type ProviderCompleter struct {
	Client *provider.Client
}

func (p ProviderCompleter) Stream(ctx context.Context, req *provider.ChatRequest) (ChunkStream, error) {
	return p.Client.Stream(ctx, req)
}

// ToolDispatcher resolves and runs tools on behalf of the assistant.
type ToolDispatcher interface {
	Lookup(toolName string) (known, requireConfirm bool)
	Descriptors() []satellite.ToolDescriptor
	Invoke(ctx context.Context, toolName string, params json.RawMessage, uiLink satellite.ToolUILink) (json.RawMessage, error)
}

// Service runs assistant turns: it persists the user message, streams
// the model response, dispatches tool calls and records every step as
// messages in the conversation tree.
type Service struct {
	store       store.Store
	completer   Completer
	converter   *chat.Converter
	tools       ToolDispatcher
	catalog     *models.Catalog
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// New creates a conversation service.
func New(st store.Store, completer Completer, converter *chat.Converter, tools ToolDispatcher, catalog *models.Catalog, broadcaster *Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster(logger)
	}
	return &Service{
		store:       st,
		completer:   completer,
		converter:   converter,
		tools:       tools,
		catalog:     catalog,
		broadcaster: broadcaster,
		logger:      logger.With("component", "conversation"),
	}
}

// Broadcaster exposes the event fan-out so transports can subscribe
// watchers.
func (s *Service) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// SendRequest carries a user message into a conversation.
type SendRequest struct {
	ConversationID string

	// Parent is the message this one branches from. Nil appends to the
	// most recent leaf; pointing it at an older message's parent creates
	// a sibling branch (an edit).
	Parent *string

	Content     string
	Attachments []store.Attachment
}

// SendResponse reports what a send produced.
type SendResponse struct {
	UserMessage *store.Message
	// Generated holds the assistant, tool-result and auxiliary messages
	// created during the turn, in creation order.
	Generated []*store.Message
}

// SendMessage records the user message, then runs the assistant turn.
//
// Key principle: record first, then act. The user message is saved
// BEFORE the provider is contacted, so there is a record even if the
// model call fails.
func (s *Service) SendMessage(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation lookup failed: %w", err)
	}

	parent := req.Parent
	if parent == nil {
		if leaf := s.currentLeaf(ctx, conv.ID); leaf != nil {
			parent = &leaf.ID
		}
	}

	userMsg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Parent:         parent,
		Role:           store.RoleUser,
		SentAt:         time.Now(),
		Content:        req.Content,
		Attachments:    req.Attachments,
	}
	if err := s.store.SaveMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}

	s.logger.Debug("user message recorded",
		"conversation_id", conv.ID, "message_id", userMsg.ID)

	generated, err := s.runTurn(ctx, conv, userMsg.ID)
	if err != nil {
		return nil, err
	}
	return &SendResponse{UserMessage: userMsg, Generated: generated}, nil
}

// Regenerate produces a fresh assistant response as a sibling of an
// existing one. The prior response is kept as an alternative branch.
func (s *Service) Regenerate(ctx context.Context, conversationID, assistantMessageID string) ([]*store.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, assistantMessageID)
	if err != nil {
		return nil, err
	}
	if msg.Role != store.RoleAssistant {
		return nil, fmt.Errorf("message %q is not an assistant response", assistantMessageID)
	}
	if msg.Parent == nil {
		return nil, fmt.Errorf("assistant message %q has no parent", assistantMessageID)
	}
	return s.runTurn(ctx, conv, *msg.Parent)
}

// HandleToolAuth resolves a pending tool authorization. The verdict is
// recorded as a tool-auth-response message; when allowed the tool runs
// and the turn resumes, when denied the model is told the call was
// rejected.
func (s *Service) HandleToolAuth(ctx context.Context, conversationID, authRequestID string, allow bool) ([]*store.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	authReq, err := s.store.GetMessage(ctx, authRequestID)
	if err != nil {
		return nil, err
	}
	if authReq.Role != store.RoleToolAuthRequest || authReq.ToolCall == nil {
		return nil, fmt.Errorf("message %q is not a pending tool authorization", authRequestID)
	}

	response := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Parent:         &authReq.ID,
		Role:           store.RoleToolAuthResponse,
		SentAt:         time.Now(),
		Allow:          allow,
	}
	if err := s.store.SaveMessage(ctx, response); err != nil {
		return nil, err
	}
	generated := []*store.Message{response}

	call := *authReq.ToolCall
	var result json.RawMessage
	if allow {
		result = s.invokeTool(ctx, conv.ID, response.ID, call)
	} else {
		result, _ = json.Marshal(map[string]string{"error": "User denied access to function"})
	}

	resultMsg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Parent:         &response.ID,
		Role:           store.RoleToolResult,
		SentAt:         time.Now(),
		ToolResult: &store.ToolCallResult{
			ToolCallID: call.ToolCallID,
			ToolName:   call.ToolName,
			Result:     result,
		},
	}
	if err := s.store.SaveMessage(ctx, resultMsg); err != nil {
		return nil, err
	}
	generated = append(generated, resultMsg)

	more, err := s.runTurn(ctx, conv, resultMsg.ID)
	if err != nil {
		return generated, err
	}
	return append(generated, more...), nil
}

// History returns the active path of a conversation root-first. When
// leafID is empty the most recent leaf is used.
func (s *Service) History(ctx context.Context, conversationID, leafID string) ([]*store.Message, error) {
	tree, err := s.loadTree(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if leafID == "" {
		leaf := tree.Leaf()
		if leaf == nil {
			return nil, nil
		}
		leafID = leaf.ID
	}
	return tree.Flatten(leafID)
}

// Siblings returns a message's alternative branches in sentAt order.
func (s *Service) Siblings(ctx context.Context, conversationID, messageID string) ([]*store.Message, error) {
	tree, err := s.loadTree(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return tree.SiblingsOf(messageID)
}

// JumpToSibling switches the active branch to a sibling and returns the
// leaf of that branch, reached by always following the most recent
// child.
func (s *Service) JumpToSibling(ctx context.Context, conversationID, siblingID string) (*store.Message, error) {
	tree, err := s.loadTree(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return tree.LatestLeaf(siblingID)
}

// DeleteMessage removes a message and its entire subtree. Cascading is
// computed here by tree traversal, never delegated to the database.
func (s *Service) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	tree, err := s.loadTree(ctx, conversationID)
	if err != nil {
		return err
	}
	if _, ok := tree.Get(messageID); !ok {
		return fmt.Errorf("%w: %q", ErrMessageNotFound, messageID)
	}
	return s.store.DeleteMessages(ctx, tree.Descendants(messageID))
}

// DeleteConversation removes a conversation and all of its messages.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	tree, err := s.loadTree(ctx, conversationID)
	if err != nil {
		return err
	}
	if ids := tree.AllIDs(); len(ids) > 0 {
		if err := s.store.DeleteMessages(ctx, ids); err != nil {
			return err
		}
	}
	return s.store.DeleteConversation(ctx, conversationID)
}

// GenerateTitle asks the model for a short summary of the opening
// exchange and stores it as the conversation title. The summary is
// cropped to its first line, at most 128 characters.
func (s *Service) GenerateTitle(ctx context.Context, conversationID string) (string, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	history, err := s.History(ctx, conversationID, "")
	if err != nil {
		return "", err
	}

	var transcript strings.Builder
	for _, m := range history {
		if m.Role != store.RoleUser && m.Role != store.RoleAssistant {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Text())
		if transcript.Len() > 2000 {
			break
		}
	}
	if transcript.Len() == 0 {
		return "", errors.New("conversation has no content to summarize")
	}

	req := &provider.ChatRequest{
		Model: conv.Model,
		Messages: []*chat.ProviderMessage{
			{Role: "system", Content: "Summarize the conversation in a short title of at most six words. Answer with the title only."},
			{Role: "user", Content: transcript.String()},
		},
	}
	stream, err := s.completer.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	decoder := chat.NewDecoder(s.logger)
	var title strings.Builder
	for {
		raw, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		events, err := decoder.Feed(raw)
		if err != nil {
			return "", err
		}
		for _, ev := range events {
			if ev.Type == chat.EventTextDelta {
				title.WriteString(ev.TextDelta)
			}
		}
	}

	cropped := cropTitle(title.String())
	if cropped == "" {
		return "", errors.New("model produced an empty title")
	}
	if err := s.store.UpdateConversationTitle(ctx, conversationID, cropped); err != nil {
		return "", err
	}
	return cropped, nil
}

// cropTitle reduces a model summary to a usable title: the first
// non-empty line, trimmed of quotes, at most maxTitleLength characters.
func cropTitle(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.Trim(strings.TrimSpace(line), `"`)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > maxTitleLength {
			return string(runes[:maxTitleLength-1]) + "…"
		}
		return line
	}
	return ""
}

// runTurn drives the provider/tool loop starting below parentID until
// the model stops asking for tools, a tool needs authorization, or the
// iteration cap is hit.
func (s *Service) runTurn(ctx context.Context, conv *store.Conversation, parentID string) ([]*store.Message, error) {
	var generated []*store.Message
	caps := s.catalog.Lookup(conv.Model)

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		history, err := s.History(ctx, conv.ID, parentID)
		if err != nil {
			return generated, err
		}

		assistantMsg, finish, err := s.streamResponse(ctx, conv, caps, history, parentID)
		if err != nil {
			return generated, err
		}
		generated = append(generated, assistantMsg)
		parentID = assistantMsg.ID

		calls := assistantMsg.ToolCalls()
		if finish != chat.FinishReasonToolCalls || len(calls) == 0 {
			return generated, nil
		}

		paused := false
		for _, call := range calls {
			msgs, wait := s.handleToolCall(ctx, conv.ID, parentID, call)
			generated = append(generated, msgs...)
			if len(msgs) > 0 {
				parentID = msgs[len(msgs)-1].ID
			}
			if wait {
				paused = true
				break
			}
		}
		if paused {
			// The turn resumes from HandleToolAuth.
			return generated, nil
		}
	}

	s.logger.Warn("tool iteration cap reached", "conversation_id", conv.ID)
	return generated, nil
}

// streamResponse performs one provider round-trip and persists the
// assistant message assembled from the stream.
func (s *Service) streamResponse(ctx context.Context, conv *store.Conversation, caps models.Capabilities, history []*store.Message, parentID string) (*store.Message, chat.FinishReason, error) {
	providerMsgs, err := s.buildProviderMessages(ctx, history, caps)
	if err != nil {
		return nil, chat.FinishReasonError, err
	}

	req := &provider.ChatRequest{
		Model:    conv.Model,
		Messages: providerMsgs,
		Tools:    s.toolDeclarations(),
	}

	stream, err := s.completer.Stream(ctx, req)
	if err != nil {
		return nil, chat.FinishReasonError, fmt.Errorf("provider stream failed: %w", err)
	}
	defer stream.Close()

	decoder := chat.NewDecoder(s.logger)
	builder := newPartsBuilder()

	for {
		raw, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			builder.appendError(err.Error())
			break
		}

		events, err := decoder.Feed(raw)
		for _, ev := range events {
			s.broadcaster.Publish(conv.ID, ev)
			builder.apply(ev)
		}
		if err != nil {
			// Protocol violation: the stream cannot be trusted further.
			s.logger.Error("provider stream aborted", "error", err, "conversation_id", conv.ID)
			builder.appendError(err.Error())
			break
		}
	}

	finishEv := decoder.Finish()
	s.broadcaster.Publish(conv.ID, finishEv)
	metrics.ResponsesTotal.WithLabelValues(string(finishEv.FinishReason)).Inc()

	assistantMsg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Parent:         &parentID,
		Role:           store.RoleAssistant,
		SentAt:         time.Now(),
		Parts:          builder.parts,
	}
	if err := s.store.SaveMessage(ctx, assistantMsg); err != nil {
		return nil, finishEv.FinishReason, fmt.Errorf("failed to save assistant message: %w", err)
	}
	return assistantMsg, finishEv.FinishReason, nil
}

// handleToolCall runs one tool call. Returns the messages created and
// whether the turn must pause for user authorization.
func (s *Service) handleToolCall(ctx context.Context, conversationID, parentID string, call store.ToolCall) ([]*store.Message, bool) {
	known, requireConfirm := s.tools.Lookup(call.ToolName)

	if known && requireConfirm {
		authReq := &store.Message{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Parent:         &parentID,
			Role:           store.RoleToolAuthRequest,
			SentAt:         time.Now(),
			ToolCall:       &call,
		}
		if err := s.store.SaveMessage(ctx, authReq); err != nil {
			s.logger.Error("failed to save auth request", "error", err)
			return nil, false
		}
		return []*store.Message{authReq}, true
	}

	var result json.RawMessage
	if !known {
		result, _ = json.Marshal(map[string]string{
			"error": fmt.Sprintf("tool %q is not available", call.ToolName),
		})
	} else {
		result = s.invokeTool(ctx, conversationID, parentID, call)
	}

	resultMsg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Parent:         &parentID,
		Role:           store.RoleToolResult,
		SentAt:         time.Now(),
		ToolResult: &store.ToolCallResult{
			ToolCallID: call.ToolCallID,
			ToolName:   call.ToolName,
			Result:     result,
		},
	}
	if err := s.store.SaveMessage(ctx, resultMsg); err != nil {
		s.logger.Error("failed to save tool result", "error", err)
		return nil, false
	}
	return []*store.Message{resultMsg}, false
}

// invokeTool runs a tool and renders its outcome as the result payload.
// Tool failures become error payloads the model can read, never turn
// failures.
func (s *Service) invokeTool(ctx context.Context, conversationID, parentID string, call store.ToolCall) json.RawMessage {
	link := &toolOutputRecorder{svc: s, conversationID: conversationID, parentID: parentID, call: call}
	result, err := s.tools.Invoke(ctx, call.ToolName, call.Args, link)
	if err != nil {
		s.logger.Warn("tool invocation failed",
			"tool", call.ToolName, "error", err, "conversation_id", conversationID)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return payload
	}
	return result
}

// toolOutputRecorder persists attachments a tool produces mid-call as
// tool-output messages.
type toolOutputRecorder struct {
	svc            *Service
	conversationID string
	parentID       string
	call           store.ToolCall
}

func (r *toolOutputRecorder) NotifyAttachment(att satellite.OutputAttachment) {
	// Persist with a detached context: the attachment exists even if
	// the call is cancelled right after.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: r.conversationID,
		Parent:         &r.parentID,
		Role:           store.RoleToolOutput,
		SentAt:         time.Now(),
		Content:        fmt.Sprintf("tool %s produced %s", r.call.ToolName, att.Name),
		Attachments: []store.Attachment{
			{ID: att.ID, Mimetype: att.Type, Name: att.Name, Size: att.Size},
		},
	}
	if err := r.svc.store.SaveMessage(saveCtx, msg); err != nil {
		r.svc.logger.Error("failed to save tool output", "error", err)
	}
}

// buildProviderMessages converts a flattened history into the provider
// request payload: filter to conversable roles, trim to the token
// budget, convert, then repair orphan tool calls.
func (s *Service) buildProviderMessages(ctx context.Context, history []*store.Message, caps models.Capabilities) ([]*chat.ProviderMessage, error) {
	conversable := make([]*store.Message, 0, len(history))
	for _, m := range history {
		if chat.IsConversable(m.Role) {
			conversable = append(conversable, m)
		}
	}
	conversable = chat.LimitHistory("", conversable, caps.TokenLimit)

	out := make([]*chat.ProviderMessage, 0, len(conversable))
	for _, m := range conversable {
		pm, err := s.converter.ToProviderMessage(ctx, m, caps)
		if err != nil {
			return nil, fmt.Errorf("converting message %q: %w", m.ID, err)
		}
		if pm != nil {
			out = append(out, pm)
		}
	}
	return chat.SanitizeOrphanToolCalls(out), nil
}

func (s *Service) toolDeclarations() []provider.Tool {
	descriptors := s.tools.Descriptors()
	if len(descriptors) == 0 {
		return nil
	}
	tools := make([]provider.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, provider.Tool{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return tools
}

func (s *Service) loadTree(ctx context.Context, conversationID string) (*Tree, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return NewTree(msgs), nil
}

func (s *Service) currentLeaf(ctx context.Context, conversationID string) *store.Message {
	tree, err := s.loadTree(ctx, conversationID)
	if err != nil {
		s.logger.Error("failed to load conversation tree", "error", err)
		return nil
	}
	return tree.Leaf()
}

// partsBuilder folds stream events into ordered assistant parts,
// merging consecutive deltas of the same kind.
type partsBuilder struct {
	parts []store.Part
}

func newPartsBuilder() *partsBuilder {
	return &partsBuilder{}
}

func (b *partsBuilder) apply(ev chat.Event) {
	switch ev.Type {
	case chat.EventTextDelta:
		b.appendDelta(store.PartTypeText, ev.TextDelta)
	case chat.EventReasoningDelta:
		b.appendDelta(store.PartTypeReasoning, ev.TextDelta)
	case chat.EventToolCall:
		b.parts = append(b.parts, store.Part{
			Type: store.PartTypeToolCall,
			ToolCall: &store.ToolCall{
				ToolCallID: ev.ToolCall.ToolCallID,
				ToolName:   ev.ToolCall.ToolName,
				Args:       ev.ToolCall.Args,
			},
		})
	case chat.EventError:
		b.appendError(ev.Err.Error())
	}
}

func (b *partsBuilder) appendDelta(t store.PartType, text string) {
	if text == "" {
		return
	}
	if n := len(b.parts); n > 0 && b.parts[n-1].Type == t {
		b.parts[n-1].Text += text
		return
	}
	b.parts = append(b.parts, store.Part{Type: t, Text: text})
}

func (b *partsBuilder) appendError(msg string) {
	b.parts = append(b.parts, store.Part{Type: store.PartTypeError, Text: msg})
}
