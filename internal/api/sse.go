// ABOUTME: Server-Sent Events endpoint streaming live chat events to watchers
// ABOUTME: Bridges the conversation broadcaster onto an HTTP response

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/logicleai/logicle/internal/chat"
)

// sseEvent is the wire shape of one streamed event.
type sseEvent struct {
	Type          string                   `json:"type"`
	Metadata      *chat.ResponseMetadata   `json:"metadata,omitempty"`
	TextDelta     string                   `json:"text_delta,omitempty"`
	ToolCall      *chat.ToolCallEvent      `json:"tool_call,omitempty"`
	ToolCallDelta *chat.ToolCallDeltaEvent `json:"tool_call_delta,omitempty"`
	Source        *chat.SourceEvent        `json:"source,omitempty"`
	Error         string                   `json:"error,omitempty"`
	FinishReason  string                   `json:"finish_reason,omitempty"`
	Usage         *chat.Usage              `json:"usage,omitempty"`
}

func toSSEEvent(ev chat.Event) sseEvent {
	out := sseEvent{
		Type:          ev.Type.String(),
		Metadata:      ev.Metadata,
		TextDelta:     ev.TextDelta,
		ToolCall:      ev.ToolCall,
		ToolCallDelta: ev.ToolCallDelta,
		Source:        ev.Source,
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	if ev.Type == chat.EventFinish {
		out.FinishReason = string(ev.FinishReason)
		out.Usage = &ev.Usage
	}
	return out
}

// handleEvents streams a conversation's live events as SSE until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, subID := s.service.Broadcaster().Subscribe(r.Context(), conversationID)
	defer s.service.Broadcaster().Unsubscribe(conversationID, subID)

	s.logger.Debug("event stream opened", "conversation_id", conversationID)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(toSSEEvent(ev))
			if err != nil {
				s.logger.Error("failed to encode event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type.String(), payload)
			flusher.Flush()
		}
	}
}
