// ABOUTME: Decodes raw provider stream chunks into normalized events
// ABOUTME: Tolerant state machine: soft per-chunk errors, hard protocol violations abort

package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/logicleai/logicle/internal/metrics"
)

// Decoder turns an ordered sequence of raw provider chunks into
// normalized events. Feed chunks one at a time; call Finish once the
// stream ends to obtain the terminal finish event.
//
// A malformed chunk is a soft error: an error event is emitted, the
// finish reason becomes "error" and the decoder keeps accepting chunks.
// A tool-call fragment that violates the protocol (new index without id
// or name) is a hard error returned from Feed; the stream must not be
// continued after it.
type Decoder struct {
	assembler *assembler
	logger    *slog.Logger

	firstChunkSeen bool
	sentCitations  bool
	finishReason   FinishReason
	usage          Usage
}

// NewDecoder creates a decoder for a single provider stream.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		assembler:    newAssembler(),
		logger:       logger.With("component", "decoder"),
		finishReason: FinishReasonUnknown,
	}
}

// Feed decodes one raw chunk and returns the events it produces.
// The returned error is a hard protocol violation.
func (d *Decoder) Feed(raw []byte) ([]Event, error) {
	var chunk Chunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		d.finishReason = FinishReasonError
		metrics.DecoderChunksTotal.WithLabelValues("malformed").Inc()
		return []Event{{Type: EventError, Err: fmt.Errorf("malformed chunk: %w", err)}}, nil
	}
	metrics.DecoderChunksTotal.WithLabelValues("ok").Inc()

	// In-band provider error chunks are soft errors too.
	if chunk.Error != nil {
		d.finishReason = FinishReasonError
		return []Event{{Type: EventError, Err: errors.New(chunk.Error.Message)}}, nil
	}

	var events []Event

	if !d.firstChunkSeen {
		d.firstChunkSeen = true
		events = append(events, Event{
			Type: EventResponseMetadata,
			Metadata: &ResponseMetadata{
				ID:      chunk.ID,
				Model:   chunk.Model,
				Created: chunk.Created,
			},
		})
	}

	// Usage snapshots are last-write-wins, never accumulated.
	if chunk.Usage != nil {
		d.usage = Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
		}
	}

	// Citations are emitted once per stream, never resent.
	if len(chunk.Citations) > 0 && !d.sentCitations {
		for i, url := range chunk.Citations {
			events = append(events, Event{
				Type:   EventSource,
				Source: &SourceEvent{ID: fmt.Sprintf("%d", i), URL: url},
			})
		}
		d.sentCitations = true
	}

	if len(chunk.Choices) == 0 {
		return events, nil
	}
	choice := chunk.Choices[0]

	// Last non-null finish reason wins.
	if choice.FinishReason != nil {
		d.finishReason = mapFinishReason(*choice.FinishReason)
	}

	if choice.Delta == nil {
		return events, nil
	}
	delta := choice.Delta

	// Reasoning precedes text within the same chunk.
	if delta.ReasoningContent != nil {
		events = append(events, Event{Type: EventReasoningDelta, TextDelta: *delta.ReasoningContent})
	}

	if delta.Content != nil {
		events = append(events, Event{Type: EventTextDelta, TextDelta: *delta.Content})
	}

	for _, tc := range delta.ToolCalls {
		callEvents, err := d.assembler.apply(tc)
		if err != nil {
			return events, err
		}
		events = append(events, callEvents...)
	}

	return events, nil
}

// Finish returns the terminal event for the stream: the last known
// finish reason ("unknown" if never set) and the last usage snapshot
// (nil counters if never reported).
func (d *Decoder) Finish() Event {
	return Event{
		Type:         EventFinish,
		FinishReason: d.finishReason,
		Usage:        d.usage,
	}
}
