// ABOUTME: Reassembles fragmented tool-call arguments from streamed deltas
// ABOUTME: Emits exactly one completion event per call id once args parse as JSON

package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Assembler protocol violations. A new call slot must identify itself on
// first sight; anything else means the provider broke the contract and
// the stream must be aborted.
var (
	ErrToolCallMissingID   = errors.New("tool call delta missing id")
	ErrToolCallMissingName = errors.New("tool call delta missing function name")
	ErrToolCallNotFunction = errors.New("tool call delta is not a function call")
)

// toolCallSlot accumulates argument text for one provider call index.
type toolCallSlot struct {
	id       string
	name     string
	argsText string
	finished bool
}

// assembler reconstructs complete tool calls from per-index fragments.
type assembler struct {
	slots map[int]*toolCallSlot
}

func newAssembler() *assembler {
	return &assembler{slots: make(map[int]*toolCallSlot)}
}

// apply folds one tool-call fragment into its slot and returns the
// events it produces: a delta event whenever non-empty argument text
// arrives, plus a single completion event once the accumulated text is
// valid JSON. Fragments for finished slots are ignored.
func (a *assembler) apply(tc ChunkToolCall) ([]Event, error) {
	slot, ok := a.slots[tc.Index]
	if !ok {
		if tc.Type != nil && *tc.Type != "function" {
			return nil, fmt.Errorf("%w: got %q", ErrToolCallNotFunction, *tc.Type)
		}
		if tc.ID == nil || *tc.ID == "" {
			return nil, ErrToolCallMissingID
		}
		if tc.Function.Name == nil || *tc.Function.Name == "" {
			return nil, ErrToolCallMissingName
		}
		slot = &toolCallSlot{id: *tc.ID, name: *tc.Function.Name}
		if tc.Function.Arguments != nil {
			slot.argsText = *tc.Function.Arguments
		}
		a.slots[tc.Index] = slot

		var events []Event
		// Some providers send the whole payload unfragmented; the delta
		// and the completion may both fire on first sight.
		if len(slot.argsText) > 0 {
			events = append(events, Event{
				Type: EventToolCallDelta,
				ToolCallDelta: &ToolCallDeltaEvent{
					ToolCallID:    slot.id,
					ToolName:      slot.name,
					ArgsTextDelta: slot.argsText,
				},
			})
		}
		if ev, done := slot.tryComplete(); done {
			events = append(events, ev)
		}
		return events, nil
	}

	// Completion is terminal per call id.
	if slot.finished {
		return nil, nil
	}

	var delta string
	if tc.Function.Arguments != nil {
		delta = *tc.Function.Arguments
	}
	slot.argsText += delta

	var events []Event
	if len(delta) > 0 {
		events = append(events, Event{
			Type: EventToolCallDelta,
			ToolCallDelta: &ToolCallDeltaEvent{
				ToolCallID:    slot.id,
				ToolName:      slot.name,
				ArgsTextDelta: delta,
			},
		})
	}
	if ev, done := slot.tryComplete(); done {
		events = append(events, ev)
	}
	return events, nil
}

// tryComplete emits the completion event if the accumulated argument
// text has become a valid JSON value.
func (s *toolCallSlot) tryComplete() (Event, bool) {
	if !json.Valid([]byte(s.argsText)) {
		return Event{}, false
	}
	s.finished = true
	return Event{
		Type: EventToolCall,
		ToolCall: &ToolCallEvent{
			ToolCallID: s.id,
			ToolName:   s.name,
			Args:       json.RawMessage(s.argsText),
		},
	}, true
}
