// ABOUTME: Tests for the provider stream decoder
// ABOUTME: Covers metadata, ordering, usage overwrite, citations, finish mapping and soft errors

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, d *Decoder, chunks ...string) []Event {
	t.Helper()
	var events []Event
	for _, c := range chunks {
		evs, err := d.Feed([]byte(c))
		require.NoError(t, err)
		events = append(events, evs...)
	}
	return events
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestDecoderBasicTextStream(t *testing.T) {
	d := NewDecoder(nil)

	events := feedAll(t, d,
		`{"id":"resp-1","model":"gpt-4o","created":1700000000,"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"resp-1","choices":[{"delta":{"content":"lo"}}]}`,
		`{"id":"resp-1","choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":2}}`,
	)

	require.Equal(t, []EventType{EventResponseMetadata, EventTextDelta, EventTextDelta}, eventTypes(events))
	assert.Equal(t, "resp-1", events[0].Metadata.ID)
	assert.Equal(t, "gpt-4o", events[0].Metadata.Model)
	assert.Equal(t, "Hel", events[1].TextDelta)
	assert.Equal(t, "lo", events[2].TextDelta)

	finish := d.Finish()
	assert.Equal(t, EventFinish, finish.Type)
	assert.Equal(t, FinishReasonStop, finish.FinishReason)
	require.NotNil(t, finish.Usage.PromptTokens)
	assert.Equal(t, 10, *finish.Usage.PromptTokens)
	require.NotNil(t, finish.Usage.CompletionTokens)
	assert.Equal(t, 2, *finish.Usage.CompletionTokens)
}

func TestDecoderMetadataOnlyOnce(t *testing.T) {
	d := NewDecoder(nil)

	events := feedAll(t, d,
		`{"id":"resp-1","choices":[{"delta":{"content":"a"}}]}`,
		`{"id":"resp-1","choices":[{"delta":{"content":"b"}}]}`,
	)

	var metadataCount int
	for _, ev := range events {
		if ev.Type == EventResponseMetadata {
			metadataCount++
		}
	}
	assert.Equal(t, 1, metadataCount)
}

func TestDecoderReasoningBeforeText(t *testing.T) {
	d := NewDecoder(nil)

	events := feedAll(t, d,
		`{"choices":[{"delta":{"reasoning_content":"hmm","content":"answer"}}]}`,
	)

	require.Equal(t, []EventType{EventResponseMetadata, EventReasoningDelta, EventTextDelta}, eventTypes(events))
	assert.Equal(t, "hmm", events[1].TextDelta)
	assert.Equal(t, "answer", events[2].TextDelta)
}

func TestDecoderUsageLastWriteWins(t *testing.T) {
	d := NewDecoder(nil)

	feedAll(t, d,
		`{"choices":[],"usage":{"prompt_tokens":1,"completion_tokens":1}}`,
		`{"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3}}`,
	)

	finish := d.Finish()
	assert.Equal(t, 7, *finish.Usage.PromptTokens)
	assert.Equal(t, 3, *finish.Usage.CompletionTokens)
}

func TestDecoderUsageNeverSynthesized(t *testing.T) {
	d := NewDecoder(nil)
	feedAll(t, d, `{"choices":[{"delta":{"content":"x"}}]}`)

	finish := d.Finish()
	assert.Nil(t, finish.Usage.PromptTokens)
	assert.Nil(t, finish.Usage.CompletionTokens)
	assert.Equal(t, FinishReasonUnknown, finish.FinishReason)
}

func TestDecoderCitationsEmittedOnce(t *testing.T) {
	d := NewDecoder(nil)

	events := feedAll(t, d,
		`{"choices":[],"citations":["https://a.example","https://b.example"]}`,
		`{"choices":[],"citations":["https://a.example","https://b.example"]}`,
	)

	var sources []string
	for _, ev := range events {
		if ev.Type == EventSource {
			sources = append(sources, ev.Source.URL)
		}
	}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, sources)
}

func TestDecoderFinishReasonMapping(t *testing.T) {
	cases := map[string]FinishReason{
		"stop":           FinishReasonStop,
		"length":         FinishReasonLength,
		"content_filter": FinishReasonContentFilter,
		"tool_calls":     FinishReasonToolCalls,
		"function_call":  FinishReasonToolCalls,
		"weird":          FinishReasonUnknown,
	}
	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			d := NewDecoder(nil)
			feedAll(t, d, `{"choices":[{"delta":{},"finish_reason":"`+raw+`"}]}`)
			assert.Equal(t, want, d.Finish().FinishReason)
		})
	}
}

func TestDecoderSoftErrorContinues(t *testing.T) {
	d := NewDecoder(nil)

	events, err := d.Feed([]byte(`{not json`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Error(t, events[0].Err)

	// Stream keeps going after a malformed chunk.
	events = feedAll(t, d, `{"choices":[{"delta":{"content":"still here"}}]}`)
	require.Equal(t, []EventType{EventResponseMetadata, EventTextDelta}, eventTypes(events))

	// Error sticks as finish reason unless overwritten.
	assert.Equal(t, FinishReasonError, d.Finish().FinishReason)
}

func TestDecoderSoftErrorOverwrittenByLaterFinish(t *testing.T) {
	d := NewDecoder(nil)
	_, err := d.Feed([]byte(`garbage`))
	require.NoError(t, err)
	feedAll(t, d, `{"choices":[{"delta":{},"finish_reason":"stop"}]}`)
	assert.Equal(t, FinishReasonStop, d.Finish().FinishReason)
}

func TestDecoderErrorChunk(t *testing.T) {
	d := NewDecoder(nil)
	events, err := d.Feed([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.EqualError(t, events[0].Err, "rate limited")
	assert.Equal(t, FinishReasonError, d.Finish().FinishReason)
}

func TestDecoderHardProtocolViolation(t *testing.T) {
	d := NewDecoder(nil)

	// New tool call slot without an id is a contract violation.
	_, err := d.Feed([]byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"add","arguments":"{}"}}]}}]}`))
	assert.ErrorIs(t, err, ErrToolCallMissingID)

	d = NewDecoder(nil)
	_, err = d.Feed([]byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-1","function":{"arguments":"{}"}}]}}]}`))
	assert.ErrorIs(t, err, ErrToolCallMissingName)
}
