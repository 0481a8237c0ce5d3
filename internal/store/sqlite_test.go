// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers conversation CRUD, message round-trips and multi-delete

package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConversation(id string) *Conversation {
	now := time.Now().UTC().Truncate(time.Second)
	return &Conversation{
		ID:        id,
		OwnerID:   "user-1",
		Title:     "New chat",
		Model:     "gpt-4o",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestConversationCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := testConversation("conv-1")
	require.NoError(t, s.CreateConversation(ctx, conv))

	t.Run("duplicate id rejected", func(t *testing.T) {
		err := s.CreateConversation(ctx, testConversation("conv-1"))
		assert.ErrorIs(t, err, ErrDuplicateConversation)
	})

	t.Run("get returns stored fields", func(t *testing.T) {
		got, err := s.GetConversation(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.OwnerID)
		assert.Equal(t, "gpt-4o", got.Model)
	})

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		_, err := s.GetConversation(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update title", func(t *testing.T) {
		require.NoError(t, s.UpdateConversationTitle(ctx, "conv-1", "Weather talk"))
		got, err := s.GetConversation(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "Weather talk", got.Title)

		assert.ErrorIs(t, s.UpdateConversationTitle(ctx, "nope", "x"), ErrNotFound)
	})

	t.Run("list by owner", func(t *testing.T) {
		convs, err := s.ListConversations(ctx, "user-1", 10)
		require.NoError(t, err)
		require.Len(t, convs, 1)

		convs, err = s.ListConversations(ctx, "somebody-else", 10)
		require.NoError(t, err)
		assert.Empty(t, convs)
	})
}

func TestMessageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, testConversation("conv-1")))

	base := time.Now().UTC().Truncate(time.Second)

	user := &Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Role:           RoleUser,
		SentAt:         base,
		Content:        "what is the weather in Rome?",
		Attachments: []Attachment{
			{ID: "file-1", Mimetype: "image/png", Name: "map.png", Size: 1234},
		},
	}
	require.NoError(t, s.SaveMessage(ctx, user))

	parent := "msg-1"
	assistant := &Message{
		ID:             "msg-2",
		ConversationID: "conv-1",
		Parent:         &parent,
		Role:           RoleAssistant,
		SentAt:         base.Add(time.Second),
		Parts: []Part{
			{Type: PartTypeReasoning, Text: "thinking", Signature: json.RawMessage(`{"sig":"abc"}`)},
			{Type: PartTypeText, Text: "Let me check."},
			{Type: PartTypeToolCall, ToolCall: &ToolCall{
				ToolCallID: "call-1",
				ToolName:   "weather",
				Args:       json.RawMessage(`{"city":"Rome"}`),
			}},
		},
	}
	require.NoError(t, s.SaveMessage(ctx, assistant))

	t.Run("user message", func(t *testing.T) {
		got, err := s.GetMessage(ctx, "msg-1")
		require.NoError(t, err)
		assert.Equal(t, RoleUser, got.Role)
		assert.Nil(t, got.Parent)
		assert.Equal(t, "what is the weather in Rome?", got.Content)
		require.Len(t, got.Attachments, 1)
		assert.Equal(t, "image/png", got.Attachments[0].Mimetype)
	})

	t.Run("assistant message parts", func(t *testing.T) {
		got, err := s.GetMessage(ctx, "msg-2")
		require.NoError(t, err)
		require.NotNil(t, got.Parent)
		assert.Equal(t, "msg-1", *got.Parent)
		require.Len(t, got.Parts, 3)
		assert.Equal(t, PartTypeReasoning, got.Parts[0].Type)
		assert.JSONEq(t, `{"sig":"abc"}`, string(got.Parts[0].Signature))
		require.NotNil(t, got.Parts[2].ToolCall)
		assert.Equal(t, "weather", got.Parts[2].ToolCall.ToolName)
	})

	t.Run("list is sent_at ordered", func(t *testing.T) {
		msgs, err := s.ListMessages(ctx, "conv-1")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "msg-1", msgs[0].ID)
		assert.Equal(t, "msg-2", msgs[1].ID)
	})
}

func TestDeleteMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, testConversation("conv-1")))

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveMessage(ctx, &Message{
			ID:             id,
			ConversationID: "conv-1",
			Role:           RoleUser,
			SentAt:         base.Add(time.Duration(i) * time.Second),
			Content:        id,
		}))
	}

	require.NoError(t, s.DeleteMessages(ctx, []string{"a", "c"}))

	msgs, err := s.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", msgs[0].ID)

	// Deleting nothing is a no-op
	require.NoError(t, s.DeleteMessages(ctx, nil))
}
