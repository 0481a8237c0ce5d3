// ABOUTME: Tests for the HTTP API surface
// ABOUTME: Drives the router end to end over a real sqlite store

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logicleai/logicle/internal/chat"
	"github.com/logicleai/logicle/internal/conversation"
	"github.com/logicleai/logicle/internal/models"
	"github.com/logicleai/logicle/internal/provider"
	"github.com/logicleai/logicle/internal/satellite"
	"github.com/logicleai/logicle/internal/store"
)

// scriptedCompleter replays canned chunk streams.
type scriptedCompleter struct {
	mu      sync.Mutex
	scripts [][]string
	calls   int
}

type sliceStream struct {
	chunks []string
	pos    int
}

func (s *sliceStream) Next() ([]byte, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	raw := s.chunks[s.pos]
	s.pos++
	return []byte(raw), nil
}

func (s *sliceStream) Close() error { return nil }

func (c *scriptedCompleter) Stream(_ context.Context, _ *provider.ChatRequest) (conversation.ChunkStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= len(c.scripts) {
		return nil, fmt.Errorf("unexpected provider call %d", c.calls+1)
	}
	chunks := c.scripts[c.calls]
	c.calls++
	return &sliceStream{chunks: chunks}, nil
}

func textChunk(text string) string {
	return fmt.Sprintf(`{"id":"r1","model":"gpt-4o","choices":[{"delta":{"content":%q}}]}`, text)
}

func finishChunk(reason string) string {
	return fmt.Sprintf(`{"id":"r1","choices":[{"delta":{},"finish_reason":%q}]}`, reason)
}

func newTestServer(t *testing.T, scripts ...[]string) *httptest.Server {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hub := satellite.NewHub(nil)
	dispatcher := satellite.NewDispatcher(nil, hub)
	svc := conversation.New(st, &scriptedCompleter{scripts: scripts},
		chat.NewConverter(nil, nil), dispatcher, models.Default(), nil, nil)

	srv := NewServer(svc, st, hub, satellite.NewServer(hub, nil, nil), Options{}, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &decoded)
	}
	return resp, decoded
}

func createConversation(t *testing.T, baseURL string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/v1/conversations",
		map[string]string{"model": "gpt-4o", "title": "test"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestConversationLifecycle(t *testing.T) {
	ts := newTestServer(t, []string{textChunk("Hello there."), finishChunk("stop")})
	convID := createConversation(t, ts.URL)

	resp, body := doJSON(t, http.MethodPost,
		ts.URL+"/v1/conversations/"+convID+"/messages",
		map[string]string{"content": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	generated, ok := body["generated"].([]any)
	require.True(t, ok)
	require.Len(t, generated, 1)

	// History reflects the exchange.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/conversations/"+convID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "hi", first["content"])

	// Listing shows the conversation.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/conversations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	convs, ok := body["conversations"].([]any)
	require.True(t, ok)
	assert.Len(t, convs, 1)

	// Delete removes everything.
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/v1/conversations/"+convID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/conversations/"+convID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageValidation(t *testing.T) {
	ts := newTestServer(t)
	convID := createConversation(t, ts.URL)

	resp, body := doJSON(t, http.MethodPost,
		ts.URL+"/v1/conversations/"+convID+"/messages",
		map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "content")
}

func TestCreateConversationRequiresModel(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations",
		map[string]string{"title": "no model"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownConversation(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/conversations/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegenerateAndSiblings(t *testing.T) {
	ts := newTestServer(t,
		[]string{textChunk("First."), finishChunk("stop")},
		[]string{textChunk("Second."), finishChunk("stop")},
	)
	convID := createConversation(t, ts.URL)

	resp, body := doJSON(t, http.MethodPost,
		ts.URL+"/v1/conversations/"+convID+"/messages",
		map[string]string{"content": "question"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	firstID := body["generated"].([]any)[0].(map[string]any)["id"].(string)

	resp, body = doJSON(t, http.MethodPost,
		ts.URL+"/v1/conversations/"+convID+"/messages/"+firstID+"/regenerate", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["generated"].([]any), 1)

	resp, body = doJSON(t, http.MethodGet,
		ts.URL+"/v1/conversations/"+convID+"/messages/"+firstID+"/siblings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["siblings"].([]any), 2)
}

func TestListSatellitesEmpty(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/satellites", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["satellites"])
}
