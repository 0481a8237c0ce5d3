// ABOUTME: Tests for the built-in local tools
// ABOUTME: Covers time formatting, url fetching, and attachment reads

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFiles map[string][]byte

func (f fakeFiles) ReadFile(_ context.Context, id string) ([]byte, error) {
	data, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("attachment %s not found", id)
	}
	return data, nil
}

func TestDefaultToolSet(t *testing.T) {
	tools := Default(fakeFiles{})
	assert.Contains(t, tools, "current_time")
	assert.Contains(t, tools, "fetch_url")
	assert.Contains(t, tools, "read_attachment")
	assert.True(t, tools["fetch_url"].RequireConfirm)
	assert.False(t, tools["current_time"].RequireConfirm)

	// Without a file store the attachment tool is omitted.
	tools = Default(nil)
	assert.NotContains(t, tools, "read_attachment")
}

func TestCurrentTime(t *testing.T) {
	out, err := currentTime(context.Background(), nil)
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "UTC", result["timezone"])
	assert.NotEmpty(t, result["time"])
}

func TestCurrentTimeUnknownZone(t *testing.T) {
	_, err := currentTime(context.Background(), json.RawMessage(`{"timezone":"Mars/Olympus"}`))
	assert.Error(t, err)
}

func TestFetchURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "hello from the server")
	}))
	defer ts.Close()

	out, err := fetchURL(context.Background(),
		json.RawMessage(fmt.Sprintf(`{"url":%q}`, ts.URL)))
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, float64(http.StatusOK), result["status"])
	assert.Equal(t, "hello from the server", result["body"])
}

func TestFetchURLRejectsBadScheme(t *testing.T) {
	_, err := fetchURL(context.Background(), json.RawMessage(`{"url":"file:///etc/passwd"}`))
	assert.Error(t, err)
}

func TestReadAttachment(t *testing.T) {
	files := fakeFiles{"att-1": []byte("attached text")}
	tools := Default(files)

	out, err := tools["read_attachment"].Invoke(context.Background(),
		json.RawMessage(`{"id":"att-1"}`))
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "attached text", result["content"])
	assert.Equal(t, false, result["truncated"])

	_, err = tools["read_attachment"].Invoke(context.Background(),
		json.RawMessage(`{"id":"missing"}`))
	assert.Error(t, err)

	_, err = tools["read_attachment"].Invoke(context.Background(),
		json.RawMessage(`{}`))
	assert.Error(t, err)
}
