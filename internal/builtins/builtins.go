// ABOUTME: Local tools implemented inside the gateway process itself
// ABOUTME: Registered with the dispatcher so the model can call them without a satellite

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/logicleai/logicle/internal/satellite"
)

// FileReader resolves attachment ids to their raw content.
type FileReader interface {
	ReadFile(ctx context.Context, id string) ([]byte, error)
}

const (
	fetchTimeout = 30 * time.Second
	// fetchBodyLimit caps how much of a fetched page is handed back
	// to the model.
	fetchBodyLimit = 64 * 1024
	// attachmentLimit caps how much attachment text goes into a tool
	// result.
	attachmentLimit = 128 * 1024
)

// Default returns the built-in local tool set. files may be nil, in
// which case the attachment tool is omitted.
func Default(files FileReader) map[string]satellite.LocalTool {
	tools := map[string]satellite.LocalTool{
		"current_time": {
			Description: "Get the current date and time",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string","description":"IANA timezone name, defaults to UTC"}}}`),
			Invoke:      currentTime,
		},
		"fetch_url": {
			Description:    "Fetch the raw contents of a URL over HTTP",
			Parameters:     json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`),
			RequireConfirm: true,
			Invoke:         fetchURL,
		},
	}
	if files != nil {
		r := attachmentReader{files: files}
		tools["read_attachment"] = satellite.LocalTool{
			Description: "Read the contents of an uploaded attachment by id",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Invoke:      r.read,
		}
	}
	return tools
}

type currentTimeInput struct {
	Timezone string `json:"timezone"`
}

func currentTime(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in currentTimeInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	loc := time.UTC
	if in.Timezone != "" {
		l, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
		}
		loc = l
	}

	now := time.Now().In(loc)
	return json.Marshal(map[string]string{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
		"weekday":  now.Weekday().String(),
	})
}

type fetchURLInput struct {
	URL string `json:"url"`
}

func fetchURL(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in fetchURLInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	parsed, err := url.Parse(in.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", in.URL)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", in.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", in.URL, err)
	}

	return json.Marshal(map[string]any{
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(body),
	})
}

type attachmentReader struct {
	files FileReader
}

type readAttachmentInput struct {
	ID string `json:"id"`
}

func (r attachmentReader) read(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in readAttachmentInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.ID == "" {
		return nil, fmt.Errorf("id is required")
	}

	data, err := r.files.ReadFile(ctx, in.ID)
	if err != nil {
		return nil, err
	}

	truncated := false
	if len(data) > attachmentLimit {
		data = data[:attachmentLimit]
		truncated = true
	}
	return json.Marshal(map[string]any{
		"content":   string(data),
		"truncated": truncated,
	})
}
