// ABOUTME: Streaming client for OpenAI-compatible chat completion endpoints
// ABOUTME: Issues the request and yields raw SSE data payloads one at a time

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/logicleai/logicle/internal/chat"
)

// Tool is a function declaration advertised to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction carries a tool's name and JSON schema.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is the chat completion request body.
type ChatRequest struct {
	Model         string                  `json:"model"`
	Messages      []*chat.ProviderMessage `json:"messages"`
	Tools         []Tool                  `json:"tools,omitempty"`
	Temperature   *float64                `json:"temperature,omitempty"`
	Stream        bool                    `json:"stream"`
	StreamOptions *StreamOptions          `json:"stream_options,omitempty"`
}

// StreamOptions requests extras on the stream, such as the final usage
// chunk.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Client talks to one OpenAI-compatible provider endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a provider client. The base URL is the API root,
// e.g. "https://api.openai.com/v1".
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			// Streams stay open for as long as the model generates;
			// cancellation comes from the request context instead.
			Timeout: 0,
		},
		logger: logger.With("component", "provider"),
	}
}

// Stream starts a streaming chat completion. The caller must Close the
// returned stream.
func (c *Client) Stream(ctx context.Context, req *ChatRequest) (*Stream, error) {
	req.Stream = true
	if req.StreamOptions == nil {
		req.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	c.logger.Debug("stream opened", "model", req.Model, "latency", time.Since(start))

	return &Stream{
		body:    resp.Body,
		scanner: newSSEScanner(resp.Body),
	}, nil
}

// Stream yields raw SSE data payloads from an open chat completion.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

var doneMarker = []byte("[DONE]")

// Next returns the next data payload, or io.EOF when the stream ends
// (including via the "[DONE]" terminator).
func (s *Stream) Next() ([]byte, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			// Comments, event names and blank keep-alive lines.
			continue
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, doneMarker) {
			return nil, io.EOF
		}
		// The scanner reuses its buffer across calls.
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Close releases the underlying response body.
func (s *Stream) Close() error {
	return s.body.Close()
}

func newSSEScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	// Single chunks can carry whole base64 images.
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return sc
}
