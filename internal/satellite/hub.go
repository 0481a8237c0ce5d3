// ABOUTME: Process-wide registry of connected satellites and call dispatch
// ABOUTME: Central coordinator correlating tool calls and results by id

package satellite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/logicleai/logicle/internal/metrics"
)

// ErrNotConnected indicates no satellite is registered under the
// requested name.
var ErrNotConnected = errors.New("satellite not connected")

// ErrUnknownTool indicates the satellite did not advertise the
// requested tool.
var ErrUnknownTool = errors.New("satellite does not expose tool")

// Hub is the registry of satellite connections, keyed by name.
// Construct one at process startup and inject it into handlers; there
// is deliberately no package-level instance.
type Hub struct {
	connections map[string]*Connection
	nextCallID  int64
	mu          sync.RWMutex
	logger      *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		logger:      logger.With("component", "hub"),
	}
}

// Register stores a connection under its name. A later registration
// under the same name replaces the prior entry.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	prior := h.connections[conn.Name]
	h.connections[conn.Name] = conn
	h.mu.Unlock()

	if prior != nil {
		h.logger.Warn("satellite re-registered, replacing prior connection", "satellite", conn.Name)
		prior.close()
	} else {
		metrics.SatellitesConnected.Inc()
	}

	toolNames := make([]string, len(conn.Tools))
	for i, t := range conn.Tools {
		toolNames[i] = t.Name
	}
	h.logger.Info("satellite registered", "satellite", conn.Name, "tools", toolNames)
}

// Unregister removes a connection when its socket closes, rejecting
// every call still pending on it.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	current, ok := h.connections[conn.Name]
	if ok && current == conn {
		delete(h.connections, conn.Name)
	}
	h.mu.Unlock()

	conn.close()
	if ok && current == conn {
		metrics.SatellitesConnected.Dec()
		h.logger.Info("satellite disconnected", "satellite", conn.Name)
	}
}

// Get retrieves a connection by satellite name.
func (h *Hub) Get(name string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.connections[name]
	return conn, ok
}

// FindTool returns the name of a connected satellite advertising the
// given tool.
func (h *Hub) FindTool(toolName string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for name, conn := range h.connections {
		if conn.HasTool(toolName) {
			return name, true
		}
	}
	return "", false
}

// Info describes a connected satellite.
type Info struct {
	Name          string           `json:"name"`
	Tools         []ToolDescriptor `json:"tools"`
	Authenticated bool             `json:"authenticated"`
}

// List returns information about all connected satellites.
func (h *Hub) List() []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]Info, 0, len(h.connections))
	for _, conn := range h.connections {
		infos = append(infos, Info{
			Name:          conn.Name,
			Tools:         conn.Tools,
			Authenticated: conn.Authenticated,
		})
	}
	return infos
}

// allocateCallID returns the next id from the hub's monotonic counter.
func (h *Hub) allocateCallID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextCallID++
	return strconv.FormatInt(h.nextCallID, 10)
}

// Call invokes a tool on a named satellite and waits for its result.
//
// Unknown satellite, unknown tool and closed socket all fail
// synchronously, before any network I/O. The context is the
// cancellation hook: when it expires the pending entry is removed and
// the context error returned; a result arriving later for that id is
// then ignored as unknown.
func (h *Hub) Call(ctx context.Context, satelliteName, toolName string, params json.RawMessage, uiLink ToolUILink) (json.RawMessage, error) {
	conn, ok := h.Get(satelliteName)
	if !ok {
		metrics.SatelliteCallsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %q", ErrNotConnected, satelliteName)
	}
	if !conn.HasTool(toolName) {
		metrics.SatelliteCallsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %q on %q", ErrUnknownTool, toolName, satelliteName)
	}

	id := h.allocateCallID()
	ch := conn.createCall(id, uiLink)

	msg := &Message{
		Type:   MessageTypeToolCall,
		ID:     id,
		Method: toolName,
		Params: params,
	}
	if err := conn.send(msg); err != nil {
		conn.removeCall(id)
		metrics.SatelliteCallsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	h.logger.Debug("tool call dispatched",
		"satellite", satelliteName, "tool", toolName, "call_id", id)

	select {
	case res := <-ch:
		if res.err != nil {
			outcome := "error"
			if errors.Is(res.err, ErrDisconnected) {
				outcome = "disconnected"
			}
			metrics.SatelliteCallsTotal.WithLabelValues(outcome).Inc()
			return nil, res.err
		}
		metrics.SatelliteCallsTotal.WithLabelValues("ok").Inc()
		return res.result, nil

	case <-ctx.Done():
		conn.removeCall(id)
		metrics.SatelliteCallsTotal.WithLabelValues("error").Inc()
		return nil, ctx.Err()
	}
}
