// ABOUTME: Represents a single connected satellite and its duplex socket
// ABOUTME: Correlates in-flight tool calls with results by call id

package satellite

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

// ErrDisconnected rejects calls still pending when a satellite's socket
// closes. Callers can distinguish it to decide whether to retry.
var ErrDisconnected = errors.New("satellite disconnected")

// ErrSocketNotOpen is returned when a call is attempted on a connection
// whose socket is no longer open. Calls are never queued for later
// delivery.
var ErrSocketNotOpen = errors.New("satellite socket not open")

// Socket is the write side of a satellite connection. gorilla/websocket
// connections implement it directly.
type Socket interface {
	WriteJSON(v any) error
}

// ToolUILink receives side-channel notifications for one tool call,
// such as attachments produced while the call runs.
type ToolUILink interface {
	NotifyAttachment(att OutputAttachment)
}

// callResult is delivered on a pending call's channel exactly once.
type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is one in-flight tool call awaiting its result.
type pendingCall struct {
	ch     chan callResult
	uiLink ToolUILink
}

// Connection is a registered satellite. It lives from the registration
// message on a new socket until the socket closes; after close its
// pending map is guaranteed empty.
type Connection struct {
	Name  string
	Tools []ToolDescriptor

	// Authenticated is set once the satellite's bearer credential has
	// been verified against the profile endpoint. Dispatch does not
	// re-check it per call; callers treat unauthenticated connections
	// as unauthorized.
	Authenticated bool

	socket  Socket
	pending map[string]*pendingCall
	closed  bool
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewConnection creates a Connection for a satellite that just registered.
func NewConnection(name string, tools []ToolDescriptor, socket Socket, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		Name:    name,
		Tools:   tools,
		socket:  socket,
		pending: make(map[string]*pendingCall),
		logger:  logger.With("component", "satellite", "satellite", name),
	}
}

// HasTool reports whether the satellite advertised a tool by this name.
func (c *Connection) HasTool(name string) bool {
	for _, t := range c.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// createCall registers a pending entry and returns its result channel.
// The caller must eventually remove the entry via removeCall or a
// result/close path.
func (c *Connection) createCall(id string, uiLink ToolUILink) <-chan callResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan callResult, 1)
	c.pending[id] = &pendingCall{ch: ch, uiLink: uiLink}
	return ch
}

// removeCall drops a pending entry without delivering a result.
func (c *Connection) removeCall(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// send writes a message to the socket. It fails with ErrSocketNotOpen
// once the connection has been closed; messages are never queued.
func (c *Connection) send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSocketNotOpen
	}
	return c.socket.WriteJSON(msg)
}

// HandleResult resolves the pending call matching an incoming
// tool-result. Results for unknown ids are logged and discarded rather
// than erroring the connection.
func (c *Connection) HandleResult(msg *Message) {
	c.mu.Lock()
	call, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("received result for unknown call", "call_id", msg.ID)
		return
	}

	if msg.OK {
		call.ch <- callResult{result: msg.Result}
	} else {
		call.ch <- callResult{err: errors.New(msg.Error)}
	}
}

// HandleOutput routes a tool-output notification to the pending call's
// UI link, if any.
func (c *Connection) HandleOutput(msg *Message) {
	if msg.Attachment == nil {
		return
	}
	c.mu.Lock()
	call, ok := c.pending[msg.ID]
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("received output for unknown call", "call_id", msg.ID)
		return
	}
	if call.uiLink != nil {
		call.uiLink.NotifyAttachment(*msg.Attachment)
	}
}

// close marks the connection closed and rejects every pending call with
// ErrDisconnected. The pending map is empty afterwards.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for id, call := range c.pending {
		call.ch <- callResult{err: ErrDisconnected}
		delete(c.pending, id)
	}
}

// pendingCount is used by tests to verify the cleanup obligation.
func (c *Connection) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
