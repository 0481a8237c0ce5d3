// ABOUTME: Routes assistant tool calls to local tools or connected satellites
// ABOUTME: Local registrations take precedence over satellite-advertised tools

package satellite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/logicleai/logicle/internal/metrics"
)

// LocalTool is a tool implemented inside the gateway process itself.
type LocalTool struct {
	Description string
	Parameters  json.RawMessage

	// RequireConfirm gates the tool behind an explicit user
	// authorization round-trip before Invoke runs.
	RequireConfirm bool

	Invoke func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// Dispatcher resolves a tool name to its implementation and runs it.
type Dispatcher struct {
	local map[string]LocalTool
	hub   *Hub
}

// NewDispatcher creates a dispatcher over a set of local tools and the
// satellite hub.
func NewDispatcher(local map[string]LocalTool, hub *Hub) *Dispatcher {
	if local == nil {
		local = make(map[string]LocalTool)
	}
	return &Dispatcher{local: local, hub: hub}
}

// Lookup reports whether a tool is known and whether running it
// requires user confirmation first.
func (d *Dispatcher) Lookup(toolName string) (known, requireConfirm bool) {
	if t, ok := d.local[toolName]; ok {
		return true, t.RequireConfirm
	}
	_, ok := d.hub.FindTool(toolName)
	return ok, false
}

// Descriptors lists every dispatchable tool: local registrations plus
// everything advertised by connected satellites.
func (d *Dispatcher) Descriptors() []ToolDescriptor {
	var out []ToolDescriptor
	for name, t := range d.local {
		out = append(out, ToolDescriptor{
			Name:        name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	for _, info := range d.hub.List() {
		out = append(out, info.Tools...)
	}
	return out
}

// Invoke runs a tool by name. Local tools win over satellite tools with
// the same name.
func (d *Dispatcher) Invoke(ctx context.Context, toolName string, params json.RawMessage, uiLink ToolUILink) (json.RawMessage, error) {
	if t, ok := d.local[toolName]; ok {
		metrics.ToolInvocationsTotal.WithLabelValues("local").Inc()
		return t.Invoke(ctx, params)
	}

	satName, ok := d.hub.FindTool(toolName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, toolName)
	}
	metrics.ToolInvocationsTotal.WithLabelValues("satellite").Inc()
	return d.hub.Call(ctx, satName, toolName, params, uiLink)
}
