// ABOUTME: Model capability catalog loaded from a TOML file
// ABOUTME: Declares per-model vision/reasoning support, accepted media and token limits

package models

import (
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// Capabilities describes what a model can consume and produce.
type Capabilities struct {
	Vision         bool     `toml:"vision"`
	Reasoning      bool     `toml:"reasoning"`
	SupportedMedia []string `toml:"supported_media"`
	TokenLimit     int      `toml:"token_limit"`
}

// AcceptsMedia reports whether the model declares support for a mimetype
// as a generic file part.
func (c Capabilities) AcceptsMedia(mimetype string) bool {
	return slices.Contains(c.SupportedMedia, mimetype)
}

// Model is one catalog entry.
type Model struct {
	ID      string `toml:"id"`
	OwnedBy string `toml:"owned_by"`
	Capabilities
}

// Catalog holds the known models keyed by id.
type Catalog struct {
	models map[string]Model
}

type catalogFile struct {
	Models []Model `toml:"model"`
}

// Load reads a catalog from a TOML file.
func Load(path string) (*Catalog, error) {
	var file catalogFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("reading model catalog: %w", err)
	}
	c := &Catalog{models: make(map[string]Model, len(file.Models))}
	for _, m := range file.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("model catalog entry without id")
		}
		c.models[m.ID] = m
	}
	return c, nil
}

// Default returns a catalog with a few well-known models, used when no
// catalog file is configured.
func Default() *Catalog {
	c := &Catalog{models: make(map[string]Model)}
	for _, m := range []Model{
		{ID: "gpt-4o", OwnedBy: "openai", Capabilities: Capabilities{Vision: true, TokenLimit: 128000}},
		{ID: "gpt-4o-mini", OwnedBy: "openai", Capabilities: Capabilities{Vision: true, TokenLimit: 128000}},
		{ID: "claude-3-5-sonnet", OwnedBy: "anthropic", Capabilities: Capabilities{Vision: true, Reasoning: true, TokenLimit: 200000}},
	} {
		c.models[m.ID] = m
	}
	return c
}

// Get returns the catalog entry for a model id.
func (c *Catalog) Get(id string) (Model, bool) {
	m, ok := c.models[id]
	return m, ok
}

// Lookup returns capabilities for a model id, falling back to a
// conservative default (no vision, no media) for unknown models.
func (c *Catalog) Lookup(id string) Capabilities {
	if m, ok := c.models[id]; ok {
		return m.Capabilities
	}
	return Capabilities{TokenLimit: 8192}
}
