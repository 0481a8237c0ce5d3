// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithProfile/FromContext for propagating identity via context

package auth

import (
	"context"
)

// profileContextKey is the key type for storing a Profile in context.Context.
type profileContextKey struct{}

// WithProfile returns a new context with the profile attached.
func WithProfile(ctx context.Context, p *Profile) context.Context {
	return context.WithValue(ctx, profileContextKey{}, p)
}

// FromContext retrieves the profile from the context, returning nil if
// not present.
func FromContext(ctx context.Context) *Profile {
	val := ctx.Value(profileContextKey{})
	if val == nil {
		return nil
	}
	p, ok := val.(*Profile)
	if !ok {
		return nil
	}
	return p
}
