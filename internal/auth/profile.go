// ABOUTME: Out-of-band identity lookup for satellite credentials
// ABOUTME: Resolves a bearer token to a user profile via the profile endpoint

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotElevated indicates the authenticated user lacks an elevated
// role. Satellites must be registered by admins or owners.
var ErrNotElevated = errors.New("elevated role required")

// Profile is the identity a bearer token resolves to.
type Profile struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name"`
	Roles  []string `json:"roles"`
}

// HasElevatedRole reports whether the profile carries an admin or owner
// role.
func (p *Profile) HasElevatedRole() bool {
	for _, r := range p.Roles {
		if r == "admin" || r == "owner" {
			return true
		}
	}
	return false
}

// ProfileResolver turns a bearer credential into a user profile.
type ProfileResolver interface {
	WhoAmI(ctx context.Context, bearer string) (*Profile, error)
}

// ProfileClient resolves bearer tokens against an HTTP profile
// endpoint. The endpoint receives the credential in the Authorization
// header and answers with the profile JSON.
type ProfileClient struct {
	baseURL string
	client  *http.Client
}

// NewProfileClient creates a client for the given profile endpoint URL.
func NewProfileClient(baseURL string) *ProfileClient {
	return &ProfileClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WhoAmI resolves a bearer token to a profile.
func (c *ProfileClient) WhoAmI(ctx context.Context, bearer string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/profile", nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrInvalidToken
	default:
		return nil, fmt.Errorf("profile endpoint returned %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	if profile.UserID == "" {
		return nil, fmt.Errorf("%w: user_id", ErrMissingClaim)
	}
	return &profile, nil
}
