// ABOUTME: Tests for JWT verification, bearer extraction and profile lookup
// ABOUTME: Uses httptest to stand in for the profile endpoint

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("user-123", nil, time.Hour)
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestJWTExpired(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("user-123", nil, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTWrongSecret(t *testing.T) {
	token, err := NewJWTVerifier([]byte("secret-a")).Generate("user-123", nil, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTVerifier([]byte("secret-b")).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTWhoAmI(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("sat-1", []string{"admin"}, time.Hour)
	require.NoError(t, err)

	profile, err := v.WhoAmI(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "sat-1", profile.UserID)
	assert.True(t, profile.HasElevatedRole())

	// Tokens without a roles claim resolve but are not elevated.
	plain, err := v.Generate("user-1", nil, time.Hour)
	require.NoError(t, err)
	profile, err = v.WhoAmI(context.Background(), plain)
	require.NoError(t, err)
	assert.False(t, profile.HasElevatedRole())

	_, err = v.WhoAmI(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := v.Generate("sat-1", []string{"admin"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.WhoAmI(context.Background(), expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		token   string
		wantErr bool
	}{
		{"valid", "Bearer abc123", "abc123", false},
		{"missing", "", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, errMsg := ExtractBearerToken(tt.header)
			if tt.wantErr {
				assert.NotEmpty(t, errMsg)
			} else {
				assert.Empty(t, errMsg)
				assert.Equal(t, tt.token, token)
			}
		})
	}
}

func TestProfileClientWhoAmI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			json.NewEncoder(w).Encode(Profile{
				UserID: "u1", Name: "Ada", Roles: []string{"admin"},
			})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	client := NewProfileClient(srv.URL)

	t.Run("resolves valid credential", func(t *testing.T) {
		profile, err := client.WhoAmI(context.Background(), "good")
		require.NoError(t, err)
		assert.Equal(t, "u1", profile.UserID)
		assert.True(t, profile.HasElevatedRole())
	})

	t.Run("rejects bad credential", func(t *testing.T) {
		_, err := client.WhoAmI(context.Background(), "bad")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestHasElevatedRole(t *testing.T) {
	assert.True(t, (&Profile{Roles: []string{"admin"}}).HasElevatedRole())
	assert.True(t, (&Profile{Roles: []string{"user", "owner"}}).HasElevatedRole())
	assert.False(t, (&Profile{Roles: []string{"user"}}).HasElevatedRole())
	assert.False(t, (&Profile{}).HasElevatedRole())
}

type staticResolver struct{ profile *Profile }

func (r staticResolver) WhoAmI(_ context.Context, bearer string) (*Profile, error) {
	if bearer != "valid" {
		return nil, ErrInvalidToken
	}
	return r.profile, nil
}

func TestMiddleware(t *testing.T) {
	var seen *Profile
	handler := Middleware(staticResolver{&Profile{UserID: "u1", Roles: []string{"user"}}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = FromContext(r.Context())
		}))

	t.Run("valid token attaches profile", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer valid")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "u1", seen.UserID)
	})

	t.Run("missing token rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireElevated(t *testing.T) {
	handler := RequireElevated()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	t.Run("elevated passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithProfile(req.Context(), &Profile{Roles: []string{"owner"}}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("plain user forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithProfile(req.Context(), &Profile{Roles: []string{"user"}}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unauthenticated rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
