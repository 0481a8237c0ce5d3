// ABOUTME: Tests for the satellite WebSocket endpoint
// ABOUTME: Exercises registration handshake, auth rejection and live round trips

package satellite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logicleai/logicle/internal/auth"
)

type fakeResolver struct {
	profiles map[string]*auth.Profile
}

func (r *fakeResolver) WhoAmI(_ context.Context, bearer string) (*auth.Profile, error) {
	p, ok := r.profiles[bearer]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return p, nil
}

func dialSatellite(t *testing.T, url, bearer string) *websocket.Conn {
	t.Helper()
	header := map[string][]string{}
	if bearer != "" {
		header["Authorization"] = []string{"Bearer " + bearer}
	}
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestServerRegistrationAndCall(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewServer(hub, nil, nil))
	defer srv.Close()

	ws := dialSatellite(t, srv.URL, "")
	require.NoError(t, ws.WriteJSON(&Message{
		Type: MessageTypeRegister,
		Name: "calc",
		Tools: []ToolDescriptor{
			{Name: "add", Description: "adds two numbers"},
		},
	}))

	require.Eventually(t, func() bool {
		_, ok := hub.Get("calc")
		return ok
	}, time.Second, time.Millisecond)

	// Satellite side: answer the first tool call it receives.
	go func() {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		ws.WriteJSON(&Message{
			Type: MessageTypeToolResult, ID: msg.ID, OK: true,
			Result: json.RawMessage(`3`),
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := hub.Call(ctx, "calc", "add", json.RawMessage(`{"a":1,"b":2}`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `3`, string(res))
}

func TestServerRejectsNonRegisterFirstFrame(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewServer(hub, nil, nil))
	defer srv.Close()

	ws := dialSatellite(t, srv.URL, "")
	require.NoError(t, ws.WriteJSON(&Message{Type: MessageTypeToolResult, ID: "1"}))

	_, _, err := ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr))
	assert.Equal(t, websocket.CloseProtocolError, closeErr.Code)
}

func TestServerAuthentication(t *testing.T) {
	resolver := &fakeResolver{profiles: map[string]*auth.Profile{
		"admin-token": {UserID: "u1", Roles: []string{"admin"}},
		"plain-token": {UserID: "u2", Roles: []string{"user"}},
	}}

	hub := NewHub(nil)
	srv := httptest.NewServer(NewServer(hub, resolver, nil))
	defer srv.Close()

	register := &Message{
		Type:  MessageTypeRegister,
		Name:  "calc",
		Tools: []ToolDescriptor{{Name: "add"}},
	}

	t.Run("elevated credential accepted", func(t *testing.T) {
		ws := dialSatellite(t, srv.URL, "admin-token")
		require.NoError(t, ws.WriteJSON(register))

		require.Eventually(t, func() bool {
			conn, ok := hub.Get("calc")
			return ok && conn.Authenticated
		}, time.Second, time.Millisecond)
	})

	t.Run("non-elevated credential rejected", func(t *testing.T) {
		ws := dialSatellite(t, srv.URL, "plain-token")
		require.NoError(t, ws.WriteJSON(&Message{
			Type: MessageTypeRegister, Name: "other",
		}))

		_, _, err := ws.ReadMessage()
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr))
		assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)

		_, ok := hub.Get("other")
		assert.False(t, ok)
	})

	t.Run("missing credential rejected", func(t *testing.T) {
		ws := dialSatellite(t, srv.URL, "")
		require.NoError(t, ws.WriteJSON(&Message{
			Type: MessageTypeRegister, Name: "anon",
		}))

		_, _, err := ws.ReadMessage()
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr))
		assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	})
}

func TestServerLocalTokenAuthentication(t *testing.T) {
	// Offline verification of locally issued tokens, no profile endpoint.
	verifier := auth.NewJWTVerifier([]byte("test-secret"))

	hub := NewHub(nil)
	srv := httptest.NewServer(NewServer(hub, verifier, nil))
	defer srv.Close()

	token, err := verifier.Generate("sat-1", []string{"admin"}, time.Hour)
	require.NoError(t, err)

	ws := dialSatellite(t, srv.URL, token)
	require.NoError(t, ws.WriteJSON(&Message{
		Type:  MessageTypeRegister,
		Name:  "calc",
		Tools: []ToolDescriptor{{Name: "add"}},
	}))

	require.Eventually(t, func() bool {
		conn, ok := hub.Get("calc")
		return ok && conn.Authenticated
	}, time.Second, time.Millisecond)

	plain, err := verifier.Generate("u1", nil, time.Hour)
	require.NoError(t, err)

	ws = dialSatellite(t, srv.URL, plain)
	require.NoError(t, ws.WriteJSON(&Message{
		Type: MessageTypeRegister, Name: "other",
	}))

	_, _, err = ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr))
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}
