// ABOUTME: HTTP API for conversations, messages and satellite administration
// ABOUTME: chi router wiring the conversation service and satellite hub

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/logicleai/logicle/internal/auth"
	"github.com/logicleai/logicle/internal/conversation"
	"github.com/logicleai/logicle/internal/metrics"
	"github.com/logicleai/logicle/internal/satellite"
	"github.com/logicleai/logicle/internal/store"
)

// Server bundles the HTTP surface of the gateway.
type Server struct {
	service   *conversation.Service
	store     store.Store
	hub       *satellite.Hub
	satellite *satellite.Server
	resolver  auth.ProfileResolver
	logger    *slog.Logger

	metricsEnabled bool
	metricsPath    string
}

// Options configures optional parts of the API surface.
type Options struct {
	// Resolver guards the API and satellite endpoints. Nil disables
	// authentication entirely (development mode).
	Resolver auth.ProfileResolver

	MetricsEnabled bool
	MetricsPath    string
}

// NewServer creates the API server.
func NewServer(service *conversation.Service, st store.Store, hub *satellite.Hub, satServer *satellite.Server, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service:        service,
		store:          st,
		hub:            hub,
		satellite:      satServer,
		resolver:       opts.Resolver,
		logger:         logger.With("component", "api"),
		metricsEnabled: opts.MetricsEnabled,
		metricsPath:    opts.MetricsPath,
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metricsEnabled {
		r.Handle(s.metricsPath, metrics.Handler())
	}

	// Satellites connect over WebSocket; their credential is checked
	// out-of-band during the registration handshake.
	r.Handle("/v1/satellites/ws", s.satellite)

	r.Route("/v1", func(r chi.Router) {
		if s.resolver != nil {
			r.Use(auth.Middleware(s.resolver))
		}

		r.With(s.requireElevated).Get("/satellites", s.handleListSatellites)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.handleCreateConversation)
			r.Get("/", s.handleListConversations)

			r.Route("/{conversationID}", func(r chi.Router) {
				r.Get("/", s.handleGetConversation)
				r.Delete("/", s.handleDeleteConversation)
				r.Post("/title", s.handleGenerateTitle)
				r.Get("/events", s.handleEvents)

				r.Post("/messages", s.handleSendMessage)
				r.Route("/messages/{messageID}", func(r chi.Router) {
					r.Delete("/", s.handleDeleteMessage)
					r.Get("/siblings", s.handleSiblings)
					r.Post("/jump", s.handleJump)
					r.Post("/regenerate", s.handleRegenerate)
					r.Post("/auth", s.handleToolAuth)
				})
			})
		})
	})

	return r
}

// requireElevated is a no-op when authentication is disabled.
func (s *Server) requireElevated(next http.Handler) http.Handler {
	if s.resolver == nil {
		return next
	}
	return auth.RequireElevated()(next)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSatellites(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"satellites": s.hub.List()})
}

type createConversationRequest struct {
	Title string `json:"title,omitempty"`
	Model string `json:"model"`
}

type conversationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
}

func toConversationResponse(c *store.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		Model:     c.Model,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	conv := &store.Conversation{
		ID:        uuid.New().String(),
		OwnerID:   s.ownerID(r),
		Title:     req.Title,
		Model:     req.Model,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		s.logger.Error("failed to create conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(r.Context(), s.ownerID(r), 100)
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

type messageResponse struct {
	ID       string                `json:"id"`
	Parent   string                `json:"parent,omitempty"`
	Role     string                `json:"role"`
	SentAt   string                `json:"sent_at"`
	Content  string                `json:"content,omitempty"`
	Parts    []store.Part          `json:"parts,omitempty"`
	ToolCall *store.ToolCall       `json:"tool_call,omitempty"`
	Result   *store.ToolCallResult `json:"tool_result,omitempty"`
	Allow    bool                  `json:"allow,omitempty"`
	Files    []store.Attachment    `json:"attachments,omitempty"`
}

func toMessageResponse(m *store.Message) messageResponse {
	out := messageResponse{
		ID:       m.ID,
		Role:     string(m.Role),
		SentAt:   m.SentAt.UTC().Format(time.RFC3339Nano),
		Content:  m.Content,
		Parts:    m.Parts,
		ToolCall: m.ToolCall,
		Result:   m.ToolResult,
		Allow:    m.Allow,
		Files:    m.Attachments,
	}
	if m.Parent != nil {
		out.Parent = *m.Parent
	}
	return out
}

func toMessageResponses(msgs []*store.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		s.notFoundOrError(w, err, "conversation lookup failed")
		return
	}

	history, err := s.service.History(r.Context(), conversationID, r.URL.Query().Get("leaf"))
	if err != nil {
		s.notFoundOrError(w, err, "history lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": toConversationResponse(conv),
		"messages":     toMessageResponses(history),
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := s.service.DeleteConversation(r.Context(), conversationID); err != nil {
		s.notFoundOrError(w, err, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Content     string             `json:"content"`
	Parent      *string            `json:"parent,omitempty"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	resp, err := s.service.SendMessage(r.Context(), &conversation.SendRequest{
		ConversationID: conversationID,
		Parent:         req.Parent,
		Content:        req.Content,
		Attachments:    req.Attachments,
	})
	if err != nil {
		s.notFoundOrError(w, err, "send failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_message": toMessageResponse(resp.UserMessage),
		"generated":    toMessageResponses(resp.Generated),
	})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	generated, err := s.service.Regenerate(r.Context(),
		chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID"))
	if err != nil {
		s.notFoundOrError(w, err, "regenerate failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"generated": toMessageResponses(generated)})
}

type toolAuthRequest struct {
	Allow bool `json:"allow"`
}

func (s *Server) handleToolAuth(w http.ResponseWriter, r *http.Request) {
	var req toolAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	generated, err := s.service.HandleToolAuth(r.Context(),
		chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID"), req.Allow)
	if err != nil {
		s.notFoundOrError(w, err, "tool authorization failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"generated": toMessageResponses(generated)})
}

func (s *Server) handleSiblings(w http.ResponseWriter, r *http.Request) {
	sibs, err := s.service.Siblings(r.Context(),
		chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID"))
	if err != nil {
		s.notFoundOrError(w, err, "sibling lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"siblings": toMessageResponses(sibs)})
}

func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	leaf, err := s.service.JumpToSibling(r.Context(),
		chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID"))
	if err != nil {
		s.notFoundOrError(w, err, "jump failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaf": toMessageResponse(leaf)})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteMessage(r.Context(),
		chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID"))
	if err != nil {
		s.notFoundOrError(w, err, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	title, err := s.service.GenerateTitle(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		s.notFoundOrError(w, err, "title generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": title})
}

// ownerID identifies the requesting user, falling back to a shared
// owner when authentication is disabled.
func (s *Server) ownerID(r *http.Request) string {
	if p := auth.FromContext(r.Context()); p != nil {
		return p.UserID
	}
	return "local"
}

func (s *Server) notFoundOrError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, conversation.ErrMessageNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
