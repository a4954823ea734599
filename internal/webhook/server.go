// internal/webhook/server.go
package webhook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/user/carechat/internal/gateway"
	"github.com/user/carechat/internal/registry"
	"github.com/user/carechat/internal/types"
)

// Server is a lightweight HTTP handler exposing the chat endpoint and
// read-only session projections.
type Server struct {
	gw       *gateway.Gateway
	registry *registry.Registry
	log      types.MessageLog
	mux      *http.ServeMux
}

// NewServer creates a Server wired to the gateway and stores.
func NewServer(gw *gateway.Gateway, reg *registry.Registry, log types.MessageLog) *Server {
	s := &Server{
		gw:       gw,
		registry: reg,
		log:      log,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleSessionMessages)
	s.mux.HandleFunc("GET /api/sessions/{id}/summary", s.handleSessionSummary)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// chatRequest is the JSON body for POST /chat. Profile is an opaque block
// supplied by the caller's profile collaborator; it is passed through to
// context assembly unmodified.
type chatRequest struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	Text      string            `json:"text"`
	Intent    string            `json:"intent,omitempty"`
	Profile   string            `json:"profile,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

type turnResult struct {
	reply string
	err   error
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Text == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "text and user_id are required")
		return
	}

	inbound := &types.InboundTurn{
		Source:    "http",
		SessionID: types.SessionID(req.SessionID),
		UserID:    types.UserID(req.UserID),
		Text:      req.Text,
		Intent:    req.Intent,
		Profile:   req.Profile,
		Metadata:  req.Metadata,
	}

	done := make(chan turnResult, 1)
	turn, err := s.gw.HandleInbound(r.Context(), inbound, gateway.WithOnComplete(func(reply string, err error) {
		done <- turnResult{reply: reply, err: err}
	}))
	if err != nil {
		slog.Error("enqueue turn failed", "error", err)
		writeStatusFor(w, err)
		return
	}

	select {
	case res := <-done:
		if res.err != nil {
			slog.Error("turn failed", "session_id", turn.SessionID, "error", res.err)
			writeStatusFor(w, res.err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			SessionID: string(turn.SessionID),
			Reply:     res.reply,
		})
	case <-r.Context().Done():
		// Client went away. The user turn is already persisted; the
		// pending assistant turn is abandoned by the processor's context.
		slog.Info("client disconnected mid-turn", "session_id", turn.SessionID)
	}
}

type sessionResponse struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	MessageCount int64  `json:"message_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.registry.List(r.Context())
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionResponse{
			SessionID:    string(sess.ID),
			UserID:       string(sess.UserID),
			Status:       sess.Status,
			MessageCount: sess.MessageCount,
			CreatedAt:    sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:    sess.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt > result[j].UpdatedAt
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := types.SessionID(r.PathValue("id"))

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := s.log.ReadLastN(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("read messages failed", "session_id", sessionID, "error", err)
		writeStatusFor(w, err)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := types.SessionID(r.PathValue("id"))

	summary, err := s.registry.Summary(r.Context(), sessionID)
	if err != nil {
		writeStatusFor(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// writeStatusFor maps the core error taxonomy onto HTTP status codes.
func writeStatusFor(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, types.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, types.ErrConflict):
		writeError(w, http.StatusConflict, "conflict, retry")
	case errors.Is(err, types.ErrUpstream):
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
