package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatpulse/internal/presence"
	"chatpulse/pkg/interfaces"
	"chatpulse/pkg/types"
)

// Stats is the slice of the session registry the health endpoint needs.
type Stats interface {
	Stats() map[string]int
}

// Verifier resolves bearer tokens to user identities.
type Verifier interface {
	Verify(tokenString string) (string, error)
}

// Pinger reports store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the REST surface: message and chat CRUD over the persistence
// service plus a presence query. Live delivery is not handled here; clients
// emit the relay event after the HTTP write succeeds.
type Server struct {
	store    interfaces.ChatStore
	presence *presence.Tracker
	verifier Verifier
	stats    Stats
	pinger   Pinger
	router   *http.ServeMux
}

// NewServer wires the REST routes.
func NewServer(store interfaces.ChatStore, presence *presence.Tracker, verifier Verifier, stats Stats, pinger Pinger) *Server {
	s := &Server{
		store:    store,
		presence: presence,
		verifier: verifier,
		stats:    stats,
		pinger:   pinger,
		router:   http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/users", s.cors(s.authenticated(s.handleUsers)))
	s.router.Handle("/api/users/", s.cors(s.authenticated(s.handleUserByID)))
	s.router.Handle("/api/messages", s.cors(s.authenticated(s.handleMessages)))
	s.router.Handle("/api/messages/", s.cors(s.authenticated(s.handleMessagesByChat)))
	s.router.Handle("/api/chats", s.cors(s.authenticated(s.handleChats)))
	s.router.Handle("/api/chats/", s.cors(s.authenticated(s.handleChatByID)))
	s.router.Handle("/api/presence", s.cors(s.authenticated(s.handlePresence)))
	s.router.Handle("/health", s.cors(http.HandlerFunc(s.healthCheck)))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type contextKey string

const userIDKey contextKey = "user_id"

// authenticated rejects requests without a valid bearer token and stores
// the token-derived identity in the request context.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			s.sendError(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}

		userID, err := s.verifier.Verify(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			s.sendError(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		next.ServeHTTP(w, r)
	})
}

func requestUser(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

type CreateUserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Pic   string `json:"pic"`
}

type CreateMessageRequest struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

type CreateChatRequest struct {
	Name    string   `json:"name"`
	IsGroup bool     `json:"is_group"`
	Members []string `json:"members"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

// handleUsers mirrors an identity-service user record into the store so
// chat membership and presence queries can reference it. Credentials never
// pass through here.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	user := &types.User{
		ID:        req.ID,
		Name:      req.Name,
		Email:     req.Email,
		Pic:       req.Pic,
		CreatedAt: time.Now(),
	}
	if err := user.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		log.Printf("Failed to create user %s: %v", user.ID, err)
		s.sendError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, user, http.StatusCreated)
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/api/users/")
	if userID == "" || strings.Contains(userID, "/") {
		s.sendError(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			s.sendError(w, "User not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to get user", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, user, http.StatusOK)
}

// handleMessages creates a message. The resolved member list is attached to
// the response envelope so the client can trigger live fan-out without the
// relay re-querying the store.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ChatID == "" || req.Content == "" {
		s.sendError(w, "chat_id and content are required", http.StatusBadRequest)
		return
	}

	members, err := s.store.GetChatMembers(r.Context(), req.ChatID)
	if err != nil {
		if errors.Is(err, interfaces.ErrChatNotFound) {
			s.sendError(w, "Chat not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to resolve chat members", http.StatusInternalServerError)
		return
	}

	envelope := &types.MessageEnvelope{
		ID:        uuid.NewString(),
		ChatID:    req.ChatID,
		SenderID:  requestUser(r),
		Content:   req.Content,
		Members:   members,
		CreatedAt: time.Now(),
	}
	if err := envelope.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateMessage(r.Context(), envelope); err != nil {
		log.Printf("Failed to create message in chat %s: %v", req.ChatID, err)
		s.sendError(w, "Failed to create message", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, envelope, http.StatusCreated)
}

func (s *Server) handleMessagesByChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if chatID == "" || strings.Contains(chatID, "/") {
		s.sendError(w, "Invalid chat ID", http.StatusBadRequest)
		return
	}

	messages, err := s.store.ListMessages(r.Context(), chatID)
	if err != nil {
		s.sendError(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.MessageEnvelope{}
	}
	s.sendJSON(w, messages, http.StatusOK)
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// The creator is always a member.
	creator := requestUser(r)
	members := req.Members
	found := false
	for _, id := range members {
		if id == creator {
			found = true
			break
		}
	}
	if !found {
		members = append(members, creator)
	}

	chat := &types.Chat{
		ID:        uuid.NewString(),
		Name:      req.Name,
		IsGroup:   req.IsGroup,
		Members:   members,
		CreatedAt: time.Now(),
	}
	if err := chat.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateChat(r.Context(), chat); err != nil {
		log.Printf("Failed to create chat: %v", err)
		s.sendError(w, "Failed to create chat", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, chat, http.StatusCreated)
}

func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	if chatID == "" || strings.Contains(chatID, "/") {
		s.sendError(w, "Invalid chat ID", http.StatusBadRequest)
		return
	}

	chat, err := s.store.GetChat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, interfaces.ErrChatNotFound) {
			s.sendError(w, "Chat not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to get chat", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, chat, http.StatusOK)
}

// handlePresence answers the same question as the "get online users" relay
// event, over REST.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := r.URL.Query().Get("users")
	if raw == "" {
		s.sendError(w, "users query parameter is required", http.StatusBadRequest)
		return
	}

	statuses := s.presence.Statuses(r.Context(), strings.Split(raw, ","))
	s.sendJSON(w, statuses, http.StatusOK)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dbStatus := "ok"
	status := "healthy"
	code := http.StatusOK
	if err := s.pinger.Ping(r.Context()); err != nil {
		dbStatus = err.Error()
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.sendJSON(w, HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.stats.Stats(),
	}, code)
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, msg string, code int) {
	s.sendJSON(w, ErrorResponse{Error: msg, Code: code}, code)
}
