package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatpulse/internal/presence"
	"chatpulse/internal/session"
	"chatpulse/pkg/interfaces"
	"chatpulse/pkg/types"
)

type fakeStore struct {
	users    map[string]*types.User
	chats    map[string]*types.Chat
	messages map[string][]*types.MessageEnvelope
	lastSeen map[string]time.Time
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]*types.User{},
		chats:    map[string]*types.Chat{},
		messages: map[string][]*types.MessageEnvelope{},
		lastSeen: map[string]time.Time{},
	}
}

func (f *fakeStore) CreateUser(_ context.Context, user *types.User) error {
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUser(_ context.Context, userID string) (*types.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeStore) CreateChat(_ context.Context, chat *types.Chat) error {
	f.chats[chat.ID] = chat
	return nil
}

func (f *fakeStore) GetChat(_ context.Context, chatID string) (*types.Chat, error) {
	c, ok := f.chats[chatID]
	if !ok {
		return nil, interfaces.ErrChatNotFound
	}
	return c, nil
}

func (f *fakeStore) GetChatMembers(_ context.Context, chatID string) ([]string, error) {
	c, ok := f.chats[chatID]
	if !ok {
		return nil, interfaces.ErrChatNotFound
	}
	return c.Members, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, msg *types.MessageEnvelope) error {
	f.messages[msg.ChatID] = append(f.messages[msg.ChatID], msg)
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, chatID string) ([]*types.MessageEnvelope, error) {
	return f.messages[chatID], nil
}

func (f *fakeStore) SetUserPresence(_ context.Context, userID string, _ bool, lastSeen time.Time) error {
	f.lastSeen[userID] = lastSeen
	return nil
}

func (f *fakeStore) GetUserPresence(_ context.Context, userIDs []string) (map[string]time.Time, error) {
	out := map[string]time.Time{}
	for _, id := range userIDs {
		if ts, ok := f.lastSeen[id]; ok {
			out[id] = ts
		}
	}
	return out, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type stubConn struct{ id string }

func (s *stubConn) ID() string                          { return s.id }
func (s *stubConn) EmitEvent(string, interface{}) error { return nil }

type staticVerifier struct{}

// Tokens are the user id itself, so tests can act as any user.
func (staticVerifier) Verify(token string) (string, error) {
	if token == "" || token == "invalid" {
		return "", errors.New("invalid token")
	}
	return token, nil
}

type testEnv struct {
	server   *Server
	store    *fakeStore
	registry *session.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	registry := session.NewRegistry()
	tracker := presence.NewTracker(registry, store)
	return &testEnv{
		server:   NewServer(store, tracker, staticVerifier{}, registry, store),
		store:    store,
		registry: registry,
	}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedChat(id string, members ...string) {
	e.store.chats[id] = &types.Chat{ID: id, Members: members, CreatedAt: time.Now()}
}

func TestServer_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_RejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/presence?users=alice", "invalid", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_CreateUser(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/users", "alice", CreateUserRequest{
		ID:    "alice",
		Name:  "Alice",
		Email: "alice@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, env.store.users, "alice")

	rec = env.request(t, http.MethodPost, "/api/users", "alice", CreateUserRequest{
		ID:   "bad id!",
		Name: "Nope",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetUser(t *testing.T) {
	env := newTestEnv(t)
	env.store.users["bob"] = &types.User{ID: "bob", Name: "Bob", Email: "bob@example.com"}

	rec := env.request(t, http.MethodGet, "/api/users/bob", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var user types.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "Bob", user.Name)

	rec = env.request(t, http.MethodGet, "/api/users/ghost", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CreateMessage(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat("chat-1", "alice", "bob")

	rec := env.request(t, http.MethodPost, "/api/messages", "alice", CreateMessageRequest{
		ChatID:  "chat-1",
		Content: "hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var envelope types.MessageEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope.ID)
	assert.Equal(t, "alice", envelope.SenderID, "sender comes from the token, not the body")
	assert.Equal(t, []string{"alice", "bob"}, envelope.Members, "resolved member list rides along")
	assert.Len(t, env.store.messages["chat-1"], 1)
}

func TestServer_CreateMessageUnknownChat(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/messages", "alice", CreateMessageRequest{
		ChatID:  "ghost",
		Content: "hello",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CreateMessageMissingFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/messages", "alice", CreateMessageRequest{ChatID: "chat-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListMessages(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat("chat-1", "alice", "bob")
	env.store.messages["chat-1"] = []*types.MessageEnvelope{
		{ID: "m1", ChatID: "chat-1", SenderID: "alice", Content: "hi", Members: []string{"alice", "bob"}},
	}

	rec := env.request(t, http.MethodGet, "/api/messages/chat-1", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var messages []*types.MessageEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].ID)
}

func TestServer_ListMessagesEmptyChatReturnsArray(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/messages/empty-chat", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestServer_CreateChatAddsCreator(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/chats", "alice", CreateChatRequest{
		Name:    "team",
		IsGroup: true,
		Members: []string{"bob", "carol"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var chat types.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Contains(t, chat.Members, "alice")
	assert.Len(t, chat.Members, 3)
}

func TestServer_GetChat(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat("chat-1", "alice", "bob")

	rec := env.request(t, http.MethodGet, "/api/chats/chat-1", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var chat types.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Equal(t, "chat-1", chat.ID)

	rec = env.request(t, http.MethodGet, "/api/chats/ghost", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Presence(t *testing.T) {
	env := newTestEnv(t)
	seen := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	env.store.lastSeen["bob"] = seen
	env.registry.Register("alice", &stubConn{id: "c1"})

	rec := env.request(t, http.MethodGet, "/api/presence?users=alice,bob", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var statuses []types.UserStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)

	byUser := map[string]types.UserStatus{}
	for _, s := range statuses {
		byUser[s.UserID] = s
	}
	assert.True(t, byUser["alice"].Online)
	assert.False(t, byUser["bob"].Online)
	assert.Equal(t, seen, byUser["bob"].LastSeen.UTC())
}

func TestServer_PresenceRequiresUsersParam(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/presence", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Database)
}

func TestServer_HealthDegradedOnStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.pingErr = errors.New("disk on fire")

	rec := env.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodDelete, "/api/messages", "alice", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
