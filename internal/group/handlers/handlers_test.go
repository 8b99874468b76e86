package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/agentarena/internal/calllog"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/events"
	"github.com/agentarena/agentarena/internal/events/bus"
	"github.com/agentarena/agentarena/internal/group/models"
	"github.com/agentarena/agentarena/internal/group/store"
	ws "github.com/agentarena/agentarena/pkg/websocket"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	return log
}

// fakeGroupStore is an in-memory Store used by handler tests.
type fakeGroupStore struct {
	mu       sync.Mutex
	groups   map[string]*models.Group
	members  map[string][]*models.GroupMember
	messages map[string][]*models.Message
	nextID   int

	lastListOpts store.ListMessagesOptions
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{
		groups:   make(map[string]*models.Group),
		members:  make(map[string][]*models.GroupMember),
		messages: make(map[string][]*models.Message),
	}
}

func (f *fakeGroupStore) CreateGroup(_ context.Context, group *models.Group) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if group.ID == "" {
		f.nextID++
		group.ID = fmt.Sprintf("g-%d", f.nextID)
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	group.Config.ApplyDefaults()
	f.groups[group.ID] = group
	return nil
}

func (f *fakeGroupStore) GetGroup(_ context.Context, id string) (*models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[id]
	if !ok {
		return nil, store.ErrGroupNotFound
	}
	return group, nil
}

func (f *fakeGroupStore) ListGroups(_ context.Context) ([]*models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Group
	for _, g := range f.groups {
		result = append(result, g)
	}
	return result, nil
}

func (f *fakeGroupStore) DeleteGroup(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.groups[id]; !ok {
		return store.ErrGroupNotFound
	}
	delete(f.groups, id)
	delete(f.members, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeGroupStore) AddMember(_ context.Context, member *models.GroupMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if member.ID == "" {
		f.nextID++
		member.ID = fmt.Sprintf("m-%d", f.nextID)
	}
	f.members[member.GroupID] = append(f.members[member.GroupID], member)
	return nil
}

func (f *fakeGroupStore) RemoveMember(_ context.Context, groupID, memberID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.members[groupID]
	for i, m := range members {
		if m.ID == memberID {
			f.members[groupID] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return store.ErrMemberNotFound
}

func (f *fakeGroupStore) ListMembers(_ context.Context, groupID string) ([]*models.GroupMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[groupID], nil
}

func (f *fakeGroupStore) SaveMessage(_ context.Context, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if message.ID == "" {
		f.nextID++
		message.ID = fmt.Sprintf("msg-%d", f.nextID)
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	f.messages[message.GroupID] = append(f.messages[message.GroupID], message)
	return nil
}

func (f *fakeGroupStore) GetMessages(_ context.Context, groupID string, opts store.ListMessagesOptions) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastListOpts = opts
	msgs := f.messages[groupID]
	if opts.Limit > 0 && len(msgs) > opts.Limit {
		msgs = msgs[len(msgs)-opts.Limit:]
	}
	return msgs, nil
}

func (f *fakeGroupStore) SearchMessages(_ context.Context, groupID, query string, limit int) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []*models.Message
	for _, msg := range f.messages[groupID] {
		if strings.Contains(msg.Content, query) {
			matches = append(matches, msg)
		}
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	return matches, nil
}

func (f *fakeGroupStore) CountMessages(_ context.Context, groupID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.messages[groupID])), nil
}

func (f *fakeGroupStore) Close() error { return nil }

func (f *fakeGroupStore) savedMessages(groupID string) []*models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Message(nil), f.messages[groupID]...)
}

// fakeCallLog serves a canned trace.
type fakeCallLog struct {
	entries []*calllog.Entry
}

func (f *fakeCallLog) GetSessionLogs(string) ([]*calllog.Entry, error) {
	return f.entries, nil
}

// fakeNotifier records orchestrator triggers.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []*models.Message
}

func (f *fakeNotifier) OnNewMessage(_ context.Context, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeNotifier) triggered() []*models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Message(nil), f.messages...)
}

type handlerFixture struct {
	router   *gin.Engine
	store    *fakeGroupStore
	calls    *fakeCallLog
	notifier *fakeNotifier
	eventBus *bus.MemoryEventBus
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := newTestLogger()
	f := &handlerFixture{
		router:   gin.New(),
		store:    newFakeGroupStore(),
		calls:    &fakeCallLog{},
		notifier: &fakeNotifier{},
		eventBus: bus.NewMemoryEventBus(log),
	}
	dispatcher := ws.NewDispatcher()
	RegisterGroupRoutes(f.router, dispatcher, f.store, f.calls, log)
	RegisterMessageRoutes(f.router, dispatcher, f.store, f.notifier, f.eventBus, log)
	return f
}

func (f *handlerFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
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
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func (f *handlerFixture) seedGroup(t *testing.T, id string) *models.Group {
	t.Helper()
	group := &models.Group{ID: id, Name: "dev room"}
	require.NoError(t, f.store.CreateGroup(context.Background(), group))
	return group
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func TestCreateGroupAppliesDefaults(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/groups", map[string]interface{}{
		"name":        "frontend",
		"description": "ui work",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	body := decodeBody(t, resp)
	group, ok := body["group"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "frontend", group["name"])
	assert.NotEmpty(t, group["id"])

	config, ok := group["config"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 5, config["max_responders"])
	assert.EqualValues(t, 120, config["turn_timeout_seconds"])
}

func TestCreateGroupRequiresName(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/groups", map[string]interface{}{
		"description": "no name",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetGroupIncludesMembers(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")
	require.NoError(t, f.store.AddMember(context.Background(), &models.GroupMember{
		GroupID: "g1", Type: models.MemberAgent, AgentID: "alice", DisplayName: "Alice",
	}))

	resp := f.do(t, http.MethodGet, "/api/v1/groups/g1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	body := decodeBody(t, resp)
	members, ok := body["members"].([]interface{})
	require.True(t, ok)
	require.Len(t, members, 1)
	member := members[0].(map[string]interface{})
	assert.Equal(t, "alice", member["agent_id"])
}

func TestGetGroupNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/groups/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDeleteGroup(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")

	resp := f.do(t, http.MethodDelete, "/api/v1/groups/g1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, http.MethodDelete, "/api/v1/groups/g1", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAddMemberValidation(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")

	resp := f.do(t, http.MethodPost, "/api/v1/groups/g1/members", map[string]interface{}{
		"display_name": "no agent id",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodPost, "/api/v1/groups/g1/members", map[string]interface{}{
		"type":     "robot",
		"agent_id": "alice",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAddMemberDefaultsDisplayName(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")

	resp := f.do(t, http.MethodPost, "/api/v1/groups/g1/members", map[string]interface{}{
		"agent_id": "alice",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	body := decodeBody(t, resp)
	member, ok := body["member"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", member["display_name"])
	assert.Equal(t, "agent", member["type"])
}

func TestAddMemberUnknownGroup(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/groups/ghost/members", map[string]interface{}{
		"agent_id": "alice",
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRemoveMemberNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")

	resp := f.do(t, http.MethodDelete, "/api/v1/groups/g1/members/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSendMessagePersistsAndTriggers(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")

	received := make(chan *bus.Event, 1)
	_, err := f.eventBus.Subscribe(events.BuildGroupWildcardSubject(events.GroupUserMessage),
		func(_ context.Context, event *bus.Event) error {
			received <- event
			return nil
		})
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/api/v1/messages", map[string]interface{}{
		"group_id": "g1",
		"content":  "@alice please review",
	})
	require.Equal(t, http.StatusAccepted, resp.Code)

	body := decodeBody(t, resp)
	assert.Equal(t, "processing", body["status"])
	message, ok := body["message"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "human", message["author_id"])
	assert.Equal(t, "用户", message["author_name"])

	saved := f.store.savedMessages("g1")
	require.Len(t, saved, 1)
	assert.Equal(t, models.AuthorHuman, saved[0].AuthorType)
	assert.Equal(t, "@alice please review", saved[0].Content)

	triggered := f.notifier.triggered()
	require.Len(t, triggered, 1)
	assert.Equal(t, saved[0].ID, triggered[0].ID)

	select {
	case event := <-received:
		assert.Equal(t, events.GroupUserMessage, event.Type)
		data := event.Data
		require.NotNil(t, data)
		assert.Equal(t, "g1", data["group_id"])
	case <-time.After(time.Second):
		t.Fatal("user message event was not published")
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")

	resp := f.do(t, http.MethodPost, "/api/v1/messages", map[string]interface{}{
		"group_id": "g1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodPost, "/api/v1/messages", map[string]interface{}{
		"content": "orphan",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSendMessageUnknownGroup(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/messages", map[string]interface{}{
		"group_id": "ghost",
		"content":  "hello",
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Empty(t, f.notifier.triggered())
}

func TestListMessagesDefaultsLimit(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")

	resp := f.do(t, http.MethodGet, "/api/v1/groups/g1/messages", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, defaultHistoryLimit, f.store.lastListOpts.Limit)

	body := decodeBody(t, resp)
	messages, ok := body["messages"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, messages)
}

func TestListMessagesQueryValidation(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")

	resp := f.do(t, http.MethodGet, "/api/v1/groups/g1/messages?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodGet, "/api/v1/groups/g1/messages?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodGet, "/api/v1/groups/g1/messages?before=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListMessagesBeforeWindow(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")

	cutoff := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	resp := f.do(t, http.MethodGet, "/api/v1/groups/g1/messages?limit=10&before="+cutoff.Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 10, f.store.lastListOpts.Limit)
	require.NotNil(t, f.store.lastListOpts.Before)
	assert.True(t, f.store.lastListOpts.Before.Equal(cutoff))
}

func TestSearchMessages(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")
	for _, content := range []string{"deploy to staging", "lunch plans", "deploy rollback"} {
		require.NoError(t, f.store.SaveMessage(context.Background(), &models.Message{
			GroupID: "g1", Content: content, AuthorType: models.AuthorHuman,
		}))
	}

	resp := f.do(t, http.MethodGet, "/api/v1/groups/g1/messages/search?q=deploy", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	body := decodeBody(t, resp)
	assert.Equal(t, "deploy", body["query"])
	messages, ok := body["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)

	resp = f.do(t, http.MethodGet, "/api/v1/groups/g1/messages/search", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodGet, "/api/v1/groups/ghost/messages/search?q=deploy", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListCalls(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")
	f.calls.entries = []*calllog.Entry{
		{LogID: "l2", AgentID: "bob"},
		{LogID: "l1", AgentID: "alice"},
	}

	resp := f.do(t, http.MethodGet, "/api/v1/groups/g1/calls", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	body := decodeBody(t, resp)
	calls, ok := body["calls"].([]interface{})
	require.True(t, ok)
	require.Len(t, calls, 2)
	first := calls[0].(map[string]interface{})
	assert.Equal(t, "l2", first["log_id"])

	resp = f.do(t, http.MethodGet, "/api/v1/groups/ghost/calls", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

// WS handlers

func TestWSGetGroup(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")
	log := newTestLogger()
	h := NewGroupHandlers(f.store, f.calls, log)

	msg, err := ws.NewRequest("req-1", ws.ActionGroupGet, map[string]interface{}{"group_id": "g1"})
	require.NoError(t, err)

	resp, err := h.wsGetGroup(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)

	var payload map[string]interface{}
	require.NoError(t, resp.ParsePayload(&payload))
	group, ok := payload["group"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "g1", group["id"])
}

func TestWSGetGroupNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewGroupHandlers(f.store, f.calls, newTestLogger())

	msg, err := ws.NewRequest("req-1", ws.ActionGroupGet, map[string]interface{}{"group_id": "ghost"})
	require.NoError(t, err)

	resp, err := h.wsGetGroup(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeError, resp.Type)

	var payload ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, ws.ErrorCodeNotFound, payload.Code)
}

func TestWSSendMessage(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")
	h := NewMessageHandlers(f.store, f.notifier, f.eventBus, newTestLogger())

	msg, err := ws.NewRequest("req-1", ws.ActionMessageSend, map[string]interface{}{
		"group_id": "g1",
		"content":  "hello room",
	})
	require.NoError(t, err)

	resp, err := h.wsSendMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, ws.MessageTypeResponse, resp.Type)

	var payload map[string]interface{}
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, "processing", payload["status"])
	assert.Len(t, f.notifier.triggered(), 1)
}

func TestWSSendMessageValidation(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewMessageHandlers(f.store, f.notifier, f.eventBus, newTestLogger())

	msg, err := ws.NewRequest("req-1", ws.ActionMessageSend, map[string]interface{}{
		"group_id": "g1",
	})
	require.NoError(t, err)

	resp, err := h.wsSendMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, ws.MessageTypeError, resp.Type)

	var payload ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, ws.ErrorCodeValidation, payload.Code)
}

func TestWSListMessages(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedGroup(t, "g1")
	require.NoError(t, f.store.SaveMessage(context.Background(), &models.Message{
		GroupID: "g1", Content: "first", AuthorType: models.AuthorHuman,
	}))
	h := NewMessageHandlers(f.store, f.notifier, f.eventBus, newTestLogger())

	msg, err := ws.NewRequest("req-1", ws.ActionMessageHistory, map[string]interface{}{
		"group_id": "g1",
	})
	require.NoError(t, err)

	resp, err := h.wsListMessages(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, ws.MessageTypeResponse, resp.Type)

	var payload map[string]interface{}
	require.NoError(t, resp.ParsePayload(&payload))
	messages, ok := payload["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, messages, 1)
	assert.Equal(t, defaultHistoryLimit, f.store.lastListOpts.Limit)
}
