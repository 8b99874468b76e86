package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/agentarena/internal/agent/registry"
	"github.com/agentarena/agentarena/internal/agent/workspace"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/memory"
	ws "github.com/agentarena/agentarena/pkg/websocket"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	return log
}

type agentFixture struct {
	router        *gin.Engine
	handlers      *AgentHandlers
	registry      *registry.Registry
	workspacesDir string
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tmp := t.TempDir()
	log := newTestLogger()
	workspacesDir := filepath.Join(tmp, "workspaces")
	agentsDir := filepath.Join(tmp, "agents")

	reg := registry.NewRegistry(agentsDir, log)
	manager, err := workspace.NewManager(reg, memory.NewPersonalMemory(log), workspacesDir, agentsDir, log)
	require.NoError(t, err)

	router := gin.New()
	dispatcher := ws.NewDispatcher()
	RegisterAgentRoutes(router, dispatcher, reg, manager, log)

	return &agentFixture{
		router:        router,
		handlers:      NewAgentHandlers(reg, manager, log),
		registry:      reg,
		workspacesDir: workspacesDir,
	}
}

func (f *agentFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func (f *agentFixture) onboard(t *testing.T, agentID, name string) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/v1/agents/onboard", map[string]interface{}{
		"agent_id":    agentID,
		"name":        name,
		"role_prompt": "You are " + name + ".",
		"skills":      []string{"go", "review"},
	})
	require.Equal(t, http.StatusOK, resp.Code)
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func TestOnboardAgentEndpoint(t *testing.T) {
	f := newAgentFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/agents/onboard", map[string]interface{}{
		"agent_id":          "alice",
		"name":              "Alice",
		"role_prompt":       "You are Alice.",
		"cli_type":          "claude",
		"priority_keywords": []string{"deploy"},
	})
	require.Equal(t, http.StatusOK, resp.Code)

	body := decodeBody(t, resp)
	agent := body["agent"].(map[string]interface{})
	assert.Equal(t, "alice", agent["agent_id"])
	assert.Equal(t, "Alice", agent["name"])

	assert.True(t, f.registry.Exists("alice"))
	assert.DirExists(t, filepath.Join(f.workspacesDir, "alice"))
}

func TestOnboardAgentValidation(t *testing.T) {
	f := newAgentFixture(t)

	cases := []map[string]interface{}{
		{"name": "NoID"},
		{"agent_id": "x/y", "name": "BadID"},
		{"agent_id": "ok"},
		{"agent_id": "ok", "name": "Ok", "cli_type": "vim"},
	}
	for _, payload := range cases {
		resp := f.do(t, http.MethodPost, "/api/v1/agents/onboard", payload)
		assert.Equal(t, http.StatusBadRequest, resp.Code, "payload %v", payload)
	}
}

func TestListAgents(t *testing.T) {
	f := newAgentFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, decodeBody(t, resp)["agents"])

	f.onboard(t, "alice", "Alice")
	f.onboard(t, "bob", "Bob")

	resp = f.do(t, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	agents := decodeBody(t, resp)["agents"].([]interface{})
	require.Len(t, agents, 2)
	assert.Equal(t, "alice", agents[0].(map[string]interface{})["agent_id"])
	assert.Equal(t, "bob", agents[1].(map[string]interface{})["agent_id"])
}

func TestGetAgent(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")

	resp := f.do(t, http.MethodGet, "/api/v1/agents/alice", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	agent := decodeBody(t, resp)["agent"].(map[string]interface{})
	assert.Equal(t, "Alice", agent["name"])

	resp = f.do(t, http.MethodGet, "/api/v1/agents/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSearchBySkill(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")

	resp := f.do(t, http.MethodGet, "/api/v1/agents/search/skill?keyword=review", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	agents := decodeBody(t, resp)["agents"].([]interface{})
	require.Len(t, agents, 1)
	assert.Equal(t, "alice", agents[0].(map[string]interface{})["agent_id"])

	resp = f.do(t, http.MethodGet, "/api/v1/agents/search/skill?keyword=rust", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, decodeBody(t, resp)["agents"])

	resp = f.do(t, http.MethodGet, "/api/v1/agents/search/skill", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUpdateAgentReplacesProfile(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")

	resp := f.do(t, http.MethodPut, "/api/v1/agents/alice", map[string]interface{}{
		"name":               "Alice Prime",
		"cli_type":           "cursor",
		"timeout":            600,
		"response_threshold": 0.9,
		"skills":             []string{"frontend"},
	})
	require.Equal(t, http.StatusOK, resp.Code)

	profile, err := f.registry.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice Prime", profile.Name)
	assert.EqualValues(t, "cursor", profile.CLIConfig.Type)
	assert.Equal(t, 600, profile.CLIConfig.TimeoutSeconds)
	assert.InDelta(t, 0.9, profile.ResponseConfig.ResponseThreshold, 0.001)
	// Omitted fields fall back to defaults rather than keeping old values.
	assert.True(t, profile.ResponseConfig.AutoRespond)
	assert.Equal(t, 2000, profile.MaxOutputTokens)
	// The workspace binding never changes through an update.
	assert.Equal(t, filepath.Join(f.workspacesDir, "alice"), profile.WorkspaceDir)
}

func TestUpdateAgentValidation(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")

	resp := f.do(t, http.MethodPut, "/api/v1/agents/alice", map[string]interface{}{"cli_type": "claude"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodPut, "/api/v1/agents/ghost", map[string]interface{}{"name": "Ghost"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRemoveAgent(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")

	resp := f.do(t, http.MethodDelete, "/api/v1/agents/alice", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, decodeBody(t, resp)["ok"])
	assert.False(t, f.registry.Exists("alice"))
	// Workspace survives unless deletion is requested.
	assert.DirExists(t, filepath.Join(f.workspacesDir, "alice"))

	resp = f.do(t, http.MethodDelete, "/api/v1/agents/alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRemoveAgentDeletesWorkspace(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")

	resp := f.do(t, http.MethodDelete, "/api/v1/agents/alice?delete_workspace=true", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NoDirExists(t, filepath.Join(f.workspacesDir, "alice"))
}

func TestReloadAgents(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")
	f.onboard(t, "bob", "Bob")

	resp := f.do(t, http.MethodPost, "/api/v1/agents/reload", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 2, body["count"])
}

func TestSyncWorkspace(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")

	// Non-git workspace syncs as a warning no-op.
	resp := f.do(t, http.MethodPost, "/api/v1/agents/alice/sync", nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, http.MethodPost, "/api/v1/agents/ghost/sync", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestWorkspaceConfigRoundTrip(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")

	resp := f.do(t, http.MethodGet, "/api/v1/agents/alice/workspace-config", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body := decodeBody(t, resp)
	assert.Equal(t, "CLAUDE.md", body["filename"])
	assert.Equal(t, "You are Alice.", body["content"])

	resp = f.do(t, http.MethodPut, "/api/v1/agents/alice/workspace-config", map[string]interface{}{
		"content": "New marching orders.",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	raw, err := os.ReadFile(filepath.Join(f.workspacesDir, "alice", "CLAUDE.md"))
	require.NoError(t, err)
	assert.Equal(t, "New marching orders.", string(raw))

	resp = f.do(t, http.MethodGet, "/api/v1/agents/ghost/workspace-config", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListWorkspaces(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")

	resp := f.do(t, http.MethodGet, "/api/v1/workspaces", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	workspaces := decodeBody(t, resp)["workspaces"].([]interface{})
	require.Len(t, workspaces, 1)
	status := workspaces[0].(map[string]interface{})
	assert.Equal(t, "alice", status["agent_id"])
	assert.Equal(t, true, status["registered"])
	assert.Equal(t, true, status["has_role_file"])
	assert.Equal(t, false, status["is_git_repo"])
}

func TestWSListAgents(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")

	req, err := ws.NewRequest("req-1", ws.ActionAgentList, nil)
	require.NoError(t, err)

	resp, err := f.handlers.wsListAgents(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)

	var payload struct {
		Agents []map[string]interface{} `json:"agents"`
	}
	require.NoError(t, resp.ParsePayload(&payload))
	require.Len(t, payload.Agents, 1)
	assert.Equal(t, "alice", payload.Agents[0]["agent_id"])
}

func TestWSGetAgent(t *testing.T) {
	f := newAgentFixture(t)
	f.onboard(t, "alice", "Alice")

	req, err := ws.NewRequest("req-1", ws.ActionAgentGet, map[string]interface{}{"agent_id": "alice"})
	require.NoError(t, err)
	resp, err := f.handlers.wsGetAgent(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)

	req, err = ws.NewRequest("req-2", ws.ActionAgentGet, map[string]interface{}{"agent_id": "ghost"})
	require.NoError(t, err)
	resp, err = f.handlers.wsGetAgent(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ws.MessageTypeError, resp.Type)

	var errPayload ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&errPayload))
	assert.Equal(t, ws.ErrorCodeNotFound, errPayload.Code)
}
