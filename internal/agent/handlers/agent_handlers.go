// Package handlers exposes the agent roster and workspace management
// over HTTP and WebSocket.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/agent/models"
	"github.com/agentarena/agentarena/internal/agent/registry"
	"github.com/agentarena/agentarena/internal/agent/workspace"
	"github.com/agentarena/agentarena/internal/common/logger"
	ws "github.com/agentarena/agentarena/pkg/websocket"
)

// AgentHandlers serves the agent CRUD surface: roster lookups from the
// registry, onboarding and workspace operations through the manager.
type AgentHandlers struct {
	registry   *registry.Registry
	workspaces *workspace.Manager
	logger     *logger.Logger
}

func NewAgentHandlers(reg *registry.Registry, workspaces *workspace.Manager, log *logger.Logger) *AgentHandlers {
	return &AgentHandlers{
		registry:   reg,
		workspaces: workspaces,
		logger:     log.WithFields(zap.String("component", "agent-handlers")),
	}
}

// RegisterAgentRoutes wires the agent HTTP routes and WebSocket actions.
func RegisterAgentRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, reg *registry.Registry, workspaces *workspace.Manager, log *logger.Logger) {
	h := NewAgentHandlers(reg, workspaces, log)
	h.registerHTTP(router)
	h.registerWS(dispatcher)
}

func (h *AgentHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/agents", h.httpListAgents)
	api.GET("/agents/search/skill", h.httpSearchBySkill)
	api.POST("/agents/onboard", h.httpOnboardAgent)
	api.POST("/agents/reload", h.httpReloadAgents)
	api.GET("/agents/:id", h.httpGetAgent)
	api.PUT("/agents/:id", h.httpUpdateAgent)
	api.DELETE("/agents/:id", h.httpRemoveAgent)
	api.POST("/agents/:id/sync", h.httpSyncWorkspace)
	api.GET("/agents/:id/workspace-config", h.httpGetWorkspaceConfig)
	api.PUT("/agents/:id/workspace-config", h.httpPutWorkspaceConfig)
	api.GET("/workspaces", h.httpListWorkspaces)
}

func (h *AgentHandlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionAgentList, h.wsListAgents)
	dispatcher.RegisterFunc(ws.ActionAgentGet, h.wsGetAgent)
}

// HTTP handlers

func (h *AgentHandlers) httpListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": h.registry.List()})
}

func (h *AgentHandlers) httpSearchBySkill(c *gin.Context) {
	keyword := c.Query("keyword")
	if keyword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keyword is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": h.registry.FindBySkill(keyword)})
}

func (h *AgentHandlers) httpGetAgent(c *gin.Context) {
	profile, err := h.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": profile})
}

type onboardAgentRequest struct {
	AgentID          string   `json:"agent_id"`
	Name             string   `json:"name"`
	RepoURL          string   `json:"repo_url"`
	RolePrompt       string   `json:"role_prompt"`
	Skills           []string `json:"skills"`
	CLIType          string   `json:"cli_type"`
	Avatar           string   `json:"avatar"`
	PriorityKeywords []string `json:"priority_keywords"`
}

func (h *AgentHandlers) httpOnboardAgent(c *gin.Context) {
	var body onboardAgentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := workspace.ValidateAgentID(body.AgentID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	cliType, ok := parseCLIType(body.CLIType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cli_type must be one of claude, cursor, generic"})
		return
	}

	profile, err := h.workspaces.Onboard(c.Request.Context(), workspace.OnboardRequest{
		AgentID:          body.AgentID,
		Name:             body.Name,
		RepoURL:          body.RepoURL,
		RolePrompt:       body.RolePrompt,
		Skills:           body.Skills,
		CLIType:          cliType,
		Avatar:           body.Avatar,
		PriorityKeywords: body.PriorityKeywords,
	})
	if err != nil {
		h.logger.Error("failed to onboard agent",
			zap.String("agent_id", body.AgentID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to onboard agent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": profile})
}

// updateAgentRequest replaces the whole profile. Only the workspace
// directory and repo URL of the registered profile survive an update.
type updateAgentRequest struct {
	Name              string            `json:"name"`
	Avatar            string            `json:"avatar"`
	RolePrompt        string            `json:"role_prompt"`
	Skills            []string          `json:"skills"`
	CLIType           string            `json:"cli_type"`
	Command           string            `json:"command"`
	Timeout           int               `json:"timeout"`
	ExtraArgs         []string          `json:"extra_args"`
	Env               map[string]string `json:"env"`
	AutoRespond       *bool             `json:"auto_respond"`
	ResponseThreshold *float64          `json:"response_threshold"`
	PriorityKeywords  []string          `json:"priority_keywords"`
	MaxOutputTokens   int               `json:"max_output_tokens"`
}

func (h *AgentHandlers) httpUpdateAgent(c *gin.Context) {
	var body updateAgentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	cliType, ok := parseCLIType(body.CLIType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cli_type must be one of claude, cursor, generic"})
		return
	}

	profile := &models.AgentProfile{
		AgentID:        c.Param("id"),
		Name:           body.Name,
		Avatar:         body.Avatar,
		RolePrompt:     body.RolePrompt,
		Skills:         body.Skills,
		ResponseConfig: models.DefaultResponseConfig(),
		CLIConfig: models.CLIConfig{
			Type:           cliType,
			Command:        body.Command,
			TimeoutSeconds: body.Timeout,
			ExtraArgs:      body.ExtraArgs,
			Env:            body.Env,
		},
		MaxOutputTokens: body.MaxOutputTokens,
	}
	if body.AutoRespond != nil {
		profile.ResponseConfig.AutoRespond = *body.AutoRespond
	}
	if body.ResponseThreshold != nil {
		profile.ResponseConfig.ResponseThreshold = *body.ResponseThreshold
	}
	profile.ResponseConfig.PriorityKeywords = body.PriorityKeywords

	updated, err := h.workspaces.Update(c.Request.Context(), profile)
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		h.logger.Error("failed to update agent",
			zap.String("agent_id", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update agent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": updated})
}

func (h *AgentHandlers) httpRemoveAgent(c *gin.Context) {
	deleteWorkspace := c.Query("delete_workspace") == "true"
	if err := h.workspaces.Remove(c.Request.Context(), c.Param("id"), deleteWorkspace); err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		h.logger.Error("failed to remove agent",
			zap.String("agent_id", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove agent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AgentHandlers) httpReloadAgents(c *gin.Context) {
	if err := h.registry.Reload(); err != nil {
		h.logger.Error("failed to reload agents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload agents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": h.registry.Count()})
}

func (h *AgentHandlers) httpSyncWorkspace(c *gin.Context) {
	if err := h.workspaces.Sync(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		h.logger.Error("failed to sync workspace",
			zap.String("agent_id", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sync workspace"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AgentHandlers) httpGetWorkspaceConfig(c *gin.Context) {
	content, filename, err := h.workspaces.ReadRoleFile(c.Param("id"))
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		h.logger.Error("failed to read role file",
			zap.String("agent_id", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read role file"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": content, "filename": filename})
}

type workspaceConfigRequest struct {
	Content string `json:"content"`
}

func (h *AgentHandlers) httpPutWorkspaceConfig(c *gin.Context) {
	var body workspaceConfigRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.workspaces.WriteRoleFile(c.Param("id"), body.Content); err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		h.logger.Error("failed to write role file",
			zap.String("agent_id", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write role file"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AgentHandlers) httpListWorkspaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workspaces": h.workspaces.List()})
}

// WS handlers

func (h *AgentHandlers) wsListAgents(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"agents": h.registry.List(),
	})
}

type wsGetAgentRequest struct {
	AgentID string `json:"agent_id"`
}

func (h *AgentHandlers) wsGetAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsGetAgentRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.AgentID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "agent_id is required", nil)
	}
	profile, err := h.registry.Get(req.AgentID)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, "agent not found", nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"agent": profile,
	})
}

// parseCLIType maps the wire value to a CLI type. The empty string is
// accepted and means "use the default".
func parseCLIType(s string) (models.CLIType, bool) {
	switch models.CLIType(s) {
	case "", models.CLIClaude, models.CLICursor, models.CLIGeneric:
		return models.CLIType(s), true
	}
	return "", false
}
