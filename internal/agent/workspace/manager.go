// Package workspace manages per-agent working directories. Onboarding
// clones (or creates) the directory, writes the role file for the CLI
// type, persists the profile YAML, and registers the agent.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentarena/agentarena/internal/agent/models"
	"github.com/agentarena/agentarena/internal/agent/registry"
	"github.com/agentarena/agentarena/internal/common/logger"
)

// MemoryInitializer seeds an agent's personal memory files during
// onboarding.
type MemoryInitializer interface {
	InitWorkspace(workspaceDir, agentName string) error
}

// Manager owns the workspaces directory and the agents config directory.
// Git operations on the same workspace are serialized; different
// workspaces do not contend.
type Manager struct {
	registry      *registry.Registry
	memory        MemoryInitializer
	workspacesDir string
	agentsDir     string
	logger        *logger.Logger
	dirMus        sync.Map
}

// NewManager creates the manager and ensures the workspaces directory
// exists.
func NewManager(reg *registry.Registry, mem MemoryInitializer, workspacesDir, agentsDir string, log *logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(workspacesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspaces dir: %w", err)
	}
	return &Manager{
		registry:      reg,
		memory:        mem,
		workspacesDir: workspacesDir,
		agentsDir:     agentsDir,
		logger:        log.WithFields(zap.String("component", "workspace-manager")),
	}, nil
}

// OnboardRequest carries everything needed to bind a new agent to a
// working directory.
type OnboardRequest struct {
	AgentID          string
	Name             string
	RepoURL          string
	RolePrompt       string
	Skills           []string
	CLIType          models.CLIType
	Avatar           string
	PriorityKeywords []string
}

// WorkspaceStatus describes one directory under the workspaces root.
type WorkspaceStatus struct {
	AgentID     string `json:"agent_id"`
	Path        string `json:"path"`
	IsGitRepo   bool   `json:"is_git_repo"`
	HasRoleFile bool   `json:"has_role_file"`
	Registered  bool   `json:"registered"`
}

// Onboard sets up a new agent: clone the repo (or create an empty
// directory), write the role file, seed personal memory, persist the
// profile YAML, and register it. Onboarding an existing agent ID
// replaces its profile.
func (m *Manager) Onboard(ctx context.Context, req OnboardRequest) (*models.AgentProfile, error) {
	if err := ValidateAgentID(req.AgentID); err != nil {
		return nil, err
	}
	workspacePath := filepath.Join(m.workspacesDir, req.AgentID)

	if req.RepoURL != "" {
		if err := m.cloneOrPull(ctx, req.RepoURL, workspacePath); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(workspacePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	profile := &models.AgentProfile{
		AgentID:        req.AgentID,
		Name:           req.Name,
		Avatar:         req.Avatar,
		WorkspaceDir:   workspacePath,
		RepoURL:        req.RepoURL,
		RolePrompt:     req.RolePrompt,
		Skills:         req.Skills,
		ResponseConfig: models.DefaultResponseConfig(),
		CLIConfig:      models.DefaultCLIConfig(),
	}
	profile.ResponseConfig.PriorityKeywords = req.PriorityKeywords
	if req.CLIType != "" {
		profile.CLIConfig.Type = req.CLIType
	}
	profile.ApplyDefaults()

	if req.RolePrompt != "" {
		if err := m.writeRoleFile(profile, false); err != nil {
			return nil, err
		}
	}
	if m.memory != nil {
		if err := m.memory.InitWorkspace(workspacePath, profile.Name); err != nil {
			m.logger.Warn("failed to seed workspace memory",
				zap.String("agent_id", req.AgentID),
				zap.Error(err))
		}
	}

	if err := m.saveProfileYAML(profile); err != nil {
		return nil, err
	}
	if err := m.registry.Register(profile); err != nil {
		return nil, err
	}

	m.logger.Info("onboarded agent",
		zap.String("agent_id", profile.AgentID),
		zap.String("name", profile.Name),
		zap.String("workspace", workspacePath))
	return profile, nil
}

// Remove unregisters an agent and deletes its profile YAML. The working
// directory is kept unless deleteWorkspace is set.
func (m *Manager) Remove(ctx context.Context, agentID string, deleteWorkspace bool) error {
	profile, err := m.registry.Get(agentID)
	if err != nil {
		return err
	}
	if err := m.registry.Unregister(agentID); err != nil {
		return err
	}

	yamlPath := filepath.Join(m.agentsDir, agentID+".yaml")
	if err := os.Remove(yamlPath); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to delete profile yaml", zap.String("path", yamlPath), zap.Error(err))
	}

	if deleteWorkspace {
		workspacePath := profile.WorkspaceDir
		if workspacePath == "" {
			workspacePath = filepath.Join(m.workspacesDir, agentID)
		}
		if err := os.RemoveAll(workspacePath); err != nil {
			return fmt.Errorf("failed to delete workspace: %w", err)
		}
		m.logger.Info("deleted workspace", zap.String("path", workspacePath))
	}

	m.logger.Info("removed agent", zap.String("agent_id", agentID))
	return nil
}

// Update rewrites an agent's profile YAML and role file and replaces
// the registry entry. The workspace directory and repo URL of the
// registered profile are preserved.
func (m *Manager) Update(ctx context.Context, profile *models.AgentProfile) (*models.AgentProfile, error) {
	old, err := m.registry.Get(profile.AgentID)
	if err != nil {
		return nil, err
	}
	profile.WorkspaceDir = old.WorkspaceDir
	profile.RepoURL = old.RepoURL
	profile.ApplyDefaults()

	if profile.RolePrompt != "" {
		if err := m.writeRoleFile(profile, true); err != nil {
			return nil, err
		}
	}
	if err := m.saveProfileYAML(profile); err != nil {
		return nil, err
	}
	if err := m.registry.Register(profile); err != nil {
		return nil, err
	}

	m.logger.Info("updated agent", zap.String("agent_id", profile.AgentID))
	return profile, nil
}

// Sync pulls the agent's workspace from its remote. Workspaces without
// a git checkout are skipped with a warning.
func (m *Manager) Sync(ctx context.Context, agentID string) error {
	profile, err := m.registry.Get(agentID)
	if err != nil {
		return err
	}
	workspacePath := profile.WorkspaceDir
	if _, err := os.Stat(workspacePath); err != nil {
		return fmt.Errorf("workspace does not exist: %s", workspacePath)
	}
	if !isGitRepo(workspacePath) {
		m.logger.Warn("workspace is not a git repo, skipping sync",
			zap.String("agent_id", agentID),
			zap.String("path", workspacePath))
		return nil
	}
	return m.pull(ctx, workspacePath)
}

// List reports every directory under the workspaces root with its
// status flags.
func (m *Manager) List() []WorkspaceStatus {
	entries, err := os.ReadDir(m.workspacesDir)
	if err != nil {
		return []WorkspaceStatus{}
	}

	result := make([]WorkspaceStatus, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.workspacesDir, entry.Name())
		result = append(result, WorkspaceStatus{
			AgentID:     entry.Name(),
			Path:        path,
			IsGitRepo:   isGitRepo(path),
			HasRoleFile: hasRoleFile(path),
			Registered:  m.registry.Exists(entry.Name()),
		})
	}
	return result
}

// ReadRoleFile returns the role file content and its workspace-relative
// name for the agent's CLI type.
func (m *Manager) ReadRoleFile(agentID string) (string, string, error) {
	profile, err := m.registry.Get(agentID)
	if err != nil {
		return "", "", err
	}
	rel := roleFileRelPath(profile.CLIConfig.Type)
	data, err := os.ReadFile(filepath.Join(profile.WorkspaceDir, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", rel, nil
		}
		return "", rel, fmt.Errorf("failed to read role file: %w", err)
	}
	return string(data), rel, nil
}

// WriteRoleFile overwrites the role file with the given content.
func (m *Manager) WriteRoleFile(agentID, content string) error {
	profile, err := m.registry.Get(agentID)
	if err != nil {
		return err
	}
	path := filepath.Join(profile.WorkspaceDir, filepath.FromSlash(roleFileRelPath(profile.CLIConfig.Type)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create role file dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write role file: %w", err)
	}
	return nil
}

// cursorFrontMatter makes the rule unconditional so the CLI always
// loads the role.
const cursorFrontMatter = "---\nalwaysApply: true\n---\n\n"

// roleFileRelPath returns the workspace-relative role file location for
// a CLI type, in forward-slash form.
func roleFileRelPath(cliType models.CLIType) string {
	switch cliType {
	case models.CLICursor:
		return ".cursor/rules/role.mdc"
	case models.CLIGeneric:
		return "AGENT.md"
	default:
		return "CLAUDE.md"
	}
}

// writeRoleFile writes the role prompt into the workspace. A role file
// that already exists (for example shipped inside the cloned repo) is
// only replaced when overwrite is set.
func (m *Manager) writeRoleFile(profile *models.AgentProfile, overwrite bool) error {
	path := filepath.Join(profile.WorkspaceDir, filepath.FromSlash(roleFileRelPath(profile.CLIConfig.Type)))
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			m.logger.Info("role file already exists, keeping it", zap.String("path", path))
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create role file dir: %w", err)
	}

	content := profile.RolePrompt
	if profile.CLIConfig.Type == models.CLICursor {
		content = cursorFrontMatter + content
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write role file: %w", err)
	}
	m.logger.Info("wrote role file", zap.String("path", path))
	return nil
}

// saveProfileYAML persists the profile as agents/<agent_id>.yaml.
func (m *Manager) saveProfileYAML(profile *models.AgentProfile) error {
	if err := os.MkdirAll(m.agentsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create agents config dir: %w", err)
	}
	data, err := yaml.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	path := filepath.Join(m.agentsDir, profile.AgentID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	m.logger.Debug("saved agent profile", zap.String("path", path))
	return nil
}

// dirMu returns (or lazily creates) the mutex for a workspace path.
func (m *Manager) dirMu(path string) *sync.Mutex {
	mu, _ := m.dirMus.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// cloneOrPull clones the repo into targetPath. When the directory is
// already there it pulls instead, and a pull failure is downgraded to a
// warning so re-onboarding an agent never bricks on a dirty checkout.
func (m *Manager) cloneOrPull(ctx context.Context, repoURL, targetPath string) error {
	mu := m.dirMu(targetPath)
	mu.Lock()
	defer mu.Unlock()

	if info, err := os.Stat(targetPath); err == nil && info.IsDir() {
		if !isGitRepo(targetPath) {
			m.logger.Warn("workspace exists without a git checkout, leaving it as is",
				zap.String("path", targetPath))
			return nil
		}
		m.logger.Warn("workspace already exists, pulling instead",
			zap.String("path", targetPath))
		if err := m.pull(ctx, targetPath); err != nil {
			m.logger.Warn("git pull failed (non-fatal)",
				zap.String("path", targetPath),
				zap.Error(err))
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("failed to create workspaces dir: %w", err)
	}
	m.logger.Info("cloning repository",
		zap.String("url", repoURL),
		zap.String("target", targetPath))

	cmd := exec.CommandContext(ctx, "git", "clone", repoURL, targetPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone failed: %s: %w", string(out), err)
	}
	return nil
}

func (m *Manager) pull(ctx context.Context, repoPath string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "pull")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git pull failed: %s: %w", string(out), err)
	}
	m.logger.Info("pulled workspace",
		zap.String("path", repoPath),
		zap.String("output", strings.TrimSpace(string(out))))
	return nil
}

func isGitRepo(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

func hasRoleFile(path string) bool {
	for _, rel := range []string{"CLAUDE.md", ".cursor/rules/role.mdc", "AGENT.md"} {
		if _, err := os.Stat(filepath.Join(path, filepath.FromSlash(rel))); err == nil {
			return true
		}
	}
	return false
}

// ValidateAgentID rejects IDs that would escape the workspaces root.
func ValidateAgentID(agentID string) error {
	if agentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if agentID == "." || agentID == ".." || strings.ContainsAny(agentID, `/\`) {
		return fmt.Errorf("invalid agent_id: %q", agentID)
	}
	return nil
}
