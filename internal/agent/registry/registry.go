// Package registry manages the table of agent profiles known to the arena.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentarena/agentarena/internal/agent/models"
	"github.com/agentarena/agentarena/internal/common/logger"
)

// ErrAgentNotFound is returned when looking up an unregistered agent ID.
var ErrAgentNotFound = errors.New("agent not found")

// Registry holds agent profiles in memory. Profiles are loaded from a
// config directory of per-agent YAML files at startup and mutated at
// runtime through onboarding and removal.
type Registry struct {
	agents    map[string]*models.AgentProfile
	configDir string
	mu        sync.RWMutex
	logger    *logger.Logger
}

// NewRegistry creates a new agent registry rooted at configDir.
func NewRegistry(configDir string, log *logger.Logger) *Registry {
	return &Registry{
		agents:    make(map[string]*models.AgentProfile),
		configDir: configDir,
		logger:    log.WithFields(zap.String("component", "agent-registry")),
	}
}

// LoadAll reads every *.yaml profile from the config directory. A missing
// directory is not an error; files that fail to parse are skipped so one
// bad profile cannot block the rest.
func (r *Registry) LoadAll() error {
	entries, err := os.ReadDir(r.configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read agent config dir: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(r.configDir, entry.Name())
		profile, err := LoadProfile(path)
		if err != nil {
			r.logger.Warn("skipping invalid agent profile",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		r.agents[profile.AgentID] = profile
		r.logger.Info("loaded agent profile",
			zap.String("agent_id", profile.AgentID),
			zap.String("cli", string(profile.CLIConfig.Type)))
	}
	return nil
}

// LoadProfile parses a single agent profile YAML file and applies defaults.
func LoadProfile(path string) (*models.AgentProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	// Unmarshal over a defaulted profile so keys absent from the YAML
	// keep their defaults (auto_respond must stay true unless set).
	profile := &models.AgentProfile{
		ResponseConfig: models.DefaultResponseConfig(),
		CLIConfig:      models.DefaultCLIConfig(),
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	if profile.AgentID == "" {
		return nil, fmt.Errorf("profile has no agent_id")
	}
	profile.ApplyDefaults()
	return profile, nil
}

// Register adds or replaces a profile. Re-registering an existing ID
// overwrites it, which is how onboarding updates take effect.
func (r *Registry) Register(profile *models.AgentProfile) error {
	if profile == nil || profile.AgentID == "" {
		return fmt.Errorf("agent profile requires an agent_id")
	}
	profile.ApplyDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.agents[profile.AgentID]
	r.agents[profile.AgentID] = profile
	if replaced {
		r.logger.Info("updated agent profile", zap.String("agent_id", profile.AgentID))
	} else {
		r.logger.Info("registered agent", zap.String("agent_id", profile.AgentID))
	}
	return nil
}

// Unregister removes an agent profile.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	delete(r.agents, agentID)
	r.logger.Info("unregistered agent", zap.String("agent_id", agentID))
	return nil
}

// Get returns the profile for agentID.
func (r *Registry) Get(agentID string) (*models.AgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, exists := r.agents[agentID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return profile, nil
}

// Exists checks if an agent is registered.
func (r *Registry) Exists(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agents[agentID]
	return exists
}

// List returns all registered profiles ordered by agent ID.
func (r *Registry) List() []*models.AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.AgentProfile, 0, len(r.agents))
	for _, profile := range r.agents {
		result = append(result, profile)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AgentID < result[j].AgentID
	})
	return result
}

// FindBySkill returns agents whose skill list contains the keyword as a
// substring of any entry.
func (r *Registry) FindBySkill(keyword string) []*models.AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.AgentProfile, 0)
	for _, profile := range r.agents {
		for _, skill := range profile.Skills {
			if strings.Contains(skill, keyword) {
				result = append(result, profile)
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AgentID < result[j].AgentID
	})
	return result
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Reload drops the in-memory table and re-reads the config directory.
func (r *Registry) Reload() error {
	r.mu.Lock()
	r.agents = make(map[string]*models.AgentProfile)
	r.mu.Unlock()

	if err := r.LoadAll(); err != nil {
		return err
	}
	r.logger.Info("registry reloaded", zap.Int("agents", r.Count()))
	return nil
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
