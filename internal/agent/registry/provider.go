package registry

import (
	"github.com/agentarena/agentarena/internal/common/config"
	"github.com/agentarena/agentarena/internal/common/logger"
)

// Provide creates the agent registry and loads profiles from the
// configured agents directory.
func Provide(cfg *config.Config, log *logger.Logger) (*Registry, func() error, error) {
	reg := NewRegistry(cfg.Agents.ConfigDir, log)
	if err := reg.LoadAll(); err != nil {
		return nil, nil, err
	}
	return reg, func() error { return nil }, nil
}
