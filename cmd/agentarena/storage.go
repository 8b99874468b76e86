package main

import (
	"context"

	"github.com/agentarena/agentarena/internal/common/config"
	"github.com/agentarena/agentarena/internal/common/logger"
	groupmodels "github.com/agentarena/agentarena/internal/group/models"
	groupstore "github.com/agentarena/agentarena/internal/group/store"
)

// provideGroupStore opens the configured store and overlays the server's
// turn limits onto groups created without their own.
func provideGroupStore(cfg *config.Config, log *logger.Logger) (groupstore.Store, func() error, error) {
	repo, cleanup, err := groupstore.Provide(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	st := &groupStoreDefaults{
		Store: repo,
		defaults: groupmodels.GroupConfig{
			MaxResponders:      cfg.Orchestrator.MaxResponders,
			TurnTimeoutSeconds: cfg.Orchestrator.TurnTimeoutSeconds,
			ChainDepthLimit:    cfg.Orchestrator.ChainDepthLimit,
		},
	}
	return st, cleanup, nil
}

// groupStoreDefaults overlays the server's default turn limits onto new
// groups before the store's own row-level defaults apply.
type groupStoreDefaults struct {
	groupstore.Store
	defaults groupmodels.GroupConfig
}

func (s *groupStoreDefaults) CreateGroup(ctx context.Context, group *groupmodels.Group) error {
	if group.Config.MaxResponders == 0 {
		group.Config.MaxResponders = s.defaults.MaxResponders
	}
	if group.Config.TurnTimeoutSeconds == 0 {
		group.Config.TurnTimeoutSeconds = s.defaults.TurnTimeoutSeconds
	}
	if group.Config.ChainDepthLimit == 0 {
		group.Config.ChainDepthLimit = s.defaults.ChainDepthLimit
	}
	return s.Store.CreateGroup(ctx, group)
}
