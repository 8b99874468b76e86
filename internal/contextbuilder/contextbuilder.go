// Package contextbuilder assembles the full input for one agent
// invocation: role, peers, truncated dialogue history and the merged
// memory context, under a fixed token budget.
package contextbuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	agentmodels "github.com/agentarena/agentarena/internal/agent/models"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/common/tracing"
	groupmodels "github.com/agentarena/agentarena/internal/group/models"
	"github.com/agentarena/agentarena/internal/group/store"
	"github.com/agentarena/agentarena/internal/memory"
	"github.com/agentarena/agentarena/internal/protocol"
)

// historyLimit caps how many recent messages enter the context window.
const historyLimit = 50

// memoryDelimiter separates the merged memory layers.
const memoryDelimiter = "\n---\n"

// MessageReader reads recent session history.
type MessageReader interface {
	GetMessages(ctx context.Context, groupID string, opts store.ListMessagesOptions) ([]*groupmodels.Message, error)
}

// ProfileResolver resolves agent profiles.
type ProfileResolver interface {
	Get(agentID string) (*agentmodels.AgentProfile, error)
}

// MemorySearcher retrieves shared session memory by keyword.
type MemorySearcher interface {
	Search(ctx context.Context, sessionID, query string, topK int) ([]*memory.Entry, error)
}

// PersonalReader loads an agent's workspace memory files.
type PersonalReader interface {
	ReadContext(workspaceDir string) string
}

// SummaryReader loads the derived session summary.
type SummaryReader interface {
	ReadSummary(sessionID string) string
}

// Request identifies one invocation to build input for. GroupAgentIDs is
// the full agent roster of the group including the target agent itself.
type Request struct {
	AgentID       string
	SessionID     string
	TurnID        string
	Invocation    protocol.InvocationMode
	MentionedBy   string
	GroupAgentIDs []string
}

// Builder assembles protocol.AgentInput values. The memory readers are
// optional; a nil reader skips that layer.
type Builder struct {
	messages     MessageReader
	profiles     ProfileResolver
	store        MemorySearcher
	personal     PersonalReader
	summary      SummaryReader
	historyLimit int
	logger       *logger.Logger
}

// NewBuilder creates a context builder.
func NewBuilder(
	messages MessageReader,
	profiles ProfileResolver,
	memoryStore MemorySearcher,
	personal PersonalReader,
	summary SummaryReader,
	log *logger.Logger,
) *Builder {
	return &Builder{
		messages:     messages,
		profiles:     profiles,
		store:        memoryStore,
		personal:     personal,
		summary:      summary,
		historyLimit: historyLimit,
		logger:       log.WithFields(zap.String("component", "context-builder")),
	}
}

// SetHistoryLimit overrides how many recent messages enter the context
// window. Values below one keep the default.
func (b *Builder) SetHistoryLimit(n int) {
	if n > 0 {
		b.historyLimit = n
	}
}

// Build produces the invocation input for one agent. It fails only when
// the agent profile or the history read fails; every memory layer
// degrades to absent.
func (b *Builder) Build(ctx context.Context, req Request) (*protocol.AgentInput, error) {
	ctx, span := tracing.TraceContextBuild(ctx, req.SessionID, req.AgentID)
	defer span.End()

	profile, err := b.profiles.Get(req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent %s: %w", req.AgentID, err)
	}

	peers := b.buildPeers(req.AgentID, req.GroupAgentIDs)

	messages, err := b.truncatedHistory(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	memoryContext := b.mergedMemory(ctx, req.SessionID, profile, messages)

	turnID := req.TurnID
	if turnID == "" {
		turnID = uuid.New().String()
	}

	input := &protocol.AgentInput{
		SessionID:       req.SessionID,
		TurnID:          turnID,
		AgentID:         req.AgentID,
		AgentName:       profile.Name,
		RolePrompt:      profile.RolePrompt,
		Invocation:      req.Invocation,
		MentionedBy:     req.MentionedBy,
		Messages:        messages,
		Peers:           peers,
		MemoryContext:   memoryContext,
		MaxOutputTokens: profile.MaxOutputTokens,
		PreferConcise:   true,
	}

	b.logger.Debug("assembled agent input",
		zap.String("agent_id", req.AgentID),
		zap.String("session_id", req.SessionID),
		zap.String("turn_id", turnID),
		zap.String("invocation", string(req.Invocation)),
		zap.Int("messages", len(messages)),
		zap.Int("peers", len(peers)),
		zap.Int("memory_len", len(memoryContext)))
	return input, nil
}

// buildPeers resolves every other roster member into a peer summary.
// Unregistered ids are skipped.
func (b *Builder) buildPeers(selfID string, rosterIDs []string) []protocol.Peer {
	var peers []protocol.Peer
	for _, id := range rosterIDs {
		if id == selfID {
			continue
		}
		profile, err := b.profiles.Get(id)
		if err != nil {
			continue
		}
		peers = append(peers, protocol.Peer{
			AgentID: id,
			Name:    profile.Name,
			Skills:  profile.Skills,
		})
	}
	return peers
}

// truncatedHistory loads the newest historyLimit messages in
// chronological order, converted to protocol messages.
func (b *Builder) truncatedHistory(ctx context.Context, sessionID string) ([]protocol.Message, error) {
	stored, err := b.messages.GetMessages(ctx, sessionID, store.ListMessagesOptions{Limit: b.historyLimit})
	if err != nil {
		return nil, err
	}

	messages := make([]protocol.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, protocol.Message{
			ID:         m.ID,
			Role:       protocolRole(m.AuthorType),
			AuthorID:   m.AuthorID,
			AuthorName: m.AuthorName,
			Content:    m.Content,
			Timestamp:  m.Timestamp,
		})
	}
	return messages, nil
}

// mergedMemory concatenates the memory layers in priority order:
// personal memory first, then the session summary, then keyword-retrieved
// store snippets. Empty layers are skipped; no layers yields "".
func (b *Builder) mergedMemory(ctx context.Context, sessionID string, profile *agentmodels.AgentProfile, messages []protocol.Message) string {
	var layers []string

	if b.personal != nil && profile.WorkspaceDir != "" {
		if personal := b.personal.ReadContext(profile.WorkspaceDir); personal != "" {
			layers = append(layers, personal)
		}
	}

	if b.summary != nil {
		if summary := b.summary.ReadSummary(sessionID); summary != "" {
			layers = append(layers, summary)
		}
	}

	if b.store != nil && len(messages) > 0 {
		query := messages[len(messages)-1].Content
		entries, err := b.store.Search(ctx, sessionID, query, 5)
		if err != nil {
			b.logger.Warn("memory retrieval failed",
				zap.String("session_id", sessionID), zap.Error(err))
		} else if len(entries) > 0 {
			layers = append(layers, formatSnippets(entries))
		}
	}

	return strings.Join(layers, memoryDelimiter)
}

// formatSnippets renders retrieved entries as "- [type] content" lines.
func formatSnippets(entries []*memory.Entry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("- [%s] %s", entry.Type, entry.Content))
	}
	return strings.Join(lines, "\n")
}

// protocolRole maps a stored author type onto the role an agent sees.
func protocolRole(authorType groupmodels.AuthorType) protocol.Role {
	switch authorType {
	case groupmodels.AuthorHuman:
		return protocol.RoleUser
	case groupmodels.AuthorSystem:
		return protocol.RoleSystem
	default:
		return protocol.RoleAssistant
	}
}
