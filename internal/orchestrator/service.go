// Package orchestrator runs the group chat turn loop. It decides which
// agents speak in response to a message, in two phases:
//
//   - Phase A invokes every mentioned agent concurrently and waits for
//     all of them.
//   - Phase B offers the turn to the remaining agents, bounded by the
//     group's responder quota.
//
// Replies can mention further agents, which chains follow-up turns until
// the group's depth limit stops the cascade. The orchestrator owns the
// side effects of a reply: memory markers, the session summary, personal
// logs, the call log, and event fan-out to the gateway.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	agentmodels "github.com/agentarena/agentarena/internal/agent/models"
	"github.com/agentarena/agentarena/internal/calllog"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/contextbuilder"
	"github.com/agentarena/agentarena/internal/events"
	"github.com/agentarena/agentarena/internal/events/bus"
	groupmodels "github.com/agentarena/agentarena/internal/group/models"
	groupstore "github.com/agentarena/agentarena/internal/group/store"
	"github.com/agentarena/agentarena/internal/memory"
	"github.com/agentarena/agentarena/internal/protocol"
)

// Common errors
var (
	ErrServiceAlreadyRunning = errors.New("service is already running")
	ErrServiceNotRunning     = errors.New("service is not running")
)

// ServiceConfig holds orchestrator service configuration
type ServiceConfig struct {
	QueueGroup string
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{QueueGroup: "orchestrator"}
}

// GroupStore is the slice of the group persistence layer the orchestrator
// needs: roster reads for partitioning, message writes for replies and
// system notices, history reads for auto summaries.
type GroupStore interface {
	GetGroup(ctx context.Context, id string) (*groupmodels.Group, error)
	ListMembers(ctx context.Context, groupID string) ([]*groupmodels.GroupMember, error)
	SaveMessage(ctx context.Context, message *groupmodels.Message) error
	GetMessages(ctx context.Context, groupID string, opts groupstore.ListMessagesOptions) ([]*groupmodels.Message, error)
	CountMessages(ctx context.Context, groupID string) (int64, error)
}

// ProfileResolver looks up registered agent profiles.
type ProfileResolver interface {
	Get(agentID string) (*agentmodels.AgentProfile, error)
}

// ContextBuilder assembles the per-agent invocation input.
type ContextBuilder interface {
	Build(ctx context.Context, req contextbuilder.Request) (*protocol.AgentInput, error)
}

// AgentRuntime executes one agent invocation end to end.
type AgentRuntime interface {
	InvokeAgent(ctx context.Context, input *protocol.AgentInput) (*protocol.AgentOutput, error)
}

// MemoryStore persists session-scoped memory entries.
type MemoryStore interface {
	Save(ctx context.Context, sessionID string, entry *memory.Entry) error
	All(ctx context.Context, sessionID string) ([]*memory.Entry, error)
}

// SummaryRebuilder regenerates the session summary file from memory entries.
type SummaryRebuilder interface {
	Rebuild(sessionID string, entries []*memory.Entry) error
}

// PersonalLog appends diary lines to an agent's workspace memory.
type PersonalLog interface {
	AppendDailyLog(workspaceDir, content string) error
}

// CallLog records invocation audit entries.
type CallLog interface {
	Save(entry *calllog.Entry) error
}

// MessageSummarizer condenses a message window for auto summaries.
type MessageSummarizer interface {
	SummarizeMessages(messages []protocol.Message) string
}

// Service coordinates turns for all groups. It is triggered through the
// event bus (message.created) so that message ingestion and turn execution
// stay decoupled; with NATS, the queue group load-balances turns across
// instances.
type Service struct {
	config   ServiceConfig
	logger   *logger.Logger
	eventBus bus.EventBus

	store     GroupStore
	profiles  ProfileResolver
	builder   ContextBuilder
	runtime   AgentRuntime
	memories  MemoryStore
	summaries SummaryRebuilder
	personal  PersonalLog
	calls     CallLog
	digest    MessageSummarizer

	subscription bus.Subscription

	activeTurns atomic.Int64
	totalTurns  atomic.Int64

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// Status contains orchestrator status information
type Status struct {
	Running       bool  `json:"running"`
	ActiveTurns   int64 `json:"active_turns"`
	TotalTurns    int64 `json:"total_turns"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// NewService creates a new orchestrator service
func NewService(
	cfg ServiceConfig,
	eventBus bus.EventBus,
	store GroupStore,
	profiles ProfileResolver,
	builder ContextBuilder,
	runtime AgentRuntime,
	memories MemoryStore,
	summaries SummaryRebuilder,
	personal PersonalLog,
	calls CallLog,
	digest MessageSummarizer,
	log *logger.Logger,
) *Service {
	return &Service{
		config:    cfg,
		logger:    log.WithFields(zap.String("component", "orchestrator")),
		eventBus:  eventBus,
		store:     store,
		profiles:  profiles,
		builder:   builder,
		runtime:   runtime,
		memories:  memories,
		summaries: summaries,
		personal:  personal,
		calls:     calls,
		digest:    digest,
	}
}

// Start subscribes the service to message triggers. Turns run under the
// lifecycle context passed here, never under the publisher's context, so
// an expiring HTTP request cannot cancel an in-flight turn.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServiceAlreadyRunning
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	sub, err := s.eventBus.QueueSubscribe(
		events.BuildMessageCreatedWildcardSubject(),
		s.config.QueueGroup,
		func(_ context.Context, event *bus.Event) error {
			return s.handleMessageCreated(ctx, event)
		},
	)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}
	s.subscription = sub

	s.logger.Info("orchestrator service started",
		zap.String("queue_group", s.config.QueueGroup))
	return nil
}

// Stop unsubscribes from message triggers. In-flight turns are not
// interrupted; they finish under the Start context.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrServiceNotRunning
	}
	s.running = false
	sub := s.subscription
	s.subscription = nil
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe message trigger", zap.Error(err))
		}
	}

	s.logger.Info("orchestrator service stopped")
	return nil
}

// IsRunning returns whether the service is accepting triggers.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetStatus returns current orchestrator counters.
func (s *Service) GetStatus() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &Status{
		Running:     s.running,
		ActiveTurns: s.activeTurns.Load(),
		TotalTurns:  s.totalTurns.Load(),
	}
	if s.running {
		status.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	return status
}

// OnNewMessage triggers turn scheduling for a persisted human message.
// The caller must have saved the message first; this only publishes the
// trigger and returns, it never waits for agents.
func (s *Service) OnNewMessage(ctx context.Context, message *groupmodels.Message) error {
	event := bus.NewEvent(events.MessageCreated, "group-service", map[string]interface{}{
		"message": message,
	})
	return s.eventBus.Publish(ctx, events.BuildMessageCreatedSubject(message.GroupID), event)
}

// messageCreatedData is the payload of a message.created event.
type messageCreatedData struct {
	Message *groupmodels.Message `json:"message"`
}

func (s *Service) handleMessageCreated(ctx context.Context, event *bus.Event) error {
	var data messageCreatedData
	if err := decodeEventData(event.Data, &data); err != nil || data.Message == nil {
		s.logger.Error("failed to decode message trigger",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return nil
	}
	if err := s.ProcessMessage(ctx, data.Message); err != nil {
		s.logger.Error("turn scheduling failed",
			zap.String("group_id", data.Message.GroupID),
			zap.String("message_id", data.Message.ID),
			zap.Error(err))
	}
	return nil
}

// ProcessMessage runs the full turn cycle for a trigger message and blocks
// until the turn, including any chained turns, completes. A group with no
// agent members produces no turn.
func (s *Service) ProcessMessage(ctx context.Context, trigger *groupmodels.Message) error {
	group, err := s.store.GetGroup(ctx, trigger.GroupID)
	if err != nil {
		return err
	}
	members, err := s.store.ListMembers(ctx, trigger.GroupID)
	if err != nil {
		return err
	}

	turn := newMessageTurn(trigger, members, group.Config)
	if len(turn.GroupAgentIDs) == 0 {
		s.logger.Debug("no agent members in group, skipping turn",
			zap.String("group_id", group.ID))
		return nil
	}

	s.runTurn(ctx, group, turn)
	return nil
}

// publishGroupEvent fans an event out on its group-scoped subject. The
// group ID rides in the payload because bus handlers do not see the
// subject. Publish failures are logged, not propagated: event delivery is
// best-effort and must never roll back a persisted message.
func (s *Service) publishGroupEvent(ctx context.Context, eventType, groupID string, data map[string]interface{}) {
	if _, ok := data["group_id"]; !ok {
		data["group_id"] = groupID
	}
	event := bus.NewEvent(eventType, "orchestrator", data)
	subject := events.BuildGroupSubject(eventType, groupID)
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		s.logger.Warn("failed to publish group event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// decodeEventData converts event data (map or struct) to a typed struct.
func decodeEventData(data interface{}, target interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
