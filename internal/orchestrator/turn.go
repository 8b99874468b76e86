package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentarena/agentarena/internal/calllog"
	"github.com/agentarena/agentarena/internal/common/tracing"
	"github.com/agentarena/agentarena/internal/contextbuilder"
	"github.com/agentarena/agentarena/internal/events"
	groupmodels "github.com/agentarena/agentarena/internal/group/models"
	groupstore "github.com/agentarena/agentarena/internal/group/store"
	"github.com/agentarena/agentarena/internal/memory"
	"github.com/agentarena/agentarena/internal/protocol"
)

// autoSummaryImportance ranks periodic digests below explicit marker
// memories when the context builder selects entries.
const autoSummaryImportance = 0.6

// Turn is one scheduling unit: a trigger plus the computed must/may
// partition. Turns live only in memory; a crash loses in-flight turns.
// MustReply and MayReply are disjoint subsets of GroupAgentIDs.
type Turn struct {
	ID            string
	GroupID       string
	TriggerSource string
	MustReply     []string
	MayReply      []string
	GroupAgentIDs []string
	MaxResponders int
	Timeout       time.Duration
	ChainDepth    int

	// MentionedBy records, per must-reply agent, who pulled them in:
	// the trigger author for message turns, the mentioning agent for
	// chained turns.
	MentionedBy map[string]string
}

// newMessageTurn partitions the group's agents for a trigger message.
// Broadcast mentions put every agent into must-reply. Plain mentions
// split the roster into must and may. A message that mentions nobody
// leaves the whole roster in may-reply.
func newMessageTurn(trigger *groupmodels.Message, members []*groupmodels.GroupMember, cfg groupmodels.GroupConfig) *Turn {
	agentIDs := agentMemberIDs(members)

	tokens := trigger.Mentions
	if len(tokens) == 0 {
		tokens = parseMentions(trigger.Content)
	}
	resolved, broadcast := resolveMentions(tokens, members)

	var must, may []string
	switch {
	case broadcast:
		must = agentIDs
	case len(resolved) > 0:
		must = resolved
		may = subtract(agentIDs, toSet(resolved))
	default:
		may = agentIDs
	}

	mentionedBy := make(map[string]string, len(must))
	for _, id := range must {
		mentionedBy[id] = trigger.AuthorID
	}

	return &Turn{
		ID:            uuid.New().String(),
		GroupID:       trigger.GroupID,
		TriggerSource: "user",
		MustReply:     must,
		MayReply:      may,
		GroupAgentIDs: agentIDs,
		MaxResponders: cfg.MaxResponders,
		Timeout:       cfg.TurnTimeout(),
		ChainDepth:    0,
		MentionedBy:   mentionedBy,
	}
}

// invocationResult is the outcome of one agent invocation within a phase.
type invocationResult struct {
	agentID string
	output  *protocol.AgentOutput
	err     error
}

// turnState accumulates per-turn outcomes across both phases.
type turnState struct {
	replied     []string
	repliedSet  map[string]struct{}
	next        []string
	nextSet     map[string]struct{}
	mentionedBy map[string]string
}

func newTurnState() *turnState {
	return &turnState{
		repliedSet:  make(map[string]struct{}),
		nextSet:     make(map[string]struct{}),
		mentionedBy: make(map[string]string),
	}
}

func (st *turnState) markReplied(agentID string) {
	if _, ok := st.repliedSet[agentID]; ok {
		return
	}
	st.repliedSet[agentID] = struct{}{}
	st.replied = append(st.replied, agentID)
}

func (st *turnState) addNextMentions(from string, targets []string) {
	for _, target := range targets {
		if _, ok := st.nextSet[target]; ok {
			continue
		}
		st.nextSet[target] = struct{}{}
		st.next = append(st.next, target)
		st.mentionedBy[target] = from
	}
}

// runTurn executes one turn and recurses into chained turns until the
// chain exhausts or the depth limit is hit. Phase A (must-reply) always
// completes before Phase B (may-reply) starts. Must-replies are never
// quota-gated; the quota only bounds how many may-reply agents run.
func (s *Service) runTurn(ctx context.Context, group *groupmodels.Group, turn *Turn) {
	ctx, span := tracing.TraceTurnExecute(ctx, turn.GroupID, turn.ID, turn.ChainDepth)
	defer span.End()

	s.activeTurns.Add(1)
	defer s.activeTurns.Add(-1)
	s.totalTurns.Add(1)

	s.logger.Info("turn started",
		zap.String("group_id", turn.GroupID),
		zap.String("turn_id", turn.ID),
		zap.String("trigger", turn.TriggerSource),
		zap.Int("must_reply", len(turn.MustReply)),
		zap.Int("may_reply", len(turn.MayReply)),
		zap.Int("chain_depth", turn.ChainDepth))

	st := newTurnState()

	for _, res := range s.runPhase(ctx, turn, turn.MustReply, protocol.MustReply) {
		s.handleOutcome(ctx, group, turn, protocol.MustReply, res, st)
	}

	quota := turn.MaxResponders - len(st.replied)
	if quota > 0 && len(turn.MayReply) > 0 {
		candidates := turn.MayReply
		if len(candidates) > quota {
			candidates = candidates[:quota]
		}
		for _, res := range s.runPhase(ctx, turn, candidates, protocol.MayReply) {
			if res.err == nil && res.output != nil && !res.output.ShouldRespond {
				s.logger.Debug("agent declined to reply",
					zap.String("turn_id", turn.ID),
					zap.String("agent_id", res.agentID))
				continue
			}
			s.handleOutcome(ctx, group, turn, protocol.MayReply, res, st)
		}
	}

	s.logger.Info("turn completed",
		zap.String("group_id", turn.GroupID),
		zap.String("turn_id", turn.ID),
		zap.Int("replies", len(st.replied)),
		zap.Int("next_mentions", len(st.next)))

	next := chainTargets(turn, st, group.Config.ReInvokeAlreadyReplied)
	if len(next) == 0 {
		return
	}
	if turn.ChainDepth >= group.Config.ChainDepthLimit {
		s.chainLimitNotice(ctx, group, turn)
		return
	}

	excluded := toSet(next)
	for id := range st.repliedSet {
		excluded[id] = struct{}{}
	}
	chained := &Turn{
		ID:            uuid.New().String(),
		GroupID:       turn.GroupID,
		TriggerSource: "system",
		MustReply:     next,
		MayReply:      subtract(turn.GroupAgentIDs, excluded),
		GroupAgentIDs: turn.GroupAgentIDs,
		MaxResponders: turn.MaxResponders,
		Timeout:       turn.Timeout,
		ChainDepth:    turn.ChainDepth + 1,
		MentionedBy:   st.mentionedBy,
	}
	s.runTurn(ctx, group, chained)
}

// runPhase invokes the given agents concurrently and waits for all of
// them. Failures are collected per agent, never propagated, so one bad
// invocation cannot cancel its siblings.
func (s *Service) runPhase(ctx context.Context, turn *Turn, agentIDs []string, mode protocol.InvocationMode) []invocationResult {
	if len(agentIDs) == 0 {
		return nil
	}
	results := make([]invocationResult, len(agentIDs))
	var g errgroup.Group
	for i, agentID := range agentIDs {
		i, agentID := i, agentID
		g.Go(func() error {
			output, err := s.invokeOne(ctx, turn, agentID, mode)
			results[i] = invocationResult{agentID: agentID, output: output, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// invokeOne builds the agent's input and executes it under the turn's
// per-invocation timeout.
func (s *Service) invokeOne(ctx context.Context, turn *Turn, agentID string, mode protocol.InvocationMode) (*protocol.AgentOutput, error) {
	input, err := s.builder.Build(ctx, contextbuilder.Request{
		AgentID:       agentID,
		SessionID:     turn.GroupID,
		TurnID:        turn.ID,
		Invocation:    mode,
		MentionedBy:   turn.MentionedBy[agentID],
		GroupAgentIDs: turn.GroupAgentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build context: %w", err)
	}

	invokeCtx, cancel := context.WithTimeout(ctx, turn.Timeout)
	defer cancel()
	return s.runtime.InvokeAgent(invokeCtx, input)
}

// handleOutcome processes one invocation result: marker side effects,
// message persistence, broadcast, and the call log. A persistence
// failure for one reply never blocks the siblings.
func (s *Service) handleOutcome(ctx context.Context, group *groupmodels.Group, turn *Turn, mode protocol.InvocationMode, res invocationResult, st *turnState) {
	if res.err != nil {
		s.recordFailure(ctx, turn, res.agentID, mode, res.err)
		return
	}
	if res.output == nil {
		return
	}

	clean, entries, personalLogs, malformed := extractMarkers(res.output.Content)
	if malformed > 0 {
		s.logger.Warn("skipped malformed memory markers",
			zap.String("turn_id", turn.ID),
			zap.String("agent_id", res.agentID),
			zap.Int("count", malformed))
	}

	agentName := res.agentID
	workspaceDir := ""
	if profile, err := s.profiles.Get(res.agentID); err == nil {
		agentName = profile.Name
		workspaceDir = profile.WorkspaceDir
	}

	s.saveMemoryEntries(ctx, group.ID, entries)
	s.appendPersonalLogs(workspaceDir, res.agentID, personalLogs)

	message := &groupmodels.Message{
		ID:         uuid.New().String(),
		GroupID:    group.ID,
		TurnID:     turn.ID,
		AuthorID:   res.agentID,
		AuthorType: groupmodels.AuthorAgent,
		AuthorName: agentName,
		Content:    clean,
		Timestamp:  time.Now().UTC(),
	}
	if len(res.output.NextMentions) > 0 {
		message.Metadata = map[string]interface{}{"next_mentions": res.output.NextMentions}
	}

	if err := s.store.SaveMessage(ctx, message); err != nil {
		s.logger.Error("failed to persist agent reply",
			zap.String("turn_id", turn.ID),
			zap.String("agent_id", res.agentID),
			zap.Error(err))
	} else {
		s.publishGroupEvent(ctx, events.GroupAgentMessage, group.ID, map[string]interface{}{
			"type":    "agent_message",
			"message": message,
		})
		s.maybeAutoSummary(ctx, group)
	}

	s.writeCallLog(ctx, group.ID, turn, res.agentID, agentName, mode, res.output, clean)

	st.markReplied(res.agentID)
	st.addNextMentions(res.agentID, res.output.NextMentions)
}

// saveMemoryEntries persists marker entries and rebuilds the session
// summary once when anything changed.
func (s *Service) saveMemoryEntries(ctx context.Context, groupID string, entries []*memory.Entry) {
	saved := 0
	for _, entry := range entries {
		if err := s.memories.Save(ctx, groupID, entry); err != nil {
			s.logger.Warn("failed to save memory entry",
				zap.String("group_id", groupID),
				zap.String("memory_type", string(entry.Type)),
				zap.Error(err))
			continue
		}
		saved++
	}
	if saved > 0 {
		s.rebuildSummary(ctx, groupID)
	}
}

func (s *Service) rebuildSummary(ctx context.Context, groupID string) {
	entries, err := s.memories.All(ctx, groupID)
	if err != nil {
		s.logger.Warn("failed to load memory entries for summary",
			zap.String("group_id", groupID),
			zap.Error(err))
		return
	}
	if err := s.summaries.Rebuild(groupID, entries); err != nil {
		s.logger.Warn("failed to rebuild session summary",
			zap.String("group_id", groupID),
			zap.Error(err))
	}
}

func (s *Service) appendPersonalLogs(workspaceDir, agentID string, personalLogs []string) {
	if len(personalLogs) == 0 {
		return
	}
	if workspaceDir == "" {
		s.logger.Warn("dropping personal log markers: no workspace",
			zap.String("agent_id", agentID))
		return
	}
	for _, text := range personalLogs {
		if err := s.personal.AppendDailyLog(workspaceDir, text); err != nil {
			s.logger.Warn("failed to append personal log",
				zap.String("agent_id", agentID),
				zap.Error(err))
		}
	}
}

// recordFailure logs an invocation that produced no output at all. It
// yields a call-log entry and a turn_log event, but no message.
func (s *Service) recordFailure(ctx context.Context, turn *Turn, agentID string, mode protocol.InvocationMode, invokeErr error) {
	s.logger.Warn("agent invocation failed",
		zap.String("turn_id", turn.ID),
		zap.String("agent_id", agentID),
		zap.Error(invokeErr))

	entry := &calllog.Entry{
		LogID:      fmt.Sprintf("%s-%s", turn.ID, agentID),
		SessionID:  turn.GroupID,
		TurnID:     turn.ID,
		AgentID:    agentID,
		AgentName:  agentID,
		Invocation: mode,
		RawOutput:  invokeErr.Error(),
		IsError:    true,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.calls.Save(entry); err != nil {
		s.logger.Warn("failed to write call log", zap.Error(err))
	}
	s.publishTurnLog(ctx, turn.GroupID, entry)
}

// writeCallLog records a completed invocation and broadcasts its summary.
func (s *Service) writeCallLog(ctx context.Context, groupID string, turn *Turn, agentID, agentName string, mode protocol.InvocationMode, output *protocol.AgentOutput, clean string) {
	entry := &calllog.Entry{
		LogID:      fmt.Sprintf("%s-%s", turn.ID, agentID),
		SessionID:  groupID,
		TurnID:     turn.ID,
		AgentID:    agentID,
		AgentName:  agentName,
		Invocation: mode,
		Prompt:     output.PromptSent,
		RawOutput:  output.Content,
		Content:    clean,
		Timestamp:  time.Now().UTC(),
	}
	if meta := output.ExecutionMeta; meta != nil {
		entry.DurationMs = meta.DurationMs
		entry.CostUSD = meta.CostUSD
		entry.NumTurns = meta.NumTurns
		entry.InputTokens = meta.InputTokens
		entry.OutputTokens = meta.OutputTokens
		entry.ToolCalls = meta.ToolCalls
		entry.IsError = meta.IsError
	}
	if err := s.calls.Save(entry); err != nil {
		s.logger.Warn("failed to write call log",
			zap.String("turn_id", turn.ID),
			zap.String("agent_id", agentID),
			zap.Error(err))
	}
	s.publishTurnLog(ctx, groupID, entry)
}

func (s *Service) publishTurnLog(ctx context.Context, groupID string, entry *calllog.Entry) {
	s.publishGroupEvent(ctx, events.GroupTurnLog, groupID, map[string]interface{}{
		"type": "turn_log",
		"log": map[string]interface{}{
			"log_id":        entry.LogID,
			"turn_id":       entry.TurnID,
			"agent_id":      entry.AgentID,
			"agent_name":    entry.AgentName,
			"invocation":    string(entry.Invocation),
			"duration_ms":   entry.DurationMs,
			"cost_usd":      entry.CostUSD,
			"num_turns":     entry.NumTurns,
			"input_tokens":  entry.InputTokens,
			"output_tokens": entry.OutputTokens,
			"tool_calls":    len(entry.ToolCalls),
			"is_error":      entry.IsError,
		},
	})
}

// chainTargets filters accumulated next-mentions down to the agents a
// chained turn would invoke: roster members only, minus the agents that
// already replied unless the group re-invokes them.
func chainTargets(turn *Turn, st *turnState, reInvokeReplied bool) []string {
	if len(st.next) == 0 {
		return nil
	}
	roster := toSet(turn.GroupAgentIDs)
	var targets []string
	for _, id := range st.next {
		if _, ok := roster[id]; !ok {
			continue
		}
		targets = append(targets, id)
	}
	if reInvokeReplied {
		return targets
	}
	var filtered []string
	for _, id := range targets {
		if _, ok := st.repliedSet[id]; ok {
			continue
		}
		filtered = append(filtered, id)
	}
	return filtered
}

// chainLimitNotice persists and broadcasts the system notice that the
// automatic conversation stopped at the depth limit.
func (s *Service) chainLimitNotice(ctx context.Context, group *groupmodels.Group, turn *Turn) {
	s.logger.Info("chain depth limit reached",
		zap.String("group_id", group.ID),
		zap.String("turn_id", turn.ID),
		zap.Int("limit", group.Config.ChainDepthLimit))

	message := &groupmodels.Message{
		ID:         uuid.New().String(),
		GroupID:    group.ID,
		TurnID:     turn.ID,
		AuthorID:   "system",
		AuthorType: groupmodels.AuthorSystem,
		AuthorName: "系统",
		Content:    fmt.Sprintf("自动对话已达到 %d 轮上限，等待人类指令。", group.Config.ChainDepthLimit),
		Timestamp:  time.Now().UTC(),
	}
	if err := s.store.SaveMessage(ctx, message); err != nil {
		s.logger.Error("failed to persist chain limit notice",
			zap.String("group_id", group.ID),
			zap.Error(err))
		return
	}
	s.publishGroupEvent(ctx, events.GroupSystemMessage, group.ID, map[string]interface{}{
		"type":    "system_message",
		"message": message,
	})
}

// maybeAutoSummary condenses the most recent messages into a summary
// memory entry whenever the group's message count lands on a multiple of
// the configured interval.
func (s *Service) maybeAutoSummary(ctx context.Context, group *groupmodels.Group) {
	interval := group.Config.AutoSummaryInterval
	if interval <= 0 {
		return
	}
	count, err := s.store.CountMessages(ctx, group.ID)
	if err != nil {
		s.logger.Warn("failed to count messages for auto summary",
			zap.String("group_id", group.ID),
			zap.Error(err))
		return
	}
	if count == 0 || count%int64(interval) != 0 {
		return
	}

	messages, err := s.store.GetMessages(ctx, group.ID, groupstore.ListMessagesOptions{Limit: interval})
	if err != nil {
		s.logger.Warn("failed to load messages for auto summary",
			zap.String("group_id", group.ID),
			zap.Error(err))
		return
	}
	digest := s.digest.SummarizeMessages(toProtocolMessages(messages))
	if digest == "" {
		return
	}

	entry := &memory.Entry{
		Type:       memory.EntrySummary,
		Content:    digest,
		Importance: autoSummaryImportance,
	}
	s.saveMemoryEntries(ctx, group.ID, []*memory.Entry{entry})
	s.logger.Info("auto summary stored",
		zap.String("group_id", group.ID),
		zap.Int64("message_count", count))
}

// toProtocolMessages converts stored messages for the summarizer,
// mapping author types onto chat roles.
func toProtocolMessages(messages []*groupmodels.Message) []protocol.Message {
	out := make([]protocol.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, protocol.Message{
			ID:         m.ID,
			Role:       roleForAuthor(m.AuthorType),
			AuthorID:   m.AuthorID,
			AuthorName: m.AuthorName,
			Content:    m.Content,
			Timestamp:  m.Timestamp,
		})
	}
	return out
}

func roleForAuthor(t groupmodels.AuthorType) protocol.Role {
	switch t {
	case groupmodels.AuthorHuman:
		return protocol.RoleUser
	case groupmodels.AuthorSystem:
		return protocol.RoleSystem
	default:
		return protocol.RoleAssistant
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func subtract(ids []string, exclude map[string]struct{}) []string {
	var out []string
	for _, id := range ids {
		if _, ok := exclude[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}
