package contextbuilder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmodels "github.com/agentarena/agentarena/internal/agent/models"
	"github.com/agentarena/agentarena/internal/common/logger"
	groupmodels "github.com/agentarena/agentarena/internal/group/models"
	"github.com/agentarena/agentarena/internal/group/store"
	"github.com/agentarena/agentarena/internal/memory"
	"github.com/agentarena/agentarena/internal/protocol"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	return log
}

type fakeMessages struct {
	messages []*groupmodels.Message
	err      error
	gotLimit int
}

func (f *fakeMessages) GetMessages(_ context.Context, _ string, opts store.ListMessagesOptions) ([]*groupmodels.Message, error) {
	f.gotLimit = opts.Limit
	return f.messages, f.err
}

type fakeProfiles struct {
	profiles map[string]*agentmodels.AgentProfile
}

func (f *fakeProfiles) Get(agentID string) (*agentmodels.AgentProfile, error) {
	p, ok := f.profiles[agentID]
	if !ok {
		return nil, errors.New("agent not found")
	}
	return p, nil
}

type fakeSearcher struct {
	entries  []*memory.Entry
	err      error
	gotQuery string
	gotTopK  int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, query string, topK int) ([]*memory.Entry, error) {
	f.gotQuery = query
	f.gotTopK = topK
	return f.entries, f.err
}

type fakePersonal struct{ context string }

func (f *fakePersonal) ReadContext(string) string { return f.context }

type fakeSummary struct{ summary string }

func (f *fakeSummary) ReadSummary(string) string { return f.summary }

func testProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: map[string]*agentmodels.AgentProfile{
		"alice": {
			AgentID:         "alice",
			Name:            "Alice",
			WorkspaceDir:    "/tmp/alice",
			RolePrompt:      "You are the backend engineer.",
			Skills:          []string{"golang"},
			MaxOutputTokens: 1500,
		},
		"bob": {
			AgentID: "bob",
			Name:    "Bob",
			Skills:  []string{"frontend", "css"},
		},
	}}
}

func storedMessage(id string, authorType groupmodels.AuthorType, content string) *groupmodels.Message {
	return &groupmodels.Message{
		ID:         id,
		GroupID:    "g1",
		AuthorID:   "u1",
		AuthorType: authorType,
		AuthorName: "Author",
		Content:    content,
		Timestamp:  time.Now(),
	}
}

func TestBuildAssemblesInput(t *testing.T) {
	messages := &fakeMessages{messages: []*groupmodels.Message{
		storedMessage("m1", groupmodels.AuthorHuman, "hello team"),
		storedMessage("m2", groupmodels.AuthorAgent, "hi"),
		storedMessage("m3", groupmodels.AuthorSystem, "bob joined"),
	}}
	searcher := &fakeSearcher{entries: []*memory.Entry{
		{Type: memory.EntryDecision, Content: "use sqlite"},
		{Type: memory.EntryTask, Content: "write docs"},
	}}
	personal := &fakePersonal{context: "### 个人长期记忆\nknows the codebase"}
	summary := &fakeSummary{summary: "# 当前会话摘要\n\n## 关键决策\n- use sqlite"}

	builder := NewBuilder(messages, testProfiles(), searcher, personal, summary, newTestLogger())
	input, err := builder.Build(context.Background(), Request{
		AgentID:       "alice",
		SessionID:     "g1",
		TurnID:        "t1",
		Invocation:    protocol.MustReply,
		MentionedBy:   "u1",
		GroupAgentIDs: []string{"alice", "bob"},
	})
	require.NoError(t, err)

	assert.Equal(t, "g1", input.SessionID)
	assert.Equal(t, "t1", input.TurnID)
	assert.Equal(t, "alice", input.AgentID)
	assert.Equal(t, "Alice", input.AgentName)
	assert.Equal(t, "You are the backend engineer.", input.RolePrompt)
	assert.Equal(t, protocol.MustReply, input.Invocation)
	assert.Equal(t, "u1", input.MentionedBy)
	assert.Equal(t, 1500, input.MaxOutputTokens)
	assert.True(t, input.PreferConcise)

	// History is capped at the window size and converted with role mapping.
	assert.Equal(t, historyLimit, messages.gotLimit)
	require.Len(t, input.Messages, 3)
	assert.Equal(t, protocol.RoleUser, input.Messages[0].Role)
	assert.Equal(t, protocol.RoleAssistant, input.Messages[1].Role)
	assert.Equal(t, protocol.RoleSystem, input.Messages[2].Role)

	// Peers exclude the agent itself.
	require.Len(t, input.Peers, 1)
	assert.Equal(t, "bob", input.Peers[0].AgentID)
	assert.Equal(t, []string{"frontend", "css"}, input.Peers[0].Skills)

	// Memory layers merge in priority order with the fixed delimiter.
	wantMemory := personal.context + memoryDelimiter + summary.summary + memoryDelimiter +
		"- [decision] use sqlite\n- [task] write docs"
	assert.Equal(t, wantMemory, input.MemoryContext)

	// Retrieval queries with the newest message.
	assert.Equal(t, "bob joined", searcher.gotQuery)
	assert.Equal(t, 5, searcher.gotTopK)
}

func TestBuildFailsOnUnknownAgent(t *testing.T) {
	builder := NewBuilder(&fakeMessages{}, testProfiles(), nil, nil, nil, newTestLogger())
	_, err := builder.Build(context.Background(), Request{AgentID: "ghost", SessionID: "g1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestBuildFailsOnHistoryError(t *testing.T) {
	messages := &fakeMessages{err: fmt.Errorf("db is down")}
	builder := NewBuilder(messages, testProfiles(), nil, nil, nil, newTestLogger())
	_, err := builder.Build(context.Background(), Request{AgentID: "alice", SessionID: "g1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db is down")
}

func TestBuildSkipsUnresolvedPeers(t *testing.T) {
	builder := NewBuilder(&fakeMessages{}, testProfiles(), nil, nil, nil, newTestLogger())
	input, err := builder.Build(context.Background(), Request{
		AgentID:       "alice",
		SessionID:     "g1",
		TurnID:        "t1",
		Invocation:    protocol.MayReply,
		GroupAgentIDs: []string{"alice", "bob", "ghost"},
	})
	require.NoError(t, err)
	require.Len(t, input.Peers, 1)
	assert.Equal(t, "bob", input.Peers[0].AgentID)
}

func TestBuildEmptyMemoryLayers(t *testing.T) {
	messages := &fakeMessages{messages: []*groupmodels.Message{
		storedMessage("m1", groupmodels.AuthorHuman, "anyone around?"),
	}}
	// All readers present but empty.
	builder := NewBuilder(messages, testProfiles(),
		&fakeSearcher{}, &fakePersonal{}, &fakeSummary{}, newTestLogger())

	input, err := builder.Build(context.Background(), Request{
		AgentID: "alice", SessionID: "g1", TurnID: "t1",
	})
	require.NoError(t, err)
	assert.Empty(t, input.MemoryContext)
}

func TestBuildMemoryRetrievalFailureDegrades(t *testing.T) {
	messages := &fakeMessages{messages: []*groupmodels.Message{
		storedMessage("m1", groupmodels.AuthorHuman, "status?"),
	}}
	searcher := &fakeSearcher{err: errors.New("corrupt file")}
	summary := &fakeSummary{summary: "# 当前会话摘要\n\n## 任务事项\n- ship it"}

	builder := NewBuilder(messages, testProfiles(), searcher, nil, summary, newTestLogger())
	input, err := builder.Build(context.Background(), Request{
		AgentID: "alice", SessionID: "g1", TurnID: "t1",
	})
	require.NoError(t, err)
	// The failed layer is dropped, the rest survive.
	assert.Equal(t, summary.summary, input.MemoryContext)
}

func TestBuildGeneratesTurnID(t *testing.T) {
	builder := NewBuilder(&fakeMessages{}, testProfiles(), nil, nil, nil, newTestLogger())
	input, err := builder.Build(context.Background(), Request{AgentID: "alice", SessionID: "g1"})
	require.NoError(t, err)
	assert.NotEmpty(t, input.TurnID)
}

func TestBuildNoRetrievalWithoutHistory(t *testing.T) {
	searcher := &fakeSearcher{entries: []*memory.Entry{{Type: memory.EntryTask, Content: "x"}}}
	builder := NewBuilder(&fakeMessages{}, testProfiles(), searcher, nil, nil, newTestLogger())

	input, err := builder.Build(context.Background(), Request{AgentID: "alice", SessionID: "g1", TurnID: "t1"})
	require.NoError(t, err)
	// No messages means nothing to query with.
	assert.Empty(t, searcher.gotQuery)
	assert.Empty(t, input.MemoryContext)
}
