package calllog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/protocol"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	return log
}

func TestCallLogSaveAndRead(t *testing.T) {
	cl, err := NewLogger(t.TempDir(), newTestLogger())
	require.NoError(t, err)

	first := &Entry{
		LogID:      "t1-alice",
		SessionID:  "s1",
		TurnID:     "t1",
		AgentID:    "alice",
		AgentName:  "Alice",
		Invocation: protocol.MustReply,
		Prompt:     "long prompt text",
		Content:    "done",
		DurationMs: 1200,
		ToolCalls:  []protocol.ToolCall{{Name: "bash", Input: "ls"}},
	}
	require.NoError(t, cl.Save(first))
	assert.False(t, first.Timestamp.IsZero())

	require.NoError(t, cl.Save(&Entry{
		LogID:     "t2-bob",
		SessionID: "s1",
		TurnID:    "t2",
		AgentID:   "bob",
		IsError:   true,
	}))

	logs, err := cl.GetSessionLogs("s1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	// Newest first.
	assert.Equal(t, "t2-bob", logs[0].LogID)
	assert.True(t, logs[0].IsError)
	assert.Equal(t, "t1-alice", logs[1].LogID)
	assert.Equal(t, protocol.MustReply, logs[1].Invocation)
	require.Len(t, logs[1].ToolCalls, 1)
	assert.Equal(t, "bash", logs[1].ToolCalls[0].Name)
}

func TestCallLogSessionIsolation(t *testing.T) {
	cl, err := NewLogger(t.TempDir(), newTestLogger())
	require.NoError(t, err)

	require.NoError(t, cl.Save(&Entry{LogID: "a", SessionID: "s1"}))
	require.NoError(t, cl.Save(&Entry{LogID: "b", SessionID: "s2"}))

	logs, err := cl.GetSessionLogs("s1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "a", logs[0].LogID)
}

func TestCallLogMissingSession(t *testing.T) {
	cl, err := NewLogger(t.TempDir(), newTestLogger())
	require.NoError(t, err)

	logs, err := cl.GetSessionLogs("never-written")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestCallLogSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	cl, err := NewLogger(dir, newTestLogger())
	require.NoError(t, err)

	require.NoError(t, cl.Save(&Entry{LogID: "good-1", SessionID: "s1"}))

	// Corrupt the file by hand, then append another valid entry.
	path := filepath.Join(dir, "session_s1.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, cl.Save(&Entry{LogID: "good-2", SessionID: "s1"}))

	logs, err := cl.GetSessionLogs("s1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "good-2", logs[0].LogID)
	assert.Equal(t, "good-1", logs[1].LogID)
}
