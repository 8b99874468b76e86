// Package calllog records every agent CLI invocation as an append-only
// JSONL trace, one file per group session.
package calllog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/protocol"
)

// Entry is the full record of one agent invocation. Prompt, raw output
// and parsed content are stored untruncated so a session can be replayed
// when debugging agent behavior.
type Entry struct {
	LogID     string `json:"log_id"`
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`

	Invocation protocol.InvocationMode `json:"invocation"`

	Prompt    string `json:"prompt"`
	RawOutput string `json:"raw_output"`
	Content   string `json:"content"`

	DurationMs   int64               `json:"duration_ms"`
	CostUSD      float64             `json:"cost_usd"`
	NumTurns     int                 `json:"num_turns"`
	InputTokens  int                 `json:"input_tokens"`
	OutputTokens int                 `json:"output_tokens"`
	ToolCalls    []protocol.ToolCall `json:"tool_calls,omitempty"`
	IsError      bool                `json:"is_error"`

	Timestamp time.Time `json:"timestamp"`
}

// Logger appends and reads per-session call traces. Appends to the same
// session are serialized; sessions do not contend with each other.
type Logger struct {
	dir    string
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	logger *logger.Logger
}

// NewLogger creates the call logger rooted at dir.
func NewLogger(dir string, log *logger.Logger) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create call log dir: %w", err)
	}
	return &Logger{
		dir:    dir,
		locks:  make(map[string]*sync.Mutex),
		logger: log.WithFields(zap.String("component", "call-logger")),
	}, nil
}

func (l *Logger) sessionFile(sessionID string) string {
	return filepath.Join(l.dir, fmt.Sprintf("session_%s.jsonl", sessionID))
}

func (l *Logger) sessionLock(sessionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[sessionID] = lock
	}
	return lock
}

// Save appends one entry to its session file. A zero timestamp is set to
// now.
func (l *Logger) Save(entry *Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode call log entry: %w", err)
	}

	lock := l.sessionLock(entry.SessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(l.sessionFile(entry.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open call log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append call log: %w", err)
	}

	l.logger.Debug("saved call log",
		zap.String("agent_id", entry.AgentID),
		zap.String("turn_id", entry.TurnID),
		zap.Int64("duration_ms", entry.DurationMs))
	return nil
}

// GetSessionLogs reads every entry of a session, newest first. Lines that
// fail to parse are skipped so a corrupt line cannot hide the rest.
func (l *Logger) GetSessionLogs(sessionID string) ([]*Entry, error) {
	lock := l.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(l.sessionFile(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	defer f.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			l.logger.Warn("skipping malformed call log line",
				zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call log: %w", err)
	}

	// Newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
