package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/common/logger"
)

// summaryMaxEntries caps how many entries the rolling summary shows.
const summaryMaxEntries = 20

const summaryHeader = "# 当前会话摘要"

// summaryTypeOrder fixes the section order of the summary file.
var summaryTypeOrder = []EntryType{
	EntryDecision, EntryRequirement, EntryTask, EntryIssue, EntrySummary,
}

var summaryTypeLabels = map[EntryType]string{
	EntryDecision:    "关键决策",
	EntryRequirement: "需求要点",
	EntryTask:        "任务事项",
	EntryIssue:       "问题记录",
	EntrySummary:     "阶段小结",
}

// SummaryManager maintains one rolling Markdown summary file per session,
// derived purely from the session's memory entries. Rebuilds are plain
// text formatting, cheap enough to run after every memory write.
type SummaryManager struct {
	dir    string
	mu     sync.Mutex
	logger *logger.Logger
}

// NewSummaryManager creates the manager rooted at dir.
func NewSummaryManager(dir string, log *logger.Logger) (*SummaryManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create memory dir: %w", err)
	}
	return &SummaryManager{
		dir:    dir,
		logger: log.WithFields(zap.String("component", "session-summary")),
	}, nil
}

func (m *SummaryManager) summaryPath(sessionID string) string {
	return filepath.Join(m.dir, fmt.Sprintf("summary_%s.md", sessionID))
}

// ReadSummary returns the current summary text, or "" when none exists.
func (m *SummaryManager) ReadSummary(sessionID string) string {
	data, err := os.ReadFile(m.summaryPath(sessionID))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Rebuild regenerates the summary file from the given entries: the top
// summaryMaxEntries by importance, grouped by type in a fixed section
// order. The file is written atomically via a temp file and rename.
// Rebuilding from an empty entry list is a no-op.
func (m *SummaryManager) Rebuild(sessionID string, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Importance > sorted[j].Importance
	})
	if len(sorted) > summaryMaxEntries {
		sorted = sorted[:summaryMaxEntries]
	}

	groups := make(map[EntryType][]string)
	for _, entry := range sorted {
		groups[entry.Type] = append(groups[entry.Type], entry.Content)
	}

	lines := []string{summaryHeader, ""}
	for _, entryType := range summaryTypeOrder {
		items := groups[entryType]
		if len(items) == 0 {
			continue
		}
		lines = append(lines, "## "+summaryTypeLabels[entryType])
		for _, item := range items {
			lines = append(lines, "- "+item)
		}
		lines = append(lines, "")
	}
	content := strings.Join(lines, "\n")

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.summaryPath(sessionID)
	tmp, err := os.CreateTemp(m.dir, "summary_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create summary temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close summary temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace summary: %w", err)
	}

	m.logger.Debug("rebuilt session summary",
		zap.String("session_id", sessionID),
		zap.Int("entries", len(sorted)))
	return nil
}
