package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/common/logger"
)

// Character budgets for injected personal memory, sized to keep the
// context contribution around a thousand tokens.
const (
	maxLongTermChars = 2400
	maxDailyLogChars = 1600

	truncationSuffix = "\n...(更早内容已省略)"

	longTermLabel = "### 个人长期记忆"
	dailyLogLabel = "### %s 工作日志"
)

const longTermTemplate = `# %s - 个人长期记忆

> 记录跨会话的重要经验、决策模式和工作洞察。
> 新条目由回复中的 <!--PERSONAL_LOG:--> 标记沉淀而来。

`

// PersonalMemory reads and writes the per-agent memory files inside an
// agent workspace: MEMORY.md for long-term notes and memory/YYYY-MM-DD.md
// for raw daily logs. Appends to the same workspace are serialized.
type PersonalMemory struct {
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	logger *logger.Logger
}

// NewPersonalMemory creates a personal memory manager.
func NewPersonalMemory(log *logger.Logger) *PersonalMemory {
	return &PersonalMemory{
		locks:  make(map[string]*sync.Mutex),
		logger: log.WithFields(zap.String("component", "personal-memory")),
	}
}

func (p *PersonalMemory) workspaceLock(workspaceDir string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	lock, ok := p.locks[workspaceDir]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[workspaceDir] = lock
	}
	return lock
}

// ReadContext merges MEMORY.md with today's and yesterday's daily log
// into one labeled string for context injection. Missing or empty files
// are skipped; an agent with no memory yields "".
func (p *PersonalMemory) ReadContext(workspaceDir string) string {
	var parts []string

	if text := readTruncated(filepath.Join(workspaceDir, "MEMORY.md"), maxLongTermChars); text != "" {
		parts = append(parts, longTermLabel+"\n"+text)
	}

	now := time.Now()
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
	for _, date := range []string{today, yesterday} {
		path := filepath.Join(workspaceDir, "memory", date+".md")
		if text := readTruncated(path, maxDailyLogChars); text != "" {
			parts = append(parts, fmt.Sprintf(dailyLogLabel, date)+"\n"+text)
		}
	}

	return strings.Join(parts, "\n\n")
}

// AppendDailyLog appends one timestamped line to today's log file,
// creating the memory directory when needed.
func (p *PersonalMemory) AppendDailyLog(workspaceDir, content string) error {
	lock := p.workspaceLock(workspaceDir)
	lock.Lock()
	defer lock.Unlock()

	memoryDir := filepath.Join(workspaceDir, "memory")
	if err := os.MkdirAll(memoryDir, 0o755); err != nil {
		return fmt.Errorf("failed to create memory dir: %w", err)
	}

	now := time.Now()
	path := filepath.Join(memoryDir, now.Format("2006-01-02")+".md")
	line := fmt.Sprintf("\n- [%s] %s\n", now.Format("15:04"), strings.TrimSpace(content))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open daily log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to append daily log: %w", err)
	}
	p.logger.Debug("appended personal log", zap.String("file", path))
	return nil
}

// InitWorkspace prepares the memory layout during onboarding: the
// memory/ directory plus a templated MEMORY.md. An existing MEMORY.md
// is never overwritten.
func (p *PersonalMemory) InitWorkspace(workspaceDir, agentName string) error {
	lock := p.workspaceLock(workspaceDir)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Join(workspaceDir, "memory"), 0o755); err != nil {
		return fmt.Errorf("failed to create memory dir: %w", err)
	}

	path := filepath.Join(workspaceDir, "MEMORY.md")
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat MEMORY.md: %w", err)
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf(longTermTemplate, agentName)), 0o644); err != nil {
		return fmt.Errorf("failed to write MEMORY.md: %w", err)
	}
	p.logger.Info("initialized workspace memory",
		zap.String("agent", agentName),
		zap.String("workspace", workspaceDir))
	return nil
}

// readTruncated reads a file, trims it and truncates to maxChars runes
// with a marker suffix. Returns "" for missing or blank files.
func readTruncated(path string, maxChars int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) > maxChars {
		text = string(runes[:maxChars]) + truncationSuffix
	}
	return text
}
