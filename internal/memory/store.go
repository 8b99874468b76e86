// Package memory implements the arena's memory plane: a session-scoped
// shared store, per-agent personal memory files and the derived session
// summary. The shared store keeps one JSON file per session.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/common/logger"
)

// EntryType classifies a shared memory entry.
type EntryType string

const (
	EntryDecision    EntryType = "decision"
	EntryRequirement EntryType = "requirement"
	EntryTask        EntryType = "task"
	EntryIssue       EntryType = "issue"
	EntrySummary     EntryType = "summary"
)

// ValidEntryType reports whether t is one of the known entry types.
func ValidEntryType(t string) bool {
	switch EntryType(t) {
	case EntryDecision, EntryRequirement, EntryTask, EntryIssue, EntrySummary:
		return true
	}
	return false
}

// Entry is one shared memory record, scoped to a group session.
type Entry struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Content         string    `json:"content"`
	Type            EntryType `json:"memory_type"`
	Importance      float64   `json:"importance"`
	CreatedAt       time.Time `json:"created_at"`
	SourceMessageID string    `json:"source_message_id,omitempty"`
}

// Store persists session memory entries as JSON files, one per session.
// Access to each session file is serialized; different sessions do not
// block each other.
type Store struct {
	dir    string
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	logger *logger.Logger
}

// NewStore creates the store rooted at dir, creating it if needed.
func NewStore(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create memory dir: %w", err)
	}
	return &Store{
		dir:    dir,
		locks:  make(map[string]*sync.Mutex),
		logger: log.WithFields(zap.String("component", "memory-store")),
	}, nil
}

func (s *Store) sessionFile(sessionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("session_%s.json", sessionID))
}

// sessionLock returns the mutex guarding one session's file.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// Save appends one entry to the session's memory. Missing ID and
// timestamp are filled in; SessionID is forced to sessionID.
func (s *Store) Save(ctx context.Context, sessionID string, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.SessionID = sessionID

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.loadEntries(sessionID)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if err := s.writeEntries(sessionID, entries); err != nil {
		return err
	}

	s.logger.Debug("saved memory entry",
		zap.String("session_id", sessionID),
		zap.String("type", string(entry.Type)),
		zap.Float64("importance", entry.Importance))
	return nil
}

// Search scores every entry of the session against the query and returns
// the topK best matches. The score is half keyword overlap (whitespace
// tokens, case-insensitive) and half stored importance; entries scoring
// zero are excluded. Ties keep insertion order.
func (s *Store) Search(ctx context.Context, sessionID, query string, topK int) ([]*Entry, error) {
	if topK <= 0 {
		topK = 5
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	entries, err := s.loadEntries(sessionID)
	lock.Unlock()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	queryWords := tokenize(query)
	type scored struct {
		score float64
		entry *Entry
	}
	matches := make([]scored, 0, len(entries))
	for _, entry := range entries {
		overlap := 0
		for word := range tokenize(entry.Content) {
			if _, ok := queryWords[word]; ok {
				overlap++
			}
		}
		score := float64(overlap)*0.5 + entry.Importance*0.5
		if score > 0 {
			matches = append(matches, scored{score: score, entry: entry})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	result := make([]*Entry, len(matches))
	for i, m := range matches {
		result[i] = m.entry
	}
	return result, nil
}

// All returns every entry of the session in insertion order.
func (s *Store) All(ctx context.Context, sessionID string) ([]*Entry, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return s.loadEntries(sessionID)
}

func (s *Store) loadEntries(sessionID string) ([]*Entry, error) {
	data, err := os.ReadFile(s.sessionFile(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session memory: %w", err)
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse session memory: %w", err)
	}
	return entries, nil
}

func (s *Store) writeEntries(sessionID string, entries []*Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session memory: %w", err)
	}
	if err := os.WriteFile(s.sessionFile(sessionID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write session memory: %w", err)
	}
	return nil
}

// tokenize splits text into a set of lowercase whitespace-separated words.
func tokenize(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		words[word] = struct{}{}
	}
	return words
}
