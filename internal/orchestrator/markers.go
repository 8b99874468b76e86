package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/agentarena/agentarena/internal/memory"
)

// Marker regexes tolerate newlines inside the payload. Both marker kinds
// are stripped from the reply even when their payload is unusable, so
// the user never sees them.
var (
	memoryMarkerRe      = regexp.MustCompile(`(?s)<!--MEMORY:(\{.*?\})-->`)
	personalLogMarkerRe = regexp.MustCompile(`(?s)<!--PERSONAL_LOG:(.*?)-->`)
)

// defaultMarkerImportance applies when a MEMORY marker omits importance.
const defaultMarkerImportance = 0.7

// memoryMarker is the JSON payload of one <!--MEMORY:{...}--> marker.
type memoryMarker struct {
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Importance *float64 `json:"importance"`
}

func (m *memoryMarker) importance() float64 {
	if m.Importance == nil {
		return defaultMarkerImportance
	}
	return *m.Importance
}

// extractMarkers separates an agent reply into the visible text and its
// embedded side effects. Markers with unparseable JSON or an unknown
// entry type count as malformed; they are stripped but produce nothing.
func extractMarkers(content string) (clean string, entries []*memory.Entry, personalLogs []string, malformed int) {
	for _, match := range memoryMarkerRe.FindAllStringSubmatch(content, -1) {
		var marker memoryMarker
		if err := json.Unmarshal([]byte(match[1]), &marker); err != nil {
			malformed++
			continue
		}
		if !memory.ValidEntryType(marker.Type) {
			malformed++
			continue
		}
		text := strings.TrimSpace(marker.Content)
		if text == "" {
			continue
		}
		entries = append(entries, &memory.Entry{
			Type:       memory.EntryType(marker.Type),
			Content:    text,
			Importance: marker.importance(),
		})
	}

	for _, match := range personalLogMarkerRe.FindAllStringSubmatch(content, -1) {
		if text := strings.TrimSpace(match[1]); text != "" {
			personalLogs = append(personalLogs, text)
		}
	}

	clean = memoryMarkerRe.ReplaceAllString(content, "")
	clean = personalLogMarkerRe.ReplaceAllString(clean, "")
	return strings.TrimSpace(clean), entries, personalLogs, malformed
}
