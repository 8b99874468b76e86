package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/agentarena/internal/memory"
)

func TestExtractMarkersMemory(t *testing.T) {
	content := "I suggest sqlite.\n" +
		`<!--MEMORY:{"type": "decision", "content": "use sqlite for storage"}-->`

	clean, entries, personalLogs, malformed := extractMarkers(content)

	assert.Equal(t, "I suggest sqlite.", clean)
	assert.Empty(t, personalLogs)
	assert.Zero(t, malformed)
	require.Len(t, entries, 1)
	assert.Equal(t, memory.EntryDecision, entries[0].Type)
	assert.Equal(t, "use sqlite for storage", entries[0].Content)
	assert.Equal(t, defaultMarkerImportance, entries[0].Importance)
}

func TestExtractMarkersExplicitImportance(t *testing.T) {
	content := `<!--MEMORY:{"type": "issue", "content": "flaky test", "importance": 0.9}-->`

	_, entries, _, malformed := extractMarkers(content)

	assert.Zero(t, malformed)
	require.Len(t, entries, 1)
	assert.Equal(t, 0.9, entries[0].Importance)

	// An explicit zero stays zero instead of falling back to the default.
	_, entries, _, _ = extractMarkers(`<!--MEMORY:{"type": "task", "content": "x", "importance": 0}-->`)
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].Importance)
}

func TestExtractMarkersMalformedJSON(t *testing.T) {
	content := `before <!--MEMORY:{not json}--> after`

	clean, entries, _, malformed := extractMarkers(content)

	assert.Equal(t, "before  after", clean)
	assert.Empty(t, entries)
	assert.Equal(t, 1, malformed)
}

func TestExtractMarkersUnknownType(t *testing.T) {
	content := `<!--MEMORY:{"type": "gossip", "content": "not a real type"}--> visible`

	clean, entries, _, malformed := extractMarkers(content)

	assert.Equal(t, "visible", clean)
	assert.Empty(t, entries)
	assert.Equal(t, 1, malformed)
}

func TestExtractMarkersEmptyContentSkipped(t *testing.T) {
	content := `<!--MEMORY:{"type": "task", "content": "  "}-->`

	clean, entries, _, malformed := extractMarkers(content)

	assert.Empty(t, clean)
	assert.Empty(t, entries)
	assert.Zero(t, malformed)
}

func TestExtractMarkersPersonalLog(t *testing.T) {
	content := "Deployed the fix.\n" +
		"<!--PERSONAL_LOG:learned that the staging db resets nightly-->\n" +
		"<!--PERSONAL_LOG:  -->"

	clean, entries, personalLogs, malformed := extractMarkers(content)

	assert.Equal(t, "Deployed the fix.", clean)
	assert.Empty(t, entries)
	assert.Zero(t, malformed)
	assert.Equal(t, []string{"learned that the staging db resets nightly"}, personalLogs)
}

func TestExtractMarkersMultiline(t *testing.T) {
	content := "summary below\n" +
		"<!--MEMORY:{\"type\": \"summary\",\n\"content\": \"line one\\nline two\"}-->"

	clean, entries, _, malformed := extractMarkers(content)

	assert.Equal(t, "summary below", clean)
	assert.Zero(t, malformed)
	require.Len(t, entries, 1)
	assert.Equal(t, "line one\nline two", entries[0].Content)
}

func TestExtractMarkersMixed(t *testing.T) {
	content := "Plan agreed.\n" +
		`<!--MEMORY:{"type": "decision", "content": "ship on friday"}-->` + "\n" +
		"Middle text.\n" +
		`<!--MEMORY:{"type": "broken"-->` + "\n" +
		"<!--PERSONAL_LOG:note to self-->\n" +
		"End."

	clean, entries, personalLogs, malformed := extractMarkers(content)

	assert.Equal(t, "Plan agreed.\n\nMiddle text.\n"+`<!--MEMORY:{"type": "broken"-->`+"\n\nEnd.", clean)
	require.Len(t, entries, 1)
	assert.Equal(t, "ship on friday", entries[0].Content)
	assert.Equal(t, []string{"note to self"}, personalLogs)
	assert.Zero(t, malformed)
}

func TestExtractMarkersPlainText(t *testing.T) {
	clean, entries, personalLogs, malformed := extractMarkers("no markers here")
	assert.Equal(t, "no markers here", clean)
	assert.Empty(t, entries)
	assert.Empty(t, personalLogs)
	assert.Zero(t, malformed)
}
