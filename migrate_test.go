package quizstudio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateKnowledgeEntry(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantTitle   string
		wantBlocks  []Block
		wantChanged bool
	}{
		{
			name:        "free text takes the first line as title",
			raw:         `{"id":"e1","knowledgeBaseId":"kb","content":"\n## Photosynthesis\nLight becomes sugar.\n\nIn leaves."}`,
			wantTitle:   "Photosynthesis",
			wantBlocks:  []Block{{Type: BlockText, Content: "Light becomes sugar.\n\nIn leaves."}},
			wantChanged: true,
		},
		{
			name:        "free text with only a title",
			raw:         `{"id":"e1","knowledgeBaseId":"kb","content":"# Cells"}`,
			wantTitle:   "Cells",
			wantBlocks:  []Block{},
			wantChanged: true,
		},
		{
			name:        "blank free text is untitled",
			raw:         `{"id":"e1","knowledgeBaseId":"kb","content":"   "}`,
			wantTitle:   "Untitled Entry",
			wantBlocks:  []Block{},
			wantChanged: true,
		},
		{
			name:        "title and note",
			raw:         `{"id":"e1","knowledgeBaseId":"kb","title":"Cells","note":"Units of life."}`,
			wantTitle:   "Cells",
			wantBlocks:  []Block{{Type: BlockText, Content: "Units of life."}},
			wantChanged: true,
		},
		{
			name:        "current shape is unchanged",
			raw:         `{"id":"e1","knowledgeBaseId":"kb","title":"# Keep","contentBlocks":[{"type":"image","content":"AAAA","mimeType":"image/png"}]}`,
			wantTitle:   "# Keep",
			wantBlocks:  []Block{{Type: BlockImage, Content: "AAAA", MimeType: "image/png"}},
			wantChanged: false,
		},
		{
			name:        "current shape with leftover legacy field",
			raw:         `{"id":"e1","knowledgeBaseId":"kb","title":"Cells","note":"old","contentBlocks":[]}`,
			wantTitle:   "Cells",
			wantBlocks:  []Block{},
			wantChanged: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, changed, err := MigrateKnowledgeEntry(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, "e1", entry.ID)
			assert.Equal(t, "kb", entry.KnowledgeBaseID)
			assert.Equal(t, tt.wantTitle, entry.Title)
			assert.Equal(t, tt.wantBlocks, entry.ContentBlocks)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}

func TestMigrateKnowledgeEntry_Idempotent(t *testing.T) {
	legacy := []string{
		`{"id":"a","knowledgeBaseId":"kb","content":"# Title\nbody text"}`,
		`{"id":"b","knowledgeBaseId":"kb","title":"## Not a heading to strip","note":"note"}`,
		`{"id":"c","knowledgeBaseId":"kb","title":"T","contentBlocks":[{"type":"text","content":"x"}]}`,
	}
	for _, raw := range legacy {
		first, _, err := MigrateKnowledgeEntry(json.RawMessage(raw))
		require.NoError(t, err)
		once, err := json.Marshal(first)
		require.NoError(t, err)

		second, changed, err := MigrateKnowledgeEntry(once)
		require.NoError(t, err)
		twice, err := json.Marshal(second)
		require.NoError(t, err)

		assert.False(t, changed)
		assert.Equal(t, string(once), string(twice))
	}
}

func TestMigrateKnowledgeEntries_FallsBackPerRecord(t *testing.T) {
	data := `[
		{"id":"ok","knowledgeBaseId":"kb","content":"Title\nbody"},
		{"id":"raw","knowledgeBaseId":"kb","content":5},
		{"id":"bad","contentBlocks":"not blocks"}
	]`

	entries, changed, err := migrateKnowledgeEntries([]byte(data))
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, entries, 2)

	assert.Equal(t, "ok", entries[0].ID)
	assert.Equal(t, "Title", entries[0].Title)

	assert.Equal(t, "raw", entries[1].ID, "an unmigratable record that still decodes is kept as-is")
	assert.Equal(t, []Block{}, entries[1].ContentBlocks)
}

func TestMigrateKnowledgeEntries_RejectsNonArray(t *testing.T) {
	_, _, err := migrateKnowledgeEntries([]byte(`{"id":"x"}`))
	assert.Error(t, err)
}
