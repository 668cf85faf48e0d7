package quizstudio

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Knowledge entries were stored in three shapes over time:
//
//	v1: {content}            free text, title on the first non-blank line
//	v2: {title, note}
//	v3: {title, contentBlocks}
//
// Every parser below is pure; MigrateKnowledgeEntry picks the newest one that applies.

const untitledEntry = "Untitled Entry"

var headingMarkup = regexp.MustCompile(`^#+\s*`)

type entryMeta struct {
	ID              string    `json:"id"`
	KnowledgeBaseID string    `json:"knowledgeBaseId"`
	CreatedAt       time.Time `json:"createdAt"`
	LastModified    time.Time `json:"lastModified"`
}

type entryV1 struct {
	entryMeta
	Content string `json:"content"`
}

type entryV2 struct {
	entryMeta
	Title string `json:"title"`
	Note  string `json:"note"`
}

// MigrateKnowledgeEntry decodes one stored entry in any known shape and returns it
// in the current shape. changed is false only when raw already was current.
func MigrateKnowledgeEntry(raw json.RawMessage) (KnowledgeEntry, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return KnowledgeEntry{}, false, fmt.Errorf("failed to decode knowledge entry: %w", err)
	}
	if fields == nil {
		return KnowledgeEntry{}, false, fmt.Errorf("knowledge entry is null")
	}

	if present(fields, "contentBlocks") {
		entry, err := parseEntryV3(raw)
		if err != nil {
			return KnowledgeEntry{}, false, err
		}
		changed := present(fields, "content") || present(fields, "note") || isNull(fields["contentBlocks"])
		return entry, changed, nil
	}

	if present(fields, "title") || !present(fields, "content") {
		v2, err := parseEntryV2(raw)
		if err != nil {
			return KnowledgeEntry{}, false, err
		}
		return upgradeEntryV2(v2), true, nil
	}

	v1, err := parseEntryV1(raw)
	if err != nil {
		return KnowledgeEntry{}, false, err
	}
	return upgradeEntryV2(upgradeEntryV1(v1)), true, nil
}

func parseEntryV3(raw json.RawMessage) (KnowledgeEntry, error) {
	var entry KnowledgeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return KnowledgeEntry{}, fmt.Errorf("failed to decode knowledge entry: %w", err)
	}
	if entry.ContentBlocks == nil {
		entry.ContentBlocks = []Block{}
	}
	return entry, nil
}

func parseEntryV2(raw json.RawMessage) (entryV2, error) {
	var entry entryV2
	if err := json.Unmarshal(raw, &entry); err != nil {
		return entryV2{}, fmt.Errorf("failed to decode titled knowledge entry: %w", err)
	}
	return entry, nil
}

func parseEntryV1(raw json.RawMessage) (entryV1, error) {
	var entry entryV1
	if err := json.Unmarshal(raw, &entry); err != nil {
		return entryV1{}, fmt.Errorf("failed to decode legacy knowledge entry: %w", err)
	}
	return entry, nil
}

// upgradeEntryV1 takes the first non-blank line, minus leading '#' markup, as the
// title and the remaining text as the note.
func upgradeEntryV1(v1 entryV1) entryV2 {
	lines := strings.Split(v1.Content, "\n")
	title := untitledEntry
	noteStart := len(lines)
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			title = strings.TrimSpace(headingMarkup.ReplaceAllString(line, ""))
			noteStart = i + 1
			break
		}
	}
	note := ""
	if noteStart < len(lines) {
		note = strings.TrimSpace(strings.Join(lines[noteStart:], "\n"))
	}
	return entryV2{entryMeta: v1.entryMeta, Title: title, Note: note}
}

func upgradeEntryV2(v2 entryV2) KnowledgeEntry {
	blocks := []Block{}
	if strings.TrimSpace(v2.Note) != "" {
		blocks = append(blocks, Block{Type: BlockText, Content: v2.Note})
	}
	return KnowledgeEntry{
		ID:              v2.ID,
		KnowledgeBaseID: v2.KnowledgeBaseID,
		Title:           v2.Title,
		ContentBlocks:   blocks,
		CreatedAt:       v2.CreatedAt,
		LastModified:    v2.LastModified,
	}
}

// migrateKnowledgeEntries migrates a stored collection record by record. A record
// that cannot be migrated is kept if it decodes as-is and dropped otherwise.
func migrateKnowledgeEntries(data []byte) ([]KnowledgeEntry, bool, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, false, fmt.Errorf("failed to decode knowledge entries: %w", err)
	}

	entries := make([]KnowledgeEntry, 0, len(raws))
	anyChanged := false
	for i, raw := range raws {
		entry, changed, err := MigrateKnowledgeEntry(raw)
		if err == nil {
			entries = append(entries, entry)
			anyChanged = anyChanged || changed
			continue
		}

		Logger().Warn("knowledge entry migration failed, loading it unmigrated",
			zap.Int("index", i), zap.Error(err))
		var fallback KnowledgeEntry
		if rawErr := json.Unmarshal(raw, &fallback); rawErr != nil {
			Logger().Error("dropping unreadable knowledge entry", zap.Int("index", i), zap.Error(rawErr))
			anyChanged = true
			continue
		}
		if fallback.ContentBlocks == nil {
			fallback.ContentBlocks = []Block{}
		}
		entries = append(entries, fallback)
	}
	return entries, anyChanged, nil
}

func present(fields map[string]json.RawMessage, key string) bool {
	_, ok := fields[key]
	return ok
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
