package quizstudio

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Uncategorized is the MoveQuizzes target that removes quizzes from their folder
const Uncategorized = "__uncategorized__"

// Library organizes quizzes, attempts, folders and knowledge bases on top of a Store
type Library struct {
	store *Store
	now   func() time.Time
}

func NewLibrary(store *Store) *Library {
	return &Library{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// CreateFolder prepends a new folder.
func (l *Library) CreateFolder(name string) (Folder, error) {
	folder := Folder{ID: uuid.NewString(), Name: strings.TrimSpace(name)}
	err := l.store.UpdateFolders(func(folders []Folder) []Folder {
		return append([]Folder{folder}, folders...)
	})
	if err != nil {
		return Folder{}, err
	}
	return folder, nil
}

// RenameFolder is a no-op when id does not exist.
func (l *Library) RenameFolder(id, name string) error {
	return l.store.UpdateFolders(func(folders []Folder) []Folder {
		for i := range folders {
			if folders[i].ID == id {
				folders[i].Name = strings.TrimSpace(name)
			}
		}
		return folders
	})
}

// DeleteFolder removes the folder and un-files its quizzes. The quizzes themselves
// are kept.
func (l *Library) DeleteFolder(id string) error {
	err := l.store.UpdateQuizzes(func(quizzes []Quiz) []Quiz {
		for i := range quizzes {
			if quizzes[i].FolderID == id {
				quizzes[i].FolderID = ""
			}
		}
		return quizzes
	})
	if err != nil {
		return err
	}
	return l.store.UpdateFolders(func(folders []Folder) []Folder {
		return lo.Reject(folders, func(f Folder, _ int) bool { return f.ID == id })
	})
}

// MoveQuizzes files the given quizzes into folderID, or out of any folder when
// folderID is Uncategorized.
func (l *Library) MoveQuizzes(ids []string, folderID string) error {
	if folderID == Uncategorized {
		folderID = ""
	}
	return l.store.UpdateQuizzes(func(quizzes []Quiz) []Quiz {
		for i := range quizzes {
			if lo.Contains(ids, quizzes[i].ID) {
				quizzes[i].FolderID = folderID
			}
		}
		return quizzes
	})
}

// DeleteQuizzes removes the quizzes and every attempt taken on them.
func (l *Library) DeleteQuizzes(ids []string) error {
	err := l.store.UpdateQuizzes(func(quizzes []Quiz) []Quiz {
		return lo.Reject(quizzes, func(q Quiz, _ int) bool { return lo.Contains(ids, q.ID) })
	})
	if err != nil {
		return err
	}
	return l.store.UpdateAttempts(func(attempts []QuizAttempt) []QuizAttempt {
		return lo.Reject(attempts, func(a QuizAttempt, _ int) bool { return lo.Contains(ids, a.QuizID) })
	})
}

func (l *Library) DeleteAttempts(ids []string) error {
	return l.store.UpdateAttempts(func(attempts []QuizAttempt) []QuizAttempt {
		return lo.Reject(attempts, func(a QuizAttempt, _ int) bool { return lo.Contains(ids, a.ID) })
	})
}

// NewBlankQuiz returns an unsaved quiz with no questions.
func (l *Library) NewBlankQuiz(lang Language, model string) Quiz {
	return Quiz{
		ID:        uuid.NewString(),
		Title:     localize(lang, msgUntitledQuiz),
		CreatedAt: l.now(),
		Questions: []Question{},
		Model:     model,
	}
}

// SaveQuiz replaces the quiz with the same id, or prepends it if there is none.
func (l *Library) SaveQuiz(quiz Quiz) error {
	return l.store.UpdateQuizzes(func(quizzes []Quiz) []Quiz {
		_, i, found := lo.FindIndexOf(quizzes, func(q Quiz) bool { return q.ID == quiz.ID })
		if found {
			quizzes[i] = quiz
			return quizzes
		}
		return append([]Quiz{quiz}, quizzes...)
	})
}

// QuizzesInFolder lists the quizzes filed under folderID. Uncategorized lists the
// quizzes without a folder.
func (l *Library) QuizzesInFolder(folderID string) []Quiz {
	if folderID == Uncategorized {
		folderID = ""
	}
	return lo.Filter(l.store.Quizzes(), func(q Quiz, _ int) bool { return q.FolderID == folderID })
}

// AttemptsForQuiz lists the attempts taken on quizID, newest first.
func (l *Library) AttemptsForQuiz(quizID string) []QuizAttempt {
	return lo.Filter(l.store.Attempts(), func(a QuizAttempt, _ int) bool { return a.QuizID == quizID })
}

func (l *Library) CreateKnowledgeBase(name string) (KnowledgeBase, error) {
	base := KnowledgeBase{ID: uuid.NewString(), Name: strings.TrimSpace(name), CreatedAt: l.now()}
	err := l.store.UpdateKnowledgeBases(func(bases []KnowledgeBase) []KnowledgeBase {
		return append([]KnowledgeBase{base}, bases...)
	})
	if err != nil {
		return KnowledgeBase{}, err
	}
	return base, nil
}

func (l *Library) RenameKnowledgeBase(id, name string) error {
	return l.store.UpdateKnowledgeBases(func(bases []KnowledgeBase) []KnowledgeBase {
		for i := range bases {
			if bases[i].ID == id {
				bases[i].Name = strings.TrimSpace(name)
			}
		}
		return bases
	})
}

// DeleteKnowledgeBase removes the base together with all of its entries.
func (l *Library) DeleteKnowledgeBase(id string) error {
	err := l.store.UpdateKnowledgeEntries(func(entries []KnowledgeEntry) []KnowledgeEntry {
		return lo.Reject(entries, func(e KnowledgeEntry, _ int) bool { return e.KnowledgeBaseID == id })
	})
	if err != nil {
		return err
	}
	return l.store.UpdateKnowledgeBases(func(bases []KnowledgeBase) []KnowledgeBase {
		return lo.Reject(bases, func(b KnowledgeBase, _ int) bool { return b.ID == id })
	})
}

// CreateEntry prepends a new entry to the knowledge base.
func (l *Library) CreateEntry(baseID, title string, blocks []Block) (KnowledgeEntry, error) {
	if !lo.ContainsBy(l.store.KnowledgeBases(), func(b KnowledgeBase) bool { return b.ID == baseID }) {
		return KnowledgeEntry{}, notFound("knowledge base", baseID)
	}
	now := l.now()
	if blocks == nil {
		blocks = []Block{}
	}
	entry := KnowledgeEntry{
		ID:              uuid.NewString(),
		KnowledgeBaseID: baseID,
		Title:           strings.TrimSpace(title),
		ContentBlocks:   blocks,
		CreatedAt:       now,
		LastModified:    now,
	}
	err := l.store.UpdateKnowledgeEntries(func(entries []KnowledgeEntry) []KnowledgeEntry {
		return append([]KnowledgeEntry{entry}, entries...)
	})
	if err != nil {
		return KnowledgeEntry{}, err
	}
	return entry, nil
}

// UpdateEntry replaces the title and blocks of an entry and bumps LastModified.
func (l *Library) UpdateEntry(id, title string, blocks []Block) error {
	if blocks == nil {
		blocks = []Block{}
	}
	now := l.now()
	return l.store.UpdateKnowledgeEntries(func(entries []KnowledgeEntry) []KnowledgeEntry {
		for i := range entries {
			if entries[i].ID == id {
				entries[i].Title = strings.TrimSpace(title)
				entries[i].ContentBlocks = blocks
				entries[i].LastModified = now
			}
		}
		return entries
	})
}

func (l *Library) DeleteEntry(id string) error {
	return l.store.UpdateKnowledgeEntries(func(entries []KnowledgeEntry) []KnowledgeEntry {
		return lo.Reject(entries, func(e KnowledgeEntry, _ int) bool { return e.ID == id })
	})
}

// EntriesInBase lists the entries of one knowledge base.
func (l *Library) EntriesInBase(baseID string) []KnowledgeEntry {
	return lo.Filter(l.store.KnowledgeEntries(), func(e KnowledgeEntry, _ int) bool {
		return e.KnowledgeBaseID == baseID
	})
}

// GroundingText renders the text blocks of the selected entries as
// "Title: ..." sections separated by "---".
func (l *Library) GroundingText(entryIDs []string) string {
	selected := lo.Filter(l.store.KnowledgeEntries(), func(e KnowledgeEntry, _ int) bool {
		return lo.Contains(entryIDs, e.ID)
	})
	sections := lo.Map(selected, func(e KnowledgeEntry, _ int) string {
		return "Title: " + e.Title + "\n\n" + e.TextContent()
	})
	return strings.Join(sections, "\n\n---\n\n")
}
