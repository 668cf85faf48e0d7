package quizstudio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLibrary(t *testing.T) (*Library, *Store) {
	t.Helper()
	store := NewStore(NewMemoryBackend())
	store.Load()
	return NewLibrary(store), store
}

func TestLibrary_DeleteFolderKeepsQuizzes(t *testing.T) {
	lib, store := newTestLibrary(t)

	folder, err := lib.CreateFolder("Biology")
	require.NoError(t, err)
	require.NoError(t, store.AddQuiz(Quiz{ID: "q1"}))
	require.NoError(t, store.AddQuiz(Quiz{ID: "q2"}))
	require.NoError(t, store.AddQuiz(Quiz{ID: "q3"}))
	require.NoError(t, lib.MoveQuizzes([]string{"q1", "q2"}, folder.ID))
	require.Len(t, lib.QuizzesInFolder(folder.ID), 2)

	require.NoError(t, lib.DeleteFolder(folder.ID))

	assert.Empty(t, store.Folders())
	quizzes := store.Quizzes()
	require.Len(t, quizzes, 3)
	for _, q := range quizzes {
		assert.Empty(t, q.FolderID)
	}
	assert.Len(t, lib.QuizzesInFolder(Uncategorized), 3)
}

func TestLibrary_Folders(t *testing.T) {
	lib, store := newTestLibrary(t)

	first, err := lib.CreateFolder(" Math ")
	require.NoError(t, err)
	second, err := lib.CreateFolder("Art")
	require.NoError(t, err)

	assert.Equal(t, "Math", first.Name)
	assert.Equal(t, []Folder{second, first}, store.Folders())

	require.NoError(t, lib.RenameFolder(first.ID, "Algebra"))
	require.NoError(t, lib.RenameFolder("missing", "Nothing"))
	assert.Equal(t, "Algebra", store.Folders()[1].Name)
	assert.Len(t, store.Folders(), 2)
}

func TestLibrary_MoveToUncategorized(t *testing.T) {
	lib, store := newTestLibrary(t)
	require.NoError(t, store.AddQuiz(Quiz{ID: "q1", FolderID: "f1"}))

	require.NoError(t, lib.MoveQuizzes([]string{"q1"}, Uncategorized))

	quiz, ok := store.Quiz("q1")
	require.True(t, ok)
	assert.Empty(t, quiz.FolderID)
}

func TestLibrary_DeleteQuizzesCascadesToAttempts(t *testing.T) {
	lib, store := newTestLibrary(t)
	require.NoError(t, store.AddQuiz(Quiz{ID: "q1"}))
	require.NoError(t, store.AddQuiz(Quiz{ID: "q2"}))
	require.NoError(t, store.AddAttempt(QuizAttempt{ID: "a1", QuizID: "q1"}))
	require.NoError(t, store.AddAttempt(QuizAttempt{ID: "a2", QuizID: "q2"}))
	require.NoError(t, store.AddAttempt(QuizAttempt{ID: "a3", QuizID: "q1"}))

	require.NoError(t, lib.DeleteQuizzes([]string{"q1"}))

	require.Len(t, store.Quizzes(), 1)
	assert.Equal(t, "q2", store.Quizzes()[0].ID)
	require.Len(t, store.Attempts(), 1)
	assert.Equal(t, "a2", store.Attempts()[0].ID)

	require.NoError(t, lib.DeleteAttempts([]string{"a2"}))
	assert.Empty(t, store.Attempts())
	assert.Len(t, store.Quizzes(), 1)
}

func TestLibrary_NewBlankQuizAndSave(t *testing.T) {
	lib, store := newTestLibrary(t)

	quiz := lib.NewBlankQuiz(LangEnglish, "gpt-4o")
	assert.NotEmpty(t, quiz.ID)
	assert.NotEmpty(t, quiz.Title)
	assert.Equal(t, "gpt-4o", quiz.Model)
	assert.NotNil(t, quiz.Questions)
	assert.False(t, quiz.Startable())

	require.NoError(t, lib.SaveQuiz(quiz))
	require.NoError(t, store.AddQuiz(Quiz{ID: "other"}))

	quiz.Title = "Edited"
	quiz.Questions = []Question{mc("q", "A", "A", "B")}
	require.NoError(t, lib.SaveQuiz(quiz))

	quizzes := store.Quizzes()
	require.Len(t, quizzes, 2)
	assert.Equal(t, "other", quizzes[0].ID, "saving an existing quiz keeps its position")
	assert.Equal(t, "Edited", quizzes[1].Title)
	assert.True(t, quizzes[1].Startable())
}

func TestLibrary_KnowledgeBases(t *testing.T) {
	lib, store := newTestLibrary(t)
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	lib.now = func() time.Time { return clock }

	base, err := lib.CreateKnowledgeBase("Science")
	require.NoError(t, err)
	other, err := lib.CreateKnowledgeBase("History")
	require.NoError(t, err)

	entry, err := lib.CreateEntry(base.ID, "Cells", []Block{{Type: BlockText, Content: "Units of life."}})
	require.NoError(t, err)
	_, err = lib.CreateEntry(other.ID, "Rome", nil)
	require.NoError(t, err)

	_, err = lib.CreateEntry("missing", "Nope", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	clock = clock.Add(time.Hour)
	require.NoError(t, lib.UpdateEntry(entry.ID, "Cell biology", []Block{{Type: BlockText, Content: "Updated."}}))

	entries := lib.EntriesInBase(base.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "Cell biology", entries[0].Title)
	assert.Equal(t, clock, entries[0].LastModified)
	assert.Equal(t, entry.CreatedAt, entries[0].CreatedAt)

	require.NoError(t, lib.RenameKnowledgeBase(base.ID, "Biology"))
	require.NoError(t, lib.DeleteKnowledgeBase(base.ID))

	require.Len(t, store.KnowledgeBases(), 1)
	assert.Equal(t, "History", store.KnowledgeBases()[0].Name)
	require.Len(t, store.KnowledgeEntries(), 1)
	assert.Equal(t, "Rome", store.KnowledgeEntries()[0].Title)

	require.NoError(t, lib.DeleteEntry(store.KnowledgeEntries()[0].ID))
	assert.Empty(t, store.KnowledgeEntries())
}

func TestLibrary_GroundingText(t *testing.T) {
	lib, _ := newTestLibrary(t)
	base, err := lib.CreateKnowledgeBase("Science")
	require.NoError(t, err)

	cells, err := lib.CreateEntry(base.ID, "Cells", []Block{
		{Type: BlockText, Content: "Units of life."},
		{Type: BlockImage, Content: "AAAA", MimeType: "image/png"},
		{Type: BlockText, Content: "Have membranes."},
	})
	require.NoError(t, err)
	atoms, err := lib.CreateEntry(base.ID, "Atoms", []Block{{Type: BlockText, Content: "Tiny."}})
	require.NoError(t, err)
	_, err = lib.CreateEntry(base.ID, "Unused", []Block{{Type: BlockText, Content: "Skip me."}})
	require.NoError(t, err)

	text := lib.GroundingText([]string{cells.ID, atoms.ID})

	assert.Equal(t, "Title: Atoms\n\nTiny.\n\n---\n\nTitle: Cells\n\nUnits of life.\nHave membranes.", text)
	assert.Empty(t, lib.GroundingText(nil))
}
