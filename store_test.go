package quizstudio

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyBackend fails every write while failPuts is set
type flakyBackend struct {
	*MemoryBackend
	failPuts bool
}

func (f *flakyBackend) Put(key string, value []byte) error {
	if f.failPuts {
		return errors.New("disk full")
	}
	return f.MemoryBackend.Put(key, value)
}

func TestStore_LoadIsolatesBrokenCollections(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put(KeyQuizzes, []byte(`{not json`)))
	require.NoError(t, backend.Put(KeyFolders, []byte(`[{"id":"f1","name":"Biology"}]`)))
	require.NoError(t, backend.Put(KeyAttempts, []byte(`[{"id":"a1","quizId":"q1","userAnswers":["x",null]}]`)))

	store := NewStore(backend)
	store.Load()

	assert.Empty(t, store.Quizzes())
	assert.Equal(t, []Folder{{ID: "f1", Name: "Biology"}}, store.Folders())
	require.Len(t, store.Attempts(), 1)
	assert.Equal(t, "x", store.Attempts()[0].UserAnswers[0].TextValue())
	assert.Empty(t, store.KnowledgeBases())
	assert.Empty(t, store.KnowledgeEntries())
}

func TestStore_LoadWritesBackMigratedEntries(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put(KeyKnowledgeEntries, []byte(`[{"id":"e1","knowledgeBaseId":"kb","content":"Cells\nUnits of life."}]`)))

	store := NewStore(backend)
	store.Load()

	entries := store.KnowledgeEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Cells", entries[0].Title)

	data, ok, err := backend.Get(KeyKnowledgeEntries)
	require.NoError(t, err)
	require.True(t, ok)
	var stored []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, "Cells", stored[0]["title"])
	assert.Contains(t, stored[0], "contentBlocks")
	assert.NotContains(t, stored[0], "content")
}

func TestStore_UpdateKeepsMemoryOnWriteFailure(t *testing.T) {
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	store := NewStore(backend)
	store.Load()

	require.NoError(t, store.AddQuiz(Quiz{ID: "q1", Title: "First"}))

	backend.failPuts = true
	err := store.AddQuiz(Quiz{ID: "q2", Title: "Second"})
	require.Error(t, err)

	quizzes := store.Quizzes()
	require.Len(t, quizzes, 1)
	assert.Equal(t, "q1", quizzes[0].ID)
}

func TestStore_AddPrependsAndPersists(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewStore(backend)
	store.Load()

	require.NoError(t, store.AddQuiz(Quiz{ID: "q1"}))
	require.NoError(t, store.AddQuiz(Quiz{ID: "q2"}))
	require.NoError(t, store.AddAttempt(QuizAttempt{ID: "a1", QuizID: "q1"}))

	assert.Equal(t, "q2", store.Quizzes()[0].ID)

	reloaded := NewStore(backend)
	reloaded.Load()
	require.Len(t, reloaded.Quizzes(), 2)
	assert.Equal(t, "q2", reloaded.Quizzes()[0].ID)
	_, ok := reloaded.Attempt("a1")
	assert.True(t, ok)
}

func TestStore_EmptyCollectionIsWrittenAsArray(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewStore(backend)
	store.Load()

	require.NoError(t, store.UpdateFolders(func([]Folder) []Folder { return nil }))

	data, ok, err := backend.Get(KeyFolders)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[]", string(data))
}

func TestDB_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quizstudio.db")

	db, err := OpenDB(path)
	require.NoError(t, err)

	_, ok, err := db.Get(KeyQuizzes)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Put(KeyQuizzes, []byte(`[{"id":"q1"}]`)))
	require.NoError(t, db.Put(KeyQuizzes, []byte(`[{"id":"q2"}]`)))
	require.NoError(t, db.Close())

	reopened, err := OpenDB(path)
	require.NoError(t, err)
	defer reopened.Close()

	store := NewStore(reopened)
	store.Load()
	require.Len(t, store.Quizzes(), 1)
	assert.Equal(t, "q2", store.Quizzes()[0].ID)
}

func TestOpenBackend(t *testing.T) {
	backend, err := OpenBackend(StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, backend)

	backend, err = OpenBackend(StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &DB{}, backend)
	require.NoError(t, backend.Close())

	_, err = OpenBackend(StoreConfig{Driver: "etcd"})
	assert.Error(t, err)
}
