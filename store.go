package quizstudio

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Storage keys, one JSON array snapshot each
const (
	KeyQuizzes          = "quizzes"
	KeyAttempts         = "attempts"
	KeyFolders          = "folders"
	KeyKnowledgeBases   = "knowledgeBases"
	KeyKnowledgeEntries = "knowledgeEntries"
)

// Store holds the five persisted collections in memory and writes each one back to
// the backend as a whole snapshot after every change.
type Store struct {
	mu      sync.RWMutex
	backend Backend

	quizzes  []Quiz
	attempts []QuizAttempt
	folders  []Folder
	bases    []KnowledgeBase
	entries  []KnowledgeEntry
}

// NewStore wraps a backend. Call Load before use.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Load reads every collection. A collection that cannot be read or decoded is left
// empty and logged; the others load normally. Knowledge entries are migrated to the
// current shape and written back when anything changed.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	loadCollection(s.backend, KeyQuizzes, &s.quizzes)
	loadCollection(s.backend, KeyAttempts, &s.attempts)
	loadCollection(s.backend, KeyFolders, &s.folders)
	loadCollection(s.backend, KeyKnowledgeBases, &s.bases)
	s.loadEntries()
}

func loadCollection[T any](backend Backend, key string, dst *[]T) {
	*dst = nil
	data, ok, err := backend.Get(key)
	if err != nil {
		Logger().Error("failed to read collection", zap.String("key", key), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		Logger().Error("failed to parse collection, starting empty", zap.String("key", key), zap.Error(err))
		return
	}
	*dst = items
}

func (s *Store) loadEntries() {
	s.entries = nil
	data, ok, err := s.backend.Get(KeyKnowledgeEntries)
	if err != nil {
		Logger().Error("failed to read collection", zap.String("key", KeyKnowledgeEntries), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	entries, changed, err := migrateKnowledgeEntries(data)
	if err != nil {
		Logger().Error("failed to parse collection, starting empty",
			zap.String("key", KeyKnowledgeEntries), zap.Error(err))
		return
	}
	s.entries = entries
	if changed {
		if err := putCollection(s.backend, KeyKnowledgeEntries, entries); err != nil {
			Logger().Error("failed to persist migrated knowledge entries", zap.Error(err))
			return
		}
		Logger().Info("migrated knowledge entries", zap.Int("count", len(entries)))
	}
}

func putCollection[T any](backend Backend, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return backend.Put(key, data)
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

// Quizzes returns a snapshot of the quiz collection
func (s *Store) Quizzes() []Quiz {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Quiz(nil), s.quizzes...)
}

// Quiz finds a quiz by id
func (s *Store) Quiz(id string) (Quiz, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.quizzes {
		if q.ID == id {
			return q, true
		}
	}
	return Quiz{}, false
}

func (s *Store) Attempts() []QuizAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]QuizAttempt(nil), s.attempts...)
}

func (s *Store) Attempt(id string) (QuizAttempt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.attempts {
		if a.ID == id {
			return a, true
		}
	}
	return QuizAttempt{}, false
}

func (s *Store) Folders() []Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Folder(nil), s.folders...)
}

func (s *Store) KnowledgeBases() []KnowledgeBase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]KnowledgeBase(nil), s.bases...)
}

func (s *Store) KnowledgeEntries() []KnowledgeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]KnowledgeEntry(nil), s.entries...)
}

// UpdateQuizzes applies fn to the quiz collection and persists the result. The
// in-memory collection only changes if the write succeeds.
func (s *Store) UpdateQuizzes(fn func([]Quiz) []Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(s.backend, KeyQuizzes, &s.quizzes, fn)
}

func (s *Store) UpdateAttempts(fn func([]QuizAttempt) []QuizAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(s.backend, KeyAttempts, &s.attempts, fn)
}

func (s *Store) UpdateFolders(fn func([]Folder) []Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(s.backend, KeyFolders, &s.folders, fn)
}

func (s *Store) UpdateKnowledgeBases(fn func([]KnowledgeBase) []KnowledgeBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(s.backend, KeyKnowledgeBases, &s.bases, fn)
}

func (s *Store) UpdateKnowledgeEntries(fn func([]KnowledgeEntry) []KnowledgeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(s.backend, KeyKnowledgeEntries, &s.entries, fn)
}

// AddQuiz prepends a quiz to the collection
func (s *Store) AddQuiz(quiz Quiz) error {
	return s.UpdateQuizzes(func(quizzes []Quiz) []Quiz {
		return append([]Quiz{quiz}, quizzes...)
	})
}

// AddAttempt prepends an attempt to the collection
func (s *Store) AddAttempt(attempt QuizAttempt) error {
	return s.UpdateAttempts(func(attempts []QuizAttempt) []QuizAttempt {
		return append([]QuizAttempt{attempt}, attempts...)
	})
}

func update[T any](backend Backend, key string, dst *[]T, fn func([]T) []T) error {
	next := fn(append([]T(nil), (*dst)...))
	if err := putCollection(backend, key, next); err != nil {
		return err
	}
	*dst = next
	return nil
}
