package quizstudio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Extractor turns one uploaded file into generation-ready parts
type Extractor interface {
	Extract(ctx context.Context, file SourceFile) ([]ContentPart, error)
}

// Generator produces questions from content parts
type Generator interface {
	Generate(ctx context.Context, parts []ContentPart, params GenerationParams) ([]Question, error)
}

// JobStatus is the visible state of a generation job
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "error"
	JobCancelled  JobStatus = "cancelled"
)

// Job is one generation request. Jobs live in memory only.
type Job struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Files     []string       `json:"files"`
	Mode      GenerationMode `json:"mode"`
	Status    JobStatus      `json:"status"`
	Result    *Quiz          `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind JobErrorKind   `json:"errorKind,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// CancelToken is the cancellation signal handed to a job's pipeline
type CancelToken struct {
	cancelled atomic.Bool
}

func (t *CancelToken) Cancel() { t.cancelled.Store(true) }

func (t *CancelToken) Cancelled() bool { return t.cancelled.Load() }

// JobManagerOptions holds the optional collaborators of a JobManager
type JobManagerOptions struct {
	Notifier Notifier
	Metrics  *Metrics
	Language Language
}

// JobManager runs generation jobs concurrently. Each job is cancellable on its own;
// a cancelled job never persists a quiz and never reports success.
type JobManager struct {
	store     *Store
	extractor Extractor
	generator Generator
	notifier  Notifier
	metrics   *Metrics
	lang      Language

	mu         sync.Mutex
	jobs       []Job
	tokens     map[string]*CancelToken
	committing map[string]bool
	wg         sync.WaitGroup
}

func NewJobManager(store *Store, extractor Extractor, generator Generator, opts JobManagerOptions) *JobManager {
	lang := opts.Language
	if lang == "" {
		lang = LangEnglish
	}
	return &JobManager{
		store:      store,
		extractor:  extractor,
		generator:  generator,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		lang:       lang,
		tokens:     make(map[string]*CancelToken),
		committing: make(map[string]bool),
	}
}

// Submit registers a processing job and starts its pipeline in the background. It
// returns the job id without waiting for any work.
func (m *JobManager) Submit(files []SourceFile, title string, params GenerationParams) string {
	id := uuid.NewString()
	token := &CancelToken{}
	params.RequestID = id

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	job := Job{
		ID:        id,
		Title:     title,
		Files:     names,
		Mode:      params.Mode,
		Status:    JobProcessing,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs = appendJob(m.jobs, job)
	m.tokens[id] = token
	m.mu.Unlock()

	m.metrics.jobStarted()
	Logger().Info("job submitted", zap.String("job", id), zap.String("title", title), zap.Int("files", len(files)))
	safeNotify(m.notifier, localize(m.lang, msgJobStartedTitle, title), localize(m.lang, msgJobStartedBody), id)

	m.wg.Add(1)
	go m.run(context.Background(), id, token, files, title, params)
	return id
}

// Cancel marks a processing job cancelled and signals its pipeline. Cancelling a
// finished or unknown job, or one that is already saving its quiz, does nothing.
func (m *JobManager) Cancel(id string) {
	m.mu.Lock()
	job, ok := findJob(m.jobs, id)
	if !ok || job.Status != JobProcessing || m.committing[id] {
		m.mu.Unlock()
		return
	}
	if token := m.tokens[id]; token != nil {
		token.Cancel()
	}
	m.jobs = patchJob(m.jobs, id, func(j *Job) { j.Status = JobCancelled })
	m.mu.Unlock()

	m.metrics.jobFinished(JobCancelled)
	Logger().Info("job cancelled", zap.String("job", id))
	safeNotify(m.notifier, localize(m.lang, msgJobCancelledTitle, job.Title), localize(m.lang, msgJobCancelledBody), id)
}

// Clear removes finished jobs. Processing jobs are kept.
func (m *JobManager) Clear(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = dropJobs(m.jobs, ids)
	for id := range m.tokens {
		if _, ok := findJob(m.jobs, id); !ok {
			delete(m.tokens, id)
		}
	}
}

// Jobs returns the jobs in submission order
func (m *JobManager) Jobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Job(nil), m.jobs...)
}

// Job returns a single job
func (m *JobManager) Job(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return findJob(m.jobs, id)
}

// Wait blocks until every pipeline started so far has returned.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

func (m *JobManager) run(ctx context.Context, id string, token *CancelToken, files []SourceFile, title string, params GenerationParams) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("job pipeline panicked", zap.String("job", id), zap.Any("panic", r), zap.Stack("stack"))
			m.fail(id, token, title, generationError(fmt.Errorf("internal error: %v", r)))
		}
	}()

	parts, err := m.extractAll(ctx, files)
	if token.Cancelled() {
		return
	}
	if err != nil {
		m.fail(id, token, title, inputError(err))
		return
	}
	if !hasUsableContent(parts) {
		m.fail(id, token, title, inputError(ErrNoUsableContent))
		return
	}

	start := time.Now()
	questions, err := m.generator.Generate(ctx, parts, params)
	m.metrics.observeGeneration(start, err)
	if token.Cancelled() {
		Logger().Info("discarding generation result of cancelled job", zap.String("job", id))
		return
	}
	if err != nil {
		m.fail(id, token, title, generationError(err))
		return
	}
	if len(questions) == 0 {
		m.fail(id, token, title, generationError(ErrNoQuestions))
		return
	}
	for i, q := range questions {
		if err := q.Validate(); err != nil {
			m.fail(id, token, title, generationError(fmt.Errorf("%w: question %d: %v", ErrMalformedResponse, i+1, err)))
			return
		}
	}

	quiz := Assemble(questions, title, params.Model)

	// Past this check the job is committing: Cancel leaves it alone, so a cancelled
	// job never persists and a persisted job always completes. The store write
	// itself runs outside the lock.
	m.mu.Lock()
	if token.Cancelled() {
		m.mu.Unlock()
		return
	}
	m.committing[id] = true
	m.mu.Unlock()

	err = m.store.AddQuiz(quiz)

	m.mu.Lock()
	delete(m.committing, id)
	if err != nil {
		m.mu.Unlock()
		m.fail(id, token, title, storageError(err))
		return
	}
	m.jobs = patchJob(m.jobs, id, func(j *Job) {
		j.Status = JobCompleted
		j.Result = &quiz
	})
	m.mu.Unlock()

	m.metrics.jobFinished(JobCompleted)
	Logger().Info("job completed", zap.String("job", id), zap.String("quiz", quiz.ID), zap.Int("questions", len(quiz.Questions)))
	safeNotify(m.notifier, localize(m.lang, msgJobCompletedTitle, title), localize(m.lang, msgJobCompletedBody), id)
}

// extractAll extracts every file concurrently and merges the parts in file order.
func (m *JobManager) extractAll(ctx context.Context, files []SourceFile) ([]ContentPart, error) {
	results := make([][]ContentPart, len(files))
	var g errgroup.Group
	for i, file := range files {
		g.Go(func() error {
			parts, err := m.extractor.Extract(ctx, file)
			if err != nil {
				return fmt.Errorf("%s: %w", file.Name, err)
			}
			results[i] = parts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeParts(results), nil
}

func (m *JobManager) fail(id string, token *CancelToken, title string, err error) {
	message := m.errorMessage(err)
	var jobErr *JobError
	kind := JobGenerationError
	if errors.As(err, &jobErr) {
		kind = jobErr.Kind
	}

	m.mu.Lock()
	if token.Cancelled() {
		m.mu.Unlock()
		return
	}
	m.jobs = patchJob(m.jobs, id, func(j *Job) {
		j.Status = JobFailed
		j.Error = message
		j.ErrorKind = kind
	})
	m.mu.Unlock()

	m.metrics.jobFinished(JobFailed)
	Logger().Warn("job failed", zap.String("job", id), zap.String("kind", string(kind)), zap.Error(err))
	safeNotify(m.notifier, localize(m.lang, msgJobErrorTitle, title), message, id)
}

func (m *JobManager) errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoUsableContent):
		return localize(m.lang, msgNoUsableContent)
	case errors.Is(err, ErrNoQuestions):
		return localize(m.lang, msgNoQuestions)
	}
	if message := strings.TrimSpace(err.Error()); message != "" {
		return message
	}
	return localize(m.lang, msgUnknownError)
}

func hasUsableContent(parts []ContentPart) bool {
	for _, p := range parts {
		if !p.Empty() {
			return true
		}
	}
	return false
}

func findJob(jobs []Job, id string) (Job, bool) {
	for _, j := range jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

// appendJob returns a new collection with job added at the end.
func appendJob(jobs []Job, job Job) []Job {
	out := make([]Job, 0, len(jobs)+1)
	out = append(out, jobs...)
	return append(out, job)
}

// patchJob returns a new collection where the job with id has patch applied. The
// input collection is not modified.
func patchJob(jobs []Job, id string, patch func(*Job)) []Job {
	out := make([]Job, len(jobs))
	copy(out, jobs)
	for i := range out {
		if out[i].ID == id {
			patch(&out[i])
		}
	}
	return out
}

// dropJobs returns a new collection without the given finished jobs.
func dropJobs(jobs []Job, ids []string) []Job {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if drop[j.ID] && j.Status != JobProcessing {
			continue
		}
		out = append(out, j)
	}
	return out
}
