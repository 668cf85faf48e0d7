package quizstudio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// AppOptions wires the collaborators of an App. Store, Extractor and Generator are
// required.
type AppOptions struct {
	Store        *Store
	Extractor    Extractor
	Generator    Generator
	Validator    AnswerValidator
	Notifier     Notifier
	Metrics      *Metrics
	Clock        Clock
	Language     Language
	DefaultModel string
}

// App is the application controller. It owns the stored collections, the job
// manager, the toast queue and the active runs, and exposes one method per user
// command.
type App struct {
	store     *Store
	extractor Extractor
	generator Generator
	library   *Library
	jobs      *JobManager
	toasts    *ToastQueue
	metrics   *Metrics
	validator AnswerValidator
	clock     Clock
	lang      Language
	model     string

	mu   sync.Mutex
	runs map[string]*Run
}

func NewApp(opts AppOptions) *App {
	lang := opts.Language
	if lang == "" {
		lang = LangEnglish
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &App{
		store:     opts.Store,
		extractor: opts.Extractor,
		generator: opts.Generator,
		library:   NewLibrary(opts.Store),
		jobs: NewJobManager(opts.Store, opts.Extractor, opts.Generator, JobManagerOptions{
			Notifier: opts.Notifier,
			Metrics:  opts.Metrics,
			Language: lang,
		}),
		toasts:    NewToastQueue(clock.Now),
		metrics:   opts.Metrics,
		validator: opts.Validator,
		clock:     clock,
		lang:      lang,
		model:     opts.DefaultModel,
		runs:      make(map[string]*Run),
	}
}

func (a *App) Library() *Library { return a.library }

func (a *App) Toasts() *ToastQueue { return a.toasts }

func (a *App) Language() Language { return a.lang }

// Close waits for running jobs and closes the store.
func (a *App) Close() error {
	a.jobs.Wait()
	return a.store.Close()
}

// SubmitJob starts a generation job. When explanations are requested the selected
// knowledge entries are attached as grounding text.
func (a *App) SubmitJob(files []SourceFile, title string, params GenerationParams) string {
	if params.Model == "" {
		params.Model = a.model
	}
	if params.Language == "" {
		params.Language = a.lang
	}
	if params.Explanations && len(params.GroundingEntryIDs) > 0 {
		params.GroundingContent = a.library.GroundingText(params.GroundingEntryIDs)
	}
	return a.jobs.Submit(files, title, params)
}

func (a *App) CancelJob(id string) { a.jobs.Cancel(id) }

func (a *App) ClearJobs(ids []string) { a.jobs.Clear(ids) }

func (a *App) Jobs() []Job { return a.jobs.Jobs() }

// WaitJobs blocks until every submitted job has finished.
func (a *App) WaitJobs() { a.jobs.Wait() }

// OpenJobResult takes the quiz of a completed job and removes the job from the
// list. A quiz without questions is returned with ErrQuizNotStartable and a warning.
func (a *App) OpenJobResult(jobID string) (Quiz, error) {
	job, ok := a.jobs.Job(jobID)
	if !ok {
		return Quiz{}, notFound("job", jobID)
	}
	if job.Status == JobProcessing {
		return Quiz{}, ErrJobProcessing
	}
	if job.Status != JobCompleted || job.Result == nil {
		return Quiz{}, fmt.Errorf("job %s has no result: %w", jobID, ErrNotFound)
	}
	a.jobs.Clear([]string{jobID})

	quiz := *job.Result
	if !quiz.Startable() {
		a.toasts.Add(localize(a.lang, msgQuizEmpty), SeverityWarning)
		return quiz, ErrQuizNotStartable
	}
	return quiz, nil
}

// StartQuiz shuffles a stored quiz as requested and starts a run on it.
func (a *App) StartQuiz(quizID string, config QuizConfig, shuffle ShuffleSettings) (*Run, error) {
	quiz, ok := a.store.Quiz(quizID)
	if !ok {
		a.toasts.Add(localize(a.lang, msgQuizNotFound), SeverityError)
		return nil, notFound("quiz", quizID)
	}
	if !quiz.Startable() {
		a.toasts.Add(localize(a.lang, msgQuizEmpty), SeverityWarning)
		return nil, ErrQuizNotStartable
	}

	shuffled, order := shuffleQuiz(quiz, shuffle, nil)
	opts := a.runOptions()
	opts.Order = order
	run, err := NewRun(shuffled, config, opts)
	if err != nil {
		return nil, err
	}
	return a.startRun(run)
}

// ResumeAttempt continues a saved attempt. The saved attempt is removed; finishing
// or saving the new run records a fresh one.
func (a *App) ResumeAttempt(attemptID string) (*Run, error) {
	attempt, ok := a.store.Attempt(attemptID)
	if !ok {
		a.toasts.Add(localize(a.lang, msgResumeMissing), SeverityError)
		return nil, notFound("attempt", attemptID)
	}
	quiz, ok := a.store.Quiz(attempt.QuizID)
	if !ok || attempt.Config == nil {
		a.toasts.Add(localize(a.lang, msgResumeMissing), SeverityError)
		return nil, notFound("quiz", attempt.QuizID)
	}

	run, err := ResumeRun(quiz, attempt, a.runOptions())
	if err != nil {
		if errors.Is(err, ErrQuizNotStartable) {
			a.toasts.Add(localize(a.lang, msgQuizEmpty), SeverityWarning)
		}
		return nil, err
	}
	if err := a.library.DeleteAttempts([]string{attempt.ID}); err != nil {
		return nil, err
	}
	return a.startRun(run)
}

// Retake starts a new run over the quiz of a finished run with the same settings.
func (a *App) Retake(runID string, shuffle ShuffleSettings) (*Run, error) {
	run, ok := a.Run(runID)
	if !ok {
		return nil, notFound("run", runID)
	}
	snapshot := run.Snapshot()
	return a.StartQuiz(snapshot.Quiz.ID, snapshot.Config, shuffle)
}

func (a *App) runOptions() RunOptions {
	return RunOptions{
		Clock:     a.clock,
		Validator: a.validator,
		Language:  a.lang,
		OnExpire: func(attempt QuizAttempt) {
			if err := a.recordAttempt(attempt); err != nil {
				Logger().Error("failed to record timed out attempt", zap.String("attempt", attempt.ID), zap.Error(err))
			}
		},
	}
}

func (a *App) startRun(run *Run) (*Run, error) {
	a.mu.Lock()
	a.runs[run.ID()] = run
	a.mu.Unlock()
	if err := run.Start(); err != nil {
		return nil, err
	}
	return run, nil
}

// Run returns an active or recently ended run
func (a *App) Run(id string) (*Run, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	run, ok := a.runs[id]
	return run, ok
}

// DiscardRun forgets a run. An unfinished run is dropped without an attempt.
func (a *App) DiscardRun(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.runs, id)
}

// Next advances a run, recording the attempt when it moves past the last question.
func (a *App) Next(runID string) (*QuizAttempt, error) {
	run, ok := a.Run(runID)
	if !ok {
		return nil, notFound("run", runID)
	}
	attempt, err := run.Next()
	if err != nil || attempt == nil {
		return attempt, err
	}
	return attempt, a.recordAttempt(*attempt)
}

// FinishRun ends a run and stores the completed attempt.
func (a *App) FinishRun(runID string) (QuizAttempt, error) {
	run, ok := a.Run(runID)
	if !ok {
		return QuizAttempt{}, notFound("run", runID)
	}
	attempt, err := run.Finish()
	if err != nil {
		return QuizAttempt{}, err
	}
	return attempt, a.recordAttempt(attempt)
}

// SaveAndExitRun ends a run and stores a resumable attempt.
func (a *App) SaveAndExitRun(runID string) (QuizAttempt, error) {
	run, ok := a.Run(runID)
	if !ok {
		return QuizAttempt{}, notFound("run", runID)
	}
	attempt, err := run.SaveAndExit()
	if err != nil {
		return QuizAttempt{}, err
	}
	if err := a.recordAttempt(attempt); err != nil {
		return attempt, err
	}
	a.DiscardRun(runID)
	return attempt, nil
}

func (a *App) recordAttempt(attempt QuizAttempt) error {
	if err := a.store.AddAttempt(attempt); err != nil {
		a.toasts.Add(err.Error(), SeverityError)
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	a.metrics.attemptRecorded(attempt.Status)
	Logger().Info("attempt recorded", zap.String("attempt", attempt.ID), zap.String("quiz", attempt.QuizID),
		zap.String("status", string(attempt.Status)), zap.Int("score", attempt.Score), zap.Int("total", attempt.TotalQuestions))
	return nil
}

// Review is a read-only rendering of a past attempt
type Review struct {
	Quiz    Quiz        `json:"quiz"`
	Attempt QuizAttempt `json:"attempt"`
	Score   int         `json:"score"`
	Correct []bool      `json:"correct"`
}

// ReviewAttempt re-scores a stored attempt against its quiz.
func (a *App) ReviewAttempt(attemptID string) (Review, error) {
	attempt, ok := a.store.Attempt(attemptID)
	if !ok {
		return Review{}, notFound("attempt", attemptID)
	}
	quiz, ok := a.store.Quiz(attempt.QuizID)
	if !ok {
		a.toasts.Add(localize(a.lang, msgQuizNotFound), SeverityError)
		return Review{}, notFound("quiz", attempt.QuizID)
	}

	correct := make([]bool, len(quiz.Questions))
	for i, q := range quiz.Questions {
		var answer Answer
		if i < len(attempt.UserAnswers) {
			answer = attempt.UserAnswers[i]
		}
		var smart *bool
		if v, ok := attempt.SmartCheckOutcomes[i]; ok {
			smart = &v
		}
		correct[i] = IsCorrect(q, answer, smart)
	}
	return Review{
		Quiz:    quiz,
		Attempt: attempt,
		Score:   Score(quiz.Questions, attempt.UserAnswers, attempt.SmartCheckOutcomes),
		Correct: correct,
	}, nil
}

// NewQuiz creates and stores an empty quiz for manual editing.
func (a *App) NewQuiz() (Quiz, error) {
	quiz := a.library.NewBlankQuiz(a.lang, a.model)
	if err := a.library.SaveQuiz(quiz); err != nil {
		return Quiz{}, err
	}
	return quiz, nil
}

// AdditionalGenerator writes more questions for an existing quiz
type AdditionalGenerator interface {
	GenerateAdditional(ctx context.Context, instruction string, parts []ContentPart, existing []Question, params GenerationParams) ([]Question, error)
}

// AddQuestions appends generated questions to a stored quiz. files are optional
// source material; without them the generator relies on general knowledge.
func (a *App) AddQuestions(ctx context.Context, quizID, instruction string, files []SourceFile) (Quiz, error) {
	gen, ok := a.generator.(AdditionalGenerator)
	if !ok {
		return Quiz{}, fmt.Errorf("generator cannot extend quizzes: %w", ErrInvalidState)
	}
	quiz, ok := a.store.Quiz(quizID)
	if !ok {
		return Quiz{}, notFound("quiz", quizID)
	}

	parts, err := a.extractFiles(ctx, files)
	if err != nil {
		return Quiz{}, err
	}

	model := quiz.Model
	if model == "" {
		model = a.model
	}
	questions, err := gen.GenerateAdditional(ctx, instruction, parts, quiz.Questions, GenerationParams{
		Language:     a.lang,
		Model:        model,
		Explanations: true,
	})
	if err != nil {
		return Quiz{}, err
	}
	if len(questions) == 0 {
		return Quiz{}, ErrNoQuestions
	}
	for i, q := range questions {
		if err := q.Validate(); err != nil {
			return Quiz{}, fmt.Errorf("%w: question %d: %v", ErrMalformedResponse, i+1, err)
		}
	}

	quiz.Questions = append(append([]Question(nil), quiz.Questions...), questions...)
	if err := a.library.SaveQuiz(quiz); err != nil {
		return Quiz{}, err
	}
	Logger().Info("questions added", zap.String("quiz", quiz.ID), zap.Int("added", len(questions)))
	return quiz, nil
}

// extractFiles extracts every file and numbers image placeholders across all of
// them.
func (a *App) extractFiles(ctx context.Context, files []SourceFile) ([]ContentPart, error) {
	perFile := make([][]ContentPart, 0, len(files))
	for _, file := range files {
		parts, err := a.extractor.Extract(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file.Name, err)
		}
		perFile = append(perFile, parts)
	}
	return mergeParts(perFile), nil
}

// QuestionAssistant helps the quiz editor fill in and correct single questions
type QuestionAssistant interface {
	AnswerMultipleChoice(ctx context.Context, question string, options []string, params GenerationParams) (AnswerSuggestion, error)
	AnswerShort(ctx context.Context, question string, params GenerationParams) (AnswerSuggestion, error)
	AnswerTrueFalse(ctx context.Context, question string, statements []string, params GenerationParams) (TrueFalseSuggestion, error)
	FixQuestion(ctx context.Context, q Question, parts []ContentPart, instruction string, params GenerationParams) (Question, error)
}

func (a *App) assistant() (QuestionAssistant, error) {
	assistant, ok := a.generator.(QuestionAssistant)
	if !ok {
		return nil, fmt.Errorf("generator cannot assist the editor: %w", ErrInvalidState)
	}
	return assistant, nil
}

func (a *App) assistParams(params GenerationParams) GenerationParams {
	if params.Language == "" {
		params.Language = a.lang
	}
	if params.Model == "" {
		params.Model = a.model
	}
	if len(params.GroundingEntryIDs) > 0 {
		params.GroundingContent = a.library.GroundingText(params.GroundingEntryIDs)
	}
	return params
}

// CompleteQuestion fills in the answer and explanation of a question being
// edited. Only the question text, options and statements are read from q.
func (a *App) CompleteQuestion(ctx context.Context, q Question, params GenerationParams) (Question, error) {
	assistant, err := a.assistant()
	if err != nil {
		return Question{}, err
	}
	if strings.TrimSpace(q.Question) == "" && q.Type != TypeMultiTrueFalse {
		return Question{}, fmt.Errorf("%w: question text is empty", ErrInvalidQuestion)
	}
	params = a.assistParams(params)

	switch q.Type {
	case TypeMultipleChoice:
		options := lo.Filter(q.Options, func(o string, _ int) bool { return strings.TrimSpace(o) != "" })
		if len(options) < 2 {
			return Question{}, fmt.Errorf("%w: at least 2 options are needed", ErrInvalidQuestion)
		}
		suggestion, err := assistant.AnswerMultipleChoice(ctx, q.Question, options, params)
		if err != nil {
			return Question{}, err
		}
		if !lo.Contains(options, suggestion.Answer) {
			return Question{}, fmt.Errorf("%w: answer %q is not one of the options", ErrMalformedResponse, suggestion.Answer)
		}
		q.Answer, q.Explanation = suggestion.Answer, suggestion.Explanation
	case TypeShortAnswer:
		suggestion, err := assistant.AnswerShort(ctx, q.Question, params)
		if err != nil {
			return Question{}, err
		}
		if strings.TrimSpace(suggestion.Answer) == "" {
			return Question{}, fmt.Errorf("%w: empty answer", ErrMalformedResponse)
		}
		q.Answer, q.Explanation = strings.TrimSpace(suggestion.Answer), suggestion.Explanation
	case TypeMultiTrueFalse:
		if len(q.SubQuestions) == 0 {
			return Question{}, fmt.Errorf("%w: no statements", ErrInvalidQuestion)
		}
		statements := make([]string, len(q.SubQuestions))
		for i, sub := range q.SubQuestions {
			if strings.TrimSpace(sub.Statement) == "" {
				return Question{}, fmt.Errorf("%w: statement %d is empty", ErrInvalidQuestion, i+1)
			}
			statements[i] = sub.Statement
		}
		suggestion, err := assistant.AnswerTrueFalse(ctx, q.Question, statements, params)
		if err != nil {
			return Question{}, err
		}
		subs := make([]SubQuestion, len(q.SubQuestions))
		for i, sub := range q.SubQuestions {
			sub.Answer = False
			if i < len(suggestion.Answers) && suggestion.Answers[i] == True {
				sub.Answer = True
			}
			subs[i] = sub
		}
		q.SubQuestions, q.Explanation = subs, suggestion.Explanation
	default:
		return Question{}, fmt.Errorf("%w: unknown question type %q", ErrInvalidQuestion, q.Type)
	}
	return q, nil
}

// FixQuestion asks the generator to correct q following instruction. files are
// optional source material. The result keeps the question type and, unless the
// generator supplied new ones, the original media.
func (a *App) FixQuestion(ctx context.Context, q Question, instruction string, files []SourceFile, params GenerationParams) (Question, error) {
	assistant, err := a.assistant()
	if err != nil {
		return Question{}, err
	}
	if q.Type != TypeMultipleChoice && q.Type != TypeShortAnswer && q.Type != TypeMultiTrueFalse {
		return Question{}, fmt.Errorf("%w: unknown question type %q", ErrInvalidQuestion, q.Type)
	}
	parts, err := a.extractFiles(ctx, files)
	if err != nil {
		return Question{}, err
	}

	fixed, err := assistant.FixQuestion(ctx, q, parts, instruction, a.assistParams(params))
	if err != nil {
		return Question{}, err
	}
	if fixed.Type != q.Type {
		return Question{}, fmt.Errorf("%w: question type changed from %s to %s", ErrMalformedResponse, q.Type, fixed.Type)
	}
	if fixed.Image == "" {
		fixed.Image = q.Image
	}
	if fixed.Audio == "" {
		fixed.Audio = q.Audio
	}
	if err := fixed.Validate(); err != nil {
		return Question{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	Logger().Info("question fixed", zap.String("type", string(q.Type)), zap.Int("sources", len(files)))
	return fixed, nil
}

// Snapshot is a read-only view of the whole application state
type Snapshot struct {
	Language         Language         `json:"language"`
	Jobs             []Job            `json:"jobs"`
	Quizzes          []Quiz           `json:"quizzes"`
	Attempts         []QuizAttempt    `json:"attempts"`
	Folders          []Folder         `json:"folders"`
	KnowledgeBases   []KnowledgeBase  `json:"knowledgeBases"`
	KnowledgeEntries []KnowledgeEntry `json:"knowledgeEntries"`
	Toasts           []Toast          `json:"toasts"`
}

func (a *App) Snapshot() Snapshot {
	return Snapshot{
		Language:         a.lang,
		Jobs:             a.jobs.Jobs(),
		Quizzes:          a.store.Quizzes(),
		Attempts:         a.store.Attempts(),
		Folders:          a.store.Folders(),
		KnowledgeBases:   a.store.KnowledgeBases(),
		KnowledgeEntries: a.store.KnowledgeEntries(),
		Toasts:           a.toasts.Active(),
	}
}
