package quizstudio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunState is the lifecycle state of a quiz run
type RunState string

const (
	RunAwaitingStart RunState = "awaiting-start"
	RunInProgress    RunState = "in-progress"
	RunFinished      RunState = "finished"
	RunSavedExit     RunState = "saved-exit"
)

// CheckState is the study-mode verdict on one question. Once set it never changes
// for the rest of the run.
type CheckState string

const (
	Unchecked        CheckState = "unchecked"
	CheckedCorrect   CheckState = "correct"
	CheckedIncorrect CheckState = "incorrect"
)

// PaletteStatus is how a question is shown in the question palette
type PaletteStatus string

const (
	PaletteCurrent    PaletteStatus = "current"
	PaletteCorrect    PaletteStatus = "correct"
	PaletteIncorrect  PaletteStatus = "incorrect"
	PaletteAnswered   PaletteStatus = "answered"
	PaletteUnanswered PaletteStatus = "unanswered"
)

// AnswerValidator judges a short answer semantically
type AnswerValidator interface {
	Validate(ctx context.Context, userAnswer, correctAnswer, question string, lang Language) (ValidationResult, error)
}

// Timer is a stoppable pending callback
type Timer interface {
	Stop() bool
}

// Clock abstracts time for runs
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RunOptions holds the collaborators of a Run. Every field is optional.
type RunOptions struct {
	Clock     Clock
	Validator AnswerValidator
	Language  Language
	// OnExpire receives the attempt produced when the test-mode timer runs out.
	OnExpire func(QuizAttempt)
	// Order maps each question of a shuffled quiz to its index in the stored quiz.
	// Attempts are recorded in stored order. Nil means the quiz is not shuffled.
	Order []int
}

// Run is one pass over a quiz, from start to a finished or saved attempt.
type Run struct {
	mu sync.Mutex

	id        string
	quiz      Quiz
	config    QuizConfig
	clock     Clock
	validator AnswerValidator
	lang      Language
	onExpire  func(QuizAttempt)
	order     []int

	state      RunState
	current    int
	answers    UserAnswers
	checked    []CheckState
	pending    []bool
	feedback   map[int]string
	smart      map[int]bool
	smartCheck bool

	resumedDuration int
	startedAt       time.Time
	timer           Timer
	attempt         *QuizAttempt
}

// NewRun prepares a run over quiz. The quiz must have at least one question.
func NewRun(quiz Quiz, config QuizConfig, opts RunOptions) (*Run, error) {
	if !quiz.Startable() {
		return nil, ErrQuizNotStartable
	}
	if config.Mode != ModeStudy && config.Mode != ModeTest {
		return nil, fmt.Errorf("unknown quiz mode %q", config.Mode)
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	lang := opts.Language
	if lang == "" {
		lang = LangEnglish
	}
	n := len(quiz.Questions)
	if opts.Order != nil && !isPermutation(opts.Order, n) {
		return nil, fmt.Errorf("question order does not match the %d questions of quiz %s", n, quiz.ID)
	}
	checked := make([]CheckState, n)
	for i := range checked {
		checked[i] = Unchecked
	}
	return &Run{
		id:         uuid.NewString(),
		quiz:       quiz,
		config:     config,
		clock:      clock,
		validator:  opts.Validator,
		lang:       lang,
		onExpire:   opts.OnExpire,
		order:      opts.Order,
		state:      RunAwaitingStart,
		answers:    NewUserAnswers(quiz.Questions),
		checked:    checked,
		pending:    make([]bool, n),
		feedback:   make(map[int]string),
		smart:      make(map[int]bool),
		smartCheck: true,
	}, nil
}

// ResumeRun prepares a run that continues a saved attempt. Answers are restored
// when they still fit the quiz; the elapsed time always is. Study-mode checks are
// not restored.
func ResumeRun(quiz Quiz, attempt QuizAttempt, opts RunOptions) (*Run, error) {
	if attempt.Config == nil {
		return nil, fmt.Errorf("attempt %s has no quiz settings: %w", attempt.ID, ErrNotFound)
	}
	r, err := NewRun(quiz, *attempt.Config, opts)
	if err != nil {
		return nil, err
	}
	if attempt.UserAnswers.AlignedWith(quiz.Questions) {
		r.answers = attempt.UserAnswers.Clone()
	} else {
		Logger().Warn("saved answers do not fit the quiz, starting with blank answers",
			zap.String("attempt", attempt.ID), zap.String("quiz", quiz.ID))
	}
	if attempt.Duration > 0 {
		r.resumedDuration = attempt.Duration
	}
	return r, nil
}

func (r *Run) ID() string { return r.id }

func (r *Run) Quiz() Quiz { return r.quiz }

// Budget is the total test-mode time in seconds. Study runs have no budget.
func (r *Run) Budget() int {
	if r.config.Mode != ModeTest {
		return 0
	}
	total := 0
	for _, q := range r.quiz.Questions {
		if q.Type == TypeMultiTrueFalse {
			total += r.config.Timer.PerComplexQuestion * 60
		} else {
			total += r.config.Timer.PerQuestion
		}
	}
	return total
}

// Start enters InProgress and, in test mode, arms the timer for what is left of
// the budget.
func (r *Run) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RunAwaitingStart {
		return fmt.Errorf("start: %w", ErrInvalidState)
	}
	r.state = RunInProgress
	r.startedAt = r.clock.Now()

	if budget := r.Budget(); budget > 0 {
		remaining := budget - r.resumedDuration
		if remaining < 0 {
			remaining = 0
		}
		r.timer = r.clock.AfterFunc(time.Duration(remaining)*time.Second, r.expire)
	}
	Logger().Debug("run started", zap.String("run", r.id), zap.String("quiz", r.quiz.ID),
		zap.String("mode", string(r.config.Mode)), zap.Int("resumed", r.resumedDuration))
	return nil
}

func (r *Run) expire() {
	r.mu.Lock()
	if r.state != RunInProgress {
		r.mu.Unlock()
		return
	}
	attempt := r.closeLocked(RunFinished, AttemptCompleted)
	onExpire := r.onExpire
	r.mu.Unlock()

	Logger().Info("run timed out", zap.String("run", r.id), zap.Int("score", attempt.Score))
	if onExpire != nil {
		onExpire(attempt)
	}
}

// Elapsed is the run time in whole seconds, including time spent before a resume.
func (r *Run) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsedLocked()
}

func (r *Run) elapsedLocked() int {
	if r.state == RunAwaitingStart {
		return r.resumedDuration
	}
	if r.attempt != nil {
		return r.attempt.Duration
	}
	return r.resumedDuration + int(r.clock.Now().Sub(r.startedAt)/time.Second)
}

// Remaining is the test-mode time left in seconds
func (r *Run) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remainingLocked()
}

func (r *Run) remainingLocked() int {
	budget := r.Budget()
	if budget == 0 {
		return 0
	}
	left := budget - r.elapsedLocked()
	if left < 0 {
		return 0
	}
	return left
}

func (r *Run) inProgress() error {
	if r.state != RunInProgress {
		return fmt.Errorf("run is %s: %w", r.state, ErrInvalidState)
	}
	return nil
}

func (r *Run) checkIndex(index int) error {
	if index < 0 || index >= len(r.quiz.Questions) {
		return fmt.Errorf("question %d of %d: %w", index, len(r.quiz.Questions), ErrIndexOutOfRange)
	}
	return nil
}

// Select jumps to any question. Answers are kept.
func (r *Run) Select(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.inProgress(); err != nil {
		return err
	}
	if err := r.checkIndex(index); err != nil {
		return err
	}
	r.current = index
	return nil
}

// Next moves to the following question. On the last question it finishes the run
// and returns the attempt.
func (r *Run) Next() (*QuizAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.inProgress(); err != nil {
		return nil, err
	}
	if r.current < len(r.quiz.Questions)-1 {
		r.current++
		return nil, nil
	}
	attempt := r.closeLocked(RunFinished, AttemptCompleted)
	return &attempt, nil
}

// Back moves to the previous question, if any.
func (r *Run) Back() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.inProgress(); err != nil {
		return err
	}
	if r.current > 0 {
		r.current--
	}
	return nil
}

func (r *Run) editable(index int) error {
	if err := r.inProgress(); err != nil {
		return err
	}
	if err := r.checkIndex(index); err != nil {
		return err
	}
	if r.pending[index] {
		return ErrCheckPending
	}
	if r.config.Mode == ModeStudy && r.checked[index] != Unchecked {
		return ErrQuestionLocked
	}
	return nil
}

// Answer replaces the answer of a question. In study mode a multiple-choice answer
// is graded at once and the question locks.
func (r *Run) Answer(index int, answer Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.editable(index); err != nil {
		return err
	}
	q := r.quiz.Questions[index]
	if err := fitAnswer(q, answer); err != nil {
		return err
	}
	r.answers[index] = answer.Clone()

	if r.config.Mode == ModeStudy && q.Type == TypeMultipleChoice {
		r.checked[index] = verdict(IsCorrect(q, answer, nil))
	}
	return nil
}

// AnswerSub sets one statement of a multi-true-false question.
func (r *Run) AnswerSub(index, sub int, value TrueFalse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.editable(index); err != nil {
		return err
	}
	q := r.quiz.Questions[index]
	if q.Type != TypeMultiTrueFalse || sub < 0 || sub >= len(q.SubQuestions) {
		return ErrInvalidAnswer
	}
	if value != True && value != False {
		return ErrInvalidAnswer
	}
	parts := r.answers[index].Clone().Parts
	if len(parts) != len(q.SubQuestions) {
		parts = make([]TrueFalse, len(q.SubQuestions))
	}
	parts[sub] = value
	r.answers[index] = Answer{Parts: parts}
	return nil
}

func fitAnswer(q Question, answer Answer) error {
	switch q.Type {
	case TypeMultiTrueFalse:
		if answer.Text != nil || len(answer.Parts) != len(q.SubQuestions) {
			return fmt.Errorf("expected %d statements: %w", len(q.SubQuestions), ErrInvalidAnswer)
		}
		for _, p := range answer.Parts {
			if p != "" && p != True && p != False {
				return ErrInvalidAnswer
			}
		}
	case TypeMultipleChoice:
		if answer.Parts != nil || answer.Text == nil {
			return ErrInvalidAnswer
		}
		for _, option := range q.Options {
			if option == *answer.Text {
				return nil
			}
		}
		return fmt.Errorf("%q is not an option: %w", *answer.Text, ErrInvalidAnswer)
	default:
		if answer.Parts != nil {
			return ErrInvalidAnswer
		}
	}
	return nil
}

func verdict(correct bool) CheckState {
	if correct {
		return CheckedCorrect
	}
	return CheckedIncorrect
}

// SetSmartCheck selects the semantic validator (on) or the literal comparison (off)
// for short-answer checks. It is on by default.
func (r *Run) SetSmartCheck(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.smartCheck = enabled
}

// Check grades a multi-true-false or short-answer question in study mode and locks
// it. A failing validator marks the answer incorrect and leaves feedback; it is not
// returned as an error.
func (r *Run) Check(ctx context.Context, index int) (CheckState, error) {
	r.mu.Lock()
	if err := r.editable(index); err != nil {
		r.mu.Unlock()
		return Unchecked, err
	}
	if r.config.Mode != ModeStudy {
		r.mu.Unlock()
		return Unchecked, fmt.Errorf("check is only available in study mode: %w", ErrInvalidState)
	}

	q := r.quiz.Questions[index]
	answer := r.answers[index]
	switch q.Type {
	case TypeMultiTrueFalse:
		defer r.mu.Unlock()
		if !answer.IsAnswered() {
			return Unchecked, ErrNotCheckable
		}
		r.checked[index] = verdict(IsCorrect(q, answer, nil))
		return r.checked[index], nil
	case TypeShortAnswer:
		if strings.TrimSpace(answer.TextValue()) == "" {
			r.mu.Unlock()
			return Unchecked, ErrNotCheckable
		}
	default:
		r.mu.Unlock()
		return Unchecked, ErrNotCheckable
	}

	delete(r.feedback, index)
	if !r.smartCheck || r.validator == nil {
		defer r.mu.Unlock()
		r.checked[index] = verdict(ShortAnswerMatches(answer.TextValue(), q.Answer))
		return r.checked[index], nil
	}

	// The validator is called without the lock; the pending flag keeps the answer
	// from changing meanwhile.
	r.pending[index] = true
	validator, lang := r.validator, r.lang
	r.mu.Unlock()

	result, err := validator.Validate(ctx, answer.TextValue(), q.Answer, q.Question, lang)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[index] = false
	if r.state != RunInProgress {
		return Unchecked, fmt.Errorf("run ended during check: %w", ErrInvalidState)
	}
	if err != nil {
		Logger().Warn("smart check failed", zap.String("run", r.id), zap.Int("question", index), zap.Error(err))
		r.checked[index] = CheckedIncorrect
		r.feedback[index] = localize(r.lang, msgCheckFailed)
		return CheckedIncorrect, nil
	}
	r.smart[index] = result.IsCorrect
	r.checked[index] = verdict(result.IsCorrect)
	if result.Feedback != "" {
		r.feedback[index] = result.Feedback
	}
	return r.checked[index], nil
}

// Status is the palette state of a question.
func (r *Run) Status(index int) PaletteStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked(index)
}

func (r *Run) statusLocked(index int) PaletteStatus {
	switch {
	case index == r.current:
		return PaletteCurrent
	case r.checked[index] == CheckedCorrect:
		return PaletteCorrect
	case r.checked[index] == CheckedIncorrect:
		return PaletteIncorrect
	case r.answers[index].IsAnswered():
		return PaletteAnswered
	default:
		return PaletteUnanswered
	}
}

// Finish ends the run with a completed attempt.
func (r *Run) Finish() (QuizAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.inProgress(); err != nil {
		return QuizAttempt{}, err
	}
	return r.closeLocked(RunFinished, AttemptCompleted), nil
}

// SaveAndExit ends the run with an in-progress attempt that can be resumed later.
func (r *Run) SaveAndExit() (QuizAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.inProgress(); err != nil {
		return QuizAttempt{}, err
	}
	return r.closeLocked(RunSavedExit, AttemptInProgress), nil
}

func (r *Run) closeLocked(state RunState, status AttemptStatus) QuizAttempt {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	duration := r.elapsedLocked()
	config := r.config
	score := Score(r.quiz.Questions, r.answers, r.smart)
	answers, smart := r.storedOrder()
	attempt := QuizAttempt{
		ID:                 uuid.NewString(),
		QuizID:             r.quiz.ID,
		QuizTitle:          r.quiz.Title,
		Date:               r.clock.Now().UTC(),
		Score:              score,
		TotalQuestions:     len(r.quiz.Questions),
		UserAnswers:        answers,
		Duration:           duration,
		Status:             status,
		Config:             &config,
		SmartCheckOutcomes: smart,
	}
	r.state = state
	r.attempt = &attempt
	return attempt
}

// storedOrder returns copies of the answers and smart outcomes indexed like the
// stored quiz.
func (r *Run) storedOrder() (UserAnswers, map[int]bool) {
	position := func(i int) int {
		if r.order == nil {
			return i
		}
		return r.order[i]
	}
	answers := make(UserAnswers, len(r.answers))
	for i, a := range r.answers {
		answers[position(i)] = a.Clone()
	}
	var smart map[int]bool
	if len(r.smart) > 0 {
		smart = make(map[int]bool, len(r.smart))
		for k, v := range r.smart {
			smart[position(k)] = v
		}
	}
	return answers, smart
}

func isPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, i := range order {
		if i < 0 || i >= n || seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}

// RunSnapshot is a read-only view of a run for rendering
type RunSnapshot struct {
	ID         string          `json:"id"`
	Quiz       Quiz            `json:"quiz"`
	Config     QuizConfig      `json:"config"`
	State      RunState        `json:"state"`
	Current    int             `json:"current"`
	Answers    UserAnswers     `json:"answers"`
	Checked    []CheckState    `json:"checked"`
	Palette    []PaletteStatus `json:"palette"`
	Feedback   map[int]string  `json:"feedback,omitempty"`
	Pending    []int           `json:"pending,omitempty"`
	SmartCheck bool            `json:"smartCheck"`
	Elapsed    int             `json:"elapsed"`
	Remaining  int             `json:"remaining,omitempty"`
	Attempt    *QuizAttempt    `json:"attempt,omitempty"`
}

// Snapshot copies the current run state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	palette := make([]PaletteStatus, len(r.quiz.Questions))
	var pending []int
	for i := range palette {
		palette[i] = r.statusLocked(i)
		if r.pending[i] {
			pending = append(pending, i)
		}
	}
	feedback := make(map[int]string, len(r.feedback))
	for k, v := range r.feedback {
		feedback[k] = v
	}
	var attempt *QuizAttempt
	if r.attempt != nil {
		a := *r.attempt
		attempt = &a
	}
	return RunSnapshot{
		ID:         r.id,
		Quiz:       r.quiz,
		Config:     r.config,
		State:      r.state,
		Current:    r.current,
		Answers:    r.answers.Clone(),
		Checked:    append([]CheckState(nil), r.checked...),
		Palette:    palette,
		Feedback:   feedback,
		Pending:    pending,
		SmartCheck: r.smartCheck,
		Elapsed:    r.elapsedLocked(),
		Remaining:  r.remainingLocked(),
		Attempt:    attempt,
	}
}
