package quizstudio

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNoUsableContent   = errors.New("no usable content could be extracted from the files")
	ErrNoQuestions       = errors.New("no questions could be generated from these inputs")
	ErrMalformedResponse = errors.New("malformed response from the generation service")
	ErrTruncatedResponse = errors.New("the generation service response was cut off")
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrQuizNotStartable  = errors.New("quiz has no questions and cannot be started")
	ErrInvalidState      = errors.New("operation not allowed in the current state")
	ErrQuestionLocked    = errors.New("question has already been checked")
	ErrCheckPending      = errors.New("question is being checked")
	ErrNotCheckable      = errors.New("question cannot be checked yet")
	ErrIndexOutOfRange   = errors.New("question index out of range")
	ErrInvalidAnswer     = errors.New("answer does not fit the question")
	ErrJobProcessing     = errors.New("job is still processing")
	ErrInvalidQuestion   = errors.New("question is incomplete")
)

// JobErrorKind tells user input problems from generation failures
type JobErrorKind string

const (
	JobInputError      JobErrorKind = "input"
	JobGenerationError JobErrorKind = "generation"
	JobStorageError    JobErrorKind = "storage"
)

// JobError is the error recorded on a failed job
type JobError struct {
	Kind JobErrorKind
	Err  error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func inputError(err error) error {
	return &JobError{Kind: JobInputError, Err: err}
}

func generationError(err error) error {
	return &JobError{Kind: JobGenerationError, Err: err}
}

func storageError(err error) error {
	return &JobError{Kind: JobStorageError, Err: err}
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
}
