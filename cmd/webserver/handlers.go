package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quizstudio"

	"go.uber.org/zap"
)

const (
	sessionName   = "quiz-session"
	sessionRunKey = "run"
	maxUploadSize = 64 << 20
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		quizstudio.Logger().Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, quizstudio.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, quizstudio.ErrInvalidState),
		errors.Is(err, quizstudio.ErrQuestionLocked),
		errors.Is(err, quizstudio.ErrCheckPending),
		errors.Is(err, quizstudio.ErrJobProcessing):
		status = http.StatusConflict
	case errors.Is(err, quizstudio.ErrQuizNotStartable),
		errors.Is(err, quizstudio.ErrInvalidAnswer),
		errors.Is(err, quizstudio.ErrNotCheckable),
		errors.Is(err, quizstudio.ErrIndexOutOfRange),
		errors.Is(err, quizstudio.ErrInvalidQuestion),
		errors.Is(err, quizstudio.ErrUnsupportedFile),
		errors.Is(err, quizstudio.ErrNoUsableContent),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// currentRun looks up the run stored in the caller's session.
func (s *Server) currentRun(r *http.Request) (*quizstudio.Run, error) {
	session, _ := s.sessions.Get(r, sessionName)
	id, _ := session.Values[sessionRunKey].(string)
	if id == "" {
		return nil, fmt.Errorf("no active run: %w", quizstudio.ErrNotFound)
	}
	run, ok := s.app.Run(id)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, quizstudio.ErrNotFound)
	}
	return run, nil
}

func (s *Server) setRun(w http.ResponseWriter, r *http.Request, run *quizstudio.Run) error {
	session, _ := s.sessions.Get(r, sessionName)
	if prev, _ := session.Values[sessionRunKey].(string); prev != "" && prev != run.ID() {
		s.app.DiscardRun(prev)
	}
	session.Values[sessionRunKey] = run.ID()
	return session.Save(r, w)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Snapshot())
}

func (s *Server) handleDismissToast(w http.ResponseWriter, r *http.Request) {
	s.app.Toasts().Dismiss(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitJob takes a multipart form with "files", "title" and a JSON "params" field.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	var params quizstudio.GenerationParams
	if raw := r.FormValue("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			s.writeError(w, fmt.Errorf("%w: invalid params: %v", errBadRequest, err))
			return
		}
	}
	if len(params.Types) == 0 {
		params.Types = []quizstudio.QuestionType{quizstudio.TypeMultipleChoice}
	}
	if params.Mode == "" {
		params.Mode = quizstudio.GenerationTheory
	}

	files, err := uploadedFiles(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(files) == 0 {
		s.writeError(w, fmt.Errorf("%w: no files uploaded", errBadRequest))
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = files[0].Name
	}
	id := s.app.SubmitJob(files, title, params)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.app.CancelJob(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpenJob(w http.ResponseWriter, r *http.Request) {
	quiz, err := s.app.OpenJobResult(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleClearJobs(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.app.ClearJobs(req.IDs)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNewQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := s.app.NewQuiz()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (s *Server) handleSaveQuiz(w http.ResponseWriter, r *http.Request) {
	var quiz quizstudio.Quiz
	if err := decodeJSON(r, &quiz); err != nil {
		s.writeError(w, err)
		return
	}
	quiz.ID = r.PathValue("id")
	for i, q := range quiz.Questions {
		if err := q.Validate(); err != nil {
			s.writeError(w, fmt.Errorf("%w: question %d: %v", errBadRequest, i+1, err))
			return
		}
	}
	if err := s.app.Library().SaveQuiz(quiz); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (s *Server) handleAddQuestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Instruction string `json:"instruction"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Instruction == "" {
		s.writeError(w, fmt.Errorf("%w: instruction is required", errBadRequest))
		return
	}
	quiz, err := s.app.AddQuestions(r.Context(), r.PathValue("id"), req.Instruction, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

// uploadedFiles reads the "files" fields of a parsed multipart form.
func uploadedFiles(r *http.Request) ([]quizstudio.SourceFile, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File["files"]
	files := make([]quizstudio.SourceFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
		}
		files = append(files, quizstudio.SourceFile{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return files, nil
}

func (s *Server) handleCompleteQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question quizstudio.Question         `json:"question"`
		Params   quizstudio.GenerationParams `json:"params"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	q, err := s.app.CompleteQuestion(r.Context(), req.Question, req.Params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type fixQuestionRequest struct {
	Question    quizstudio.Question         `json:"question"`
	Instruction string                      `json:"instruction"`
	Params      quizstudio.GenerationParams `json:"params"`
}

// handleFixQuestion takes either a JSON body or a multipart form whose "request"
// field holds the JSON and whose "files" fields are the source material.
func (s *Server) handleFixQuestion(w http.ResponseWriter, r *http.Request) {
	var req fixQuestionRequest
	var files []quizstudio.SourceFile
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		if err := json.Unmarshal([]byte(r.FormValue("request")), &req); err != nil {
			s.writeError(w, fmt.Errorf("%w: invalid request: %v", errBadRequest, err))
			return
		}
		var err error
		if files, err = uploadedFiles(r); err != nil {
			s.writeError(w, err)
			return
		}
	} else if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	q, err := s.app.FixQuestion(r.Context(), req.Question, req.Instruction, files, req.Params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleDeleteQuizzes(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.app.Library().DeleteQuizzes(req.IDs); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveQuizzes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs      []string `json:"ids"`
		FolderID string   `json:"folderId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.app.Library().MoveQuizzes(req.IDs, req.FolderID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartQuiz(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config  quizstudio.QuizConfig      `json:"config"`
		Shuffle quizstudio.ShuffleSettings `json:"shuffle"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	run, err := s.app.StartQuiz(r.PathValue("id"), req.Config, req.Shuffle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithRun(w, r, run)
}

func (s *Server) respondWithRun(w http.ResponseWriter, r *http.Request, run *quizstudio.Run) {
	if err := s.setRun(w, r, run); err != nil {
		s.writeError(w, fmt.Errorf("failed to save session: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleExportAttempts(w http.ResponseWriter, r *http.Request) {
	attempts := s.app.Snapshot().Attempts
	if quizID := r.URL.Query().Get("quiz"); quizID != "" {
		attempts = s.app.Library().AttemptsForQuiz(quizID)
	}
	filename := fmt.Sprintf("attempts-%s.xlsx", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := quizstudio.ExportAttempts(w, attempts); err != nil {
		s.logger.Error("failed to export attempts", zap.Error(err))
	}
}

func (s *Server) handleDeleteAttempts(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.app.Library().DeleteAttempts(req.IDs); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReviewAttempt(w http.ResponseWriter, r *http.Request) {
	review, err := s.app.ReviewAttempt(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (s *Server) handleResumeAttempt(w http.ResponseWriter, r *http.Request) {
	run, err := s.app.ResumeAttempt(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithRun(w, r, run)
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	folder, err := s.app.Library().CreateFolder(req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.app.Library().RenameFolder(r.PathValue("id"), req.Name); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Library().DeleteFolder(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	base, err := s.app.Library().CreateKnowledgeBase(req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, base)
}

func (s *Server) handleRenameKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.app.Library().RenameKnowledgeBase(r.PathValue("id"), req.Name); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Library().DeleteKnowledgeBase(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type entryRequest struct {
	Title  string             `json:"title"`
	Blocks []quizstudio.Block `json:"contentBlocks"`
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	entry, err := s.app.Library().CreateEntry(r.PathValue("id"), req.Title, req.Blocks)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.app.Library().UpdateEntry(r.PathValue("id"), req.Title, req.Blocks); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Library().DeleteEntry(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// withRun resolves the session's run before calling fn.
func (s *Server) withRun(w http.ResponseWriter, r *http.Request, fn func(run *quizstudio.Run) error) {
	run, err := s.currentRun(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := fn(run); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	s.withRun(w, r, func(*quizstudio.Run) error { return nil })
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index  int               `json:"index"`
		Answer quizstudio.Answer `json:"answer"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.withRun(w, r, func(run *quizstudio.Run) error {
		return run.Answer(req.Index, req.Answer)
	})
}

func (s *Server) handleAnswerSub(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int                  `json:"index"`
		Sub   int                  `json:"sub"`
		Value quizstudio.TrueFalse `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.withRun(w, r, func(run *quizstudio.Run) error {
		return run.AnswerSub(req.Index, req.Sub, req.Value)
	})
}

type indexRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.withRun(w, r, func(run *quizstudio.Run) error {
		_, err := run.Check(r.Context(), req.Index)
		return err
	})
}

func (s *Server) handleSmartCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.withRun(w, r, func(run *quizstudio.Run) error {
		run.SetSmartCheck(req.Enabled)
		return nil
	})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.withRun(w, r, func(run *quizstudio.Run) error {
		return run.Select(req.Index)
	})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.withRun(w, r, func(run *quizstudio.Run) error {
		_, err := s.app.Next(run.ID())
		return err
	})
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	s.withRun(w, r, func(run *quizstudio.Run) error {
		return run.Back()
	})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	s.withRun(w, r, func(run *quizstudio.Run) error {
		_, err := s.app.FinishRun(run.ID())
		return err
	})
}

func (s *Server) handleSaveAndExit(w http.ResponseWriter, r *http.Request) {
	run, err := s.currentRun(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	attempt, err := s.app.SaveAndExitRun(run.ID())
	if err != nil {
		s.writeError(w, err)
		return
	}
	session, _ := s.sessions.Get(r, sessionName)
	delete(session.Values, sessionRunKey)
	if err := session.Save(r, w); err != nil {
		s.logger.Warn("failed to clear session", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (s *Server) handleRetake(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Shuffle quizstudio.ShuffleSettings `json:"shuffle"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	run, err := s.currentRun(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	next, err := s.app.Retake(run.ID(), req.Shuffle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithRun(w, r, next)
}
