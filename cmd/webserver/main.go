package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizstudio"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

type Server struct {
	app      *quizstudio.App
	sessions *sessions.CookieStore
	metrics  *quizstudio.Metrics
	logger   *zap.Logger
}

func main() {
	configDir := flag.String("config", ".", "Directory containing config.yaml")
	flag.Parse()

	cfg, err := quizstudio.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := quizstudio.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	quizstudio.SetLogger(logger)

	if cfg.OpenAI.APIKey == "" {
		logger.Fatal("OpenAI API key is required (OPENAI_API_KEY or openai.api_key)")
	}

	backend, err := quizstudio.OpenBackend(cfg.Store)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	store := quizstudio.NewStore(backend)
	store.Load()

	metrics := quizstudio.NewMetrics()
	app := quizstudio.NewApp(quizstudio.AppOptions{
		Store:        store,
		Extractor:    quizstudio.NewFileExtractor(),
		Generator:    quizstudio.NewOpenAIGenerator(cfg.OpenAI),
		Validator:    quizstudio.NewOpenAIValidator(cfg.OpenAI),
		Notifier:     quizstudio.LogNotifier{},
		Metrics:      metrics,
		Language:     cfg.App.Language,
		DefaultModel: cfg.OpenAI.Model,
	})

	server := &Server{
		app:      app,
		sessions: newCookieStore(cfg.Server.SessionSecret),
		metrics:  metrics,
		logger:   logger,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	for _, job := range app.Jobs() {
		if job.Status == quizstudio.JobProcessing {
			app.CancelJob(job.ID)
		}
	}
	if err := app.Close(); err != nil {
		logger.Error("failed to close store", zap.Error(err))
	}
}

// newCookieStore keeps the run id in a first-party cookie. The library default is
// Secure with SameSite=None, which browsers and cookie jars drop on plain http.
func newCookieStore(secret string) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("DELETE /api/toasts/{id}", s.handleDismissToast)

	mux.HandleFunc("POST /api/jobs", s.handleSubmitJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("POST /api/jobs/{id}/open", s.handleOpenJob)
	mux.HandleFunc("POST /api/jobs/clear", s.handleClearJobs)

	mux.HandleFunc("POST /api/quizzes", s.handleNewQuiz)
	mux.HandleFunc("PUT /api/quizzes/{id}", s.handleSaveQuiz)
	mux.HandleFunc("POST /api/quizzes/delete", s.handleDeleteQuizzes)
	mux.HandleFunc("POST /api/quizzes/move", s.handleMoveQuizzes)
	mux.HandleFunc("POST /api/quizzes/{id}/start", s.handleStartQuiz)
	mux.HandleFunc("POST /api/quizzes/{id}/questions", s.handleAddQuestions)
	mux.HandleFunc("POST /api/questions/complete", s.handleCompleteQuestion)
	mux.HandleFunc("POST /api/questions/fix", s.handleFixQuestion)

	mux.HandleFunc("GET /api/attempts/export", s.handleExportAttempts)
	mux.HandleFunc("POST /api/attempts/delete", s.handleDeleteAttempts)
	mux.HandleFunc("GET /api/attempts/{id}/review", s.handleReviewAttempt)
	mux.HandleFunc("POST /api/attempts/{id}/resume", s.handleResumeAttempt)

	mux.HandleFunc("POST /api/folders", s.handleCreateFolder)
	mux.HandleFunc("PUT /api/folders/{id}", s.handleRenameFolder)
	mux.HandleFunc("DELETE /api/folders/{id}", s.handleDeleteFolder)

	mux.HandleFunc("POST /api/knowledge-bases", s.handleCreateKnowledgeBase)
	mux.HandleFunc("PUT /api/knowledge-bases/{id}", s.handleRenameKnowledgeBase)
	mux.HandleFunc("DELETE /api/knowledge-bases/{id}", s.handleDeleteKnowledgeBase)
	mux.HandleFunc("POST /api/knowledge-bases/{id}/entries", s.handleCreateEntry)
	mux.HandleFunc("PUT /api/entries/{id}", s.handleUpdateEntry)
	mux.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)

	mux.HandleFunc("GET /api/run", s.handleRun)
	mux.HandleFunc("POST /api/run/answer", s.handleAnswer)
	mux.HandleFunc("POST /api/run/answer-sub", s.handleAnswerSub)
	mux.HandleFunc("POST /api/run/check", s.handleCheck)
	mux.HandleFunc("POST /api/run/smart-check", s.handleSmartCheck)
	mux.HandleFunc("POST /api/run/select", s.handleSelect)
	mux.HandleFunc("POST /api/run/next", s.handleNext)
	mux.HandleFunc("POST /api/run/back", s.handleBack)
	mux.HandleFunc("POST /api/run/finish", s.handleFinish)
	mux.HandleFunc("POST /api/run/save", s.handleSaveAndExit)
	mux.HandleFunc("POST /api/run/retake", s.handleRetake)

	mux.Handle("GET /metrics", s.metrics.Handler())

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}
