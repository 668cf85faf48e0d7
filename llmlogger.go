package quizstudio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LLMLogger records every generation service exchange of one request in its own
// file. A nil *LLMLogger discards everything.
type LLMLogger struct {
	file      *os.File
	mu        sync.Mutex
	requestID string
}

// NewLLMLogger creates <dir>/<requestID>.log and writes the request parameters
func NewLLMLogger(dir, requestID string, params GenerationParams) (*LLMLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	filename := filepath.Join(dir, fmt.Sprintf("%s.log", requestID))
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript file: %w", err)
	}

	logger := &LLMLogger{
		file:      file,
		requestID: requestID,
	}

	types := make([]string, len(params.Types))
	for i, t := range params.Types {
		types[i] = string(t)
	}
	logger.Logf("=== Quiz Generation Log ===\n")
	logger.Logf("Request ID: %s\n", requestID)
	logger.Logf("Model: %s\n", params.Model)
	logger.Logf("Mode: %s\n", params.Mode)
	logger.Logf("Types: %s\n", strings.Join(types, ", "))
	logger.Logf("Language: %s\n", params.Language)
	if params.GroundingContent != "" {
		logger.Logf("Grounding Length: %d characters\n", len(params.GroundingContent))
	}
	logger.Logf("Started: %s\n", time.Now().Format(time.RFC3339))
	logger.Logf("========================\n\n")

	return logger, nil
}

// Logf writes a formatted log entry with timestamp
func (ll *LLMLogger) Logf(format string, args ...interface{}) {
	if ll == nil {
		return
	}
	ll.mu.Lock()
	defer ll.mu.Unlock()
	ll.writef(format, args...)
}

func (ll *LLMLogger) writef(format string, args ...interface{}) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(ll.file, "[%s] %s", timestamp, fmt.Sprintf(format, args...))
	ll.file.Sync()
}

// LogLLMRequest logs an LLM request
func (ll *LLMLogger) LogLLMRequest(step, prompt string) {
	ll.Logf("=== LLM REQUEST (%s) ===\n", step)
	ll.Logf("Prompt:\n%s\n", prompt)
	ll.Logf("=====================\n\n")
}

// LogLLMResponse logs an LLM response
func (ll *LLMLogger) LogLLMResponse(step, response string) {
	ll.Logf("=== LLM RESPONSE (%s) ===\n", step)
	ll.Logf("Response:\n%s\n", response)
	ll.Logf("======================\n\n")
}

// LogError logs a failed step
func (ll *LLMLogger) LogError(step string, err error) {
	ll.Logf("=== ERROR (%s) ===\n%v\n\n", step, err)
}

// Close closes the log file
func (ll *LLMLogger) Close() error {
	if ll == nil {
		return nil
	}
	ll.mu.Lock()
	defer ll.mu.Unlock()

	if ll.file == nil {
		return nil
	}
	ll.writef("=== Quiz Generation Complete ===\n")
	ll.writef("Completed: %s\n", time.Now().Format(time.RFC3339))
	ll.writef("=============================\n")
	err := ll.file.Close()
	ll.file = nil
	return err
}
