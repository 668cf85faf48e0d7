package quizstudio

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const evaluateAnswerTool = "evaluate_answer"

// OpenAIValidator grades short answers for semantic correctness through the OpenAI
// chat completions API. It implements AnswerValidator.
type OpenAIValidator struct {
	client  *openai.Client
	limiter *rate.Limiter
	model   string
}

// NewOpenAIValidator creates a validator. The validator model is used when
// set, the default generation model otherwise.
func NewOpenAIValidator(cfg OpenAIConfig) *OpenAIValidator {
	model := cfg.ValidatorModel
	if model == "" {
		model = cfg.Model
	}
	return &OpenAIValidator{
		client:  newOpenAIClient(cfg),
		limiter: newLimiter(cfg),
		model:   model,
	}
}

// Validate asks the model whether userAnswer means the same as correctAnswer.
func (v *OpenAIValidator) Validate(ctx context.Context, userAnswer, correctAnswer, question string, lang Language) (ValidationResult, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return ValidationResult{}, fmt.Errorf("rate limiter: %w", err)
	}

	prompt := v.buildPrompt(userAnswer, correctAnswer, question, lang)
	resp, err := v.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: v.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You are an intelligent quiz grading assistant. Judge answers by meaning, not by exact wording.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Tools: []openai.Tool{
				{
					Type: openai.ToolTypeFunction,
					Function: &openai.FunctionDefinition{
						Name:        evaluateAnswerTool,
						Description: "Report whether the user's short answer is correct",
						Parameters: map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"is_correct": map[string]interface{}{
									"type":        "boolean",
									"description": "Whether the user's answer is semantically equivalent to the correct answer",
								},
								"feedback": map[string]interface{}{
									"type":        "string",
									"description": "One sentence of feedback for the user",
								},
							},
							"required": []string{"is_correct", "feedback"},
						},
					},
				},
			},
			ToolChoice: openai.ToolChoice{
				Type: openai.ToolTypeFunction,
				Function: openai.ToolFunction{
					Name: evaluateAnswerTool,
				},
			},
		},
	)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("failed to check answer: %w", err)
	}

	args, err := toolArguments(resp, evaluateAnswerTool)
	if err != nil {
		return ValidationResult{}, err
	}

	var toolArgs struct {
		IsCorrect *bool  `json:"is_correct"`
		Feedback  string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(args), &toolArgs); err != nil {
		return ValidationResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if toolArgs.IsCorrect == nil {
		return ValidationResult{}, fmt.Errorf("%w: is_correct is missing", ErrMalformedResponse)
	}

	Logger().Debug("answer checked", zap.String("answer", userAnswer), zap.Bool("correct", *toolArgs.IsCorrect))
	return ValidationResult{IsCorrect: *toolArgs.IsCorrect, Feedback: toolArgs.Feedback}, nil
}

func (v *OpenAIValidator) buildPrompt(userAnswer, correctAnswer, question string, lang Language) string {
	return fmt.Sprintf(`Evaluate a user's short answer to a quiz question.
%s

Question: %q
Correct answer: %q
User's answer: %q

Instructions:
1. Compare the user's answer to the correct answer.
2. Accept synonyms, different phrasing and minor typos that do not change the meaning. For numbers, accept answers written out as words.
3. Give brief feedback. If the user is wrong, point them towards the correct answer without giving it away. If they are right with different wording, acknowledge it.
4. Use the evaluate_answer tool to return your decision.`, languageInstruction(lang), question, correctAnswer, userAnswer)
}
