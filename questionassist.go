package quizstudio

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	submitAnswerTool           = "submit_answer"
	submitStatementAnswersTool = "submit_statement_answers"
	submitQuestionTool         = "submit_question"
)

const assistSystemPrompt = "You are an AI quiz assistant helping a quiz author edit their questions. Always answer by calling the provided tool."

// AnswerMultipleChoice picks the correct option of a multiple-choice question and
// explains it.
func (g *OpenAIGenerator) AnswerMultipleChoice(ctx context.Context, question string, options []string, params GenerationParams) (AnswerSuggestion, error) {
	var body strings.Builder
	fmt.Fprintf(&body, "--- QUESTION ---\n%s\n\n--- OPTIONS ---\n", question)
	for _, option := range options {
		fmt.Fprintf(&body, "- %s\n", option)
	}

	prompt := g.assistPrompt(ctx, "Determine the correct answer of the multiple-choice question below and explain why it is correct.", body.String(), params)
	prompt += "Requirements:\n" +
		"- The answer MUST be exactly one of the listed options\n" +
		"- Give a clear, concise explanation of why that answer is correct\n" +
		"- Use the submit_answer tool to return the result\n"

	schema := answerSchema("The single correct option from the list")
	schema["properties"].(map[string]interface{})["answer"].(map[string]interface{})["enum"] = options

	var out AnswerSuggestion
	if err := g.assist(ctx, "AnswerMultipleChoice", prompt, nil, openai.FunctionDefinition{
		Name:        submitAnswerTool,
		Description: "Submit the correct answer and its explanation",
		Parameters:  schema,
	}, params, &out); err != nil {
		return AnswerSuggestion{}, err
	}
	return out, nil
}

// AnswerShort writes the expected answer of a short-answer question.
func (g *OpenAIGenerator) AnswerShort(ctx context.Context, question string, params GenerationParams) (AnswerSuggestion, error) {
	body := fmt.Sprintf("--- QUESTION ---\n%s\n\n", question)
	prompt := g.assistPrompt(ctx, "Determine the correct answer of the short-answer question below and explain why it is correct.", body, params)
	prompt += "Requirements:\n" +
		"- The answer must be a single, concise word, number or short phrase\n" +
		"- Give a clear, concise explanation of why that answer is correct\n" +
		"- Use the submit_answer tool to return the result\n"

	var out AnswerSuggestion
	if err := g.assist(ctx, "AnswerShort", prompt, nil, openai.FunctionDefinition{
		Name:        submitAnswerTool,
		Description: "Submit the correct answer and its explanation",
		Parameters:  answerSchema("The single, concise and correct answer"),
	}, params, &out); err != nil {
		return AnswerSuggestion{}, err
	}
	return out, nil
}

// AnswerTrueFalse decides every statement of a multi-true-false question and
// writes one consolidated explanation.
func (g *OpenAIGenerator) AnswerTrueFalse(ctx context.Context, question string, statements []string, params GenerationParams) (TrueFalseSuggestion, error) {
	var body strings.Builder
	fmt.Fprintf(&body, "--- MAIN QUESTION ---\n%s\n\n--- STATEMENTS ---\n", question)
	for i, statement := range statements {
		fmt.Fprintf(&body, "%d. %s\n", i+1, statement)
	}

	trueWord, falseWord, because := "True", "False", "because"
	if params.Language == LangVietnamese {
		trueWord, falseWord, because = "Đúng", "Sai", "vì"
	}
	prompt := g.assistPrompt(ctx, "Decide whether each statement below is True or False.", body.String(), params)
	prompt += "Requirements:\n" +
		"- Return exactly one answer per statement, in the order given\n" +
		fmt.Sprintf("- The explanation is a numbered list with one entry per statement; each entry starts with \"%s %s\" or \"%s %s\" followed by the reasoning\n",
			trueWord, because, falseWord, because) +
		"- Use the submit_statement_answers tool to return the result\n"

	var raw struct {
		Result []struct {
			Answer TrueFalse `json:"answer"`
		} `json:"result"`
		Explanation string `json:"explanation"`
	}
	if err := g.assist(ctx, "AnswerTrueFalse", prompt, nil, openai.FunctionDefinition{
		Name:        submitStatementAnswersTool,
		Description: "Submit the True/False answer of every statement and a consolidated explanation",
		Parameters:  statementAnswersSchema,
	}, params, &raw); err != nil {
		return TrueFalseSuggestion{}, err
	}

	out := TrueFalseSuggestion{Answers: make([]TrueFalse, len(statements)), Explanation: raw.Explanation}
	for i := range out.Answers {
		out.Answers[i] = False
		if i < len(raw.Result) && raw.Result[i].Answer == True {
			out.Answers[i] = True
		}
	}
	return out, nil
}

// FixQuestion rewrites q following the user's instruction. parts, when present,
// are the source of truth; otherwise the model relies on general knowledge.
func (g *OpenAIGenerator) FixQuestion(ctx context.Context, q Question, parts []ContentPart, instruction string, params GenerationParams) (Question, error) {
	// Media travels as data URIs and is restored by the caller.
	original := q
	original.Image, original.Audio = "", ""
	encoded, err := json.MarshalIndent(original, "", "  ")
	if err != nil {
		return Question{}, fmt.Errorf("failed to encode question: %w", err)
	}
	if strings.TrimSpace(instruction) == "" {
		instruction = "No specific instruction. Check the question against the source and correct any inaccuracy in the question text, options, answer or explanation."
	}

	var sb strings.Builder
	sb.WriteString("Correct the quiz question below following the user's instruction.\n")
	sb.WriteString(languageInstruction(params.Language))
	sb.WriteString("\n\n")
	if len(parts) > 0 {
		sb.WriteString("The attached source document is the source of truth and takes priority over general knowledge.\n\n")
	} else {
		sb.WriteString("No source document is attached; rely on your general knowledge.\n\n")
	}
	fmt.Fprintf(&sb, "--- ORIGINAL QUESTION (JSON) ---\n%s\n\n", encoded)
	fmt.Fprintf(&sb, "--- USER'S INSTRUCTION ---\n%s\n\n", instruction)
	sb.WriteString("Requirements:\n")
	sb.WriteString("- Keep the question type and the structure of the original question\n")
	sb.WriteString("- Multiple-choice answers must exactly match one of the options\n")
	sb.WriteString("- Sub-question answers must be \"True\" or \"False\"\n")
	sb.WriteString("- Use the submit_question tool to return the corrected question\n")

	var fixed Question
	if err := g.assist(ctx, "FixQuestion", sb.String(), parts, openai.FunctionDefinition{
		Name:        submitQuestionTool,
		Description: "Submit the corrected quiz question",
		Parameters:  questionSchema,
	}, params, &fixed); err != nil {
		return Question{}, err
	}
	return resolveImagePlaceholders([]Question{fixed}, parts)[0], nil
}

// assistPrompt frames a single-question task with the language rule, the grounding
// text and, when web search is on, background notes about the question itself.
func (g *OpenAIGenerator) assistPrompt(ctx context.Context, task, body string, params GenerationParams) string {
	var sb strings.Builder
	sb.WriteString(task)
	sb.WriteString("\n")
	sb.WriteString(languageInstruction(params.Language))
	sb.WriteString("\n\n")
	writeGrounding(&sb, params)

	if params.UseWebSearch {
		notes, err := g.research(ctx, g.modelFor(params), []ContentPart{{Text: body}}, params.Language, nil)
		if err != nil {
			Logger().Warn("background research failed", zap.Error(err))
		} else if notes != "" {
			sb.WriteString("The background notes below may help decide the answer and enrich the explanation.\n")
			writeResearch(&sb, notes)
		}
	}

	sb.WriteString(body)
	sb.WriteString("\n")
	return sb.String()
}

func (g *OpenAIGenerator) assist(ctx context.Context, step, prompt string, parts []ContentPart, tool openai.FunctionDefinition, params GenerationParams, out interface{}) error {
	llm := g.transcript(params)
	defer llm.Close()

	args, err := g.callTool(ctx, step, g.modelFor(params), assistSystemPrompt, parts, prompt, tool, llm)
	if err != nil {
		llm.LogError(step, err)
		return err
	}
	if err := json.Unmarshal([]byte(args), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (g *OpenAIGenerator) modelFor(params GenerationParams) string {
	if params.Model != "" {
		return params.Model
	}
	return g.model
}

func answerSchema(answerDescription string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"answer": map[string]interface{}{
				"type":        "string",
				"description": answerDescription,
			},
			"explanation": map[string]interface{}{
				"type":        "string",
				"description": "A clear and concise explanation of why the answer is correct",
			},
		},
		"required": []string{"answer", "explanation"},
	}
}

var statementAnswersSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"result": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"answer": map[string]interface{}{
						"type": "string",
						"enum": []string{string(True), string(False)},
					},
				},
				"required": []string{"answer"},
			},
		},
		"explanation": map[string]interface{}{
			"type":        "string",
			"description": "A numbered list with one entry per statement",
		},
	},
	"required": []string{"result", "explanation"},
}
