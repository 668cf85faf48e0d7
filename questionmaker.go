package quizstudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const submitQuestionsTool = "submit_questions"

// OpenAIGenerator is the Generator backed by the OpenAI chat completions API
type OpenAIGenerator struct {
	client        *openai.Client
	limiter       *rate.Limiter
	model         string
	transcriptDir string
}

// NewOpenAIGenerator creates a generator from the openai config section
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:        newOpenAIClient(cfg),
		limiter:       newLimiter(cfg),
		model:         cfg.Model,
		transcriptDir: cfg.TranscriptDir,
	}
}

func newOpenAIClient(cfg OpenAIConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

func newLimiter(cfg OpenAIConfig) *rate.Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), burst)
}

func (g *OpenAIGenerator) transcript(params GenerationParams) *LLMLogger {
	if g.transcriptDir == "" || params.RequestID == "" {
		return nil
	}
	logger, err := NewLLMLogger(g.transcriptDir, params.RequestID, params)
	if err != nil {
		Logger().Warn("failed to open transcript", zap.String("request", params.RequestID), zap.Error(err))
		return nil
	}
	return logger
}

// Generate asks the model for questions about the content parts.
func (g *OpenAIGenerator) Generate(ctx context.Context, parts []ContentPart, params GenerationParams) ([]Question, error) {
	model := params.Model
	if model == "" {
		model = g.model
	}
	llm := g.transcript(params)
	defer llm.Close()

	research := ""
	if params.UseWebSearch {
		var err error
		research, err = g.research(ctx, model, parts, params.Language, llm)
		if err != nil {
			// Research only enriches explanations; generation goes on without it.
			Logger().Warn("background research failed", zap.String("request", params.RequestID), zap.Error(err))
			llm.LogError("research", err)
		}
	}

	prompt := buildGenerationPrompt(params, research)
	Logger().Info("generating questions", zap.String("request", params.RequestID), zap.String("model", model),
		zap.String("mode", string(params.Mode)), zap.Int("parts", len(parts)))

	questions, err := g.callQuestions(ctx, model, generationSystemPrompt, parts, prompt, llm)
	if err != nil {
		llm.LogError("generate", err)
		return nil, err
	}
	questions = resolveImagePlaceholders(questions, parts)
	if !params.Explanations {
		for i := range questions {
			questions[i].Explanation = ""
		}
	}
	Logger().Info("generated questions", zap.String("request", params.RequestID), zap.Int("count", len(questions)))
	return questions, nil
}

// GenerateAdditional writes new questions for an existing quiz following the
// user's instruction. parts may be empty, in which case general knowledge is used.
func (g *OpenAIGenerator) GenerateAdditional(ctx context.Context, instruction string, parts []ContentPart, existing []Question, params GenerationParams) ([]Question, error) {
	model := params.Model
	if model == "" {
		model = g.model
	}
	llm := g.transcript(params)
	defer llm.Close()

	var sb strings.Builder
	sb.WriteString("Generate new quiz questions following the user's instruction.\n")
	sb.WriteString(languageInstruction(params.Language))
	sb.WriteString("\n\nExisting questions (for context, do not repeat them):\n")
	for _, q := range existing {
		fmt.Fprintf(&sb, "- %s\n", q.Question)
	}
	fmt.Fprintf(&sb, "\nUser's instruction: %q\n\n", instruction)
	sb.WriteString("Requirements:\n")
	sb.WriteString("- Work out how many questions the instruction asks for and what they must cover\n")
	sb.WriteString("- If the instruction does not name a question type, use multiple-choice\n")
	if len(parts) > 0 {
		sb.WriteString("- Every question must be based on the attached source document\n")
	} else {
		sb.WriteString("- No source document is attached; use your general knowledge\n")
	}
	sb.WriteString("- Every question needs an explanation\n")
	sb.WriteString("- Use the submit_questions tool to return your questions\n")

	questions, err := g.callQuestions(ctx, model, generationSystemPrompt, parts, sb.String(), llm)
	if err != nil {
		llm.LogError("additional", err)
		return nil, err
	}
	return resolveImagePlaceholders(questions, parts), nil
}

const generationSystemPrompt = "You are an expert educator creating high-quality quiz questions from study material. Always answer by calling the submit_questions tool."

func (g *OpenAIGenerator) callQuestions(ctx context.Context, model, system string, parts []ContentPart, prompt string, llm *LLMLogger) ([]Question, error) {
	args, err := g.callTool(ctx, "Generate", model, system, parts, prompt, openai.FunctionDefinition{
		Name:        submitQuestionsTool,
		Description: "Submit generated quiz questions",
		Parameters:  questionsSchema,
	}, llm)
	if err != nil {
		return nil, err
	}

	var toolArgs struct {
		Questions []Question `json:"questions"`
	}
	if err := json.Unmarshal([]byte(args), &toolArgs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if toolArgs.Questions == nil {
		return nil, fmt.Errorf("%w: questions field is missing", ErrMalformedResponse)
	}
	return toolArgs.Questions, nil
}

// callTool sends the content parts and prompt and forces the model to answer by
// calling tool. It returns the raw tool arguments.
func (g *OpenAIGenerator) callTool(ctx context.Context, step, model, system string, parts []ContentPart, prompt string, tool openai.FunctionDefinition, llm *LLMLogger) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	llm.LogLLMRequest(step, prompt)
	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: system,
				},
				{
					Role:         openai.ChatMessageRoleUser,
					MultiContent: messageParts(parts, prompt),
				},
			},
			Tools: []openai.Tool{
				{
					Type:     openai.ToolTypeFunction,
					Function: &tool,
				},
			},
			ToolChoice: openai.ToolChoice{
				Type: openai.ToolTypeFunction,
				Function: openai.ToolFunction{
					Name: tool.Name,
				},
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to call %s: %w", tool.Name, err)
	}

	args, err := toolArguments(resp, tool.Name)
	llm.LogLLMResponse(step, args)
	return args, err
}

// toolArguments returns the arguments of the forced tool call, classifying a cut
// off or tool-less answer.
func toolArguments(resp openai.ChatCompletionResponse, tool string) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrMalformedResponse)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		return "", ErrTruncatedResponse
	}
	if len(choice.Message.ToolCalls) == 0 {
		return "", fmt.Errorf("%w: no tool calls in response", ErrMalformedResponse)
	}
	toolCall := choice.Message.ToolCalls[0]
	if toolCall.Function.Name != tool {
		return "", fmt.Errorf("%w: unexpected tool call %s", ErrMalformedResponse, toolCall.Function.Name)
	}
	return toolCall.Function.Arguments, nil
}

// research asks the model for background notes on the document's topic. The notes
// are handed to the generation prompt as supplementary material.
func (g *OpenAIGenerator) research(ctx context.Context, model string, parts []ContentPart, lang Language, llm *LLMLogger) (string, error) {
	var text []string
	for _, p := range parts {
		if p.InlineData == nil && strings.TrimSpace(p.Text) != "" {
			text = append(text, p.Text)
		}
	}
	document := strings.Join(text, "\n")
	if strings.TrimSpace(document) == "" {
		return "", nil
	}
	document = truncateUTF8(document, researchExcerptBytes)

	prompt := fmt.Sprintf("Identify the main topic of the document below and write concise, factual background notes about it "+
		"that would help explain quiz answers. Output only the notes.\n%s\n\n--- DOCUMENT TEXT ---\n%s\n--- END DOCUMENT TEXT ---",
		languageInstruction(lang), document)

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	llm.LogLLMRequest("Research", prompt)
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to research topic: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no research notes in response")
	}
	notes := strings.TrimSpace(resp.Choices[0].Message.Content)
	llm.LogLLMResponse("Research", notes)
	return notes, nil
}

const researchExcerptBytes = 4000

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// messageParts puts the content first and the instructions last. Images travel as
// data URLs; audio cannot be sent to chat completions and is replaced by a note.
func messageParts(parts []ContentPart, prompt string) []openai.ChatMessagePart {
	out := make([]openai.ChatMessagePart, 0, len(parts)+1)
	for _, p := range parts {
		switch {
		case p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "image/"):
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURI(p.InlineData),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		case p.InlineData != nil:
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: fmt.Sprintf("[Attachment of type %s omitted]", p.InlineData.MimeType),
			})
		case strings.TrimSpace(p.Text) != "":
			out = append(out, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
		}
	}
	return append(out, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: prompt})
}

func dataURI(d *InlineData) string {
	return "data:" + d.MimeType + ";base64," + d.Data
}

var imagePlaceholder = regexp.MustCompile(`^\[Image (\d+)\]$`)

// resolveImagePlaceholders replaces "[Image N]" references with the N-th attached
// image. Unresolvable references are dropped.
func resolveImagePlaceholders(questions []Question, parts []ContentPart) []Question {
	var images []*InlineData
	for _, p := range parts {
		if isImagePart(p) {
			images = append(images, p.InlineData)
		}
	}
	for i := range questions {
		image := strings.TrimSpace(questions[i].Image)
		if image == "" || strings.HasPrefix(image, "data:") {
			continue
		}
		questions[i].Image = ""
		if m := imagePlaceholder.FindStringSubmatch(image); m != nil {
			n, _ := strconv.Atoi(m[1])
			if n >= 1 && n <= len(images) {
				questions[i].Image = dataURI(images[n-1])
			}
		}
	}
	return questions
}

func languageInstruction(lang Language) string {
	name := "English"
	if lang == LangVietnamese {
		name = "Vietnamese"
	}
	return fmt.Sprintf("CRITICAL: write the entire response, including questions, options, answers and explanations, exclusively in %s.", name)
}

func buildGenerationPrompt(params GenerationParams, research string) string {
	var sb strings.Builder

	if params.Mode == GenerationExtract {
		sb.WriteString("Extract the questions contained in the attached document.\n")
	} else {
		sb.WriteString("Write new questions that test understanding of the attached study material.\n")
	}
	sb.WriteString(languageInstruction(params.Language))
	sb.WriteString("\n\n")

	writeGrounding(&sb, params)
	if research != "" {
		sb.WriteString("The background notes below may be used to enrich explanations. Questions and answers must still come from the document.\n")
		writeResearch(&sb, research)
	}

	sb.WriteString("Requested question types:\n")
	for _, t := range params.Types {
		fmt.Fprintf(&sb, "- %s\n", t)
	}
	sb.WriteString("\n")

	if params.Mode == GenerationExtract {
		sb.WriteString("Requirements:\n")
		sb.WriteString("- Only extract questions that match one of the requested types; ignore essay questions\n")
		sb.WriteString("- Preserve the wording of questions, options, answers and statements exactly\n")
		sb.WriteString("- For multi-true-false, the question field holds the instruction and each statement goes into subQuestions\n")
		sb.WriteString("- If an image placeholder such as \"[Image 1]\" belongs to a question, put it in the image field\n")
	} else {
		sb.WriteString(countInstruction(params))
		sb.WriteString("Requirements:\n")
		sb.WriteString("- Tag every question with its difficulty: recognition, comprehension or application\n")
		sb.WriteString("- Short-answer questions must expect a single word, number or short phrase\n")
		sb.WriteString("- Use the passage field rarely and never put the answer in it\n")
	}
	sb.WriteString("- Multiple-choice answers must exactly match one of the options\n")
	sb.WriteString("- Sub-question answers must be \"True\" or \"False\"\n")
	if params.Explanations {
		sb.WriteString("- Give every question a clear, concise explanation of why the answer is correct\n")
		if containsType(params.Types, TypeMultiTrueFalse) {
			sb.WriteString("- For multi-true-false, the explanation is a numbered list with one \"True because ...\" or \"False because ...\" entry per statement\n")
		}
	} else {
		sb.WriteString("- Set every explanation to an empty string\n")
	}
	sb.WriteString("- Use the submit_questions tool to return your questions\n")
	return sb.String()
}

// writeGrounding adds the selected knowledge base text, if any, as the preferred
// source for explanations.
func writeGrounding(sb *strings.Builder, params GenerationParams) {
	if params.GroundingContent == "" {
		return
	}
	if params.IntegrateGeneralAI {
		sb.WriteString("When writing explanations, prioritise the database knowledge below and supplement it with general knowledge where it adds value.\n")
	} else {
		sb.WriteString("Base the explanations strictly on the database knowledge below. Do not use external information.\n")
	}
	sb.WriteString("--- DATABASE KNOWLEDGE START ---\n")
	sb.WriteString(params.GroundingContent)
	sb.WriteString("\n--- DATABASE KNOWLEDGE END ---\n\n")
}

func writeResearch(sb *strings.Builder, research string) {
	sb.WriteString("--- BACKGROUND NOTES ---\n")
	sb.WriteString(research)
	sb.WriteString("\n--- END BACKGROUND NOTES ---\n\n")
}

func countInstruction(params GenerationParams) string {
	var sb strings.Builder
	listed := false
	for _, t := range params.Types {
		levels := params.Difficulties[t]
		if len(levels) == 0 {
			continue
		}
		listed = true
		fmt.Fprintf(&sb, "For question type '%s':\n", t)
		if count, ok := params.Counts[t]; ok && !count.Auto && count.N > 0 {
			fmt.Fprintf(&sb, "- Generate EXACTLY %d question(s) of this type\n", count.N)
		} else {
			sb.WriteString("- Choose a reasonable number of questions of this type based on the material\n")
		}
		var details []string
		for _, level := range []Difficulty{DifficultyRecognition, DifficultyComprehension, DifficultyApplication} {
			count, ok := levels[level]
			if !ok {
				continue
			}
			if !count.Auto && count.N > 0 {
				details = append(details, fmt.Sprintf("EXACTLY %d at the '%s' level", count.N, level))
			} else {
				details = append(details, fmt.Sprintf("an appropriate number at the '%s' level", level))
			}
		}
		fmt.Fprintf(&sb, "- Difficulty distribution: %s\n", strings.Join(details, ", "))
	}
	if !listed {
		return "Generate 5 diverse questions covering at least two difficulty levels.\n\n"
	}
	sb.WriteString("\n")
	return sb.String()
}

func containsType(types []QuestionType, t QuestionType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

var questionsSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"questions": map[string]interface{}{
			"type":  "array",
			"items": questionSchema,
		},
	},
	"required": []string{"questions"},
}

var questionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"type": map[string]interface{}{
			"type": "string",
			"enum": []string{string(TypeMultipleChoice), string(TypeMultiTrueFalse), string(TypeShortAnswer)},
		},
		"question": map[string]interface{}{
			"type":        "string",
			"description": "The question text, or the instruction of a multi-true-false question",
		},
		"explanation": map[string]interface{}{
			"type":        "string",
			"description": "Why the answer is correct",
		},
		"passage": map[string]interface{}{
			"type":        "string",
			"description": "Optional context passage",
		},
		"image": map[string]interface{}{
			"type":        "string",
			"description": "Optional image placeholder such as [Image 1]",
		},
		"difficulty": map[string]interface{}{
			"type": "string",
			"enum": []string{string(DifficultyRecognition), string(DifficultyComprehension), string(DifficultyApplication)},
		},
		"options": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Multiple-choice options",
		},
		"answer": map[string]interface{}{
			"type":        "string",
			"description": "The correct option (multiple-choice) or the short answer",
		},
		"subQuestions": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"statement": map[string]interface{}{"type": "string"},
					"answer": map[string]interface{}{
						"type": "string",
						"enum": []string{string(True), string(False)},
					},
				},
				"required": []string{"statement", "answer"},
			},
		},
	},
	"required": []string{"type", "question", "explanation"},
}
