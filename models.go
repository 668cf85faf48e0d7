package quizstudio

import (
	"fmt"
	"strings"
	"time"
)

// QuestionType discriminates the three supported question shapes
type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple-choice"
	TypeMultiTrueFalse QuestionType = "multi-true-false"
	TypeShortAnswer    QuestionType = "short-answer"
)

// Difficulty is the cognitive level a question targets
type Difficulty string

const (
	DifficultyRecognition   Difficulty = "recognition"
	DifficultyComprehension Difficulty = "comprehension"
	DifficultyApplication   Difficulty = "application"
)

// TrueFalse is a sub-question answer. The zero value means "not answered".
type TrueFalse string

const (
	True  TrueFalse = "True"
	False TrueFalse = "False"
)

// SubQuestion is one statement of a multi-true-false question
type SubQuestion struct {
	Statement string    `json:"statement"`
	Answer    TrueFalse `json:"answer"`
}

// Question is a single quiz question. Which of Options, Answer and SubQuestions
// are meaningful depends on Type.
type Question struct {
	Type         QuestionType  `json:"type"`
	Question     string        `json:"question"`
	Explanation  string        `json:"explanation"`
	Passage      string        `json:"passage,omitempty"`
	Image        string        `json:"image,omitempty"` // data URI
	Audio        string        `json:"audio,omitempty"` // data URI
	Difficulty   Difficulty    `json:"difficulty,omitempty"`
	Options      []string      `json:"options,omitempty"`
	Answer       string        `json:"answer,omitempty"`
	SubQuestions []SubQuestion `json:"subQuestions,omitempty"`
}

// Validate checks that a question has the shape its type requires.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Question) == "" && q.Type != TypeMultiTrueFalse {
		return fmt.Errorf("question text is empty")
	}
	switch q.Type {
	case TypeMultipleChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("multiple-choice question needs at least 2 options, got %d", len(q.Options))
		}
		if q.Answer == "" {
			return fmt.Errorf("multiple-choice question has no answer")
		}
		for _, option := range q.Options {
			if option == q.Answer {
				return nil
			}
		}
		return fmt.Errorf("multiple-choice answer %q is not one of the options", q.Answer)
	case TypeMultiTrueFalse:
		if len(q.SubQuestions) == 0 {
			return fmt.Errorf("multi-true-false question has no sub-questions")
		}
		for i, sub := range q.SubQuestions {
			if strings.TrimSpace(sub.Statement) == "" {
				return fmt.Errorf("sub-question %d has an empty statement", i+1)
			}
			if sub.Answer != True && sub.Answer != False {
				return fmt.Errorf("sub-question %d answer must be True or False, got %q", i+1, sub.Answer)
			}
		}
		return nil
	case TypeShortAnswer:
		if strings.TrimSpace(q.Answer) == "" {
			return fmt.Errorf("short-answer question has no answer")
		}
		return nil
	default:
		return fmt.Errorf("unknown question type %q", q.Type)
	}
}

// Quiz is a titled, persisted list of questions
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"createdAt"`
	Questions []Question `json:"questions"`
	Model     string     `json:"model,omitempty"`
	FolderID  string     `json:"folderId,omitempty"`
}

// Startable reports whether a run can be started on the quiz.
func (q Quiz) Startable() bool {
	return len(q.Questions) > 0
}

// QuizMode selects between immediate feedback and a timed exam
type QuizMode string

const (
	ModeStudy QuizMode = "study"
	ModeTest  QuizMode = "test"
)

// TimerSettings holds the test-mode time budget per question
type TimerSettings struct {
	PerQuestion        int `json:"perQuestion"`        // seconds
	PerComplexQuestion int `json:"perComplexQuestion"` // minutes
}

// QuizConfig is chosen before a run and stored on its attempts
type QuizConfig struct {
	Mode             QuizMode      `json:"mode"`
	Timer            TimerSettings `json:"timer"`
	ShowExplanations bool          `json:"showExplanations"`
}

// ShuffleSettings controls ApplyShuffle
type ShuffleSettings struct {
	ShuffleQuestions bool `json:"shuffleQuestions"`
	ShuffleOptions   bool `json:"shuffleOptions"`
}

// AttemptStatus tells finished attempts from saved, resumable ones
type AttemptStatus string

const (
	AttemptCompleted  AttemptStatus = "completed"
	AttemptInProgress AttemptStatus = "in-progress"
)

// QuizAttempt records one run over a quiz
type QuizAttempt struct {
	ID                 string        `json:"id"`
	QuizID             string        `json:"quizId"`
	QuizTitle          string        `json:"quizTitle"`
	Date               time.Time     `json:"date"`
	Score              int           `json:"score"`
	TotalQuestions     int           `json:"totalQuestions"`
	UserAnswers        UserAnswers   `json:"userAnswers"`
	Duration           int           `json:"duration"` // seconds
	Status             AttemptStatus `json:"status"`
	Config             *QuizConfig   `json:"config,omitempty"`
	SmartCheckOutcomes map[int]bool  `json:"smartCheckOutcomes,omitempty"`
}

// Folder groups quizzes
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// KnowledgeBase groups reference entries used to ground explanations
type KnowledgeBase struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// BlockType discriminates knowledge entry blocks
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
	BlockAudio BlockType = "audio"
)

// Block is one piece of a knowledge entry. Content is base64 for image and audio blocks.
type Block struct {
	Type     BlockType `json:"type"`
	Content  string    `json:"content"`
	MimeType string    `json:"mimeType,omitempty"`
}

// KnowledgeEntry is a user-authored note inside a knowledge base
type KnowledgeEntry struct {
	ID              string    `json:"id"`
	KnowledgeBaseID string    `json:"knowledgeBaseId"`
	Title           string    `json:"title"`
	ContentBlocks   []Block   `json:"contentBlocks"`
	CreatedAt       time.Time `json:"createdAt"`
	LastModified    time.Time `json:"lastModified"`
}

// TextContent joins the entry's text blocks.
func (e KnowledgeEntry) TextContent() string {
	var parts []string
	for _, block := range e.ContentBlocks {
		if block.Type == BlockText {
			parts = append(parts, block.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// ContentPart is one generation-ready piece of an uploaded file: either text or
// inline base64 data.
type ContentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries binary content for the generation service
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// Empty reports whether the part carries nothing usable.
func (p ContentPart) Empty() bool {
	if p.InlineData != nil {
		return p.InlineData.Data == ""
	}
	return strings.TrimSpace(p.Text) == ""
}

// GenerationMode selects between extracting existing questions and writing new ones
type GenerationMode string

const (
	GenerationExtract GenerationMode = "extract"
	GenerationTheory  GenerationMode = "theory"
)

// Language of generated content and user-facing messages
type Language string

const (
	LangEnglish    Language = "en"
	LangVietnamese Language = "vi"
)

// Count is either "auto" (let the model decide) or an exact number
type Count struct {
	Auto bool `json:"auto"`
	N    int  `json:"n,omitempty"`
}

// GenerationParams is everything the generation service needs besides the content
type GenerationParams struct {
	RequestID          string                                `json:"requestId,omitempty"`
	Types              []QuestionType                        `json:"types"`
	Mode               GenerationMode                        `json:"mode"`
	Counts             map[QuestionType]Count                `json:"counts,omitempty"`
	Difficulties       map[QuestionType]map[Difficulty]Count `json:"difficulties,omitempty"`
	Language           Language                              `json:"language"`
	UseWebSearch       bool                                  `json:"useWebSearch"`
	Explanations       bool                                  `json:"explanations"`
	GroundingEntryIDs  []string                              `json:"groundingEntryIds,omitempty"`
	GroundingContent   string                                `json:"groundingContent,omitempty"`
	IntegrateGeneralAI bool                                  `json:"integrateGeneralAi"`
	Model              string                                `json:"model"`
}

// SourceFile is an uploaded file awaiting extraction
type SourceFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// AnswerSuggestion is a model-proposed answer for a question being edited
type AnswerSuggestion struct {
	Answer      string `json:"answer"`
	Explanation string `json:"explanation"`
}

// TrueFalseSuggestion holds one answer per statement, in statement order
type TrueFalseSuggestion struct {
	Answers     []TrueFalse `json:"answers"`
	Explanation string      `json:"explanation"`
}

// ValidationResult is the outcome of a smart short-answer check
type ValidationResult struct {
	IsCorrect bool   `json:"isCorrect"`
	Feedback  string `json:"feedback,omitempty"`
}
