package quizstudio

import (
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Assemble turns generated questions into a new quiz. The question order is kept.
func Assemble(questions []Question, title, model string) Quiz {
	return Quiz{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
		Questions: cloneQuestions(questions),
		Model:     model,
	}
}

// ApplyShuffle returns a copy of quiz with its questions and/or multiple-choice
// options permuted. Options containing a literal "true" or "false" stay in place.
// A nil rng uses the package-level source.
func ApplyShuffle(quiz Quiz, settings ShuffleSettings, rng *rand.Rand) Quiz {
	out, _ := shuffleQuiz(quiz, settings, rng)
	return out
}

// shuffleQuiz is ApplyShuffle that also reports, for each position of the result,
// the index the question had in quiz.
func shuffleQuiz(quiz Quiz, settings ShuffleSettings, rng *rand.Rand) (Quiz, []int) {
	intn := rand.Intn
	if rng != nil {
		intn = rng.Intn
	}

	order := make([]int, len(quiz.Questions))
	for i := range order {
		order[i] = i
	}
	if settings.ShuffleQuestions {
		shuffle(order, intn)
	}

	out := quiz
	questions := cloneQuestions(quiz.Questions)
	if questions != nil {
		out.Questions = make([]Question, len(questions))
		for i, src := range order {
			out.Questions[i] = questions[src]
		}
	}
	if settings.ShuffleOptions {
		for i := range out.Questions {
			q := &out.Questions[i]
			if q.Type != TypeMultipleChoice || len(q.Options) < 2 || hasTrueFalseOption(q.Options) {
				continue
			}
			shuffle(q.Options, intn)
		}
	}
	return out, order
}

// shuffle is Fisher–Yates: for i from the last index down to 1 swap with a
// uniform j in [0, i].
func shuffle[T any](items []T, intn func(int) int) {
	for i := len(items) - 1; i > 0; i-- {
		j := intn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

// hasTrueFalseOption only recognises the English words.
// TODO: accept localized pairs such as "Đúng"/"Sai" once option language is tracked per quiz.
func hasTrueFalseOption(options []string) bool {
	for _, option := range options {
		switch strings.ToLower(option) {
		case "true", "false":
			return true
		}
	}
	return false
}

func cloneQuestions(questions []Question) []Question {
	if questions == nil {
		return nil
	}
	out := make([]Question, len(questions))
	for i, q := range questions {
		out[i] = q
		if q.Options != nil {
			out[i].Options = append([]string(nil), q.Options...)
		}
		if q.SubQuestions != nil {
			out[i].SubQuestions = append([]SubQuestion(nil), q.SubQuestions...)
		}
	}
	return out
}
