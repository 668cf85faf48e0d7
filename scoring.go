package quizstudio

import "strings"

// Score counts the fully correct answers. smart holds authoritative smart-check
// outcomes for short-answer questions, keyed by question index; it may be nil.
// Score is pure: the same inputs always give the same result.
func Score(questions []Question, answers UserAnswers, smart map[int]bool) int {
	score := 0
	for i, q := range questions {
		var answer Answer
		if i < len(answers) {
			answer = answers[i]
		}
		var outcome *bool
		if v, ok := smart[i]; ok {
			outcome = &v
		}
		if IsCorrect(q, answer, outcome) {
			score++
		}
	}
	return score
}

// IsCorrect grades a single answer. smart, when non-nil, overrides the literal
// comparison for short-answer questions.
func IsCorrect(q Question, answer Answer, smart *bool) bool {
	switch q.Type {
	case TypeMultipleChoice:
		return q.Answer != "" && answer.Text != nil && *answer.Text == q.Answer
	case TypeMultiTrueFalse:
		if len(q.SubQuestions) == 0 || len(answer.Parts) < len(q.SubQuestions) {
			return false
		}
		for i, sub := range q.SubQuestions {
			if sub.Answer != True && sub.Answer != False {
				return false
			}
			if answer.Parts[i] != sub.Answer {
				return false
			}
		}
		return true
	case TypeShortAnswer:
		if smart != nil {
			return *smart
		}
		return answer.Text != nil && ShortAnswerMatches(*answer.Text, q.Answer)
	default:
		return false
	}
}

// ShortAnswerMatches is the literal short-answer comparison: trimmed and
// case-insensitive. An empty stored answer never matches.
func ShortAnswerMatches(given, expected string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" {
		return false
	}
	return strings.ToLower(strings.TrimSpace(given)) == expected
}
