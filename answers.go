package quizstudio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Answer is the user's answer to one question. Multiple-choice and short-answer
// questions use Text (nil when unanswered); multi-true-false questions use Parts,
// one entry per sub-question, with "" for an unanswered statement.
//
// On the wire an Answer is null, a string, or an array of "True"/"False"/null.
type Answer struct {
	Text  *string
	Parts []TrueFalse
}

// UserAnswers holds one Answer per question, positionally aligned with Quiz.Questions
type UserAnswers []Answer

// TextAnswer builds a multiple-choice or short-answer answer.
func TextAnswer(s string) Answer {
	return Answer{Text: &s}
}

// PartsAnswer builds a multi-true-false answer.
func PartsAnswer(parts ...TrueFalse) Answer {
	out := make([]TrueFalse, len(parts))
	copy(out, parts)
	return Answer{Parts: out}
}

// NewUserAnswers returns an empty answer slot for every question.
func NewUserAnswers(questions []Question) UserAnswers {
	answers := make(UserAnswers, len(questions))
	for i, q := range questions {
		if q.Type == TypeMultiTrueFalse {
			answers[i] = Answer{Parts: make([]TrueFalse, len(q.SubQuestions))}
		}
	}
	return answers
}

// IsAnswered reports whether the slot holds a complete answer.
func (a Answer) IsAnswered() bool {
	if a.Parts != nil {
		if len(a.Parts) == 0 {
			return false
		}
		for _, p := range a.Parts {
			if p == "" {
				return false
			}
		}
		return true
	}
	return a.Text != nil
}

// TextValue returns the text answer or "".
func (a Answer) TextValue() string {
	if a.Text == nil {
		return ""
	}
	return *a.Text
}

// Clone returns a deep copy.
func (a Answer) Clone() Answer {
	var out Answer
	if a.Text != nil {
		s := *a.Text
		out.Text = &s
	}
	if a.Parts != nil {
		out.Parts = make([]TrueFalse, len(a.Parts))
		copy(out.Parts, a.Parts)
	}
	return out
}

// Clone returns a deep copy.
func (ua UserAnswers) Clone() UserAnswers {
	if ua == nil {
		return nil
	}
	out := make(UserAnswers, len(ua))
	for i, a := range ua {
		out[i] = a.Clone()
	}
	return out
}

// AlignedWith reports whether the answers fit the given questions slot by slot.
func (ua UserAnswers) AlignedWith(questions []Question) bool {
	if len(ua) != len(questions) {
		return false
	}
	for i, q := range questions {
		if q.Type == TypeMultiTrueFalse {
			if ua[i].Text != nil || len(ua[i].Parts) != len(q.SubQuestions) {
				return false
			}
		} else if ua[i].Parts != nil {
			return false
		}
	}
	return true
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Parts != nil {
		parts := make([]*string, len(a.Parts))
		for i, p := range a.Parts {
			if p != "" {
				s := string(p)
				parts[i] = &s
			}
		}
		return json.Marshal(parts)
	}
	if a.Text == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*a.Text)
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*a = Answer{}
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		a.Text = &s
		return nil
	case len(data) > 0 && data[0] == '[':
		var raw []*string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		a.Parts = make([]TrueFalse, len(raw))
		for i, p := range raw {
			if p == nil {
				continue
			}
			switch v := TrueFalse(*p); v {
			case True, False:
				a.Parts[i] = v
			default:
				return fmt.Errorf("invalid sub-answer %q", *p)
			}
		}
		return nil
	default:
		return fmt.Errorf("invalid answer %s", strings.TrimSpace(string(data)))
	}
}
