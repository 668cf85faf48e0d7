package quizstudio

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleQuestions() []Question {
	return []Question{
		mc("Largest planet?", "Jupiter", "Mars", "Jupiter", "Venus", "Earth"),
		tf("Planets", True, False, True),
		short("Closest star?", "Sun"),
		mc("Is Pluto a planet?", "False", "True", "False"),
		mc("Red planet?", "Mars", "Mercury", "Mars", "Saturn"),
	}
}

func TestAssemble(t *testing.T) {
	questions := sampleQuestions()
	quiz := Assemble(questions, "Space", "gpt-4o")

	assert.NotEmpty(t, quiz.ID)
	assert.Equal(t, "Space", quiz.Title)
	assert.Equal(t, "gpt-4o", quiz.Model)
	assert.False(t, quiz.CreatedAt.IsZero())
	assert.Equal(t, questions, quiz.Questions)

	quiz.Questions[0].Options[0] = "changed"
	assert.Equal(t, "Mars", questions[0].Options[0], "assembled quiz must not share option slices")
}

func TestApplyShuffle_IsPermutation(t *testing.T) {
	quiz := Assemble(sampleQuestions(), "Space", "")
	settings := ShuffleSettings{ShuffleQuestions: true, ShuffleOptions: true}

	for seed := int64(0); seed < 50; seed++ {
		out := ApplyShuffle(quiz, settings, rand.New(rand.NewSource(seed)))

		require.Len(t, out.Questions, len(quiz.Questions))
		byText := map[string]Question{}
		for _, q := range quiz.Questions {
			byText[q.Question] = q
		}
		for _, q := range out.Questions {
			original, ok := byText[q.Question]
			require.True(t, ok, "unknown question %q", q.Question)
			delete(byText, q.Question)

			assert.ElementsMatch(t, original.Options, q.Options)
			assert.Equal(t, original.Answer, q.Answer)
			assert.Equal(t, original.SubQuestions, q.SubQuestions)
			if q.Type == TypeMultipleChoice {
				assert.Contains(t, q.Options, q.Answer)
			}
		}
		assert.Empty(t, byText)
	}
}

func TestApplyShuffle_KeepsTrueFalseOptions(t *testing.T) {
	quiz := Quiz{Questions: []Question{mc("Is Pluto a planet?", "False", "True", "False", "Unknown")}}

	for seed := int64(0); seed < 20; seed++ {
		out := ApplyShuffle(quiz, ShuffleSettings{ShuffleOptions: true}, rand.New(rand.NewSource(seed)))
		assert.Equal(t, []string{"True", "False", "Unknown"}, out.Questions[0].Options)
	}
}

func TestApplyShuffle_DoesNotMutateInput(t *testing.T) {
	quiz := Assemble(sampleQuestions(), "Space", "")
	before := cloneQuestions(quiz.Questions)

	ApplyShuffle(quiz, ShuffleSettings{ShuffleQuestions: true, ShuffleOptions: true}, rand.New(rand.NewSource(1)))

	assert.Equal(t, before, quiz.Questions)
}

func TestApplyShuffle_Disabled(t *testing.T) {
	quiz := Assemble(sampleQuestions(), "Space", "")
	out := ApplyShuffle(quiz, ShuffleSettings{}, nil)
	assert.Equal(t, quiz.Questions, out.Questions)
}

func TestNewUserAnswers_AlignedAfterShuffle(t *testing.T) {
	quiz := ApplyShuffle(Assemble(sampleQuestions(), "Space", ""),
		ShuffleSettings{ShuffleQuestions: true, ShuffleOptions: true}, rand.New(rand.NewSource(3)))

	answers := NewUserAnswers(quiz.Questions)

	require.Len(t, answers, len(quiz.Questions))
	for i, q := range quiz.Questions {
		if q.Type == TypeMultiTrueFalse {
			require.Len(t, answers[i].Parts, len(q.SubQuestions))
			for _, p := range answers[i].Parts {
				assert.Equal(t, TrueFalse(""), p)
			}
		} else {
			assert.Nil(t, answers[i].Text)
			assert.Nil(t, answers[i].Parts)
		}
	}
	assert.True(t, answers.AlignedWith(quiz.Questions))
}

func TestShuffleQuiz_ReportsOrder(t *testing.T) {
	quiz := Assemble(sampleQuestions(), "Space", "")

	for seed := int64(0); seed < 20; seed++ {
		out, order := shuffleQuiz(quiz, ShuffleSettings{ShuffleQuestions: true}, rand.New(rand.NewSource(seed)))
		require.Len(t, order, len(quiz.Questions))
		for i, src := range order {
			assert.Equal(t, quiz.Questions[src], out.Questions[i])
		}
	}

	_, order := shuffleQuiz(quiz, ShuffleSettings{}, nil)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
