package quizstudio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAnswers_WireFormat(t *testing.T) {
	answers := UserAnswers{TextAnswer("Paris"), Answer{}, PartsAnswer(True, "", False)}

	data, err := json.Marshal(answers)
	require.NoError(t, err)
	assert.JSONEq(t, `["Paris", null, ["True", null, "False"]]`, string(data))

	var decoded UserAnswers
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, answers, decoded)
}

func TestAnswer_UnmarshalRejectsUnknownValues(t *testing.T) {
	var a Answer
	assert.Error(t, json.Unmarshal([]byte(`["maybe"]`), &a))
	assert.Error(t, json.Unmarshal([]byte(`42`), &a))
}

func TestAnswer_IsAnswered(t *testing.T) {
	assert.False(t, Answer{}.IsAnswered())
	assert.True(t, TextAnswer("").IsAnswered())
	assert.False(t, PartsAnswer().IsAnswered())
	assert.False(t, PartsAnswer(True, "").IsAnswered())
	assert.True(t, PartsAnswer(True, False).IsAnswered())
}

func TestUserAnswers_AlignedWith(t *testing.T) {
	questions := []Question{mc("q", "A", "A", "B"), tf("q", True, False)}

	assert.True(t, UserAnswers{TextAnswer("A"), PartsAnswer(True, "")}.AlignedWith(questions))
	assert.False(t, UserAnswers{TextAnswer("A")}.AlignedWith(questions))
	assert.False(t, UserAnswers{TextAnswer("A"), PartsAnswer(True)}.AlignedWith(questions))
	assert.False(t, UserAnswers{PartsAnswer(True, False), PartsAnswer(True, False)}.AlignedWith(questions))
}
