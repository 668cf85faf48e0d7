package quizstudio

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportAttempts(t *testing.T) {
	config := QuizConfig{Mode: ModeTest}
	attempts := []QuizAttempt{
		{
			QuizTitle:      "Space",
			Date:           time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC),
			Score:          3,
			TotalQuestions: 4,
			Duration:       95,
			Status:         AttemptCompleted,
			Config:         &config,
		},
		{
			QuizTitle:      "=HYPERLINK(\"http://evil\")",
			Date:           time.Date(2024, 3, 3, 8, 30, 0, 0, time.UTC),
			TotalQuestions: 0,
			Status:         AttemptInProgress,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportAttempts(&buf, attempts))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(attemptsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"Quiz", "Date", "Score", "Total", "Percent", "Duration (s)", "Status", "Mode"}, rows[0])
	assert.Equal(t, []string{"Space", "2024-03-02T08:30:00Z", "3", "4", "75", "95", "completed", "test"}, rows[1])
	assert.Equal(t, "'=HYPERLINK(\"http://evil\")", rows[2][0])
	assert.Equal(t, "0", rows[2][4], "an empty quiz exports a zero percent")
}

func TestSanitizeForExcel(t *testing.T) {
	tests := map[string]string{
		"":         "",
		"Biology":  "Biology",
		"=1+1":     "'=1+1",
		"+cmd":     "'+cmd",
		"-2":       "'-2",
		"@SUM(A1)": "'@SUM(A1)",
		"\tx":      "'\tx",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeForExcel(in), in)
	}
}
