package quizstudio

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const attemptsSheet = "Attempts"

// ExportAttempts writes the attempts as an xlsx workbook with one row per attempt.
func ExportAttempts(w io.Writer, attempts []QuizAttempt) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", attemptsSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(attemptsSheet)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}

	headers := []interface{}{"Quiz", "Date", "Score", "Total", "Percent", "Duration (s)", "Status", "Mode"}
	if err := sw.SetRow("A1", headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for i, a := range attempts {
		percent := 0.0
		if a.TotalQuestions > 0 {
			percent = float64(a.Score) / float64(a.TotalQuestions) * 100
		}
		mode := ""
		if a.Config != nil {
			mode = string(a.Config.Mode)
		}
		row := []interface{}{
			sanitizeForExcel(a.QuizTitle),
			a.Date.UTC().Format(time.RFC3339),
			a.Score,
			a.TotalQuestions,
			percent,
			a.Duration,
			string(a.Status),
			mode,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// sanitizeForExcel keeps user text from being read as a formula.
func sanitizeForExcel(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}
