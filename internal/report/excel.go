// Package report writes analyzed questions into an Excel workbook.
// The workbook is saved after every appended row so that a crash loses
// at most the in-flight record; rows already written are never touched
// again.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/upscqa/analyzer/internal/model"
)

// Headers is the fixed column header row of the output sheet.
var Headers = []string{
	"Subject",
	"Topic",
	"Subtopic",
	"Question (Complete)",
	"Answer with Explanation (Complete)",
	"Rating (out of 10)",
	"Conceptual Depth",
	"Answer Accuracy",
	"Topic-Subtopic Relevance",
	"Improved Version",
}

var columnWidths = []float64{15, 20, 20, 60, 60, 15, 40, 40, 40, 60}

// Writer is the append-only spreadsheet sink for one session. It owns
// the workbook handle exclusively for the session's lifetime.
type Writer struct {
	f       *excelize.File
	path    string
	sheet   string
	nextRow int

	cellStyle    int
	ratingStyles ratingStyles
}

type ratingStyles struct {
	high, good, average, low int
}

// NewWriter creates the workbook, writes the styled header row and
// saves it, so the file exists on disk before the first record is
// processed.
func NewWriter(path, sheet string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	w := &Writer{f: f, path: path, sheet: sheet, nextRow: 2}
	if err := w.writeHeader(); err != nil {
		return nil, err
	}
	if err := w.save(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	headerStyle, err := w.f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"366092"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Style: 1}, {Type: "right", Style: 1},
			{Type: "top", Style: 1}, {Type: "bottom", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := w.f.SetSheetRow(w.sheet, "A1", &Headers); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(Headers))
	if err != nil {
		return err
	}
	if err := w.f.SetCellStyle(w.sheet, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("style header row: %w", err)
	}

	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := w.f.SetColWidth(w.sheet, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	// Keep the header visible while scrolling.
	if err := w.f.SetPanes(w.sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	return w.createDataStyles()
}

func (w *Writer) createDataStyles() error {
	border := []excelize.Border{
		{Type: "left", Style: 1}, {Type: "right", Style: 1},
		{Type: "top", Style: 1}, {Type: "bottom", Style: 1},
	}

	var err error
	w.cellStyle, err = w.f.NewStyle(&excelize.Style{
		Border:    border,
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
	})
	if err != nil {
		return fmt.Errorf("create cell style: %w", err)
	}

	ratingStyle := func(fill string) (int, error) {
		return w.f.NewStyle(&excelize.Style{
			Border:    border,
			Fill:      excelize.Fill{Type: "pattern", Color: []string{fill}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		})
	}
	if w.ratingStyles.high, err = ratingStyle("90EE90"); err != nil {
		return err
	}
	if w.ratingStyles.good, err = ratingStyle("FFFFE0"); err != nil {
		return err
	}
	if w.ratingStyles.average, err = ratingStyle("FFE4B5"); err != nil {
		return err
	}
	if w.ratingStyles.low, err = ratingStyle("FFB6C1"); err != nil {
		return err
	}
	return nil
}

func (w *Writer) ratingStyle(rating int) int {
	switch {
	case rating >= 9:
		return w.ratingStyles.high
	case rating >= 7:
		return w.ratingStyles.good
	case rating >= 5:
		return w.ratingStyles.average
	default:
		return w.ratingStyles.low
	}
}

// Append writes one report row and saves the workbook before
// returning. An error here means the sink can no longer be trusted and
// is fatal to the session.
func (w *Writer) Append(row model.ReportRow) error {
	values := []any{
		row.Subject,
		row.Topic,
		row.Subtopic,
		row.QuestionComplete,
		row.AnswerExplanation,
		row.Rating,
		row.ConceptualDepth,
		row.AnswerAccuracy,
		row.TopicRelevance,
		row.ImprovedVersion,
	}

	cell, err := excelize.CoordinatesToCellName(1, w.nextRow)
	if err != nil {
		return err
	}
	if err := w.f.SetSheetRow(w.sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", w.nextRow, err)
	}

	lastCol, err := excelize.ColumnNumberToName(len(values))
	if err != nil {
		return err
	}
	if err := w.f.SetCellStyle(w.sheet, cell, fmt.Sprintf("%s%d", lastCol, w.nextRow), w.cellStyle); err != nil {
		return fmt.Errorf("style row %d: %w", w.nextRow, err)
	}
	ratingCell := fmt.Sprintf("F%d", w.nextRow)
	if err := w.f.SetCellStyle(w.sheet, ratingCell, ratingCell, w.ratingStyle(row.Rating)); err != nil {
		return fmt.Errorf("style rating cell: %w", err)
	}
	if err := w.f.SetRowHeight(w.sheet, w.nextRow, 60); err != nil {
		return fmt.Errorf("set row height: %w", err)
	}

	w.nextRow++
	return w.save()
}

// RowCount returns the number of data rows appended so far.
func (w *Writer) RowCount() int {
	return w.nextRow - 2
}

// Path returns the workbook's location on disk.
func (w *Writer) Path() string {
	return w.path
}

// Finalize appends the summary block beneath the data rows and saves.
// Aggregates are spreadsheet formulas so they stay correct if rows are
// filtered later.
func (w *Writer) Finalize(summary model.RunSummary) error {
	lastData := w.nextRow - 1
	row := w.nextRow + 2

	boldStyle, err := w.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	titleStyle, err := w.f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	if err := w.f.SetCellValue(w.sheet, fmt.Sprintf("A%d", row), "ANALYSIS SUMMARY"); err != nil {
		return err
	}
	if err := w.f.SetCellStyle(w.sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), titleStyle); err != nil {
		return err
	}
	if err := w.f.MergeCell(w.sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("D%d", row)); err != nil {
		return err
	}

	if lastData >= 2 {
		ratingRange := fmt.Sprintf("F2:F%d", lastData)
		lines := []struct {
			label   string
			formula string
			value   any
		}{
			{"Average Rating:", fmt.Sprintf("AVERAGE(%s)", ratingRange), nil},
			{"High Quality (9-10):", fmt.Sprintf(`COUNTIFS(%s,">=9")`, ratingRange), nil},
			{"Good Quality (7-8):", fmt.Sprintf(`COUNTIFS(%s,">=7",%s,"<9")`, ratingRange, ratingRange), nil},
			{"Average Quality (5-6):", fmt.Sprintf(`COUNTIFS(%s,">=5",%s,"<7")`, ratingRange, ratingRange), nil},
			{"Below Standard (<5):", fmt.Sprintf(`COUNTIF(%s,"<5")`, ratingRange), nil},
			{"Total Questions:", "", summary.Completed},
		}
		for i, line := range lines {
			r := row + 1 + i
			labelCell := fmt.Sprintf("A%d", r)
			valueCell := fmt.Sprintf("B%d", r)
			if err := w.f.SetCellValue(w.sheet, labelCell, line.label); err != nil {
				return err
			}
			if err := w.f.SetCellStyle(w.sheet, labelCell, labelCell, boldStyle); err != nil {
				return err
			}
			if line.formula != "" {
				if err := w.f.SetCellFormula(w.sheet, valueCell, line.formula); err != nil {
					return err
				}
			} else if err := w.f.SetCellValue(w.sheet, valueCell, line.value); err != nil {
				return err
			}
		}
	}

	stampCell := fmt.Sprintf("A%d", row+8)
	stamp := "Generated on: " + time.Now().Format("2006-01-02 15:04:05")
	if err := w.f.SetCellValue(w.sheet, stampCell, stamp); err != nil {
		return err
	}
	italicStyle, err := w.f.NewStyle(&excelize.Style{Font: &excelize.Font{Italic: true, Size: 10}})
	if err != nil {
		return err
	}
	if err := w.f.SetCellStyle(w.sheet, stampCell, stampCell, italicStyle); err != nil {
		return err
	}

	return w.save()
}

func (w *Writer) save() error {
	if err := w.f.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// Close releases the workbook handle. The file on disk already holds
// everything appended so far.
func (w *Writer) Close() error {
	return w.f.Close()
}
