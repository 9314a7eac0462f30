package store

import (
	"fmt"
	"time"

	"github.com/upscqa/analyzer/internal/model"
)

// ExportRuns builds the export structure covering every persisted run
// and its outcomes.
func (s *Store) ExportRuns(modelName string) (model.RunExport, error) {
	runs, err := s.ListRuns()
	if err != nil {
		return model.RunExport{}, fmt.Errorf("list runs: %w", err)
	}

	export := model.RunExport{
		GeneratedAt: time.Now(),
		Model:       modelName,
	}
	for _, r := range runs {
		outcomes, err := s.OutcomesForRun(r.ID)
		if err != nil {
			return model.RunExport{}, fmt.Errorf("outcomes for run %d: %w", r.ID, err)
		}
		export.Runs = append(export.Runs, model.RunDetail{Run: r, Outcomes: outcomes})
	}
	return export, nil
}
