package replay

import (
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/reporting"
)

// Report renders a run and its step logs as an XLSX workbook with a "Run"
// summary sheet and a "Steps" sheet.
func Report(sc *scenario.Scenario, run *scenario.Run, logs []*scenario.StepLog) ([]byte, error) {
	summary := reporting.Sheet{
		Name:    "Run",
		Headers: []string{"Field", "Value"},
		Widths:  []float64{18, 48},
		Rows: [][]interface{}{
			{"Run", run.ID.String()},
			{"Scenario", sc.Key},
			{"Protocol", sc.Protocol},
			{"Status", run.Status},
			{"Dry run", run.DryRun},
			{"Started at", run.StartedAt},
			{"Finished at", run.FinishedAt},
			{"Total steps", run.TotalSteps},
			{"Sent", run.SuccessSteps},
			{"Errors", run.ErrorSteps},
			{"Skipped", run.SkippedSteps},
			{"Message", run.ErrorMessage},
		},
	}
	if run.DestinationID != nil {
		summary.Rows = append(summary.Rows, []interface{}{"Destination", run.DestinationID.String()})
	}

	steps := reporting.Sheet{
		Name:    "Steps",
		Headers: []string{"Order", "Status", "Ack", "Duration (ms)", "Dispatched at", "Logged at", "Error", "Payload excerpt"},
		Widths:  []float64{8, 10, 6, 14, 22, 22, 40, 80},
		Rows:    make([][]interface{}, 0, len(logs)),
	}
	for _, l := range logs {
		steps.Rows = append(steps.Rows, []interface{}{
			l.OrderIndex, l.Status, l.AckCode, l.DurationMS, l.DispatchedAt, l.LoggedAt, l.ErrorMessage, l.PayloadExcerpt,
		})
	}
	return reporting.WriteXLSX(summary, steps)
}
