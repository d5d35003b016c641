package analyzer

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/notaflow/notaflow/internal/domain"
)

// WriteBatchReport writes an xlsx workbook summarizing a batch: a summary
// sheet with aggregates and a per-document sheet. The caller decides when a
// report is wanted; analysis itself never touches the filesystem.
func WriteBatchReport(path string, batch domain.Batch, docs []domain.DocumentRecord, stats domain.BatchStats) error {
	f, err := buildBatchReport(batch, docs, stats)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save batch report: %w", err)
	}
	return nil
}

// RenderBatchReport streams the same workbook, used for HTTP downloads.
func RenderBatchReport(w io.Writer, batch domain.Batch, docs []domain.DocumentRecord, stats domain.BatchStats) error {
	f, err := buildBatchReport(batch, docs, stats)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write batch report: %w", err)
	}
	return nil
}

func buildBatchReport(batch domain.Batch, docs []domain.DocumentRecord, stats domain.BatchStats) (*excelize.File, error) {
	f := excelize.NewFile()

	const summary = "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to prepare summary sheet: %w", err)
	}

	rows := [][]any{
		{"Batch", batch.ID.String()},
		{"Name", batch.Name},
		{"Status", string(batch.Status)},
		{"Documents", stats.DocumentCount},
		{"Total value", stats.TotalValue},
		{"Anomalies", stats.AnomalyCount},
	}
	for _, key := range sortedKeys(stats.TotalsByTax) {
		rows = append(rows, []any{"Total " + key, stats.TotalsByTax[key]})
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summary, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write summary row: %w", err)
		}
	}

	const sheet = "Documents"
	if _, err := f.NewSheet(sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create documents sheet: %w", err)
	}
	header := []any{"Document", "File", "Type", "Status", "Access key", "Emitter", "Declared total", "Verdict"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write document header: %w", err)
	}
	for i, doc := range docs {
		row := []any{doc.ID.String(), doc.FileName, string(doc.Type), string(doc.Status), "", "", "", ""}
		if ex := doc.Extraction; ex != nil {
			row[4] = ex.AccessKey
			row[5] = ex.Emitter.Name
			row[6] = ex.DeclaredTotal
		}
		if doc.Validation != nil {
			row[7] = string(doc.Validation.Verdict)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write document row: %w", err)
		}
	}
	return f, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
