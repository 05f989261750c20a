package main

import (
	"fmt"
	"time"

	"github.com/jmerrifield20/caseledger/pkg/client"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	logsSheet    = "Logs"
)

// writeVerificationWorkbook saves a case verification as an Excel workbook
// with a summary sheet and one row per log version.
func writeVerificationWorkbook(path string, r *client.CaseVerification) error {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	summary := [][]any{
		{"Case", r.CaseID},
		{"Status", r.Status},
		{"Ledger", r.LedgerID},
		{"Checked at", r.CheckedAt.Format(time.RFC3339)},
		{"Verified", r.Verified},
		{"Logs", r.Logs},
		{"Mismatches", r.Mismatch},
		{"Chain intact", r.ChainIntact},
		{"Summary consistent", r.SummaryConsistent},
		{"Finalized", r.Finalized},
		{"Final hash", r.FinalHash},
		{"Final hash matches", r.FinalHashMatches},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(summary)), bold); err != nil {
		return fmt.Errorf("style summary: %w", err)
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 20)
	_ = f.SetColWidth(summarySheet, "B", "B", 70)

	if _, err := f.NewSheet(logsSheet); err != nil {
		return fmt.Errorf("create logs sheet: %w", err)
	}
	header := []any{"Group", "Provisional", "Log", "Version", "Ledger index", "Parent index", "Superseded", "Verified", "Recomputed hash", "Ledger hash", "Problem"}
	if err := f.SetSheetRow(logsSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetCellStyle(logsSheet, "A1", "K1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	rowNum := 2
	for _, g := range r.Groups {
		for _, v := range append([]*client.LogVerification{g.Original}, g.Edits...) {
			if v == nil {
				continue
			}
			var parent any = ""
			if v.ParentIndex != nil {
				parent = *v.ParentIndex
			}
			row := []any{g.Key, g.Provisional, v.LogID, v.Version, v.LedgerIndex, parent, v.Superseded, v.Verified, v.RecomputedHash, v.OnChainHash, v.Problem}
			cell, _ := excelize.CoordinatesToCellName(1, rowNum)
			if err := f.SetSheetRow(logsSheet, cell, &row); err != nil {
				return fmt.Errorf("write log row: %w", err)
			}
			rowNum++
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
