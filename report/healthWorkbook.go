// Package report exports integrity dashboards as XLSX workbooks.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/mmdatafocus/recipe_integrity/models"
)

const (
	SummarySheet = "Summary"
	IssuesSheet  = "Issues"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	severityCritical = "critical"
	severityWarning  = "warning"
)

var (
	summaryHeadings = []any{"Store ID", "Store", "Total", "Valid", "Invalid", "Health %", "Trend", "Last Checked", "Error"}
	issueHeadings   = []any{"Store ID", "Store", "Product ID", "Product", "Status", "Reason", "Severity"}
)

// BuildHealthWorkbook lays out one summary row per store and one issue row per
// critical issue or warning, in the order given.
func BuildHealthWorkbook(metrics []models.HealthMetrics) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(IssuesSheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	if err := setRow(f, SummarySheet, 1, summaryHeadings); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := setRow(f, IssuesSheet, 1, issueHeadings); err != nil {
		_ = f.Close()
		return nil, err
	}

	issueRow := 2
	for i, m := range metrics {
		row := []any{m.StoreId, m.StoreName, m.Total, m.Valid, m.Invalid, m.HealthPct, string(m.Trend), m.LastChecked.UTC().Format("2006-01-02 15:04:05"), m.Error}
		if err := setRow(f, SummarySheet, i+2, row); err != nil {
			_ = f.Close()
			return nil, err
		}
		for _, group := range []struct {
			severity string
			issues   []models.HealthIssue
		}{{severityCritical, m.CriticalIssues}, {severityWarning, m.Warnings}} {
			for _, issue := range group.issues {
				row := []any{m.StoreId, m.StoreName, issue.ProductId, issue.ProductName, string(issue.Status), issue.Reason, group.severity}
				if err := setRow(f, IssuesSheet, issueRow, row); err != nil {
					_ = f.Close()
					return nil, err
				}
				issueRow++
			}
		}
	}
	return f, nil
}

// WriteHealthWorkbook streams the workbook built from metrics to w.
func WriteHealthWorkbook(w io.Writer, metrics []models.HealthMetrics) error {
	f, err := BuildHealthWorkbook(metrics)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write health workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
