// Package report renders daily business summaries as spreadsheets.
package report

import (
	"bytes"
	"fmt"
	"time"

	"cityv-crowd/internal/models"

	"github.com/xuri/excelize/v2"
)

// DailySheet sheet name of the export
const DailySheet = "Daily Summaries"

// DailyHeader export columns
var DailyHeader = []string{
	"Date",
	"Total Entries",
	"Total Exits",
	"Avg Occupancy",
	"Max Occupancy",
	"Min Occupancy",
	"Peak Hour",
	"Peak Hour Visitors",
	"Detections",
	"Active Cameras",
	"Updated At",
}

var dailyColumnWidths = []float64{14, 14, 12, 15, 15, 15, 11, 19, 12, 16, 22}

// DailyFilename attachment name for a business and date range
func DailyFilename(businessID, fromDate, toDate string) string {
	return fmt.Sprintf("cityv-%s-%s_%s.xlsx", businessID, fromDate, toDate)
}

// GenerateDailyExport writes one row per summary under a styled header.
// An empty list yields the header only. Update times are shown in loc.
func GenerateDailyExport(summaries []models.DailySummary, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(DailySheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range DailyHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(DailySheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(DailySheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(DailySheet, name, name, dailyColumnWidths[col]); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, s := range summaries {
		row := i + 2
		values := dailyRow(s, loc)
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(DailySheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", row, err)
		}
	}

	if err := f.SetPanes(DailySheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	return buf.Bytes(), nil
}

func dailyRow(s models.DailySummary, loc *time.Location) []interface{} {
	var peak interface{} = ""
	if s.PeakHour != nil {
		peak = fmt.Sprintf("%02d:00", *s.PeakHour)
	}
	updated := ""
	if !s.UpdatedAt.IsZero() {
		updated = s.UpdatedAt.In(loc).Format("2006-01-02 15:04:05")
	}
	return []interface{}{
		s.SummaryDate,
		s.TotalEntries,
		s.TotalExits,
		s.AvgOccupancy,
		s.MaxOccupancy,
		s.MinOccupancy,
		peak,
		s.PeakHourVisitors,
		s.TotalDetections,
		s.ActiveCamerasCount,
		updated,
	}
}
