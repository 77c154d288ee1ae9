package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

const stampLayout = "2006-01-02 15:04"

// BuildDailyPDF renders the daily fleet report as a PDF.
func BuildDailyPDF(rpt DailyReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Daily Fleet Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", rpt.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Plant", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Inverter", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Last Update", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Power (kW)", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, device := range rpt.Devices {
		pdf.CellFormat(45, 6, device.Plant, "1", 0, "L", false, 0, "")
		pdf.CellFormat(45, 6, device.Serial, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, formatStamp(device.LastUpdate), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, formatPower(device.PowerWatts), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Active Issues (%d)", len(rpt.Issues)))
	pdf.Ln(7)
	pdf.SetFont("Arial", "", 10)
	if len(rpt.Issues) == 0 {
		pdf.Cell(0, 6, "None")
		pdf.Ln(5)
	}
	for _, issue := range rpt.Issues {
		pdf.Cell(0, 6, fmt.Sprintf("%s (since %s)", issue.Key.String(), issue.NotifiedAt.Format(stampLayout)))
		pdf.Ln(5)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDailyXLSX renders the daily fleet report as an XLSX workbook.
func BuildDailyXLSX(rpt DailyReport) ([]byte, error) {
	f := excelize.NewFile()
	devicesSheet := "devices"
	issuesSheet := "issues"
	f.SetSheetName("Sheet1", devicesSheet)
	f.NewSheet(issuesSheet)

	_ = f.SetCellValue(devicesSheet, "A1", "Plant")
	_ = f.SetCellValue(devicesSheet, "B1", "Inverter")
	_ = f.SetCellValue(devicesSheet, "C1", "Last Update")
	_ = f.SetCellValue(devicesSheet, "D1", "Power (kW)")
	for i, device := range rpt.Devices {
		row := i + 2
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("A%d", row), device.Plant)
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("B%d", row), device.Serial)
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("C%d", row), formatStamp(device.LastUpdate))
		if device.PowerWatts != nil {
			_ = f.SetCellValue(devicesSheet, fmt.Sprintf("D%d", row), *device.PowerWatts/1000)
		}
	}

	_ = f.SetCellValue(issuesSheet, "A1", "Plant")
	_ = f.SetCellValue(issuesSheet, "B1", "Inverter")
	_ = f.SetCellValue(issuesSheet, "C1", "Kind")
	_ = f.SetCellValue(issuesSheet, "D1", "Since")
	_ = f.SetCellValue(issuesSheet, "E1", "Message")
	for i, issue := range rpt.Issues {
		row := i + 2
		_ = f.SetCellValue(issuesSheet, fmt.Sprintf("A%d", row), issue.Key.Plant)
		_ = f.SetCellValue(issuesSheet, fmt.Sprintf("B%d", row), issue.Key.Scope)
		_ = f.SetCellValue(issuesSheet, fmt.Sprintf("C%d", row), string(issue.Key.Kind))
		_ = f.SetCellValue(issuesSheet, fmt.Sprintf("D%d", row), issue.NotifiedAt.Format(stampLayout))
		_ = f.SetCellValue(issuesSheet, fmt.Sprintf("E%d", row), issue.Message)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatStamp(at time.Time) string {
	if at.IsZero() {
		return "-"
	}
	return at.Format(stampLayout)
}

func formatPower(watts *float64) string {
	if watts == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *watts/1000)
}
