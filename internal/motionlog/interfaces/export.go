package interfaces

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	motionlog "hemlarm-relay/internal/motionlog/domain"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// ErrUnsupportedFormat indicates an unknown export format.
var ErrUnsupportedFormat = errors.New("motion log export: unsupported format")

// ContentType returns the MIME type for an export format.
func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// BuildExport renders entries in the requested format.
func BuildExport(format string, entries []motionlog.Entry, generatedAt time.Time) ([]byte, error) {
	switch format {
	case FormatCSV:
		return BuildLogCSV(entries)
	case FormatXLSX:
		return BuildLogXLSX(entries, generatedAt)
	case FormatPDF:
		return BuildLogPDF(entries, generatedAt)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// BuildLogCSV renders the log window as CSV.
func BuildLogCSV(entries []motionlog.Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"timestamp", "device_id", "distance", "alarm_active", "message"}); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := writer.Write([]string{
			entry.Timestamp,
			entry.DeviceID,
			strconv.FormatFloat(entry.Distance, 'f', 2, 64),
			strconv.FormatBool(entry.AlarmActive),
			entry.Message,
		}); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildLogXLSX renders a minimal XLSX with a summary and an entries sheet.
func BuildLogXLSX(entries []motionlog.Entry, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	entriesSheet := "entries"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(entriesSheet); err != nil {
		return nil, err
	}

	alarms := countAlarms(entries)
	_ = f.SetCellValue(summarySheet, "A1", "Motion Log")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", generatedAt.Local().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Entries")
	_ = f.SetCellValue(summarySheet, "B4", len(entries))
	_ = f.SetCellValue(summarySheet, "A5", "Alarms")
	_ = f.SetCellValue(summarySheet, "B5", alarms)

	_ = f.SetCellValue(entriesSheet, "A1", "Timestamp")
	_ = f.SetCellValue(entriesSheet, "B1", "Device")
	_ = f.SetCellValue(entriesSheet, "C1", "Distance (cm)")
	_ = f.SetCellValue(entriesSheet, "D1", "Alarm")
	_ = f.SetCellValue(entriesSheet, "E1", "Message")
	for i, entry := range entries {
		row := i + 2
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("A%d", row), entry.Timestamp)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("B%d", row), entry.DeviceID)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("C%d", row), entry.Distance)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("D%d", row), entry.AlarmActive)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("E%d", row), entry.Message)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildLogPDF renders a minimal PDF table of the log window.
func BuildLogPDF(entries []motionlog.Entry, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Motion Log")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Local().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Entries: %d  Alarms: %d", len(entries), countAlarms(entries)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Timestamp", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Distance (cm)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Alarm", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, entry := range entries {
		alarm := "no"
		if entry.AlarmActive {
			alarm = "yes"
		}
		pdf.CellFormat(45, 6, entry.Timestamp, "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, entry.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", entry.Distance), "1", 0, "R", false, 0, "")
		pdf.CellFormat(20, 6, alarm, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func countAlarms(entries []motionlog.Entry) int {
	count := 0
	for _, entry := range entries {
		if entry.AlarmActive {
			count++
		}
	}
	return count
}
