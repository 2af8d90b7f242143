package interfaces

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	motionlog "hemlarm-relay/internal/motionlog/domain"
)

func sampleEntries() []motionlog.Entry {
	return []motionlog.Entry{
		{Timestamp: "2026-03-01 10:00:00", DeviceID: "sensor-1", Distance: 12.5, AlarmActive: true, Message: "ALARM: sensor-1 detected motion at 12.5 cm"},
		{Timestamp: "2026-03-01 10:00:05", DeviceID: "sensor-2", Distance: 28, Message: "sensor-2 detected motion at 28.0 cm"},
	}
}

func TestBuildLogCSV(t *testing.T) {
	data, err := BuildLogCSV(sampleEntries())
	if err != nil {
		t.Fatalf("build csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(lines))
	}
	if lines[1] != "2026-03-01 10:00:00,sensor-1,12.50,true,ALARM: sensor-1 detected motion at 12.5 cm" {
		t.Fatalf("unexpected row: %s", lines[1])
	}
}

func TestBuildLogXLSX(t *testing.T) {
	data, err := BuildLogXLSX(sampleEntries(), time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	device, err := f.GetCellValue("entries", "B2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if device != "sensor-1" {
		t.Fatalf("expected sensor-1 in B2, got %q", device)
	}
	alarms, _ := f.GetCellValue("summary", "B5")
	if alarms != "1" {
		t.Fatalf("expected 1 alarm in summary, got %q", alarms)
	}
}

func TestBuildLogPDF(t *testing.T) {
	data, err := BuildLogPDF(sampleEntries(), time.Now())
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected pdf header")
	}
}

func TestBuildExportUnsupported(t *testing.T) {
	if _, err := BuildExport("docx", nil, time.Now()); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
