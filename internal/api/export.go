package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ledger"
)

const alertSheet = "Alerts"

var alertExportHeader = []string{
	"Alert ID",
	"Timestamp",
	"Patient ID",
	"Patient Name",
	"Room",
	"Condition",
	"Urgency",
	"Confidence",
	"Source",
	"Description",
	"Transcript",
	"Acknowledged",
	"Acknowledged By",
	"Acknowledged At",
}

var alertExportWidths = []float64{34, 22, 16, 22, 10, 20, 12, 12, 16, 48, 48, 14, 18, 22}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BuildAlertWorkbook renders alerts as a single-sheet xlsx workbook with a
// frozen header row.
func BuildAlertWorkbook(alerts []ledger.Alert) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(alertSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FDE2E2"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, header := range alertExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellValue(alertSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(alertSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetColWidth(alertSheet, name, name, alertExportWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for i, a := range alerts {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		row := alertRow(a)
		if err := f.SetSheetRow(alertSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(alertSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func alertRow(a ledger.Alert) []any {
	transcript := ""
	if a.Transcript != nil {
		transcript = *a.Transcript
	}
	ackAt := ""
	if a.AcknowledgedAt != nil {
		ackAt = a.AcknowledgedAt.UTC().Format(time.RFC3339)
	}
	return []any{
		a.ID,
		a.Timestamp.UTC().Format(time.RFC3339),
		a.PatientID,
		a.PatientName,
		a.RoomNumber,
		a.Condition,
		a.Urgency,
		a.Confidence,
		a.Source,
		a.Description,
		transcript,
		strconv.FormatBool(a.Acknowledged),
		a.AcknowledgedBy,
		ackAt,
	}
}

func (h *Handler) handleAlertsExport(w http.ResponseWriter, r *http.Request) {
	body, err := BuildAlertWorkbook(h.router.Ledger().Recent(0))
	if err != nil {
		h.log.Error("export alerts", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to export alerts")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="alerts-%s.xlsx"`, time.Now().UTC().Format("20060102-150405")))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
