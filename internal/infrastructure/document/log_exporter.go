package document

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	logSheet        = "Logs"
)

var logHeader = []interface{}{"Seq", "Step", "Time", "Operator", "Operator ID", "Action", "Changes", "CC"}

// LogExporter writes an item's audit trail as a single-sheet workbook
type LogExporter struct {
	logger *zap.Logger
}

// NewLogExporter creates a new xlsx log exporter
func NewLogExporter(logger *zap.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

// ContentType returns the MIME type of the exported file
func (e *LogExporter) ContentType() string {
	return xlsxContentType
}

// ExportLogs renders one row per log entry under a title row
func (e *LogExporter) ExportLogs(item *entity.WorkflowItem, logs []entity.LogEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), logSheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	title := fmt.Sprintf("%s #%d %s (%s)", item.Kind, item.ID, item.Title, item.Status)
	if err := f.SetCellValue(logSheet, "A1", title); err != nil {
		return nil, fmt.Errorf("failed to write title: %w", err)
	}
	if err := f.SetSheetRow(logSheet, "A2", &logHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetCellStyle(logSheet, "A1", "H2", bold)
	}

	for i, l := range logs {
		row := []interface{}{
			l.Seq,
			l.StepIndex,
			l.Timestamp.Format("2006-01-02 15:04:05"),
			l.OperatorName,
			l.OperatorID,
			l.Action,
			l.FreeTextChanges,
			strings.Join(l.CCUserNames, ", "),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(logSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write log %d: %w", l.Seq, err)
		}
	}

	_ = f.SetColWidth(logSheet, "C", "C", 20)
	_ = f.SetColWidth(logSheet, "G", "G", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}

	e.logger.Debug("Logs exported", zap.Int64("item_id", item.ID), zap.Int("rows", len(logs)))
	return buf.Bytes(), nil
}
