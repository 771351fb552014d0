package document

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// SignatureWriter stamps signatures into xlsx documents
type SignatureWriter struct {
	logger *zap.Logger
}

// NewSignatureWriter creates a new signature writer
func NewSignatureWriter(logger *zap.Logger) *SignatureWriter {
	return &SignatureWriter{logger: logger}
}

// WriteSignature sets cell to signature and returns the re-encoded workbook.
// cell is "Sheet!A1" (the sheet name may be single-quoted) or "A1" on the first sheet.
func (w *SignatureWriter) WriteSignature(ctx context.Context, doc []byte, cell, signature string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet, axis, err := splitCellRef(f, cell)
	if err != nil {
		return nil, err
	}

	if err := f.SetCellValue(sheet, axis, signature); err != nil {
		return nil, fmt.Errorf("failed to set cell %s!%s: %w", sheet, axis, err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}

	w.logger.Debug("Signature written",
		zap.String("sheet", sheet),
		zap.String("cell", axis))

	return buf.Bytes(), nil
}

// splitCellRef resolves a cell reference to an existing sheet and a valid axis
func splitCellRef(f *excelize.File, ref string) (string, string, error) {
	sheet, axis := "", ref
	if i := strings.LastIndex(ref, "!"); i >= 0 {
		sheet = strings.Trim(ref[:i], "'")
		axis = ref[i+1:]
	}
	axis = strings.ToUpper(strings.TrimSpace(axis))

	if _, _, err := excelize.CellNameToCoordinates(axis); err != nil {
		return "", "", fmt.Errorf("invalid cell %q: %w", ref, err)
	}

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return "", "", fmt.Errorf("workbook has no sheets")
		}
		return sheets[0], axis, nil
	}

	idx, err := f.GetSheetIndex(sheet)
	if err != nil || idx < 0 {
		return "", "", fmt.Errorf("sheet %q not found", sheet)
	}
	return sheet, axis, nil
}
