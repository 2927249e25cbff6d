package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

var errNoSheet = errors.New("no suitable sheet found")

// excelSource streams rows of the best sheet of an XLSX workbook
type excelSource struct {
	file       *excelize.File
	rows       *excelize.Rows
	rowNum     int
	seenHeader bool
}

func newExcelSource(data []byte) (*excelSource, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}

	sheetName := findTransactionSheet(f.GetSheetList())
	if sheetName == "" {
		f.Close()
		return nil, errNoSheet
	}

	// Row iterator for memory efficiency
	rows, err := f.Rows(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create row iterator for sheet %s: %w", sheetName, err)
	}

	return &excelSource{file: f, rows: rows}, nil
}

func (s *excelSource) Next() ([]string, int, error) {
	for s.rows.Next() {
		s.rowNum++
		row, err := s.rows.Columns()
		if err != nil {
			return nil, s.rowNum, err
		}
		// Title rows above the header are left blank in most exports
		if !s.seenHeader && isBlank(row) {
			continue
		}
		s.seenHeader = true
		return row, s.rowNum, nil
	}
	if err := s.rows.Error(); err != nil {
		return nil, s.rowNum, err
	}
	return nil, 0, io.EOF
}

func (s *excelSource) Close() error {
	if err := s.rows.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// findTransactionSheet picks the best sheet for transaction data
func findTransactionSheet(sheets []string) string {
	if len(sheets) == 0 {
		return ""
	}

	preferredNames := []string{
		"transactions", "movimentos", "extrato",
		"statement", "data", "sheet1",
	}

	for _, preferred := range preferredNames {
		for _, sheet := range sheets {
			if strings.EqualFold(strings.TrimSpace(sheet), preferred) {
				return sheet
			}
		}
	}

	// First sheet as fallback
	return sheets[0]
}
