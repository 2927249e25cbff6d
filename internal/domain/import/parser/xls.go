package parser

import (
	"fmt"
	"io"
	"os"

	"github.com/shakinm/xlsReader/xls"
)

// xlsSource holds the first sheet of a legacy BIFF (.xls) workbook.
// The format has no streaming reader, so rows are materialized up front.
type xlsSource struct {
	rows [][]string
	pos  int
	seen bool
}

func newXLSSource(data []byte) (src *xlsSource, err error) {
	// The BIFF decoder panics on some truncated files
	defer func() {
		if r := recover(); r != nil {
			src, err = nil, fmt.Errorf("corrupt xls workbook: %v", r)
		}
	}()

	tmpFile, err := os.CreateTemp("", "import-*.xls")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	if _, err := tmpFile.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	tmpFile.Close()

	book, err := xls.OpenFile(tmpFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to open xls workbook: %w", err)
	}

	sheet, err := book.GetSheet(0)
	if err != nil || sheet == nil {
		return nil, errNoSheet
	}

	var rows [][]string
	for _, row := range sheet.GetRows() {
		cols := row.GetCols()
		record := make([]string, len(cols))
		for i, col := range cols {
			record[i] = col.GetString()
		}
		rows = append(rows, record)
	}

	return &xlsSource{rows: rows}, nil
}

func (s *xlsSource) Next() ([]string, int, error) {
	for s.pos < len(s.rows) {
		record := s.rows[s.pos]
		s.pos++
		if !s.seen && isBlank(record) {
			continue
		}
		s.seen = true
		return record, s.pos, nil
	}
	return nil, 0, io.EOF
}

func (s *xlsSource) Close() error { return nil }
