// Package parser reads uploaded CSV and spreadsheet files into raw tables.
// It does not interpret cell values; typing happens in the normalizer.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

// ReaderConfig configures the tabular reader
type ReaderConfig struct {
	SampleSize int   // rows kept for inference and preview (default 50)
	MaxRows    int   // data rows allowed per file, 0 = unlimited
	MaxBytes   int64 // upload size limit, 0 = unlimited

	// CSV only
	Delimiter rune // 0 = auto-detect
	HeaderRow int  // 0-based header line, -1 = auto-detect past bank metadata
}

// DefaultConfig returns a reader config with sensible defaults
func DefaultConfig() ReaderConfig {
	return ReaderConfig{
		SampleSize: 50,
		MaxRows:    100000,
		HeaderRow:  0,
	}
}

// Reader turns uploaded bytes into a RawTable
type Reader struct {
	config ReaderConfig
}

// NewReader creates a reader with the given configuration
func NewReader(config ReaderConfig) *Reader {
	if config.SampleSize <= 0 {
		config.SampleSize = 50
	}
	return &Reader{config: config}
}

// Read parses the whole stream as the declared file type. size is the
// declared length, or 0 when unknown; a declared size over the limit is
// refused before reading. It fails with model.ErrUnreadableFile when the
// bytes cannot be parsed as that type and with model.ErrEmptyFile when the
// header is not followed by any data row.
func (r *Reader) Read(ctx context.Context, in io.Reader, fileType model.FileType, size int64) (*model.RawTable, error) {
	limit := r.config.MaxBytes
	if limit > 0 && size > limit {
		return nil, fmt.Errorf("%w: upload larger than %d bytes", model.ErrUnreadableFile, limit)
	}
	if limit > 0 {
		in = io.LimitReader(in, limit+1)
	}

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := buf.ReadFrom(in); err != nil {
		return nil, fmt.Errorf("%w: failed to read upload: %v", model.ErrUnreadableFile, err)
	}
	data := buf.Bytes()
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: upload larger than %d bytes", model.ErrUnreadableFile, limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		records recordSource
		err     error
	)
	switch fileType {
	case model.FileTypeCSV:
		records, err = newCSVSource(data, r.config)
	case model.FileTypeExcel:
		records, err = newExcelSource(data)
	case model.FileTypeXLS:
		records, err = newXLSSource(data)
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedFileType, fileType)
	}
	if err != nil {
		if errors.Is(err, model.ErrEmptyFile) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", model.ErrUnreadableFile, err)
	}
	defer records.Close()

	return r.buildTable(ctx, fileType, records)
}

// recordSource yields raw records with their 1-based line numbers.
// The first record returned is the header.
type recordSource interface {
	Next() (record []string, line int, err error) // io.EOF when exhausted
	Close() error
}

func (r *Reader) buildTable(ctx context.Context, fileType model.FileType, src recordSource) (*model.RawTable, error) {
	header, _, err := src.Next()
	if err == io.EOF {
		return nil, model.ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", model.ErrUnreadableFile, err)
	}

	columns := DisambiguateHeaders(header)
	rows := make([]model.RawRow, 0, 256)

	for {
		record, line, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", model.ErrUnreadableFile, line, err)
		}
		if isBlank(record) {
			continue
		}
		if r.config.MaxRows > 0 && len(rows) >= r.config.MaxRows {
			return nil, fmt.Errorf("%w: limit is %d", model.ErrTooManyRows, r.config.MaxRows)
		}
		if len(rows)%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		values := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				values[col] = strings.TrimSpace(record[i])
			} else {
				values[col] = ""
			}
		}
		rows = append(rows, model.RawRow{Index: len(rows), Line: line, Values: values})
	}

	if len(rows) == 0 {
		return nil, model.ErrEmptyFile
	}

	return model.NewRawTable(fileType, columns, rows, r.config.SampleSize), nil
}

// DisambiguateHeaders trims header names, names empty headers "column_<n>"
// and suffixes repeated names with their occurrence ("Amount", "Amount_2").
// A suffix that collides with another header is skipped.
func DisambiguateHeaders(header []string) []string {
	out := make([]string, len(header))
	taken := make(map[string]bool, len(header))

	base := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		base[i] = h
	}
	// Names as written are reserved first so that a later "Amount_2" keeps its name
	original := make(map[string]int, len(base))
	for _, h := range base {
		original[h]++
	}

	for i, h := range base {
		if !taken[h] {
			out[i] = h
			taken[h] = true
			continue
		}
		for n := 2; ; n++ {
			candidate := h + "_" + strconv.Itoa(n)
			if !taken[candidate] && original[candidate] == 0 {
				out[i] = candidate
				taken[candidate] = true
				break
			}
		}
	}
	return out
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
