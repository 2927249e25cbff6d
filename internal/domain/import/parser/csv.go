package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"unicode/utf8"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	"github.com/FACorreiaa/finance-import/internal/domain/import/sniffer"
)

type csvSource struct {
	reader    *csv.Reader
	skipLines int
}

var errBinaryContent = errors.New("binary content is not delimited text")

func newCSVSource(data []byte, config ReaderConfig) (*csvSource, error) {
	// Spreadsheets and other binaries uploaded as CSV contain NUL bytes
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, errBinaryContent
	}
	data = normalizeCSVBytes(data)

	detected, err := sniffer.DetectConfig(data, sniffer.DetectOptions{
		HeaderRowIndex: config.HeaderRow,
		Delimiter:      config.Delimiter,
	})
	if err != nil {
		if errors.Is(err, sniffer.ErrEmptyFile) {
			return nil, model.ErrEmptyFile
		}
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(skipLines(data, detected.SkipLines)))
	reader.Comma = detected.Delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1 // Variable field count

	return &csvSource{reader: reader, skipLines: detected.SkipLines}, nil
}

func (s *csvSource) Next() ([]string, int, error) {
	record, err := s.reader.Read()
	if err != nil {
		line := 0
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			line = parseErr.StartLine + s.skipLines
		}
		return nil, line, err
	}
	line, _ := s.reader.FieldPos(0)
	return record, line + s.skipLines, nil
}

func (s *csvSource) Close() error { return nil }

// skipLines drops the first n lines of data
func skipLines(data []byte, n int) []byte {
	for i := 0; i < n; i++ {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return nil
		}
		data = data[idx+1:]
	}
	return data
}

// normalizeCSVBytes strips a UTF-8 BOM and decodes Latin-1 exports
func normalizeCSVBytes(data []byte) []byte {
	data = stripUTF8BOM(data)
	if utf8.Valid(data) {
		return data
	}
	return decodeLatin1(data)
}

func stripUTF8BOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

func decodeLatin1(data []byte) []byte {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return []byte(string(runes))
}
