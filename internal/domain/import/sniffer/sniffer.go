// Package sniffer provides automatic detection of CSV/TSV file layouts and
// best-effort inference of which columns carry which transaction fields.
package sniffer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

// headerKeywords are lower-case fragments that mark a line as a header row.
// Metadata lines above the table (account numbers, export dates) rarely
// contain them.
var headerKeywords = []string{
	"date", "description", "amount", "debit", "credit", "balance", "category", "payee", "memo",
	"data mov", "descrição", "descricao", "débito", "debito", "crédito", "credito", "categoria",
	"fecha", "descripción", "descripcion", "importe", "cargo", "abono",
}

// candidateDelimiters in tie-break order
var candidateDelimiters = []rune{';', '\t', ',', '|'}

// headerScanLimit bounds how many leading lines are considered as headers
const headerScanLimit = 20

// FileConfig holds the detected layout of a delimited file
type FileConfig struct {
	Delimiter rune
	SkipLines int // lines before the header row
}

// DetectOptions overrides parts of the detection.
type DetectOptions struct {
	// HeaderRowIndex is the 0-based header line, or -1 to auto-detect.
	HeaderRowIndex int
	// Delimiter is used instead of the detected one when non-zero.
	Delimiter rune
}

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoHeadersFound = errors.New("could not find data headers")
)

// headerCandidate is a line that could be the header row
type headerCandidate struct {
	line      int
	delimiter rune
	fields    int // delimiter occurrences
	keywords  int
}

// score ranks keyword lines above plain ones, wider lines first
func (c headerCandidate) score() int {
	if c.keywords == 0 {
		return c.fields
	}
	return 1_000_000 + c.fields*10 + c.keywords
}

// DetectConfig locates the header row and delimiter of a delimited file
func DetectConfig(data []byte, opts DetectOptions) (*FileConfig, error) {
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyFile
	}
	lines := strings.Split(text, "\n")

	var best headerCandidate
	if opts.HeaderRowIndex >= 0 {
		idx, line := nextContentLine(lines, opts.HeaderRowIndex)
		if idx < 0 {
			return nil, ErrNoHeadersFound
		}
		best = inspectLine(idx, line)
	} else {
		found, ok := scanForHeader(lines)
		if !ok {
			return nil, ErrNoHeadersFound
		}
		best = found
	}

	cfg := &FileConfig{Delimiter: best.delimiter, SkipLines: best.line}
	if opts.Delimiter != 0 {
		cfg.Delimiter = opts.Delimiter
	}
	if cfg.Delimiter == 0 {
		// single column
		cfg.Delimiter = ','
	}
	return cfg, nil
}

// nextContentLine returns the first non-blank line at or after from
func nextContentLine(lines []string, from int) (int, string) {
	for i := from; i < len(lines); i++ {
		if line := trimLine(lines[i], i == 0); line != "" {
			return i, line
		}
	}
	return -1, ""
}

func scanForHeader(lines []string) (headerCandidate, bool) {
	var (
		best  headerCandidate
		found bool
	)
	for i := 0; i < len(lines) && i <= headerScanLimit; i++ {
		line := trimLine(lines[i], i == 0)
		if line == "" {
			continue
		}
		c := inspectLine(i, line)
		if c.fields == 0 {
			continue
		}
		if !found || c.score() > best.score() {
			best, found = c, true
		}
	}
	return best, found
}

func inspectLine(idx int, line string) headerCandidate {
	c := headerCandidate{line: idx}
	for _, d := range candidateDelimiters {
		if n := strings.Count(line, string(d)); n > c.fields {
			c.delimiter, c.fields = d, n
		}
	}
	lower := strings.ToLower(line)
	for _, kw := range headerKeywords {
		if strings.Contains(lower, kw) {
			c.keywords++
		}
	}
	return c
}

func trimLine(line string, first bool) string {
	line = strings.TrimRight(line, "\r")
	if first {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimSpace(line)
}

// Fingerprint hashes a header layout. Headers are compared on their
// lower-cased letters and digits only, so "Posted Date" and "posted_date"
// produce the same fingerprint.
func Fingerprint(headers []string) string {
	h := sha256.New()
	first := true
	for _, header := range headers {
		key := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, header)
		if key == "" {
			continue
		}
		if !first {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(key))
		first = false
	}
	return hex.EncodeToString(h.Sum(nil))
}
