// Package normalizer coerces raw table rows into typed candidate transactions.
// Per-row problems are recorded on the candidate; only structural problems
// in the inputs are returned as errors.
package normalizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/finance-import/internal/domain/import/sniffer"
)

// DefaultDateFormats are the accepted date layouts, tried in order
var DefaultDateFormats = []string{
	"2006-01-02",           // ISO 8601
	"2006/01/02",           // YYYY/MM/DD
	"2006.01.02",           // YYYY.MM.DD
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2/1/2006",             // DD/MM/YYYY (European)
	"1/2/2006",             // MM/DD/YYYY (American)
	"2-1-2006",             // DD-MM-YYYY
	"1-2-2006",             // MM-DD-YYYY
	"2.1.2006",             // DD.MM.YYYY (German)
	"2/1/2006 15:04",
	"1/2/2006 15:04",
	"2/1/2006 15:04:05",
	"1/2/2006 15:04:05",
	"2/1/06",
	"1/2/06",
	"2 Jan 2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
}

var (
	errEmptyValue     = errors.New("empty value")
	errUnknownFormat  = errors.New("unrecognized format")
	errInvalidNumber  = errors.New("invalid number")
	errMisplacedSign  = errors.New("misplaced sign")
	errLettersInValue = errors.New("unexpected letters")
)

// OrderDateFormats moves month-first layouts ahead of day-first ones (or the
// reverse) according to the probed date order. Other layouts keep their place.
func OrderDateFormats(formats []string, order sniffer.DateOrder) []string {
	out := make([]string, len(formats))
	copy(out, formats)
	if order == sniffer.DateOrderUnknown {
		return out
	}

	rank := func(layout string) int {
		switch {
		case isMonthFirst(layout):
			if order == sniffer.DateOrderMDY {
				return 0
			}
			return 1
		case isDayFirst(layout):
			if order == sniffer.DateOrderDMY {
				return 0
			}
			return 1
		}
		return 0
	}

	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

func isMonthFirst(layout string) bool {
	return hasNumericPrefix(layout, "1") || hasNumericPrefix(layout, "01")
}

func isDayFirst(layout string) bool {
	return hasNumericPrefix(layout, "2") || hasNumericPrefix(layout, "02")
}

func hasNumericPrefix(layout, prefix string) bool {
	if !strings.HasPrefix(layout, prefix) || len(layout) <= len(prefix) {
		return false
	}
	next := layout[len(prefix)]
	return next == '/' || next == '-' || next == '.'
}

// ParseFlexibleDate parses a date using the first matching layout
func ParseFlexibleDate(s string, formats []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyValue
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %s", errUnknownFormat, s)
}

// ParsedAmount is a decimal amount and whether the source carried a sign
type ParsedAmount struct {
	Value    decimal.Decimal
	Explicit bool
}

// ParseAmount strips currency symbols, codes and thousands separators and
// parses the rest as a decimal. A leading or trailing '-', a leading '+' or
// surrounding parentheses count as an explicit sign.
func ParseAmount(s string, decimalComma bool) (ParsedAmount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ParsedAmount{}, errEmptyValue
	}

	s = stripCurrencyCode(s)

	var b strings.Builder
	negative, explicit := false, false
	// Trailing minus as printed by some banks: "4.50-"
	if trimmed := strings.TrimRightFunc(s, unicode.IsSpace); strings.HasSuffix(trimmed, "-") {
		s = strings.TrimSuffix(trimmed, "-")
		negative, explicit = true, true
	}

	openParen := false
	seenDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
			b.WriteRune(r)
		case r == '.' || r == ',':
			b.WriteRune(r)
		case r == '-' || r == '\u2212':
			if explicit || seenDigit {
				return ParsedAmount{}, errMisplacedSign
			}
			negative, explicit = true, true
		case r == '+':
			if explicit || seenDigit {
				return ParsedAmount{}, errMisplacedSign
			}
			explicit = true
		case r == '(':
			if explicit || seenDigit || openParen {
				return ParsedAmount{}, errMisplacedSign
			}
			openParen = true
		case r == ')':
			if !openParen || !seenDigit {
				return ParsedAmount{}, errMisplacedSign
			}
			openParen = false
			negative, explicit = true, true
		case unicode.Is(unicode.Sc, r), unicode.IsSpace(r), unicode.Is(unicode.Zs, r), r == '\'':
			// Currency symbols and grouping spaces/apostrophes
		case unicode.IsLetter(r):
			return ParsedAmount{}, errLettersInValue
		default:
			return ParsedAmount{}, fmt.Errorf("%w: unexpected %q", errInvalidNumber, r)
		}
	}
	if openParen {
		return ParsedAmount{}, errMisplacedSign
	}

	number := b.String()
	if decimalComma {
		number = strings.ReplaceAll(number, ".", "")  // Remove thousands separator
		number = strings.ReplaceAll(number, ",", ".") // Decimal separator to dot
	} else {
		number = strings.ReplaceAll(number, ",", "")
	}
	if number == "" || strings.Count(number, ".") > 1 || !seenDigit {
		return ParsedAmount{}, fmt.Errorf("%w: %s", errInvalidNumber, s)
	}

	d, err := decimal.NewFromString(number)
	if err != nil {
		return ParsedAmount{}, fmt.Errorf("%w: %s", errInvalidNumber, s)
	}
	if negative {
		d = d.Neg()
	}

	return ParsedAmount{Value: d, Explicit: explicit}, nil
}

// stripCurrencyCode removes a leading or trailing ISO-4217 style code ("USD 12", "12,00 EUR")
// and the "R$" marker
func stripCurrencyCode(s string) string {
	s = strings.ReplaceAll(s, "R$", "")
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return strings.TrimSpace(s)
	}
	if isCurrencyCode(fields[0]) {
		fields = fields[1:]
	} else if isCurrencyCode(fields[len(fields)-1]) {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// CleanDescription trims and collapses internal whitespace
func CleanDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
