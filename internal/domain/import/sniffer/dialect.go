package sniffer

import "strings"

// DateOrder is the inferred position of day and month in slash/dash dates
type DateOrder string

const (
	DateOrderUnknown DateOrder = ""
	DateOrderDMY     DateOrder = "DMY"
	DateOrderMDY     DateOrder = "MDY"
)

// RegionalDialect represents inferred regional formatting for amounts and dates
type RegionalDialect struct {
	DecimalSeparator   rune // '.' (US) or ',' (EU)
	ThousandsSeparator rune // ',' (US) or '.' (EU)
	DateOrder          DateOrder
	CurrencyHint       string  // "EUR", "USD", "BRL" if detected
	Confidence         float64 // 0.0-1.0 confidence score
	IsEuropeanFormat   bool    // true if comma is the decimal separator
}

// ProbeDialect examines sample amount and date values to infer the regional
// "dialect" of a file. It is deterministic for a given sample.
func ProbeDialect(amounts, dates []string) *RegionalDialect {
	dialect := &RegionalDialect{
		DecimalSeparator:   '.',
		ThousandsSeparator: ',',
		Confidence:         0.5,
	}

	europeanHints := 0
	usHints := 0

	for _, val := range amounts {
		if val == "" {
			continue
		}
		switch hint := analyzeAmountFormat(val); {
		case hint > 0:
			europeanHints++
		case hint < 0:
			usHints++
		}

		switch {
		case strings.Contains(val, "€") || strings.Contains(val, "EUR"):
			dialect.CurrencyHint = "EUR"
			europeanHints++
		case strings.Contains(val, "R$") || strings.Contains(val, "BRL"):
			dialect.CurrencyHint = "BRL"
			europeanHints++ // Brazil uses European format
		case strings.Contains(val, "$"):
			if dialect.CurrencyHint == "" {
				dialect.CurrencyHint = "USD"
			}
			usHints++
		}
	}

	if europeanHints > usHints {
		dialect.DecimalSeparator = ','
		dialect.ThousandsSeparator = '.'
		dialect.IsEuropeanFormat = true
	}

	if totalHints := europeanHints + usHints; totalHints > 0 {
		winningHints := europeanHints
		if usHints > europeanHints {
			winningHints = usHints
		}
		dialect.Confidence = float64(winningHints) / float64(totalHints)
	}

	dayFirst, monthFirst := false, false
	for _, d := range dates {
		switch analyzeDateFormat(d) {
		case DateOrderDMY:
			dayFirst = true
		case DateOrderMDY:
			monthFirst = true
		}
	}
	switch {
	case dayFirst && !monthFirst:
		dialect.DateOrder = DateOrderDMY
	case monthFirst && !dayFirst:
		dialect.DateOrder = DateOrderMDY
	}

	// No decisive date in the sample: fall back to the amount convention
	if dialect.DateOrder == DateOrderUnknown {
		switch {
		case dialect.IsEuropeanFormat:
			dialect.DateOrder = DateOrderDMY
		case dialect.CurrencyHint == "USD":
			dialect.DateOrder = DateOrderMDY
		}
	}

	return dialect
}

// analyzeAmountFormat returns: >0 for European, <0 for US, 0 for ambiguous
func analyzeAmountFormat(val string) int {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' {
			return r
		}
		return -1
	}, val)

	if cleaned == "" {
		return 0
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	switch {
	case hasComma && hasDot:
		// Both present: last one is decimal separator
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			return 1 // 1.234,56
		}
		return -1 // 1,234.56

	case hasComma:
		afterComma := cleaned[strings.LastIndex(cleaned, ",")+1:]
		if len(afterComma) <= 2 {
			return 1
		}
		return 0 // Could be a US thousands separator

	case hasDot:
		afterDot := cleaned[strings.LastIndex(cleaned, ".")+1:]
		if len(afterDot) <= 2 {
			return -1
		}
		return 0 // Could be a European thousands separator
	}

	return 0
}

// analyzeDateFormat reports a definite day/month order when one of the first
// two components is greater than 12. Year-first dates are never ambiguous.
func analyzeDateFormat(dateVal string) DateOrder {
	parts := strings.FieldsFunc(strings.TrimSpace(dateVal), func(r rune) bool {
		return r == '/' || r == '-' || r == '.' || r == ' '
	})
	if len(parts) < 3 || len(parts[0]) == 4 {
		return DateOrderUnknown
	}

	first, second := leadingInt(parts[0]), leadingInt(parts[1])
	switch {
	case first > 12 && first <= 31 && second <= 12:
		return DateOrderDMY
	case second > 12 && second <= 31 && first <= 12:
		return DateOrderMDY
	}
	return DateOrderUnknown
}

func leadingInt(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
