package repository

import (
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// DuplicatePolicy decides when two transactions on one account with equal
// amounts count as the same transaction.
type DuplicatePolicy struct {
	FoldCase           bool // compare descriptions case-insensitively
	CollapseWhitespace bool // trim and collapse runs of whitespace
	DateToleranceDays  int  // accept dates this many days apart
	MaxEditDistance    int  // accept descriptions within this Levenshtein distance
}

// DefaultDuplicatePolicy matches on exact date and normalized description
func DefaultDuplicatePolicy() DuplicatePolicy {
	return DuplicatePolicy{FoldCase: true, CollapseWhitespace: true}
}

// NormalizeDescription applies the policy's text normalization
func (p DuplicatePolicy) NormalizeDescription(s string) string {
	if p.CollapseWhitespace {
		s = strings.Join(strings.Fields(s), " ")
	}
	if p.FoldCase {
		s = strings.ToLower(s)
	}
	return s
}

// DateWindow returns the inclusive range of calendar days that match date
func (p DuplicatePolicy) DateWindow(date time.Time) (time.Time, time.Time) {
	day := dateOnly(date)
	tol := max(p.DateToleranceDays, 0)
	return day.AddDate(0, 0, -tol), day.AddDate(0, 0, tol)
}

// DatesMatch reports whether two dates fall within the tolerance
func (p DuplicatePolicy) DatesMatch(a, b time.Time) bool {
	from, to := p.DateWindow(a)
	day := dateOnly(b)
	return !day.Before(from) && !day.After(to)
}

// DescriptionsMatch compares two raw descriptions under the policy
func (p DuplicatePolicy) DescriptionsMatch(a, b string) bool {
	a, b = p.NormalizeDescription(a), p.NormalizeDescription(b)
	if a == b {
		return true
	}
	if p.MaxEditDistance <= 0 {
		return false
	}
	return fuzzy.LevenshteinDistance(a, b) <= p.MaxEditDistance
}
