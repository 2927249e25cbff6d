package normalizer

import (
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

// typeKeywords are matched anywhere inside an upper-cased type value,
// so bank codes like "ACH_DEBIT" or "POS PURCHASE" still resolve.
var typeKeywords = []struct {
	keyword string
	txType  model.TransactionType
}{
	{"DEPOSIT", model.Deposit},
	{"CREDIT", model.Deposit},
	{"INCOMING", model.Deposit},
	{"REFUND", model.Deposit},
	{"INTEREST", model.Deposit},
	{"WITHDRAWAL", model.Withdrawal},
	{"DEBIT", model.Withdrawal},
	{"PAYMENT", model.Withdrawal},
	{"PURCHASE", model.Withdrawal},
	{"FEE", model.Withdrawal},
	{"ATM", model.Withdrawal},
	{"TRANSFER", model.Transfer},
	{"XFER", model.Transfer},
}

// TypeResolver maps free-form transaction type values onto the canonical enum.
// Exact aliases win; otherwise a single-pass Aho-Corasick keyword scan decides.
type TypeResolver struct {
	matcher *ahocorasick.Matcher
	types   []model.TransactionType // same order as the matcher dictionary
	mu      sync.Mutex              // Matcher.Match is not safe for concurrent use
}

// NewTypeResolver builds the keyword matcher
func NewTypeResolver() *TypeResolver {
	dict := make([][]byte, len(typeKeywords))
	types := make([]model.TransactionType, len(typeKeywords))
	for i, kw := range typeKeywords {
		dict[i] = []byte(kw.keyword)
		types[i] = kw.txType
	}
	return &TypeResolver{
		matcher: ahocorasick.NewMatcher(dict),
		types:   types,
	}
}

// Resolve returns the canonical type for a raw value. ok is false for blank,
// unknown or contradictory values ("CREDIT CARD PAYMENT").
func (r *TypeResolver) Resolve(raw string) (model.TransactionType, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if t, ok := model.ParseTransactionType(raw); ok {
		return t, true
	}

	r.mu.Lock()
	hits := r.matcher.Match([]byte(strings.ToUpper(raw)))
	r.mu.Unlock()

	var resolved model.TransactionType
	for _, idx := range hits {
		t := r.types[idx]
		if resolved != "" && resolved != t {
			return "", false
		}
		resolved = t
	}
	return resolved, resolved != ""
}
