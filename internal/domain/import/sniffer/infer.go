package sniffer

import (
	"strings"
	"unicode"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

// fieldSynonyms lists normalized header names per semantic field, in the
// order fields are assigned. A column is assigned to at most one field.
var fieldSynonyms = []struct {
	field    string
	synonyms []string
}{
	{model.FieldDate, []string{
		"date", "posted_date", "transaction_date", "posting_date", "trans_date", "txn_date",
		"booking_date", "value_date", "posted", "data", "data_mov", "data_movimento", "fecha", "datum",
	}},
	{model.FieldAmount, []string{
		"amount", "value", "debit_credit", "amt", "transaction_amount", "amount_usd", "amount_eur",
		"sum", "total", "valor", "montante", "importe", "montant", "betrag",
	}},
	{model.FieldDescription, []string{
		"description", "desc", "memo", "details", "narrative", "particulars", "transaction_description",
		"descrição", "descricao", "descripción", "descripcion", "libellé", "libelle",
	}},
	{model.FieldPayee, []string{
		"payee", "merchant", "payee_name", "merchant_name", "counterparty", "beneficiary", "recipient", "vendor",
	}},
	{model.FieldCategory, []string{
		"category", "category_name", "categoria", "categoría", "catégorie",
	}},
	{model.FieldTransactionType, []string{
		"transaction_type", "type", "txn_type", "trans_type", "direction", "dr_cr", "credit_debit", "tipo",
	}},
}

// NormalizeHeader lower-cases a header, collapses spaces, underscores and
// hyphens into one underscore and drops any other punctuation.
// "Posted Date" becomes "posted_date"; "Debit/Credit" becomes "debitcredit".
func NormalizeHeader(h string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(h) {
		switch {
		case r == ' ' || r == '_' || r == '-' || r == '\t':
			pendingSep = true
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// InferMapping proposes a provisional mapping from header names. The sample
// is only used to spot an unnamed transaction type column. It never fails;
// the worst case is an empty mapping.
func InferMapping(columns []string, sample []model.RawRow) model.ColumnMapping {
	var mapping model.ColumnMapping

	normalized := make([]string, len(columns))
	for i, c := range columns {
		normalized[i] = NormalizeHeader(c)
	}

	used := make([]bool, len(columns))
	for _, fs := range fieldSynonyms {
		for i, n := range normalized {
			if used[i] || !contains(fs.synonyms, n) {
				continue
			}
			used[i] = true
			_ = mapping.Set(fs.field, columns[i])
			break
		}
	}

	if mapping.TransactionType == "" && len(sample) > 0 {
		for i, c := range columns {
			if !used[i] && looksLikeTypeColumn(c, sample) {
				mapping.TransactionType = c
				break
			}
		}
	}

	return mapping
}

// looksLikeTypeColumn reports whether every non-empty sample value of column
// is a known transaction type or alias.
func looksLikeTypeColumn(column string, sample []model.RawRow) bool {
	seen := 0
	for _, row := range sample {
		v := strings.TrimSpace(row.Get(column))
		if v == "" {
			continue
		}
		if _, ok := model.ParseTransactionType(v); !ok {
			return false
		}
		seen++
	}
	return seen > 0
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
