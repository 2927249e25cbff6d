// Package model holds the shared types of the tabular import pipeline.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FileType identifies how an uploaded file is parsed
type FileType string

const (
	FileTypeCSV   FileType = "csv"
	FileTypeExcel FileType = "excel"
	FileTypeXLS   FileType = "xls"
)

// ParseFileType accepts the declared type used by clients ("csv", "excel", "xlsx", "xls")
func ParseFileType(s string) (FileType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv", "tsv", "txt":
		return FileTypeCSV, nil
	case "excel", "xlsx", "xlsm":
		return FileTypeExcel, nil
	case "xls":
		return FileTypeXLS, nil
	}
	return "", ErrUnsupportedFileType
}

// DetectFileType infers the file type from a filename extension
func DetectFileType(filename string) (FileType, error) {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return "", ErrUnsupportedFileType
	}
	return ParseFileType(filename[idx+1:])
}

// RawRow is one data row of a RawTable
type RawRow struct {
	Index  int               `json:"index"` // 0-based position among data rows
	Line   int               `json:"line"`  // 1-based line/row number in the source file
	Values map[string]string `json:"values"`
}

// Get returns the raw value of a column, or "" when absent
func (r RawRow) Get(column string) string {
	return r.Values[column]
}

// RawTable is the parsed, immutable content of an uploaded file
type RawTable struct {
	id      uuid.UUID
	format  FileType
	columns []string
	rows    []RawRow
	sample  int
}

// NewRawTable builds a table. The caller hands over ownership of columns and rows.
func NewRawTable(format FileType, columns []string, rows []RawRow, sampleSize int) *RawTable {
	return &RawTable{
		id:      uuid.New(),
		format:  format,
		columns: columns,
		rows:    rows,
		sample:  sampleSize,
	}
}

// ID identifies this parse of a file; a re-upload always gets a new ID
func (t *RawTable) ID() uuid.UUID { return t.id }

// Format returns the file type the table was parsed from
func (t *RawTable) Format() FileType { return t.format }

// Columns returns a copy of the disambiguated header names in file order
func (t *RawTable) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether name is an exact header name of the table
func (t *RawTable) HasColumn(name string) bool {
	for _, c := range t.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Len returns the number of data rows
func (t *RawTable) Len() int { return len(t.rows) }

// Row returns the i-th data row. Values must not be modified by callers.
func (t *RawTable) Row(i int) RawRow { return t.rows[i] }

// Sample returns the first N rows used for inference and preview
func (t *RawTable) Sample() []RawRow {
	n := t.sample
	if n <= 0 || n > len(t.rows) {
		n = len(t.rows)
	}
	out := make([]RawRow, n)
	copy(out, t.rows[:n])
	return out
}

// Field names of a ColumnMapping
const (
	FieldDate            = "date"
	FieldAmount          = "amount"
	FieldDescription     = "description"
	FieldPayee           = "payee"
	FieldCategory        = "category"
	FieldTransactionType = "transaction_type"
)

// ColumnMapping maps semantic fields to source column names. Empty means unmapped.
type ColumnMapping struct {
	Date            string `json:"date"`
	Amount          string `json:"amount"`
	Description     string `json:"description"`
	Payee           string `json:"payee"`
	Category        string `json:"category"`
	TransactionType string `json:"transaction_type"`
}

// Fields returns (field, column) pairs in canonical field order
func (m ColumnMapping) Fields() [][2]string {
	return [][2]string{
		{FieldDate, m.Date},
		{FieldAmount, m.Amount},
		{FieldDescription, m.Description},
		{FieldPayee, m.Payee},
		{FieldCategory, m.Category},
		{FieldTransactionType, m.TransactionType},
	}
}

// Set assigns a column to a field by name
func (m *ColumnMapping) Set(field, column string) error {
	switch field {
	case FieldDate:
		m.Date = column
	case FieldAmount:
		m.Amount = column
	case FieldDescription:
		m.Description = column
	case FieldPayee:
		m.Payee = column
	case FieldCategory:
		m.Category = column
	case FieldTransactionType, "type", "transactionType":
		m.TransactionType = column
	default:
		return ErrUnknownField
	}
	return nil
}

// Missing returns the required fields that are not mapped
func (m ColumnMapping) Missing() []string {
	var missing []string
	if m.Date == "" {
		missing = append(missing, FieldDate)
	}
	if m.Amount == "" {
		missing = append(missing, FieldAmount)
	}
	if m.Description == "" {
		missing = append(missing, FieldDescription)
	}
	return missing
}

// Complete reports whether every required field is mapped
func (m ColumnMapping) Complete() bool {
	return len(m.Missing()) == 0
}

// TransactionType is the resolved direction of a transaction
type TransactionType string

const (
	Deposit    TransactionType = "deposit"
	Withdrawal TransactionType = "withdrawal"
	Transfer   TransactionType = "transfer"
)

// Valid reports whether t is one of the canonical types
func (t TransactionType) Valid() bool {
	switch t {
	case Deposit, Withdrawal, Transfer:
		return true
	}
	return false
}

// Validation and warning codes attached to candidate fields
const (
	CodeInvalidDate            = "invalid_date"
	CodeInvalidAmount          = "invalid_amount"
	CodeMissingDescription     = "missing_description"
	CodeUnknownTransactionType = "unknown_transaction_type"
)

// FieldError is a per-row validation error or warning
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CandidateTransaction is one source row after coercion
type CandidateTransaction struct {
	Index       int             `json:"index"`
	Line        int             `json:"line"`
	Date        time.Time       `json:"date"`   // zero when invalid
	Amount      decimal.Decimal `json:"amount"` // zero when invalid
	Description string          `json:"description"`
	Payee       string          `json:"payee,omitempty"`
	Category    string          `json:"category,omitempty"`
	Type        TransactionType `json:"transaction_type"`
	Errors      []FieldError    `json:"validation_errors,omitempty"`
	Warnings    []FieldError    `json:"warnings,omitempty"`
}

// Valid reports whether the candidate may be committed
func (c CandidateTransaction) Valid() bool {
	return len(c.Errors) == 0
}

// Account is the commit target as seen by the pipeline
type Account struct {
	ID           int64
	Name         string
	CurrencyCode string
	BalanceMinor int64
}

// Transaction is a ledger row written by the committer
type Transaction struct {
	ID          int64
	AccountID   int64
	BatchID     uuid.UUID
	Date        time.Time
	AmountMinor int64
	Amount      decimal.Decimal
	Currency    string
	Description string
	Type        TransactionType
	PayeeID     *int64
	CategoryID  *int64
	SourceLine  int
}

var transactionTypeAliases = map[string]TransactionType{
	"deposit":    Deposit,
	"income":     Deposit,
	"credit":     Deposit,
	"cr":         Deposit,
	"in":         Deposit,
	"inflow":     Deposit,
	"refund":     Deposit,
	"withdrawal": Withdrawal,
	"withdraw":   Withdrawal,
	"expense":    Withdrawal,
	"debit":      Withdrawal,
	"dr":         Withdrawal,
	"out":        Withdrawal,
	"outflow":    Withdrawal,
	"payment":    Withdrawal,
	"purchase":   Withdrawal,
	"transfer":   Transfer,
	"xfer":       Transfer,
	"trf":        Transfer,
}

// ParseTransactionType resolves a canonical type or a known alias, case-insensitively
func ParseTransactionType(s string) (TransactionType, bool) {
	t, ok := transactionTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}
