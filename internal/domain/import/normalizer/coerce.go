package normalizer

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	"github.com/FACorreiaa/finance-import/internal/domain/import/sniffer"
)

// NumberFormat selects how decimal and thousands separators are read
type NumberFormat string

const (
	NumberFormatAuto NumberFormat = "auto" // probe the sample
	NumberFormatUS   NumberFormat = "us"   // 1,234.56
	NumberFormatEU   NumberFormat = "eu"   // 1.234,56
)

// ParseNumberFormat accepts "auto", "us"/"dot" and "eu"/"comma"
func ParseNumberFormat(s string) (NumberFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return NumberFormatAuto, nil
	case "us", "dot", ".":
		return NumberFormatUS, nil
	case "eu", "comma", ",":
		return NumberFormatEU, nil
	}
	return "", fmt.Errorf("unknown number format %q", s)
}

// Config controls coercion
type Config struct {
	DateFormats  []string
	NumberFormat NumberFormat
	Workers      int
	ChunkSize    int
}

// DefaultConfig returns the default coercion settings
func DefaultConfig() Config {
	return Config{
		DateFormats:  DefaultDateFormats,
		NumberFormat: NumberFormatAuto,
		Workers:      runtime.GOMAXPROCS(0),
		ChunkSize:    500,
	}
}

// Coercer turns raw rows into candidate transactions. It holds no per-call
// state and is safe for concurrent use.
type Coercer struct {
	config Config
	types  *TypeResolver
}

// NewCoercer creates a coercer, filling zero config values with defaults
func NewCoercer(config Config) *Coercer {
	def := DefaultConfig()
	if len(config.DateFormats) == 0 {
		config.DateFormats = def.DateFormats
	}
	if config.NumberFormat == "" {
		config.NumberFormat = def.NumberFormat
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = def.ChunkSize
	}
	return &Coercer{config: config, types: NewTypeResolver()}
}

// rowContext is the per-call state shared read-only by all workers
type rowContext struct {
	mapping      model.ColumnMapping
	defaultType  model.TransactionType
	dateFormats  []string
	decimalComma bool
}

// Coerce produces one candidate per table row, in source order. Only
// structural problems are returned as errors: a mapped column missing from the
// table, or an unrecognized default type.
func (c *Coercer) Coerce(ctx context.Context, table *model.RawTable, mapping model.ColumnMapping, defaultType string) ([]model.CandidateTransaction, error) {
	if table == nil {
		return nil, model.ErrNoTable
	}

	defType, ok := model.ParseTransactionType(defaultType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidTransactionType, defaultType)
	}

	if err := CheckColumns(table, mapping); err != nil {
		return nil, err
	}

	rc := c.prepare(table, mapping, defType)

	out := make([]model.CandidateTransaction, table.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Workers)

	for start := 0; start < len(out); start += c.config.ChunkSize {
		end := min(start+c.config.ChunkSize, len(out))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				out[i] = c.coerceRow(table.Row(i), rc)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("coercion interrupted: %w", err)
	}
	return out, nil
}

// CheckColumns verifies every mapped column exists in the table by exact name
func CheckColumns(table *model.RawTable, mapping model.ColumnMapping) error {
	for _, f := range mapping.Fields() {
		field, col := f[0], f[1]
		if col == "" {
			continue
		}
		if !table.HasColumn(col) {
			return fmt.Errorf("%w: %s -> %q", model.ErrUnknownColumn, field, col)
		}
	}
	return nil
}

// prepare probes the regional dialect from the table sample so every worker
// reads amounts and dates the same way
func (c *Coercer) prepare(table *model.RawTable, mapping model.ColumnMapping, defType model.TransactionType) rowContext {
	var amounts, dates []string
	for _, row := range table.Sample() {
		if mapping.Amount != "" {
			amounts = append(amounts, row.Get(mapping.Amount))
		}
		if mapping.Date != "" {
			dates = append(dates, row.Get(mapping.Date))
		}
	}
	dialect := sniffer.ProbeDialect(amounts, dates)

	decimalComma := dialect.IsEuropeanFormat
	switch c.config.NumberFormat {
	case NumberFormatUS:
		decimalComma = false
	case NumberFormatEU:
		decimalComma = true
	}

	return rowContext{
		mapping:      mapping,
		defaultType:  defType,
		dateFormats:  OrderDateFormats(c.config.DateFormats, dialect.DateOrder),
		decimalComma: decimalComma,
	}
}

func (c *Coercer) coerceRow(row model.RawRow, rc rowContext) model.CandidateTransaction {
	m := rc.mapping
	cand := model.CandidateTransaction{
		Index:       row.Index,
		Line:        row.Line,
		Description: CleanDescription(column(row, m.Description)),
		Payee:       strings.TrimSpace(column(row, m.Payee)),
		Category:    strings.TrimSpace(column(row, m.Category)),
		Type:        rc.defaultType,
	}

	if raw := strings.TrimSpace(column(row, m.TransactionType)); raw != "" {
		if t, ok := c.types.Resolve(raw); ok {
			cand.Type = t
		} else {
			cand.Warnings = append(cand.Warnings, model.FieldError{
				Field:   model.FieldTransactionType,
				Code:    model.CodeUnknownTransactionType,
				Message: fmt.Sprintf("unrecognized transaction type %q, using %s", raw, rc.defaultType),
			})
		}
	}

	rawDate := column(row, m.Date)
	if date, err := ParseFlexibleDate(rawDate, rc.dateFormats); err != nil {
		cand.Errors = append(cand.Errors, model.FieldError{
			Field:   model.FieldDate,
			Code:    model.CodeInvalidDate,
			Message: fmt.Sprintf("cannot parse date %q: %v", rawDate, err),
		})
	} else {
		cand.Date = date
	}

	rawAmount := column(row, m.Amount)
	if parsed, err := ParseAmount(rawAmount, rc.decimalComma); err != nil {
		cand.Errors = append(cand.Errors, model.FieldError{
			Field:   model.FieldAmount,
			Code:    model.CodeInvalidAmount,
			Message: fmt.Sprintf("cannot parse amount %q: %v", rawAmount, err),
		})
	} else {
		cand.Amount = applySign(parsed, cand.Type)
	}

	if cand.Description == "" {
		cand.Errors = append(cand.Errors, model.FieldError{
			Field:   model.FieldDescription,
			Code:    model.CodeMissingDescription,
			Message: "description is required",
		})
	}

	return cand
}

// applySign keeps an explicit source sign, otherwise derives it from the type
func applySign(p ParsedAmount, t model.TransactionType) decimal.Decimal {
	if p.Explicit {
		return p.Value
	}
	if t == model.Deposit {
		return p.Value.Abs()
	}
	return p.Value.Abs().Neg()
}

func column(row model.RawRow, name string) string {
	if name == "" {
		return ""
	}
	return row.Get(name)
}
