package normalizer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

func newTable(columns []string, records ...[]string) *model.RawTable {
	rows := make([]model.RawRow, len(records))
	for i, rec := range records {
		values := make(map[string]string, len(columns))
		for j, col := range columns {
			if j < len(rec) {
				values[col] = rec[j]
			}
		}
		rows[i] = model.RawRow{Index: i, Line: i + 2, Values: values}
	}
	return model.NewRawTable(model.FileTypeCSV, columns, rows, 50)
}

var basicMapping = model.ColumnMapping{
	Date:        "Date",
	Amount:      "Amount",
	Description: "Description",
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "amount = %s, want %s", got, want)
}

func codes(errs []model.FieldError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

// =============================================================================
// Sign convention
// =============================================================================

func TestCoerce_DollarAmountWithExpenseDefault(t *testing.T) {
	table := newTable([]string{"Date", "Description", "Amount"},
		[]string{"2024-01-15", "Laptop", "$1,234.56"},
	)

	got, err := NewCoercer(DefaultConfig()).Coerce(context.Background(), table, basicMapping, "expense")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Empty(t, got[0].Errors)
	assertAmount(t, "-1234.56", got[0].Amount)
	assert.Equal(t, model.Withdrawal, got[0].Type)
}

func TestCoerce_SignConvention(t *testing.T) {
	table := newTable([]string{"Date", "Description", "Amount"},
		[]string{"2024-01-15", "Refund", "20.00"},
		[]string{"2024-01-16", "Chargeback", "-20.00"},
		[]string{"2024-01-17", "Correction", "(5.00)"},
	)

	tests := []struct {
		defaultType string
		want        []string
	}{
		{"deposit", []string{"20.00", "-20.00", "-5.00"}},
		{"withdrawal", []string{"-20.00", "-20.00", "-5.00"}},
		{"transfer", []string{"-20.00", "-20.00", "-5.00"}},
	}

	c := NewCoercer(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.defaultType, func(t *testing.T) {
			got, err := c.Coerce(context.Background(), table, basicMapping, tt.defaultType)
			require.NoError(t, err)
			for i, want := range tt.want {
				assertAmount(t, want, got[i].Amount)
			}
		})
	}
}

// =============================================================================
// Transaction type column
// =============================================================================

func TestCoerce_TypeColumn(t *testing.T) {
	table := newTable([]string{"Date", "Description", "Amount", "Type"},
		[]string{"2024-01-15", "Salary", "2500.00", "CREDIT"},
		[]string{"2024-01-16", "Rent", "900.00", "ACH_DEBIT"},
		[]string{"2024-01-17", "Savings", "100.00", "Transfer"},
		[]string{"2024-01-18", "Mystery", "10.00", "zzz"},
		[]string{"2024-01-19", "Blank type", "7.00", ""},
	)
	mapping := basicMapping
	mapping.TransactionType = "Type"

	got, err := NewCoercer(DefaultConfig()).Coerce(context.Background(), table, mapping, "deposit")
	require.NoError(t, err)

	assert.Equal(t, model.Deposit, got[0].Type)
	assertAmount(t, "2500.00", got[0].Amount)

	assert.Equal(t, model.Withdrawal, got[1].Type)
	assertAmount(t, "-900.00", got[1].Amount)

	assert.Equal(t, model.Transfer, got[2].Type)
	assertAmount(t, "-100.00", got[2].Amount)

	// Unknown value falls back to the default with a warning, row stays valid
	assert.Equal(t, model.Deposit, got[3].Type)
	assert.True(t, got[3].Valid())
	assert.Equal(t, []string{model.CodeUnknownTransactionType}, codes(got[3].Warnings))

	assert.Equal(t, model.Deposit, got[4].Type)
	assert.Empty(t, got[4].Warnings)
}

// =============================================================================
// Per-row validation
// =============================================================================

func TestCoerce_RowErrorsAreIsolated(t *testing.T) {
	table := newTable([]string{"Date", "Description", "Amount", "Payee", "Category"},
		[]string{"2024-01-15", "Groceries", "45.10", "  Lidl ", " Food "},
		[]string{"yesterday", "Bad date", "10.00"},
		[]string{"2024-01-17", "Bad amount", "ten euros"},
		[]string{"2024-01-18", "   ", "3.00"},
		[]string{"", "", ""},
	)
	mapping := basicMapping
	mapping.Payee = "Payee"
	mapping.Category = "Category"

	got, err := NewCoercer(DefaultConfig()).Coerce(context.Background(), table, mapping, "withdrawal")
	require.NoError(t, err)
	require.Len(t, got, 5)

	for i, c := range got {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, i+2, c.Line)
	}

	assert.True(t, got[0].Valid())
	assert.Equal(t, "Lidl", got[0].Payee)
	assert.Equal(t, "Food", got[0].Category)

	assert.Equal(t, []string{model.CodeInvalidDate}, codes(got[1].Errors))
	assert.True(t, got[1].Date.IsZero())
	assertAmount(t, "-10.00", got[1].Amount)

	assert.Equal(t, []string{model.CodeInvalidAmount}, codes(got[2].Errors))
	assert.True(t, got[2].Amount.IsZero())
	assert.Equal(t, time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC), got[2].Date)

	assert.Equal(t, []string{model.CodeMissingDescription}, codes(got[3].Errors))

	assert.Equal(t, []string{model.CodeInvalidDate, model.CodeInvalidAmount, model.CodeMissingDescription}, codes(got[4].Errors))
}

func TestCoerce_EuropeanDialect(t *testing.T) {
	table := newTable([]string{"Data", "Descricao", "Valor"},
		[]string{"31/12/2024", "Continente", "1.234,56"},
		[]string{"02/01/2025", "Galp", "12,50"},
	)
	mapping := model.ColumnMapping{Date: "Data", Amount: "Valor", Description: "Descricao"}

	got, err := NewCoercer(DefaultConfig()).Coerce(context.Background(), table, mapping, "withdrawal")
	require.NoError(t, err)

	assertAmount(t, "-1234.56", got[0].Amount)
	assertAmount(t, "-12.50", got[1].Amount)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), got[1].Date)
}

func TestCoerce_NumberFormatOverride(t *testing.T) {
	table := newTable([]string{"Date", "Description", "Amount"},
		[]string{"2024-01-15", "Fuel", "1.234"},
	)

	us := NewCoercer(Config{NumberFormat: NumberFormatUS})
	got, err := us.Coerce(context.Background(), table, basicMapping, "deposit")
	require.NoError(t, err)
	assertAmount(t, "1.234", got[0].Amount)

	eu := NewCoercer(Config{NumberFormat: NumberFormatEU})
	got, err = eu.Coerce(context.Background(), table, basicMapping, "deposit")
	require.NoError(t, err)
	assertAmount(t, "1234", got[0].Amount)
}

func TestParseNumberFormat(t *testing.T) {
	for in, want := range map[string]NumberFormat{"": NumberFormatAuto, "AUTO": NumberFormatAuto, "dot": NumberFormatUS, "eu": NumberFormatEU} {
		got, err := ParseNumberFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseNumberFormat("roman")
	assert.Error(t, err)
}

// =============================================================================
// Structural errors
// =============================================================================

func TestCoerce_StructuralErrors(t *testing.T) {
	table := newTable([]string{"Date", "Description", "Amount"},
		[]string{"2024-01-15", "Coffee", "3.20"},
	)
	c := NewCoercer(DefaultConfig())

	t.Run("unknown column", func(t *testing.T) {
		mapping := basicMapping
		mapping.Payee = "Merchant"
		_, err := c.Coerce(context.Background(), table, mapping, "deposit")
		assert.ErrorIs(t, err, model.ErrUnknownColumn)
		assert.Contains(t, err.Error(), "Merchant")
	})

	t.Run("column match is exact", func(t *testing.T) {
		mapping := basicMapping
		mapping.Amount = "amount"
		_, err := c.Coerce(context.Background(), table, mapping, "deposit")
		assert.ErrorIs(t, err, model.ErrUnknownColumn)
	})

	t.Run("invalid default type", func(t *testing.T) {
		_, err := c.Coerce(context.Background(), table, basicMapping, "gift")
		assert.ErrorIs(t, err, model.ErrInvalidTransactionType)
	})

	t.Run("no table", func(t *testing.T) {
		_, err := c.Coerce(context.Background(), nil, basicMapping, "deposit")
		assert.ErrorIs(t, err, model.ErrNoTable)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Coerce(ctx, table, basicMapping, "deposit")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// =============================================================================
// Determinism
// =============================================================================

func fakeTable(f *gofakeit.Faker, n int) *model.RawTable {
	records := make([][]string, n)
	for i := range records {
		amount := fmt.Sprintf("%.2f", f.Price(1, 5000))
		if i%7 == 0 {
			amount = "-" + amount
		}
		if i%50 == 0 {
			amount = "n/a"
		}
		records[i] = []string{
			f.DateRange(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)).Format("2006-01-02"),
			f.Company(),
			amount,
			f.RandomString([]string{"debit", "credit", "transfer", "other"}),
		}
	}
	return newTable([]string{"Date", "Description", "Amount", "Type"}, records...)
}

func TestCoerce_Deterministic(t *testing.T) {
	table := fakeTable(gofakeit.New(42), 2000)
	mapping := basicMapping
	mapping.TransactionType = "Type"

	c := NewCoercer(Config{Workers: 8, ChunkSize: 64})
	first, err := c.Coerce(context.Background(), table, mapping, "withdrawal")
	require.NoError(t, err)
	second, err := c.Coerce(context.Background(), table, mapping, "withdrawal")
	require.NoError(t, err)

	require.Equal(t, first, second)
	for i, cand := range first {
		require.Equal(t, i, cand.Index)
	}

	serial := NewCoercer(Config{Workers: 1, ChunkSize: 5000})
	third, err := serial.Coerce(context.Background(), table, mapping, "withdrawal")
	require.NoError(t, err)
	require.Equal(t, first, third)
}
