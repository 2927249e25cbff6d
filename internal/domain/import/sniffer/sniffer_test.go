package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

func TestDetectConfig(t *testing.T) {
	tests := []struct {
		name          string
		data          string
		opts          DetectOptions
		wantDelimiter rune
		wantSkip      int
	}{
		{"comma header", "date,description,amount\n2024-01-15,Coffee,-4.50\n", DetectOptions{}, ',', 0},
		{"semicolon header", "Data Mov.;Descrição;Valor\n15/01/2024;Café;-4,50\n", DetectOptions{}, ';', 0},
		{"tab header", "date\tdescription\tamount\n", DetectOptions{}, '\t', 0},
		{"single column falls back to comma", "description\nCoffee\n", DetectOptions{}, ',', 0},
		{"leading blank lines", "\n\ndate,amount,memo\n1,2,3\n", DetectOptions{}, ',', 2},
		{"BOM is ignored", "\uFEFFdate;amount;memo\n", DetectOptions{}, ';', 0},
		{"explicit delimiter wins", "a|b,c\n", DetectOptions{Delimiter: '|'}, '|', 0},
		{
			"auto-detect skips bank metadata",
			"Bank Statement\nAccount: 12345\nDate,Description,Amount,Balance\n2024-01-15,Coffee,-4.50,100\n",
			DetectOptions{HeaderRowIndex: -1},
			',', 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := DetectConfig([]byte(tt.data), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDelimiter, cfg.Delimiter)
			assert.Equal(t, tt.wantSkip, cfg.SkipLines)
		})
	}

	t.Run("empty data", func(t *testing.T) {
		_, err := DetectConfig([]byte("  \n\n"), DetectOptions{})
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("auto-detect without any delimited line", func(t *testing.T) {
		_, err := DetectConfig([]byte("hello\nworld\n"), DetectOptions{HeaderRowIndex: -1})
		assert.ErrorIs(t, err, ErrNoHeadersFound)
	})
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]string{"Date", "Description", "Amount"})
	b := Fingerprint([]string{"date ", "DESCRIPTION", "amount!"})
	c := Fingerprint([]string{"Amount", "Description", "Date"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestProbeDialect(t *testing.T) {
	t.Run("US amounts with dollar sign", func(t *testing.T) {
		d := ProbeDialect([]string{"$1,234.56", "-4.50"}, nil)
		assert.False(t, d.IsEuropeanFormat)
		assert.Equal(t, '.', d.DecimalSeparator)
		assert.Equal(t, "USD", d.CurrencyHint)
	})

	t.Run("European amounts", func(t *testing.T) {
		d := ProbeDialect([]string{"1.234,56", "-4,50", "12,00 €"}, nil)
		assert.True(t, d.IsEuropeanFormat)
		assert.Equal(t, ',', d.DecimalSeparator)
		assert.Equal(t, "EUR", d.CurrencyHint)
	})

	t.Run("ambiguous amounts stay US", func(t *testing.T) {
		d := ProbeDialect([]string{"1,234", "100"}, nil)
		assert.False(t, d.IsEuropeanFormat)
		assert.Equal(t, 0.5, d.Confidence)
	})

	t.Run("day first dates", func(t *testing.T) {
		d := ProbeDialect(nil, []string{"03/01/2024", "25/01/2024"})
		assert.Equal(t, DateOrderDMY, d.DateOrder)
	})

	t.Run("month first dates", func(t *testing.T) {
		d := ProbeDialect(nil, []string{"01/03/2024", "01/25/2024"})
		assert.Equal(t, DateOrderMDY, d.DateOrder)
	})

	t.Run("conflicting or ISO dates stay unknown", func(t *testing.T) {
		assert.Equal(t, DateOrderUnknown, ProbeDialect(nil, []string{"25/01/2024", "01/25/2024"}).DateOrder)
		assert.Equal(t, DateOrderUnknown, ProbeDialect(nil, []string{"2024-01-25"}).DateOrder)
	})
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Posted Date", "posted_date"},
		{"  Transaction-Date ", "transaction_date"},
		{"Debit/Credit", "debitcredit"},
		{"debit_credit", "debit_credit"},
		{"Data Mov.", "data_mov"},
		{"Descrição", "descrição"},
		{"AMOUNT ($)", "amount"},
		{"__Memo__", "memo"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHeader(tt.in))
		})
	}
}

func TestInferMapping(t *testing.T) {
	t.Run("posted date, desc and debit/credit leave amount unset", func(t *testing.T) {
		m := InferMapping([]string{"Posted Date", "Desc", "Debit/Credit"}, nil)

		assert.Equal(t, "Posted Date", m.Date)
		assert.Equal(t, "Desc", m.Description)
		assert.Empty(t, m.Amount)
		assert.Equal(t, []string{model.FieldAmount}, m.Missing())
	})

	t.Run("standard export", func(t *testing.T) {
		m := InferMapping([]string{"Date", "Payee", "Category", "Amount", "Memo", "Type"}, nil)

		assert.Equal(t, model.ColumnMapping{
			Date:            "Date",
			Amount:          "Amount",
			Description:     "Memo",
			Payee:           "Payee",
			Category:        "Category",
			TransactionType: "Type",
		}, m)
	})

	t.Run("first matching column wins", func(t *testing.T) {
		m := InferMapping([]string{"Transaction Date", "Value Date", "Amount", "Description"}, nil)
		assert.Equal(t, "Transaction Date", m.Date)
	})

	t.Run("a column is assigned once", func(t *testing.T) {
		sample := []model.RawRow{{Values: map[string]string{"Memo": "deposit", "Date": "2024-01-01", "Amount": "1"}}}
		m := InferMapping([]string{"Memo", "Date", "Amount"}, sample)
		assert.Equal(t, "Memo", m.Description)
		assert.Empty(t, m.TransactionType)
	})

	t.Run("type column spotted from sample values", func(t *testing.T) {
		sample := []model.RawRow{
			{Values: map[string]string{"Date": "2024-01-01", "Flow": "DEBIT", "Amount": "4.50"}},
			{Values: map[string]string{"Date": "2024-01-02", "Flow": "credit", "Amount": "10"}},
			{Values: map[string]string{"Date": "2024-01-03", "Flow": "", "Amount": "1"}},
		}
		m := InferMapping([]string{"Date", "Flow", "Amount"}, sample)
		assert.Equal(t, "Flow", m.TransactionType)
	})

	t.Run("free text column is not a type column", func(t *testing.T) {
		sample := []model.RawRow{{Values: map[string]string{"Notes": "debit card"}}}
		m := InferMapping([]string{"Notes"}, sample)
		assert.Empty(t, m.TransactionType)
	})

	t.Run("nothing matches", func(t *testing.T) {
		m := InferMapping([]string{"foo", "bar"}, nil)
		assert.Equal(t, model.ColumnMapping{}, m)
	})
}
