package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

// statementCSV builds a statement export with the given row count and
// delimiter
func statementCSV(rows int, comma rune) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = comma

	_ = w.Write([]string{"Posted Date", "Payee", "Memo", "Debit/Credit"})

	base := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		_ = w.Write([]string{
			base.AddDate(0, 0, -i).Format("2006-01-02"),
			fmt.Sprintf("Payee %d", i%100),
			fmt.Sprintf("Card purchase %d", i),
			fmt.Sprintf("-%d.%02d", i%500, i%100),
		})
	}

	w.Flush()
	return buf.Bytes()
}

func BenchmarkReader_ReadCSV(b *testing.B) {
	for _, tc := range []struct {
		rows  int
		comma rune
	}{{100, ','}, {10000, ','}, {10000, ';'}} {
		data := statementCSV(tc.rows, tc.comma)
		reader := NewReader(DefaultConfig())
		size := tc.rows

		b.Run(fmt.Sprintf("%d_rows_%q", size, tc.comma), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				table, err := reader.Read(context.Background(), bytes.NewReader(data), model.FileTypeCSV, int64(len(data)))
				if err != nil {
					b.Fatal(err)
				}
				if table.Len() != size {
					b.Fatalf("expected %d rows, got %d", size, table.Len())
				}
			}
		})
	}
}

func BenchmarkDisambiguateHeaders(b *testing.B) {
	header := []string{"Date", "Value", "Value", "Memo", "", "Value_2", "Payee", ""}
	for i := 0; i < b.N; i++ {
		DisambiguateHeaders(header)
	}
}
