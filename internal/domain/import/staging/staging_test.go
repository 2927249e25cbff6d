package staging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	"github.com/FACorreiaa/finance-import/internal/domain/import/normalizer"
)

type countingCoercer struct {
	inner *normalizer.Coercer
	calls int
}

func (c *countingCoercer) Coerce(ctx context.Context, table *model.RawTable, mapping model.ColumnMapping, defaultType string) ([]model.CandidateTransaction, error) {
	c.calls++
	return c.inner.Coerce(ctx, table, mapping, defaultType)
}

func newTestTable() *model.RawTable {
	columns := []string{"Date", "Description", "Amount", "Memo"}
	records := [][]string{
		{"2024-01-15", "Coffee", "3.20", "Morning"},
		{"2024-01-16", "", "12.00", "Lunch"},
		{"2024-01-17", "Books", "abc", ""},
		{"2024-01-18", "Train", "4.10", "Commute"},
	}
	rows := make([]model.RawRow, len(records))
	for i, rec := range records {
		values := map[string]string{}
		for j, col := range columns {
			values[col] = rec[j]
		}
		rows[i] = model.RawRow{Index: i, Line: i + 2, Values: values}
	}
	return model.NewRawTable(model.FileTypeCSV, columns, rows, 50)
}

var mapping = model.ColumnMapping{Date: "Date", Amount: "Amount", Description: "Description"}

func TestStore_StageCountsAndCaches(t *testing.T) {
	coercer := &countingCoercer{inner: normalizer.NewCoercer(normalizer.DefaultConfig())}
	store := NewStore(coercer)
	table := newTestTable()

	staged, err := store.Stage(context.Background(), table, mapping, "withdrawal")
	require.NoError(t, err)
	assert.Len(t, staged.Candidates, 4)
	assert.Equal(t, 2, staged.ValidCount)
	assert.Equal(t, 2, staged.InvalidCount)
	assert.Equal(t, 1, coercer.calls)

	_, err = store.Stage(context.Background(), table, mapping, "withdrawal")
	require.NoError(t, err)
	assert.Equal(t, 1, coercer.calls, "same key must hit the cache")

	t.Run("mapping change recomputes", func(t *testing.T) {
		edited := mapping
		edited.Description = "Memo"
		staged, err := store.Stage(context.Background(), table, edited, "withdrawal")
		require.NoError(t, err)
		assert.Equal(t, 2, coercer.calls)
		assert.Equal(t, 3, staged.ValidCount)
		assert.Equal(t, "Lunch", store.Preview(0)[1].Description)
	})

	t.Run("default type change recomputes", func(t *testing.T) {
		_, err := store.Stage(context.Background(), table, mapping, "deposit")
		require.NoError(t, err)
		assert.Equal(t, 3, coercer.calls)
		assert.True(t, store.Preview(1)[0].Amount.IsPositive())
	})

	t.Run("new table recomputes", func(t *testing.T) {
		_, err := store.Stage(context.Background(), newTestTable(), mapping, "deposit")
		require.NoError(t, err)
		assert.Equal(t, 4, coercer.calls)
	})
}

func TestStore_MatchesFreshCoercion(t *testing.T) {
	coercer := normalizer.NewCoercer(normalizer.DefaultConfig())
	store := NewStore(coercer)
	table := newTestTable()

	staged, err := store.Stage(context.Background(), table, mapping, "withdrawal")
	require.NoError(t, err)

	fresh, err := coercer.Coerce(context.Background(), table, mapping, "withdrawal")
	require.NoError(t, err)
	assert.Equal(t, fresh, staged.Candidates)
	assert.Equal(t, fresh, store.Preview(0))
}

func TestStore_Preview(t *testing.T) {
	store := NewStore(normalizer.NewCoercer(normalizer.DefaultConfig()))
	assert.Nil(t, store.Preview(10))

	_, err := store.Stage(context.Background(), newTestTable(), mapping, "withdrawal")
	require.NoError(t, err)

	preview := store.Preview(2)
	require.Len(t, preview, 2)
	assert.Equal(t, 0, preview[0].Index)
	assert.Equal(t, 1, preview[1].Index)
	assert.Len(t, store.Preview(100), 4)

	current, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, 2, current.ValidCount)
	assert.Equal(t, 2, current.InvalidCount)

	// Preview hands out copies
	preview[0].Description = "mutated"
	assert.Equal(t, "Coffee", store.Preview(1)[0].Description)
}

func TestStore_InvalidateAndErrors(t *testing.T) {
	coercer := &countingCoercer{inner: normalizer.NewCoercer(normalizer.DefaultConfig())}
	store := NewStore(coercer)
	table := newTestTable()

	_, err := store.Stage(context.Background(), table, mapping, "withdrawal")
	require.NoError(t, err)

	store.Invalidate()
	_, ok := store.Current()
	assert.False(t, ok)

	_, err = store.Stage(context.Background(), table, mapping, "withdrawal")
	require.NoError(t, err)
	assert.Equal(t, 2, coercer.calls)

	bad := mapping
	bad.Amount = "Missing"
	_, err = store.Stage(context.Background(), table, bad, "withdrawal")
	assert.ErrorIs(t, err, model.ErrUnknownColumn)
	assert.Nil(t, store.Preview(0), "failed staging must not leave stale candidates")

	_, err = store.Stage(context.Background(), nil, mapping, "withdrawal")
	assert.ErrorIs(t, err, model.ErrNoTable)
}
