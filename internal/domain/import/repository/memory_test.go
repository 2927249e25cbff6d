package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDuplicatePolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy DuplicatePolicy
		a, b   string
		want   bool
	}{
		{"default folds case", DefaultDuplicatePolicy(), "Coffee Shop", "COFFEE SHOP", true},
		{"default collapses whitespace", DefaultDuplicatePolicy(), " Coffee   Shop", "Coffee Shop ", true},
		{"strict policy is exact", DuplicatePolicy{}, "Coffee Shop", "coffee shop", false},
		{"no edit distance by default", DefaultDuplicatePolicy(), "Coffee Shop", "Cofee Shop", false},
		{"edit distance tolerates typos", DuplicatePolicy{FoldCase: true, MaxEditDistance: 2}, "Coffee Shop", "Cofee Shp", true},
		{"edit distance has a ceiling", DuplicatePolicy{MaxEditDistance: 1}, "Coffee", "Tea", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.DescriptionsMatch(tt.a, tt.b))
			assert.Equal(t, tt.want, tt.policy.DescriptionsMatch(tt.b, tt.a), "match must be symmetric")
		})
	}
}

func TestDuplicatePolicy_Dates(t *testing.T) {
	strict := DefaultDuplicatePolicy()
	assert.True(t, strict.DatesMatch(day(2024, 1, 15), time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC)))
	assert.False(t, strict.DatesMatch(day(2024, 1, 15), day(2024, 1, 16)))

	loose := DuplicatePolicy{DateToleranceDays: 2}
	assert.True(t, loose.DatesMatch(day(2024, 1, 15), day(2024, 1, 17)))
	assert.True(t, loose.DatesMatch(day(2024, 1, 17), day(2024, 1, 15)))
	assert.False(t, loose.DatesMatch(day(2024, 1, 15), day(2024, 1, 18)))

	from, to := loose.DateWindow(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, day(2024, 1, 13), from)
	assert.Equal(t, day(2024, 1, 17), to)
}

func TestMemoryRepository_Accounts(t *testing.T) {
	repo := NewMemoryRepository()
	repo.AddAccount(model.Account{ID: 1, Name: "Checking", CurrencyCode: "EUR"})

	acc, err := repo.ResolveAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Checking", acc.Name)

	_, err = repo.ResolveAccount(context.Background(), 2)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestMemoryRepository_Names(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	a, err := repo.Payees().FindOrCreate(ctx, "Corner Cafe")
	require.NoError(t, err)
	b, err := repo.Payees().FindOrCreate(ctx, "  corner   CAFE ")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "Corner Cafe", repo.Payees().Name(a))
	assert.Equal(t, 1, repo.Payees().Len())

	c, err := repo.Categories().FindOrCreate(ctx, "Corner Cafe")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.Categories().Len())
	assert.Equal(t, int64(1), c, "payees and categories have separate id spaces")

	_, err = repo.Payees().FindOrCreate(ctx, " ")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestMemoryRepository_BatchSeesOwnInserts(t *testing.T) {
	repo := NewMemoryRepository()
	repo.AddAccount(model.Account{ID: 1, CurrencyCode: "EUR", BalanceMinor: 1000})
	ctx := context.Background()

	batch, err := repo.BeginBatch(ctx, 1)
	require.NoError(t, err)
	defer batch.Close(ctx)

	m := Match{AccountID: 1, Date: day(2024, 1, 15), AmountMinor: -250, Description: "Coffee"}
	found, err := batch.ExistsMatching(ctx, m, DefaultDuplicatePolicy())
	require.NoError(t, err)
	assert.False(t, found)

	id, err := batch.Insert(ctx, &model.Transaction{AccountID: 1, Date: m.Date, AmountMinor: -250, Description: "coffee "})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	found, err = batch.ExistsMatching(ctx, m, DefaultDuplicatePolicy())
	require.NoError(t, err)
	assert.True(t, found)

	acc, err := repo.ResolveAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(750), acc.BalanceMinor)

	_, err = batch.Insert(ctx, &model.Transaction{AccountID: 99})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestMemoryRepository_BatchesSerializePerAccount(t *testing.T) {
	repo := NewMemoryRepository()
	repo.AddAccount(model.Account{ID: 1})
	repo.AddAccount(model.Account{ID: 2})
	ctx := context.Background()

	first, err := repo.BeginBatch(ctx, 1)
	require.NoError(t, err)

	// Another account is independent
	other, err := repo.BeginBatch(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, other.Close(ctx))

	// Same account waits until the context gives up
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = repo.BeginBatch(waitCtx, 1)
	assert.ErrorIs(t, err, model.ErrResourceUnavailable)

	require.NoError(t, first.Close(ctx))
	require.NoError(t, first.Close(ctx))

	second, err := repo.BeginBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, second.Close(ctx))
}

func TestMemoryRepository_ConcurrentBatchesKeepBalance(t *testing.T) {
	repo := NewMemoryRepository()
	repo.AddAccount(model.Account{ID: 1})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch, err := repo.BeginBatch(ctx, 1)
			if err != nil {
				return
			}
			defer batch.Close(ctx)
			for j := 0; j < 10; j++ {
				_, _ = batch.Insert(ctx, &model.Transaction{AccountID: 1, AmountMinor: 5})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = repo.Add(ctx, model.Transaction{AccountID: 1, AmountMinor: -100})
	}()
	wg.Wait()

	acc, err := repo.ResolveAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(20*10*5-100), acc.BalanceMinor)
	assert.Len(t, repo.Transactions(1), 201)
}

func TestMemoryRepository_Mappings(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	got, err := repo.FindMapping(ctx, "fp")
	require.NoError(t, err)
	assert.Nil(t, got)

	m := model.ColumnMapping{Date: "Date", Amount: "Amount", Description: "Memo"}
	require.NoError(t, repo.SaveMapping(ctx, "fp", m))
	got, err = repo.FindMapping(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, m, *got)
}
