package committer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	"github.com/FACorreiaa/finance-import/internal/domain/import/repository"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRepo() *repository.MemoryRepository {
	repo := repository.NewMemoryRepository()
	repo.AddAccount(model.Account{ID: 1, Name: "Checking", CurrencyCode: "EUR", BalanceMinor: 10000})
	return repo
}

func newCommitter(repo *repository.MemoryRepository) *Committer {
	return New(repo, repo.Payees(), repo.Categories(), repo, quietLogger())
}

func candidate(i int, date string, amount string, desc string) model.CandidateTransaction {
	d, _ := time.Parse("2006-01-02", date)
	amt := decimal.RequireFromString(amount)
	typ := model.Withdrawal
	if amt.IsPositive() {
		typ = model.Deposit
	}
	return model.CandidateTransaction{
		Index:       i,
		Line:        i + 2,
		Date:        d,
		Amount:      amt,
		Description: desc,
		Type:        typ,
	}
}

func fakeCandidates(seed int64, n int) []model.CandidateTransaction {
	faker := gofakeit.New(seed)
	out := make([]model.CandidateTransaction, n)
	for i := range out {
		date := faker.DateRange(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
		cents := faker.IntRange(-50000, 50000)
		if cents == 0 {
			cents = 1
		}
		c := candidate(i, date.Format("2006-01-02"), decimal.New(int64(cents), -2).String(), faker.Company())
		c.Payee = faker.RandomString([]string{"", "Corner Cafe", "Grocer", "Landlord"})
		out[i] = c
	}
	return out
}

// ============================================================================
// Outcome accounting
// ============================================================================

func TestCommit_CreatesEveryValidRow(t *testing.T) {
	repo := newRepo()
	c := newCommitter(repo)

	cands := []model.CandidateTransaction{
		candidate(0, "2024-01-15", "-12.50", "Coffee"),
		candidate(1, "2024-01-16", "2500.00", "Salary"),
		{Index: 2, Line: 4, Errors: []model.FieldError{{Field: "date", Code: model.CodeInvalidDate}}},
	}
	cands[0].Payee = "Corner Cafe"
	cands[1].Category = "Income"

	result, err := c.Commit(context.Background(), 1, cands, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Submitted)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Excluded)
	assert.True(t, result.Balanced())
	assert.Empty(t, result.Problems())
	assert.Equal(t, "EUR", result.Currency)
	assert.Equal(t, int64(248750), result.NetMinor)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	acc, err := repo.ResolveAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10000+248750), acc.BalanceMinor)

	txs := repo.Transactions(1)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(-1250), txs[0].AmountMinor)
	assert.Equal(t, result.BatchID, txs[0].BatchID)
	assert.Equal(t, 2, txs[0].SourceLine)
	require.NotNil(t, txs[0].PayeeID)
	assert.Equal(t, "Corner Cafe", repo.Payees().Name(*txs[0].PayeeID))
	assert.Nil(t, txs[0].CategoryID)
	require.NotNil(t, txs[1].CategoryID)

	for _, o := range result.Outcomes {
		assert.Equal(t, model.StatusCreated, o.Status)
		assert.NotZero(t, o.TransactionID)
	}
}

func TestCommit_CountsAlwaysBalance(t *testing.T) {
	repo := newRepo()
	c := newCommitter(repo)

	cands := fakeCandidates(7, 300)
	// Repeat a few rows so duplicates appear within the batch
	cands = append(cands, cands[3], cands[40], cands[41])

	result, err := c.Commit(context.Background(), 1, cands, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, result.Balanced())
	assert.Len(t, result.Outcomes, result.Submitted)
	assert.GreaterOrEqual(t, result.Skipped, 3)
}

// ============================================================================
// Duplicates
// ============================================================================

func TestCommit_IsIdempotent(t *testing.T) {
	repo := newRepo()
	c := newCommitter(repo)
	cands := fakeCandidates(11, 100)

	first, err := c.Commit(context.Background(), 1, cands, DefaultOptions())
	require.NoError(t, err)
	balance := mustBalance(t, repo)

	second, err := c.Commit(context.Background(), 1, cands, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 0, second.Created)
	assert.Equal(t, first.Created+first.Skipped, second.Skipped)
	assert.Equal(t, int64(0), second.NetMinor)
	assert.Equal(t, balance, mustBalance(t, repo))
	for _, o := range second.Outcomes {
		assert.Equal(t, model.ReasonDuplicate, o.Reason)
	}
}

func TestCommit_DuplicateWithinBatch(t *testing.T) {
	repo := newRepo()
	c := newCommitter(repo)

	cands := []model.CandidateTransaction{
		candidate(0, "2024-02-01", "-4.20", "Bakery"),
		candidate(1, "2024-02-01", "-4.20", "BAKERY "),
		candidate(2, "2024-02-02", "-4.20", "Bakery"),
	}

	result, err := c.Commit(context.Background(), 1, cands, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, model.StatusSkippedDuplicate, result.Outcomes[1].Status)
	assert.Equal(t, 3, result.Outcomes[1].Line)
}

func TestCommit_OrderDoesNotChangeWhatIsCreated(t *testing.T) {
	cands := fakeCandidates(23, 120)
	cands = append(cands, cands[5], cands[6])

	keys := func(order []model.CandidateTransaction) ([]string, int) {
		repo := newRepo()
		result, err := newCommitter(repo).Commit(context.Background(), 1, order, DefaultOptions())
		require.NoError(t, err)

		var created []string
		for _, tx := range repo.Transactions(1) {
			created = append(created, fmt.Sprintf("%s|%d|%s", tx.Date.Format("2006-01-02"), tx.AmountMinor, tx.Description))
		}
		sort.Strings(created)
		return created, result.Skipped
	}

	shuffled := append([]model.CandidateTransaction(nil), cands...)
	gofakeit.New(99).ShuffleAnySlice(shuffled)

	wantKeys, wantSkipped := keys(cands)
	gotKeys, gotSkipped := keys(shuffled)
	assert.Equal(t, wantKeys, gotKeys)
	assert.Equal(t, wantSkipped, gotSkipped)
}

// ============================================================================
// Failures
// ============================================================================

type failingNames struct {
	fail string
	next repository.NameDirectory
}

func (f failingNames) FindOrCreate(ctx context.Context, name string) (int64, error) {
	if name == f.fail {
		return 0, errors.New("directory offline")
	}
	return f.next.FindOrCreate(ctx, name)
}

func TestCommit_NameFailureOnlyFailsThatRow(t *testing.T) {
	repo := newRepo()
	c := New(repo, failingNames{fail: "Broken Payee", next: repo.Payees()}, failingNames{fail: "Broken Category", next: repo.Categories()}, repo, quietLogger())

	cands := []model.CandidateTransaction{
		candidate(0, "2024-03-01", "-1.00", "A"),
		candidate(1, "2024-03-02", "-2.00", "B"),
		candidate(2, "2024-03-03", "-3.00", "C"),
	}
	cands[0].Payee = "Broken Payee"
	cands[1].Category = "Broken Category"

	result, err := c.Commit(context.Background(), 1, cands, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, model.ReasonPayeeUnresolved, result.Outcomes[0].Reason)
	assert.Equal(t, "directory offline", result.Outcomes[0].Detail)
	assert.Equal(t, model.ReasonCategoryUnresolved, result.Outcomes[1].Reason)
	assert.Equal(t, model.StatusCreated, result.Outcomes[2].Status)
	assert.Len(t, repo.Transactions(1), 1)
}

type flakyLedger struct {
	repository.Ledger
	beginErr  error
	failLines map[int]bool
}

func (l *flakyLedger) BeginBatch(ctx context.Context, accountID int64) (repository.LedgerBatch, error) {
	if l.beginErr != nil {
		return nil, l.beginErr
	}
	b, err := l.Ledger.BeginBatch(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &flakyBatch{LedgerBatch: b, failLines: l.failLines}, nil
}

type flakyBatch struct {
	repository.LedgerBatch
	failLines map[int]bool
}

func (b *flakyBatch) Insert(ctx context.Context, tx *model.Transaction) (int64, error) {
	if b.failLines[tx.SourceLine] {
		return 0, errors.New("constraint violation")
	}
	return b.LedgerBatch.Insert(ctx, tx)
}

func TestCommit_InsertFailureIsIsolated(t *testing.T) {
	repo := newRepo()
	ledger := &flakyLedger{Ledger: repo, failLines: map[int]bool{3: true}}
	c := New(repo, repo.Payees(), repo.Categories(), ledger, quietLogger())

	cands := []model.CandidateTransaction{
		candidate(0, "2024-03-01", "-1.00", "A"),
		candidate(1, "2024-03-02", "-2.00", "B"),
		candidate(2, "2024-03-03", "-3.00", "C"),
	}

	result, err := c.Commit(context.Background(), 1, cands, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, model.ReasonInsertFailed, result.Outcomes[1].Reason)
	assert.Equal(t, int64(-400), result.NetMinor)
	assert.Equal(t, int64(10000-400), mustBalance(t, repo))
}

func TestCommit_ResourceErrors(t *testing.T) {
	t.Run("unknown account", func(t *testing.T) {
		repo := newRepo()
		result, err := newCommitter(repo).Commit(context.Background(), 42, fakeCandidates(1, 3), DefaultOptions())
		assert.Nil(t, result)
		assert.ErrorIs(t, err, model.ErrResourceUnavailable)
		assert.ErrorIs(t, err, repository.ErrAccountNotFound)
	})

	t.Run("batch cannot open", func(t *testing.T) {
		repo := newRepo()
		ledger := &flakyLedger{Ledger: repo, beginErr: errors.New("too many connections")}
		c := New(repo, repo.Payees(), repo.Categories(), ledger, quietLogger())

		result, err := c.Commit(context.Background(), 1, fakeCandidates(1, 3), DefaultOptions())
		assert.Nil(t, result)
		assert.ErrorIs(t, err, model.ErrResourceUnavailable)
		assert.Empty(t, repo.Transactions(1))
	})
}

func TestCommit_PrecisionLoss(t *testing.T) {
	repo := newRepo()
	c := newCommitter(repo)

	cands := []model.CandidateTransaction{
		candidate(0, "2024-03-01", "-1.005", "Fuel"),
		candidate(1, "2024-03-01", "-1.00", "Fuel"),
	}

	result, err := c.Commit(context.Background(), 1, cands, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, result.Outcomes[0].Status)
	assert.Equal(t, model.ReasonAmountPrecision, result.Outcomes[0].Reason)
	assert.NotEmpty(t, result.Outcomes[0].Detail)
	assert.Equal(t, model.StatusCreated, result.Outcomes[1].Status)
}

// ============================================================================
// Cancellation and progress
// ============================================================================

func TestCommit_CancelKeepsCreatedRows(t *testing.T) {
	repo := newRepo()
	c := newCommitter(repo)
	cands := fakeCandidates(5, 50)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var last Progress
	opts := DefaultOptions()
	opts.OnProgress = func(p Progress) {
		last = p
		if p.Processed == 10 {
			cancel()
		}
	}

	result, err := c.Commit(ctx, 1, cands, opts)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, Progress{
		Processed: 50,
		Total:     50,
		Created:   result.Created,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
	}, last, "listeners see the cancelled rows too")
	assert.True(t, result.Balanced())
	assert.Equal(t, 10, result.Created+result.Skipped)
	assert.Equal(t, 40, result.Failed)
	assert.Len(t, repo.Transactions(1), result.Created)
	for _, o := range result.Outcomes[10:] {
		assert.Equal(t, model.ReasonCancelled, o.Reason)
	}

	// The account is usable again once the batch is closed
	_, err = c.Commit(context.Background(), 1, nil, DefaultOptions())
	assert.NoError(t, err)
}

func TestCommit_ReportsProgress(t *testing.T) {
	repo := newRepo()
	c := newCommitter(repo)
	cands := fakeCandidates(3, 25)

	var seen []Progress
	opts := DefaultOptions()
	opts.OnProgress = func(p Progress) { seen = append(seen, p) }

	result, err := c.Commit(context.Background(), 1, cands, opts)
	require.NoError(t, err)
	require.Len(t, seen, 25)
	for i, p := range seen {
		assert.Equal(t, i+1, p.Processed)
		assert.Equal(t, 25, p.Total)
	}
	last := seen[len(seen)-1]
	assert.Equal(t, result.Created, last.Created)
	assert.Equal(t, result.Skipped, last.Skipped)
	assert.Equal(t, result.Failed, last.Failed)
}

func mustBalance(t *testing.T, repo *repository.MemoryRepository) int64 {
	t.Helper()
	acc, err := repo.ResolveAccount(context.Background(), 1)
	require.NoError(t, err)
	return acc.BalanceMinor
}
