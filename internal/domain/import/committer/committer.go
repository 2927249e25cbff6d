// Package committer writes staged candidates to the ledger as one batch per
// account. Rows succeed or fail individually; every submitted row ends with
// exactly one outcome.
package committer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	"github.com/FACorreiaa/finance-import/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-import/pkg/money"
)

// Progress is reported after every processed row
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Created   int `json:"created"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ProgressFunc receives commit progress. It runs on the committing goroutine.
type ProgressFunc func(Progress)

// Options tunes one commit
type Options struct {
	Policy     repository.DuplicatePolicy
	OnProgress ProgressFunc
	BatchID    uuid.UUID // generated when zero
}

// DefaultOptions uses the default duplicate policy
func DefaultOptions() Options {
	return Options{Policy: repository.DefaultDuplicatePolicy()}
}

// Committer writes candidate transactions through the repository collaborators
type Committer struct {
	accounts   repository.AccountDirectory
	payees     repository.NameDirectory
	categories repository.NameDirectory
	ledger     repository.Ledger
	logger     *slog.Logger
}

// New creates a committer
func New(accounts repository.AccountDirectory, payees, categories repository.NameDirectory, ledger repository.Ledger, logger *slog.Logger) *Committer {
	return &Committer{
		accounts:   accounts,
		payees:     payees,
		categories: categories,
		ledger:     ledger,
		logger:     logger,
	}
}

// Commit writes the valid candidates to the account. Invalid candidates are
// counted as excluded and never submitted.
//
// A returned error means nothing was written: the account could not be
// resolved or its batch could not be opened. Cancellation is not an error;
// rows already created stay, the rest are reported as failed and the result
// is marked cancelled.
func (c *Committer) Commit(ctx context.Context, accountID int64, candidates []model.CandidateTransaction, opts Options) (*model.ImportResult, error) {
	batchID := opts.BatchID
	if batchID == uuid.Nil {
		batchID = uuid.New()
	}

	valid := make([]model.CandidateTransaction, 0, len(candidates))
	for _, cand := range candidates {
		if cand.Valid() {
			valid = append(valid, cand)
		}
	}

	result := &model.ImportResult{
		BatchID:   batchID,
		AccountID: accountID,
		Submitted: len(valid),
		Excluded:  len(candidates) - len(valid),
		Outcomes:  make([]model.RowOutcome, 0, len(valid)),
		StartedAt: time.Now(),
	}

	acc, err := c.accounts.ResolveAccount(ctx, accountID)
	if err != nil {
		return nil, asResourceError("resolve account", err)
	}
	result.Currency = acc.CurrencyCode

	batch, err := c.ledger.BeginBatch(ctx, accountID)
	if err != nil {
		return nil, asResourceError("open batch", err)
	}
	defer func() {
		if err := batch.Close(context.WithoutCancel(ctx)); err != nil {
			c.logger.Error("failed to close ledger batch",
				slog.Int64("account_id", accountID),
				slog.Any("error", err),
			)
		}
	}()

	net := money.Zero(acc.CurrencyCode)
	progress := Progress{Total: len(valid)}

	for i, cand := range valid {
		if ctx.Err() != nil {
			for _, rest := range valid[i:] {
				c.record(result, &progress, failed(rest, model.ReasonCancelled, nil))
			}
			result.Cancelled = true
			if opts.OnProgress != nil {
				opts.OnProgress(progress)
			}
			break
		}

		outcome, amount := c.commitRow(ctx, batch, acc, batchID, cand, opts.Policy)
		if outcome.Status == model.StatusCreated {
			if sum, err := net.Add(amount); err == nil {
				net = sum
			}
		}
		c.record(result, &progress, outcome)
		if opts.OnProgress != nil {
			opts.OnProgress(progress)
		}
	}

	result.NetMinor = net.Amount()
	result.FinishedAt = time.Now()

	c.logger.Info("import batch committed",
		slog.String("batch_id", batchID.String()),
		slog.Int64("account_id", accountID),
		slog.Int("submitted", result.Submitted),
		slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Int("excluded", result.Excluded),
		slog.Bool("cancelled", result.Cancelled),
		slog.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

func (c *Committer) record(result *model.ImportResult, progress *Progress, o model.RowOutcome) {
	result.Outcomes = append(result.Outcomes, o)
	switch o.Status {
	case model.StatusCreated:
		result.Created++
		progress.Created++
	case model.StatusSkippedDuplicate:
		result.Skipped++
		progress.Skipped++
	default:
		result.Failed++
		progress.Failed++
	}
	progress.Processed++
}

// commitRow runs one candidate through duplicate check, name resolution and
// insert. It returns the created amount alongside the outcome.
func (c *Committer) commitRow(ctx context.Context, batch repository.LedgerBatch, acc *model.Account, batchID uuid.UUID, cand model.CandidateTransaction, policy repository.DuplicatePolicy) (model.RowOutcome, *money.Money) {
	amount, err := money.NewFromDecimal(cand.Amount, acc.CurrencyCode)
	if err != nil {
		return failed(cand, model.ReasonAmountPrecision, err), nil
	}

	exists, err := batch.ExistsMatching(ctx, repository.Match{
		AccountID:   acc.ID,
		Date:        cand.Date,
		AmountMinor: amount.Amount(),
		Description: cand.Description,
	}, policy)
	if err != nil {
		return c.rowFailure(ctx, cand, model.ReasonLookupFailed, err), nil
	}
	if exists {
		return model.RowOutcome{
			Index:       cand.Index,
			Line:        cand.Line,
			Status:      model.StatusSkippedDuplicate,
			Reason:      model.ReasonDuplicate,
			Description: cand.Description,
		}, nil
	}

	payeeID, err := c.resolveName(ctx, c.payees, cand.Payee)
	if err != nil {
		return c.rowFailure(ctx, cand, model.ReasonPayeeUnresolved, err), nil
	}
	categoryID, err := c.resolveName(ctx, c.categories, cand.Category)
	if err != nil {
		return c.rowFailure(ctx, cand, model.ReasonCategoryUnresolved, err), nil
	}

	id, err := batch.Insert(ctx, &model.Transaction{
		AccountID:   acc.ID,
		BatchID:     batchID,
		Date:        cand.Date,
		AmountMinor: amount.Amount(),
		Amount:      cand.Amount,
		Currency:    amount.Currency(),
		Description: cand.Description,
		Type:        cand.Type,
		PayeeID:     payeeID,
		CategoryID:  categoryID,
		SourceLine:  cand.Line,
	})
	if err != nil {
		return c.rowFailure(ctx, cand, model.ReasonInsertFailed, err), nil
	}

	return model.RowOutcome{
		Index:         cand.Index,
		Line:          cand.Line,
		Status:        model.StatusCreated,
		Description:   cand.Description,
		TransactionID: id,
	}, amount
}

func (c *Committer) resolveName(ctx context.Context, dir repository.NameDirectory, name string) (*int64, error) {
	if name == "" || dir == nil {
		return nil, nil
	}
	id, err := dir.FindOrCreate(ctx, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// rowFailure reports a row as cancelled when the failure came from the commit
// context rather than the row itself
func (c *Committer) rowFailure(ctx context.Context, cand model.CandidateTransaction, reason string, err error) model.RowOutcome {
	if ctx.Err() != nil {
		return failed(cand, model.ReasonCancelled, err)
	}
	c.logger.Warn("import row failed",
		slog.Int("line", cand.Line),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
	return failed(cand, reason, err)
}

func failed(cand model.CandidateTransaction, reason string, err error) model.RowOutcome {
	o := model.RowOutcome{
		Index:       cand.Index,
		Line:        cand.Line,
		Status:      model.StatusFailed,
		Reason:      reason,
		Description: cand.Description,
	}
	if err != nil {
		o.Detail = err.Error()
	}
	return o
}

func asResourceError(op string, err error) error {
	if errors.Is(err, model.ErrResourceUnavailable) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("%w: failed to %s: %w", model.ErrResourceUnavailable, op, err)
}
