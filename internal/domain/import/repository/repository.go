// Package repository provides the collaborators the import pipeline writes
// through: account lookup, payee/category directories, the transaction ledger
// and remembered column mappings.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEmptyName       = errors.New("name is empty")
)

// AccountDirectory resolves commit targets
type AccountDirectory interface {
	ResolveAccount(ctx context.Context, id int64) (*model.Account, error)
}

// NameDirectory finds or creates payees or categories by name. Lookups are
// case-insensitive and repeated calls with the same name return the same id.
type NameDirectory interface {
	FindOrCreate(ctx context.Context, name string) (int64, error)
}

// Match identifies a potential duplicate in the ledger
type Match struct {
	AccountID   int64
	Date        time.Time
	AmountMinor int64
	Description string
}

// Ledger opens per-account write batches
type Ledger interface {
	// BeginBatch takes the account's exclusive section. It is held until Close,
	// so two batches on one account never interleave.
	BeginBatch(ctx context.Context, accountID int64) (LedgerBatch, error)
}

// LedgerBatch writes transactions for one account. ExistsMatching sees rows
// inserted earlier in the same batch.
type LedgerBatch interface {
	ExistsMatching(ctx context.Context, m Match, policy DuplicatePolicy) (bool, error)
	// Insert writes the transaction and applies it to the account balance
	// atomically, returning the new transaction id.
	Insert(ctx context.Context, tx *model.Transaction) (int64, error)
	Close(ctx context.Context) error
}

// MappingStore remembers the last committed mapping per header fingerprint
type MappingStore interface {
	SaveMapping(ctx context.Context, fingerprint string, mapping model.ColumnMapping) error
	// FindMapping returns nil without error when nothing is stored
	FindMapping(ctx context.Context, fingerprint string) (*model.ColumnMapping, error)
}

// dateOnly drops the time of day so ledger dates compare as calendar days
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
