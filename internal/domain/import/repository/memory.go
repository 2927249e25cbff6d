package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

// MemoryRepository implements every collaborator in process. It backs the CLI
// dry run and tests.
type MemoryRepository struct {
	mu           sync.Mutex
	accounts     map[int64]*model.Account
	transactions []model.Transaction
	mappings     map[string]model.ColumnMapping
	nextTxID     int64

	payees     *MemoryNames
	categories *MemoryNames

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:   make(map[int64]*model.Account),
		mappings:   make(map[string]model.ColumnMapping),
		payees:     newMemoryNames(),
		categories: newMemoryNames(),
		locks:      make(map[int64]*sync.Mutex),
	}
}

// AddAccount registers an account
func (r *MemoryRepository) AddAccount(acc model.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[acc.ID] = &acc
}

// ResolveAccount implements AccountDirectory
func (r *MemoryRepository) ResolveAccount(_ context.Context, id int64) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}
	out := *acc
	return &out, nil
}

// Payees returns the payee directory
func (r *MemoryRepository) Payees() *MemoryNames { return r.payees }

// Categories returns the category directory
func (r *MemoryRepository) Categories() *MemoryNames { return r.categories }

// Transactions returns a copy of the ledger rows of an account
func (r *MemoryRepository) Transactions(accountID int64) []model.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Transaction
	for _, t := range r.transactions {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}

// Add writes a transaction outside of any import batch, the way manual entry
// would. It waits for the account's exclusive section like a batch does.
func (r *MemoryRepository) Add(_ context.Context, t model.Transaction) (int64, error) {
	lock := r.accountLock(t.AccountID)
	lock.Lock()
	defer lock.Unlock()
	return r.insert(t)
}

func (r *MemoryRepository) accountLock(accountID int64) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[accountID] = l
	}
	return l
}

func (r *MemoryRepository) insert(t model.Transaction) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[t.AccountID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrAccountNotFound, t.AccountID)
	}
	r.nextTxID++
	t.ID = r.nextTxID
	t.Date = dateOnly(t.Date)
	r.transactions = append(r.transactions, t)
	acc.BalanceMinor += t.AmountMinor
	return t.ID, nil
}

// BeginBatch implements Ledger with a keyed mutex per account
func (r *MemoryRepository) BeginBatch(ctx context.Context, accountID int64) (LedgerBatch, error) {
	lock := r.accountLock(accountID)

	acquired := make(chan struct{})
	go func() {
		lock.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return &memoryBatch{repo: r, lock: lock}, nil
	case <-ctx.Done():
		// Hand the lock back once the waiter gets it
		go func() {
			<-acquired
			lock.Unlock()
		}()
		return nil, fmt.Errorf("%w: lock account: %v", model.ErrResourceUnavailable, ctx.Err())
	}
}

type memoryBatch struct {
	repo   *MemoryRepository
	lock   *sync.Mutex
	closed bool
}

func (b *memoryBatch) ExistsMatching(_ context.Context, m Match, policy DuplicatePolicy) (bool, error) {
	b.repo.mu.Lock()
	defer b.repo.mu.Unlock()

	for _, t := range b.repo.transactions {
		if t.AccountID != m.AccountID || t.AmountMinor != m.AmountMinor {
			continue
		}
		if policy.DatesMatch(m.Date, t.Date) && policy.DescriptionsMatch(m.Description, t.Description) {
			return true, nil
		}
	}
	return false, nil
}

func (b *memoryBatch) Insert(_ context.Context, t *model.Transaction) (int64, error) {
	return b.repo.insert(*t)
}

func (b *memoryBatch) Close(context.Context) error {
	if !b.closed {
		b.closed = true
		b.lock.Unlock()
	}
	return nil
}

// SaveMapping implements MappingStore
func (r *MemoryRepository) SaveMapping(_ context.Context, fingerprint string, mapping model.ColumnMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[fingerprint] = mapping
	return nil
}

// FindMapping implements MappingStore
func (r *MemoryRepository) FindMapping(_ context.Context, fingerprint string) (*model.ColumnMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mappings[fingerprint]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// MemoryNames is an in-memory NameDirectory
type MemoryNames struct {
	mu     sync.Mutex
	ids    map[string]int64
	names  map[int64]string
	nextID int64
}

func newMemoryNames() *MemoryNames {
	return &MemoryNames{ids: make(map[string]int64), names: make(map[int64]string)}
}

// FindOrCreate implements NameDirectory
func (n *MemoryNames) FindOrCreate(_ context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrEmptyName
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	key := nameKey(name)
	if id, ok := n.ids[key]; ok {
		return id, nil
	}
	n.nextID++
	n.ids[key] = n.nextID
	n.names[n.nextID] = name
	return n.nextID, nil
}

// Name returns the stored name for an id
func (n *MemoryNames) Name(id int64) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.names[id]
}

// Len returns the number of stored names
func (n *MemoryNames) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ids)
}
