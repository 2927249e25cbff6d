package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

// DB is the subset of pgxpool.Pool (and pgxpool.Conn) the repositories use
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ConnAcquirer hands out a dedicated connection. Session advisory locks belong
// to a connection, so a batch must run entirely on one.
type ConnAcquirer interface {
	AcquireConn(ctx context.Context) (DB, func(), error)
}

type poolAcquirer struct {
	pool *pgxpool.Pool
}

// NewPoolAcquirer adapts a pgx pool to ConnAcquirer
func NewPoolAcquirer(pool *pgxpool.Pool) ConnAcquirer {
	return &poolAcquirer{pool: pool}
}

func (a *poolAcquirer) AcquireConn(ctx context.Context) (DB, func(), error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return conn, conn.Release, nil
}

// unavailable marks infrastructure failures that should abort a commit
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrResourceUnavailable, op, err)
}

// =============================================================================
// Accounts
// =============================================================================

// PostgresAccountDirectory implements AccountDirectory using PostgreSQL
type PostgresAccountDirectory struct {
	db DB
}

// NewPostgresAccountDirectory creates a new PostgreSQL account directory
func NewPostgresAccountDirectory(db DB) *PostgresAccountDirectory {
	return &PostgresAccountDirectory{db: db}
}

// ResolveAccount loads an account by id
func (r *PostgresAccountDirectory) ResolveAccount(ctx context.Context, id int64) (*model.Account, error) {
	query := `
		SELECT id, name, currency_code, balance_minor
		FROM accounts
		WHERE id = $1`

	acc := &model.Account{}
	err := r.db.QueryRow(ctx, query, id).Scan(&acc.ID, &acc.Name, &acc.CurrencyCode, &acc.BalanceMinor)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, unavailable("resolve account", err)
	}
	return acc, nil
}

// =============================================================================
// Payees and categories
// =============================================================================

// NameTable selects which directory table a PostgresNameDirectory writes
type NameTable string

const (
	PayeesTable     NameTable = "payees"
	CategoriesTable NameTable = "categories"
)

// PostgresNameDirectory implements NameDirectory over a (name, name_key) table
type PostgresNameDirectory struct {
	db    DB
	table NameTable
}

// NewPostgresNameDirectory creates a directory over the payees or categories table
func NewPostgresNameDirectory(db DB, table NameTable) *PostgresNameDirectory {
	return &PostgresNameDirectory{db: db, table: table}
}

// FindOrCreate returns the id for name, inserting it on first use
func (r *PostgresNameDirectory) FindOrCreate(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrEmptyName
	}

	// The no-op update makes RETURNING yield the existing row on conflict
	query := fmt.Sprintf(`
		INSERT INTO %s (name, name_key)
		VALUES ($1, $2)
		ON CONFLICT (name_key) DO UPDATE SET name_key = EXCLUDED.name_key
		RETURNING id`, pgx.Identifier{string(r.table)}.Sanitize())

	var id int64
	if err := r.db.QueryRow(ctx, query, name, nameKey(name)).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to find or create %s %q: %w", r.table, name, err)
	}
	return id, nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// =============================================================================
// Ledger
// =============================================================================

// PostgresLedger implements Ledger with a session advisory lock per account
type PostgresLedger struct {
	conns ConnAcquirer
}

// NewPostgresLedger creates a ledger that takes one connection per batch
func NewPostgresLedger(conns ConnAcquirer) *PostgresLedger {
	return &PostgresLedger{conns: conns}
}

// BeginBatch acquires a connection and blocks until the account lock is held
func (l *PostgresLedger) BeginBatch(ctx context.Context, accountID int64) (LedgerBatch, error) {
	conn, release, err := l.conns.AcquireConn(ctx)
	if err != nil {
		return nil, unavailable("acquire connection", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, accountID); err != nil {
		release()
		return nil, unavailable("lock account", err)
	}

	return &postgresBatch{conn: conn, release: release, accountID: accountID}, nil
}

type postgresBatch struct {
	conn      DB
	release   func()
	accountID int64
	closed    bool
}

func (b *postgresBatch) ExistsMatching(ctx context.Context, m Match, policy DuplicatePolicy) (bool, error) {
	from, to := policy.DateWindow(m.Date)
	query := `
		SELECT description
		FROM transactions
		WHERE account_id = $1 AND amount_minor = $2 AND booked_on BETWEEN $3 AND $4`

	rows, err := b.conn.Query(ctx, query, m.AccountID, m.AmountMinor, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to query matching transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var description string
		if err := rows.Scan(&description); err != nil {
			return false, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if policy.DescriptionsMatch(m.Description, description) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to read matching transactions: %w", err)
	}
	return false, nil
}

func (b *postgresBatch) Insert(ctx context.Context, t *model.Transaction) (id int64, err error) {
	tx, err := b.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	insert := `
		INSERT INTO transactions (account_id, batch_id, booked_on, amount_minor, currency_code, description, type, payee_id, category_id, source_line)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err = tx.QueryRow(ctx, insert,
		t.AccountID,
		t.BatchID,
		dateOnly(t.Date),
		t.AmountMinor,
		t.Currency,
		t.Description,
		string(t.Type),
		t.PayeeID,
		t.CategoryID,
		t.SourceLine,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance_minor = balance_minor + $1, updated_at = now() WHERE id = $2`,
		t.AmountMinor, t.AccountID)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() != 1 {
		err = fmt.Errorf("%w: %d", ErrAccountNotFound, t.AccountID)
		return 0, err
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

func (b *postgresBatch) Close(ctx context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true
	defer b.release()

	// A cancelled commit context must not leave the lock held
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if _, err := b.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, b.accountID); err != nil {
		return fmt.Errorf("failed to unlock account %d: %w", b.accountID, err)
	}
	return nil
}

// =============================================================================
// Remembered mappings
// =============================================================================

// PostgresMappingStore implements MappingStore using PostgreSQL
type PostgresMappingStore struct {
	db DB
}

// NewPostgresMappingStore creates a new PostgreSQL mapping store
func NewPostgresMappingStore(db DB) *PostgresMappingStore {
	return &PostgresMappingStore{db: db}
}

// SaveMapping upserts the mapping for a header fingerprint
func (r *PostgresMappingStore) SaveMapping(ctx context.Context, fingerprint string, mapping model.ColumnMapping) error {
	data, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	query := `
		INSERT INTO import_mappings (fingerprint, mapping, use_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (fingerprint) DO UPDATE
		SET mapping = EXCLUDED.mapping, use_count = import_mappings.use_count + 1, updated_at = now()`

	if _, err := r.db.Exec(ctx, query, fingerprint, data); err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	return nil
}

// FindMapping returns the stored mapping for a fingerprint
func (r *PostgresMappingStore) FindMapping(ctx context.Context, fingerprint string) (*model.ColumnMapping, error) {
	var data []byte
	err := r.db.QueryRow(ctx, `SELECT mapping FROM import_mappings WHERE fingerprint = $1`, fingerprint).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find mapping: %w", err)
	}

	var mapping model.ColumnMapping
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mapping: %w", err)
	}
	return &mapping, nil
}
