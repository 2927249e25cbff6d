package commands

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/FACorreiaa/finance-import/internal/domain/import/committer"
	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	"github.com/FACorreiaa/finance-import/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/finance-import/internal/domain/import/service"
	"github.com/FACorreiaa/finance-import/internal/domain/import/session"
	"github.com/FACorreiaa/finance-import/pkg/db"
)

// target describes where committed rows go
type target struct {
	dsn       string // Postgres when set, else an in-memory ledger
	accountID int64
	currency  string // currency of the in-memory account
}

type pipeline struct {
	svc     *importservice.ImportService
	memory  *repository.MemoryRepository // nil on Postgres
	cleanup func()
}

func (o *rootOptions) newPipeline(t target, logger *slog.Logger) (*pipeline, error) {
	coercer, err := o.coercer()
	if err != nil {
		return nil, err
	}

	p := &pipeline{cleanup: func() {}}
	var (
		accounts           repository.AccountDirectory
		payees, categories repository.NameDirectory
		ledger             repository.Ledger
		mappings           repository.MappingStore
	)

	if t.dsn == "" {
		memory := repository.NewMemoryRepository()
		memory.AddAccount(model.Account{
			ID:           t.accountID,
			Name:         "importctl",
			CurrencyCode: strings.ToUpper(t.currency),
		})
		accounts, payees, categories, ledger, mappings = memory, memory.Payees(), memory.Categories(), memory, memory
		p.memory = memory
	} else {
		database, err := db.New(db.Config{DSN: t.dsn, MaxConns: 4}, logger)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		accounts = repository.NewPostgresAccountDirectory(database.Pool)
		payees = repository.NewPostgresNameDirectory(database.Pool, repository.PayeesTable)
		categories = repository.NewPostgresNameDirectory(database.Pool, repository.CategoriesTable)
		ledger = repository.NewPostgresLedger(repository.NewPoolAcquirer(database.Pool))
		mappings = repository.NewPostgresMappingStore(database.Pool)
		p.cleanup = database.Close
	}

	p.svc = importservice.NewImportService(
		o.reader(),
		coercer,
		committer.New(accounts, payees, categories, ledger, logger),
		session.NewStore(time.Hour),
		importservice.DefaultConfig(),
		logger,
	).WithMappingStore(mappings)
	return p, nil
}
