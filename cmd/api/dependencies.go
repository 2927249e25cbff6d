package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FACorreiaa/finance-import/internal/domain/import/committer"
	importhandler "github.com/FACorreiaa/finance-import/internal/domain/import/handler"
	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	"github.com/FACorreiaa/finance-import/internal/domain/import/normalizer"
	"github.com/FACorreiaa/finance-import/internal/domain/import/parser"
	importrepo "github.com/FACorreiaa/finance-import/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/finance-import/internal/domain/import/service"
	"github.com/FACorreiaa/finance-import/internal/domain/import/session"
	"github.com/FACorreiaa/finance-import/pkg/config"
	"github.com/FACorreiaa/finance-import/pkg/cron"
	"github.com/FACorreiaa/finance-import/pkg/db"
	"github.com/FACorreiaa/finance-import/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	Accounts   importrepo.AccountDirectory
	Payees     importrepo.NameDirectory
	Categories importrepo.NameDirectory
	Ledger     importrepo.Ledger
	Mappings   importrepo.MappingStore

	// Services
	Sessions      *session.Store
	ImportService *importservice.ImportService
	FileStorage   *storage.LocalStorage
	Registry      *prometheus.Registry
	Scheduler     *cron.Scheduler

	// Handlers
	ImportHandler *importhandler.ImportHandler
	Router        http.Handler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := deps.initHandlers(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	if d.Config.Database.Memory {
		d.Logger.Warn("running with the in-memory repository, imported data is not persisted")
		return nil
	}

	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		d.DB.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	if d.DB == nil {
		memory := importrepo.NewMemoryRepository()
		memory.AddAccount(model.Account{ID: 1, Name: "Default", CurrencyCode: "EUR"})
		d.Accounts = memory
		d.Payees = memory.Payees()
		d.Categories = memory.Categories()
		d.Ledger = memory
		d.Mappings = memory
		d.Logger.Info("repositories initialized", slog.String("backend", "memory"))
		return nil
	}

	d.Accounts = importrepo.NewPostgresAccountDirectory(d.DB.Pool)
	d.Payees = importrepo.NewPostgresNameDirectory(d.DB.Pool, importrepo.PayeesTable)
	d.Categories = importrepo.NewPostgresNameDirectory(d.DB.Pool, importrepo.CategoriesTable)
	d.Ledger = importrepo.NewPostgresLedger(importrepo.NewPoolAcquirer(d.DB.Pool))
	d.Mappings = importrepo.NewPostgresMappingStore(d.DB.Pool)

	d.Logger.Info("repositories initialized", slog.String("backend", "postgres"))
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	ic := d.Config.Import

	numberFormat, err := normalizer.ParseNumberFormat(ic.NumberFormat)
	if err != nil {
		return err
	}
	reader := parser.NewReader(parser.ReaderConfig{
		SampleSize: ic.SampleSize,
		MaxRows:    ic.MaxRows,
		MaxBytes:   ic.MaxUploadBytes,
	})
	coercer := normalizer.NewCoercer(normalizer.Config{
		DateFormats:  ic.DateFormats,
		NumberFormat: numberFormat,
		Workers:      ic.Workers,
		ChunkSize:    ic.ChunkSize,
	})
	commit := committer.New(d.Accounts, d.Payees, d.Categories, d.Ledger, d.Logger)

	svcConfig := importservice.DefaultConfig()
	svcConfig.PreviewLimit = ic.PreviewLimit
	svcConfig.Session.AllowEmptyCommit = ic.AllowEmptyCommit
	svcConfig.Policy.DateToleranceDays = ic.DuplicateDateToleranceDays
	svcConfig.Policy.MaxEditDistance = ic.DuplicateMaxEditDistance

	d.Sessions = session.NewStore(ic.SessionTTL)
	d.ImportService = importservice.NewImportService(reader, coercer, commit, d.Sessions, svcConfig, d.Logger).
		WithMappingStore(d.Mappings)

	if d.Config.Observability.MetricsEnabled {
		d.Registry = prometheus.NewRegistry()
		d.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		d.ImportService.WithMetrics(importservice.NewMetrics(d.Registry, d.Sessions.Len))
	}

	// Nil stays nil so the scheduler skips the archive job
	var archive cron.ArchivePurger
	if d.Config.Storage.Enabled {
		fileStorage, err := storage.NewLocalStorage(d.Config.Storage.LocalPath)
		if err != nil {
			return fmt.Errorf("failed to init file storage: %w", err)
		}
		d.FileStorage = fileStorage
		d.ImportService.WithArchive(fileStorage)
		archive = fileStorage
	}

	d.Scheduler = cron.NewScheduler(cron.Config{
		SessionPurgeSpec: d.Config.Cron.SessionPurgeSpec,
		ArchivePurgeSpec: d.Config.Cron.ArchivePurgeSpec,
		ArchiveRetention: d.Config.Storage.ArchiveRetention,
	}, d.Sessions, archive, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, d.Config.Import.MaxUploadBytes, d.Logger)

	routerConfig := importhandler.RouterConfig{
		AllowedOrigins: d.Config.Server.AllowedOrigins,
		RateLimit:      float64(d.Config.Server.RateLimitPerSecond),
		RateBurst:      d.Config.Server.RateLimitBurst,
		RequestTimeout: d.Config.Server.RequestTimeout,
	}
	if d.Registry != nil {
		routerConfig.Metrics = promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})
	}
	if d.DB != nil {
		routerConfig.Health = func(ctx context.Context) error { return d.DB.Ping(ctx) }
	}
	d.Router = importhandler.NewRouter(d.ImportHandler, routerConfig, d.Logger)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
