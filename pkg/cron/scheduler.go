// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SessionPurger drops idle import sessions
type SessionPurger interface {
	PurgeExpired() int
}

// ArchivePurger deletes archived uploads older than a cutoff
type ArchivePurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Config holds job schedules in standard 5-field cron format (or "@every 5m")
type Config struct {
	SessionPurgeSpec string
	ArchivePurgeSpec string
	ArchiveRetention time.Duration
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	config   Config
	sessions SessionPurger
	archive  ArchivePurger
	logger   *slog.Logger
}

// NewScheduler creates a new job scheduler. archive may be nil when uploads
// are not archived.
func NewScheduler(config Config, sessions SessionPurger, archive ArchivePurger, logger *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:     c,
		config:   config,
		sessions: sessions,
		archive:  archive,
		logger:   logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.config.SessionPurgeSpec, s.purgeSessions); err != nil {
		return err
	}

	if s.archive != nil && s.config.ArchiveRetention > 0 {
		if _, err := s.cron.AddFunc(s.config.ArchivePurgeSpec, s.purgeArchive); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow runs every job once, synchronously.
func (s *Scheduler) RunNow() {
	s.purgeSessions()
	if s.archive != nil && s.config.ArchiveRetention > 0 {
		s.purgeArchive()
	}
}

func (s *Scheduler) purgeSessions() {
	if n := s.sessions.PurgeExpired(); n > 0 {
		s.logger.Info("purged expired import sessions", slog.Int("sessions", n))
	}
}

func (s *Scheduler) purgeArchive() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.config.ArchiveRetention)
	n, err := s.archive.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Warn("failed to purge archived uploads", slog.Any("error", err))
		return
	}
	s.logger.Info("purged archived uploads",
		slog.Int("files", n),
		slog.Time("cutoff", cutoff),
	)
}
