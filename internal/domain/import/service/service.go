// Package service provides the import orchestration logic: reading uploads,
// inferring mappings, staging previews and committing batches, both as
// one-shot calls and through long-lived wizard sessions.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/finance-import/internal/domain/import/committer"
	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	"github.com/FACorreiaa/finance-import/internal/domain/import/normalizer"
	"github.com/FACorreiaa/finance-import/internal/domain/import/parser"
	"github.com/FACorreiaa/finance-import/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-import/internal/domain/import/session"
	"github.com/FACorreiaa/finance-import/internal/domain/import/sniffer"
	"github.com/FACorreiaa/finance-import/internal/domain/import/staging"
	"github.com/FACorreiaa/finance-import/pkg/storage"
)

const tracerName = "github.com/FACorreiaa/finance-import/internal/domain/import/service"

// FileArchive keeps a copy of the file each session is working on, keyed by
// session id
type FileArchive interface {
	Upload(ctx context.Context, ownerID uuid.UUID, filename string, contentType string, r io.Reader) (*storage.FileInfo, error)
	Download(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (io.ReadCloser, *storage.FileInfo, error)
	Delete(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) error
	List(ctx context.Context, ownerID uuid.UUID) ([]*storage.FileInfo, error)
}

// Config tunes the service
type Config struct {
	PreviewLimit int // rows returned by a preview when the caller asks for none
	Session      session.Options
	Policy       repository.DuplicatePolicy
}

// DefaultConfig returns the service defaults
func DefaultConfig() Config {
	return Config{
		PreviewLimit: 20,
		Policy:       repository.DefaultDuplicatePolicy(),
	}
}

// Preview is the first rows of a staging pass with its counts
type Preview struct {
	Rows         []model.CandidateTransaction `json:"rows"`
	Total        int                          `json:"total"`
	ValidCount   int                          `json:"valid_count"`
	InvalidCount int                          `json:"invalid_count"`
}

func newPreview(staged staging.Staged, rows []model.CandidateTransaction) *Preview {
	return &Preview{
		Rows:         rows,
		Total:        len(staged.Candidates),
		ValidCount:   staged.ValidCount,
		InvalidCount: staged.InvalidCount,
	}
}

// CommitOptions tunes one commit
type CommitOptions struct {
	OnProgress committer.ProgressFunc
	BatchID    uuid.UUID // generated when zero
}

// View is a snapshot of a session, safe to use outside the session lock
type View struct {
	ID          uuid.UUID           `json:"id"`
	Step        session.Step        `json:"step"`
	FileName    string              `json:"file_name,omitempty"`
	FileType    model.FileType      `json:"file_type,omitempty"`
	Columns     []string            `json:"columns"`
	Sample      []model.RawRow      `json:"sample,omitempty"`
	RowCount    int                 `json:"row_count"`
	Mapping     model.ColumnMapping `json:"mapping"`
	AccountID   int64               `json:"account_id,omitempty"`
	DefaultType string              `json:"default_transaction_type"`
	Result      *model.ImportResult `json:"result,omitempty"`
	BatchID     *uuid.UUID          `json:"batch_id,omitempty"`
	Progress    *committer.Progress `json:"progress,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func viewOf(s *session.Session) View {
	v := View{
		ID:          s.ID(),
		Step:        s.Step(),
		FileName:    s.FileName(),
		Columns:     []string{},
		Mapping:     s.Mapping(),
		AccountID:   s.AccountID(),
		DefaultType: s.DefaultType(),
		Result:      s.Result(),
		CreatedAt:   s.CreatedAt(),
		UpdatedAt:   s.UpdatedAt(),
	}
	if t := s.Table(); t != nil {
		v.FileType = t.Format()
		v.Columns = t.Columns()
		v.Sample = t.Sample()
		v.RowCount = t.Len()
	}
	if p, ok := s.Progress(); ok {
		batchID := s.BatchID()
		v.BatchID = &batchID
		v.Progress = &p
	}
	return v
}

// ImportService orchestrates file reading, staging and commits
type ImportService struct {
	reader    *parser.Reader
	coercer   *normalizer.Coercer
	committer *committer.Committer
	sessions  *session.Store
	mappings  repository.MappingStore // Optional: nil disables remembered mappings
	archive   FileArchive             // Optional: nil disables upload archiving
	config    Config
	metrics   *Metrics // Optional
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewImportService creates a new import service
func NewImportService(reader *parser.Reader, coercer *normalizer.Coercer, c *committer.Committer, sessions *session.Store, config Config, logger *slog.Logger) *ImportService {
	if config.PreviewLimit <= 0 {
		config.PreviewLimit = DefaultConfig().PreviewLimit
	}
	return &ImportService{
		reader:    reader,
		coercer:   coercer,
		committer: c,
		sessions:  sessions,
		config:    config,
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
	}
}

// WithMappingStore remembers confirmed mappings per header layout
func (s *ImportService) WithMappingStore(store repository.MappingStore) *ImportService {
	s.mappings = store
	return s
}

// WithArchive keeps a copy of uploaded files
func (s *ImportService) WithArchive(archive FileArchive) *ImportService {
	s.archive = archive
	return s
}

// WithMetrics records pipeline metrics
func (s *ImportService) WithMetrics(m *Metrics) *ImportService {
	s.metrics = m
	return s
}

// WithTracer replaces the global tracer
func (s *ImportService) WithTracer(tracer trace.Tracer) *ImportService {
	s.tracer = tracer
	return s
}

// ============================================================================
// Stateless pipeline
// ============================================================================

// ReadTable parses an uploaded file of the declared type
func (s *ImportService) ReadTable(ctx context.Context, fileType model.FileType, data []byte) (*model.RawTable, error) {
	ctx, span := s.tracer.Start(ctx, "import.ReadTable", trace.WithAttributes(
		attribute.String("file.type", string(fileType)),
		attribute.Int("file.size", len(data)),
	))
	defer span.End()

	table, err := s.reader.Read(ctx, bytes.NewReader(data), fileType, int64(len(data)))
	s.metrics.observeRead(fileType, err)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("table.rows", table.Len()))
	return table, nil
}

// InferMapping suggests a column mapping from headers and sample rows
func (s *ImportService) InferMapping(columns []string, sample []model.RawRow) model.ColumnMapping {
	return sniffer.InferMapping(columns, sample)
}

// SuggestMapping prefers the mapping last confirmed for the same header layout
// and falls back to inference. The boolean reports a remembered mapping.
func (s *ImportService) SuggestMapping(ctx context.Context, table *model.RawTable) (model.ColumnMapping, bool) {
	if s.mappings != nil {
		remembered, err := s.mappings.FindMapping(ctx, sniffer.Fingerprint(table.Columns()))
		switch {
		case err != nil:
			s.logger.Warn("failed to lookup remembered mapping", slog.Any("error", err))
		case remembered != nil && normalizer.CheckColumns(table, *remembered) == nil:
			return *remembered, true
		}
	}
	return s.InferMapping(table.Columns(), table.Sample()), false
}

func guard(table *model.RawTable, mapping model.ColumnMapping, accountID int64) error {
	if table == nil {
		return model.ErrNoTable
	}
	if missing := mapping.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", model.ErrIncompleteMapping, missing)
	}
	if err := normalizer.CheckColumns(table, mapping); err != nil {
		return err
	}
	if accountID <= 0 {
		return model.ErrNoAccount
	}
	return nil
}

func (s *ImportService) coerce(ctx context.Context, table *model.RawTable, mapping model.ColumnMapping, defaultType string) (staging.Staged, error) {
	ctx, span := s.tracer.Start(ctx, "import.Stage", trace.WithAttributes(
		attribute.Int("table.rows", table.Len()),
		attribute.String("default_type", defaultType),
	))
	defer span.End()

	candidates, err := s.coercer.Coerce(ctx, table, mapping, defaultType)
	if err != nil {
		recordError(span, err)
		return staging.Staged{}, err
	}
	staged := staging.Staged{Candidates: candidates}
	for _, c := range candidates {
		if c.Valid() {
			staged.ValidCount++
		} else {
			staged.InvalidCount++
		}
	}
	s.metrics.observeStaged(staged.ValidCount, staged.InvalidCount)
	return staged, nil
}

// sessionCoercer routes session staging through the traced, metered path
type sessionCoercer struct {
	s *ImportService
}

func (c sessionCoercer) Coerce(ctx context.Context, table *model.RawTable, mapping model.ColumnMapping, defaultType string) ([]model.CandidateTransaction, error) {
	staged, err := c.s.coerce(ctx, table, mapping, defaultType)
	return staged.Candidates, err
}

// StagePreview coerces the table under the mapping and returns the first limit
// candidates. It writes nothing.
func (s *ImportService) StagePreview(ctx context.Context, table *model.RawTable, mapping model.ColumnMapping, accountID int64, defaultType string, limit int) (*Preview, error) {
	if err := guard(table, mapping, accountID); err != nil {
		return nil, err
	}
	staged, err := s.coerce(ctx, table, mapping, defaultType)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.config.PreviewLimit
	}
	rows := staged.Candidates
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return newPreview(staged, rows), nil
}

// Commit stages the table and writes its valid rows to the account in one batch
func (s *ImportService) Commit(ctx context.Context, table *model.RawTable, mapping model.ColumnMapping, accountID int64, defaultType string, opts CommitOptions) (*model.ImportResult, error) {
	if err := guard(table, mapping, accountID); err != nil {
		return nil, err
	}
	staged, err := s.coerce(ctx, table, mapping, defaultType)
	if err != nil {
		return nil, err
	}
	if staged.ValidCount == 0 && !s.config.Session.AllowEmptyCommit {
		return nil, model.ErrNothingToImport
	}
	return s.commit(ctx, table, mapping, accountID, staged.Candidates, opts)
}

func (s *ImportService) commit(ctx context.Context, table *model.RawTable, mapping model.ColumnMapping, accountID int64, candidates []model.CandidateTransaction, opts CommitOptions) (*model.ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "import.Commit", trace.WithAttributes(
		attribute.Int64("account.id", accountID),
		attribute.Int("candidates", len(candidates)),
	))
	defer span.End()

	result, err := s.committer.Commit(ctx, accountID, candidates, committer.Options{
		Policy:     s.config.Policy,
		OnProgress: opts.OnProgress,
		BatchID:    opts.BatchID,
	})
	s.metrics.observeCommit(result, err)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("batch.id", result.BatchID.String()),
		attribute.Int("rows.created", result.Created),
		attribute.Int("rows.skipped", result.Skipped),
		attribute.Int("rows.failed", result.Failed),
		attribute.Bool("cancelled", result.Cancelled),
	)

	s.rememberMapping(ctx, table, mapping, result)
	return result, nil
}

// rememberMapping stores the mapping of a batch that wrote or matched rows
func (s *ImportService) rememberMapping(ctx context.Context, table *model.RawTable, mapping model.ColumnMapping, result *model.ImportResult) {
	if s.mappings == nil || result.Created+result.Skipped == 0 {
		return
	}
	fingerprint := sniffer.Fingerprint(table.Columns())
	if err := s.mappings.SaveMapping(context.WithoutCancel(ctx), fingerprint, mapping); err != nil {
		s.logger.Warn("failed to remember mapping",
			slog.String("fingerprint", fingerprint),
			slog.Any("error", err),
		)
	}
}

// ============================================================================
// Sessions
// ============================================================================

// StartSession creates an empty session in the uploading step
func (s *ImportService) StartSession() View {
	sess := session.New(sessionCoercer{s}, s.config.Session)
	s.sessions.Add(sess)
	s.logger.Debug("import session started", slog.String("session_id", sess.ID().String()))
	return viewOf(sess)
}

// Get returns a snapshot of the session
func (s *ImportService) Get(id uuid.UUID) (View, error) {
	var v View
	err := s.sessions.Do(id, func(sess *session.Session) error {
		v = viewOf(sess)
		return nil
	})
	return v, err
}

// Delete drops the session and its archived upload, cancelling a commit in
// flight
func (s *ImportService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.sessions.Delete(id); err != nil {
		return err
	}
	s.discardUploads(ctx, id)
	return nil
}

// Upload parses a file and loads it into the session, replacing everything the
// session held. Parsing happens before the session is locked.
func (s *ImportService) Upload(ctx context.Context, id uuid.UUID, fileName string, fileType model.FileType, data []byte) (View, error) {
	if _, err := s.Get(id); err != nil {
		return View{}, err
	}

	table, err := s.ReadTable(ctx, fileType, data)
	if err != nil {
		return View{}, err
	}
	suggested, remembered := s.SuggestMapping(ctx, table)
	s.discardUploads(ctx, id)
	s.archiveUpload(ctx, id, fileName, data)

	var v View
	err = s.sessions.Do(id, func(sess *session.Session) error {
		if err := sess.Upload(fileName, table, suggested); err != nil {
			return err
		}
		v = viewOf(sess)
		return nil
	})
	if err != nil {
		return View{}, err
	}

	s.logger.Info("import file uploaded",
		slog.String("session_id", id.String()),
		slog.String("file_name", fileName),
		slog.String("file_type", string(fileType)),
		slog.Int("rows", table.Len()),
		slog.Bool("remembered_mapping", remembered),
	)
	return v, nil
}

func (s *ImportService) archiveUpload(ctx context.Context, id uuid.UUID, fileName string, data []byte) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.Upload(ctx, id, fileName, "application/octet-stream", bytes.NewReader(data)); err != nil {
		s.logger.Warn("failed to archive upload",
			slog.String("session_id", id.String()),
			slog.Any("error", err),
		)
	}
}

// discardUploads removes the files archived for a session
func (s *ImportService) discardUploads(ctx context.Context, id uuid.UUID) {
	if s.archive == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	files, err := s.archive.List(ctx, id)
	if err != nil {
		s.logger.Warn("failed to list archived uploads",
			slog.String("session_id", id.String()),
			slog.Any("error", err),
		)
		return
	}
	for _, f := range files {
		if err := s.archive.Delete(ctx, id, f.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to discard archived upload",
				slog.String("session_id", id.String()),
				slog.String("file_id", f.ID.String()),
				slog.Any("error", err),
			)
		}
	}
}

// OriginalFile opens the archived copy of the file the session is working on.
// The caller closes the reader.
func (s *ImportService) OriginalFile(ctx context.Context, id uuid.UUID) (io.ReadCloser, *storage.FileInfo, error) {
	v, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if v.FileName == "" {
		return nil, nil, model.ErrNoTable
	}
	if s.archive == nil {
		return nil, nil, model.ErrFileNotArchived
	}
	files, err := s.archive.List(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, model.ErrFileNotArchived
	}
	rc, info, err := s.archive.Download(ctx, id, files[len(files)-1].ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %v", model.ErrFileNotArchived, err)
	}
	return rc, info, err
}

// UpdateMapping replaces the mapping and, when defaultType is non-empty, the
// default transaction type
func (s *ImportService) UpdateMapping(ctx context.Context, id uuid.UUID, mapping model.ColumnMapping, defaultType string) (View, error) {
	var v View
	err := s.sessions.Do(id, func(sess *session.Session) error {
		if err := sess.SetMapping(ctx, mapping); err != nil {
			return err
		}
		if defaultType != "" && defaultType != sess.DefaultType() {
			if err := sess.SetDefaultType(ctx, defaultType); err != nil {
				return err
			}
		}
		v = viewOf(sess)
		return nil
	})
	return v, err
}

// SelectAccount sets the session's commit target
func (s *ImportService) SelectAccount(id uuid.UUID, accountID int64) (View, error) {
	var v View
	err := s.sessions.Do(id, func(sess *session.Session) error {
		if err := sess.SelectAccount(accountID); err != nil {
			return err
		}
		v = viewOf(sess)
		return nil
	})
	return v, err
}

// Preview stages the session and returns the first limit candidates,
// advancing from mapping to previewing
func (s *ImportService) Preview(ctx context.Context, id uuid.UUID, limit int) (*Preview, error) {
	if limit <= 0 {
		limit = s.config.PreviewLimit
	}

	var p *Preview
	err := s.sessions.Do(id, func(sess *session.Session) error {
		ctx, span := s.tracer.Start(ctx, "import.Preview", trace.WithAttributes(
			attribute.String("session.id", id.String()),
		))
		defer span.End()

		staged, rows, err := sess.Preview(ctx, limit)
		if err != nil {
			recordError(span, err)
			return err
		}
		p = newPreview(staged, rows)
		return nil
	})
	return p, err
}

// Back returns the session from previewing to mapping
func (s *ImportService) Back(id uuid.UUID) (View, error) {
	var v View
	err := s.sessions.Do(id, func(sess *session.Session) error {
		if err := sess.Back(); err != nil {
			return err
		}
		v = viewOf(sess)
		return nil
	})
	return v, err
}

// Reset returns the session to uploading, cancelling a commit in flight and
// discarding the archived upload
func (s *ImportService) Reset(ctx context.Context, id uuid.UUID) (View, error) {
	var v View
	err := s.sessions.Do(id, func(sess *session.Session) error {
		sess.Reset()
		v = viewOf(sess)
		return nil
	})
	if err != nil {
		return View{}, err
	}
	s.discardUploads(ctx, id)
	return v, nil
}

// CommitSession writes the session's valid candidates. The session lock is
// only held to enter and leave the committing step, so the session stays
// readable (and resettable) while the batch runs. Progress is stored on the
// session as rows are processed.
//
// A resource failure returns the session to previewing. If the session was
// reset or deleted while committing, the rows already written stay and the
// result is still returned, but it is not recorded on the session.
func (s *ImportService) CommitSession(ctx context.Context, id uuid.UUID, opts CommitOptions) (*model.ImportResult, error) {
	commitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	batchID := opts.BatchID
	if batchID == uuid.Nil {
		batchID = uuid.New()
	}

	var (
		staged    staging.Staged
		table     *model.RawTable
		mapping   model.ColumnMapping
		accountID int64
	)
	err := s.sessions.Do(id, func(sess *session.Session) error {
		var err error
		staged, err = sess.BeginCommit(batchID, cancel)
		if err != nil {
			return err
		}
		table, mapping, accountID = sess.Table(), sess.Mapping(), sess.AccountID()
		return nil
	})
	if err != nil {
		return nil, err
	}

	onProgress := opts.OnProgress
	opts.BatchID = batchID
	opts.OnProgress = func(p committer.Progress) {
		_ = s.sessions.Do(id, func(sess *session.Session) error {
			return sess.ReportProgress(batchID, p)
		})
		if onProgress != nil {
			onProgress(p)
		}
	}

	result, commitErr := s.commit(commitCtx, table, mapping, accountID, staged.Candidates, opts)

	err = s.sessions.Do(id, func(sess *session.Session) error {
		if commitErr != nil {
			return sess.AbortCommit(batchID)
		}
		return sess.CompleteCommit(batchID, result)
	})
	if errors.Is(err, model.ErrStaleCommit) || errors.Is(err, model.ErrSessionNotFound) {
		s.logger.Warn("import session changed during commit",
			slog.String("session_id", id.String()),
			slog.String("batch_id", batchID.String()),
			slog.Any("error", err),
		)
		err = nil
	}
	if commitErr != nil {
		return nil, commitErr
	}
	return result, err
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
