// Package session sequences the import wizard: upload, map columns, preview,
// commit. Every step change goes through a single transition table.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/finance-import/internal/domain/import/committer"
	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
	"github.com/FACorreiaa/finance-import/internal/domain/import/normalizer"
	"github.com/FACorreiaa/finance-import/internal/domain/import/staging"
)

// Step is the current wizard step
type Step string

const (
	StepUploading  Step = "uploading"
	StepMapping    Step = "mapping"
	StepPreviewing Step = "previewing"
	StepCommitting Step = "committing"
	StepDone       Step = "done"
)

// DefaultTransactionType is applied to rows without a recognizable type
const DefaultTransactionType = "expense"

// transitions lists the legal edges. Reset to uploading is legal from anywhere
// and handled separately.
var transitions = map[Step][]Step{
	StepUploading:  {StepMapping},
	StepMapping:    {StepPreviewing},
	StepPreviewing: {StepMapping, StepCommitting},
	StepCommitting: {StepDone, StepPreviewing},
}

func canTransition(from, to Step) bool {
	if to == StepUploading {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Options tunes the guards
type Options struct {
	// AllowEmptyCommit lets a preview with zero valid rows be committed so the
	// user gets an explicit empty result instead of a blocked step.
	AllowEmptyCommit bool
}

// Session is one import wizard. It is not safe for concurrent use; the Store
// serializes access per session.
type Session struct {
	id      uuid.UUID
	options Options
	stage   *staging.Store

	step        Step
	fileName    string
	table       *model.RawTable
	mapping     model.ColumnMapping
	accountID   int64
	defaultType string
	result      *model.ImportResult

	// batchID identifies the commit in flight. Completions carrying another
	// id belong to a commit that was reset away and are ignored.
	batchID      uuid.UUID
	cancelCommit context.CancelFunc
	progress     *committer.Progress

	createdAt time.Time
	updatedAt time.Time
}

// New creates a session in the uploading step
func New(coercer staging.Coercer, options Options) *Session {
	now := time.Now()
	return &Session{
		id:          uuid.New(),
		options:     options,
		stage:       staging.NewStore(coercer),
		step:        StepUploading,
		defaultType: DefaultTransactionType,
		createdAt:   now,
		updatedAt:   now,
	}
}

func (s *Session) ID() uuid.UUID                { return s.id }
func (s *Session) Step() Step                   { return s.step }
func (s *Session) FileName() string             { return s.fileName }
func (s *Session) Table() *model.RawTable       { return s.table }
func (s *Session) Mapping() model.ColumnMapping { return s.mapping }
func (s *Session) AccountID() int64             { return s.accountID }
func (s *Session) DefaultType() string          { return s.defaultType }
func (s *Session) Result() *model.ImportResult  { return s.result }
func (s *Session) UpdatedAt() time.Time         { return s.updatedAt }
func (s *Session) BatchID() uuid.UUID           { return s.batchID }
func (s *Session) CreatedAt() time.Time         { return s.createdAt }

// Progress returns the latest progress of the current commit
func (s *Session) Progress() (committer.Progress, bool) {
	if s.progress == nil {
		return committer.Progress{}, false
	}
	return *s.progress, true
}

// Staged returns the current staging result, if the session has one
func (s *Session) Staged() (staging.Staged, bool) {
	return s.stage.Current()
}

func (s *Session) transition(to Step) error {
	if !canTransition(s.step, to) {
		return fmt.Errorf("%w: %s -> %s", model.ErrIllegalTransition, s.step, to)
	}
	s.step = to
	s.touch()
	return nil
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}

// Reset returns the session to uploading and clears everything, including the
// account and default type. A commit in flight is cancelled; rows it already
// wrote stay written.
func (s *Session) Reset() {
	if s.cancelCommit != nil {
		s.cancelCommit()
	}
	s.endCommit()
	_ = s.transition(StepUploading)
	s.fileName = ""
	s.table = nil
	s.mapping = model.ColumnMapping{}
	s.accountID = 0
	s.defaultType = DefaultTransactionType
	s.result = nil
	s.stage.Invalidate()
}

// Upload hard-resets the session and moves to mapping with the parsed table
// and a suggested mapping
func (s *Session) Upload(fileName string, table *model.RawTable, suggested model.ColumnMapping) error {
	if table == nil {
		return model.ErrNoTable
	}
	s.Reset()
	s.fileName = fileName
	s.table = table
	s.mapping = suggested
	return s.transition(StepMapping)
}

// SetMapping replaces the column mapping. While previewing the new mapping must
// still satisfy the preview guard; the cached candidates are recomputed.
func (s *Session) SetMapping(ctx context.Context, mapping model.ColumnMapping) error {
	switch s.step {
	case StepUploading:
		return model.ErrNoTable
	case StepCommitting, StepDone:
		return model.ErrMappingFrozen
	case StepMapping:
		s.mapping = mapping
		s.stage.Invalidate()
		s.touch()
		return nil
	}

	if err := s.previewGuard(mapping, s.accountID); err != nil {
		return err
	}
	return s.restage(ctx, mapping, s.defaultType)
}

// SelectAccount sets the commit target
func (s *Session) SelectAccount(accountID int64) error {
	if s.step == StepCommitting || s.step == StepDone {
		return fmt.Errorf("%w: account cannot change in step %s", model.ErrIllegalTransition, s.step)
	}
	if accountID <= 0 {
		return model.ErrNoAccount
	}
	s.accountID = accountID
	s.touch()
	return nil
}

// SetDefaultType changes the type used for rows without a recognizable one
func (s *Session) SetDefaultType(ctx context.Context, defaultType string) error {
	if s.step == StepCommitting || s.step == StepDone {
		return model.ErrMappingFrozen
	}
	if _, ok := model.ParseTransactionType(defaultType); !ok {
		return fmt.Errorf("%w: %q", model.ErrInvalidTransactionType, defaultType)
	}
	if s.step != StepPreviewing {
		s.defaultType = defaultType
		s.touch()
		return nil
	}
	return s.restage(ctx, s.mapping, defaultType)
}

// restage recomputes candidates for new inputs while previewing. On failure the
// previous inputs are kept.
func (s *Session) restage(ctx context.Context, mapping model.ColumnMapping, defaultType string) error {
	if _, err := s.stage.Stage(ctx, s.table, mapping, defaultType); err != nil {
		s.stage.Invalidate()
		return err
	}
	s.mapping = mapping
	s.defaultType = defaultType
	s.touch()
	return nil
}

func (s *Session) previewGuard(mapping model.ColumnMapping, accountID int64) error {
	if s.table == nil {
		return model.ErrNoTable
	}
	if missing := mapping.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", model.ErrIncompleteMapping, missing)
	}
	if err := normalizer.CheckColumns(s.table, mapping); err != nil {
		return err
	}
	if accountID <= 0 {
		return model.ErrNoAccount
	}
	return nil
}

// Preview stages candidates and returns the first limit of them. From mapping
// it advances to previewing once the guard passes.
func (s *Session) Preview(ctx context.Context, limit int) (staging.Staged, []model.CandidateTransaction, error) {
	switch s.step {
	case StepMapping:
		if err := s.previewGuard(s.mapping, s.accountID); err != nil {
			return staging.Staged{}, nil, err
		}
	case StepPreviewing:
	default:
		return staging.Staged{}, nil, fmt.Errorf("%w: cannot preview in step %s", model.ErrIllegalTransition, s.step)
	}

	staged, err := s.stage.Stage(ctx, s.table, s.mapping, s.defaultType)
	if err != nil {
		return staging.Staged{}, nil, err
	}
	if s.step == StepMapping {
		if err := s.transition(StepPreviewing); err != nil {
			return staging.Staged{}, nil, err
		}
	}
	return staged, s.stage.Preview(limit), nil
}

// Back returns from previewing to mapping
func (s *Session) Back() error {
	return s.transition(StepMapping)
}

// BeginCommit moves to committing under batchID and returns the candidates to
// submit. The cancel function is invoked if the session is reset while the
// batch runs.
func (s *Session) BeginCommit(batchID uuid.UUID, cancel context.CancelFunc) (staging.Staged, error) {
	if s.step != StepPreviewing {
		return staging.Staged{}, fmt.Errorf("%w: %s -> %s", model.ErrIllegalTransition, s.step, StepCommitting)
	}
	staged, ok := s.stage.Current()
	if !ok {
		return staging.Staged{}, fmt.Errorf("%w: preview is stale", model.ErrIllegalTransition)
	}
	if staged.ValidCount == 0 && !s.options.AllowEmptyCommit {
		return staging.Staged{}, model.ErrNothingToImport
	}
	if err := s.transition(StepCommitting); err != nil {
		return staging.Staged{}, err
	}
	s.batchID = batchID
	s.cancelCommit = cancel
	s.progress = &committer.Progress{Total: staged.ValidCount}
	return staged, nil
}

func (s *Session) checkBatch(batchID uuid.UUID) error {
	if s.step != StepCommitting || batchID != s.batchID {
		return fmt.Errorf("%w: batch %s", model.ErrStaleCommit, batchID)
	}
	return nil
}

func (s *Session) endCommit() {
	s.batchID = uuid.Nil
	s.cancelCommit = nil
	s.progress = nil
}

// ReportProgress stores the latest progress of batchID
func (s *Session) ReportProgress(batchID uuid.UUID, p committer.Progress) error {
	if err := s.checkBatch(batchID); err != nil {
		return err
	}
	s.progress = &p
	s.touch()
	return nil
}

// CompleteCommit records the result of batchID and finishes the session
func (s *Session) CompleteCommit(batchID uuid.UUID, result *model.ImportResult) error {
	if err := s.checkBatch(batchID); err != nil {
		return err
	}
	if err := s.transition(StepDone); err != nil {
		return err
	}
	s.endCommit()
	s.result = result
	return nil
}

// AbortCommit returns to previewing after a resource failure of batchID wrote
// nothing
func (s *Session) AbortCommit(batchID uuid.UUID) error {
	if err := s.checkBatch(batchID); err != nil {
		return err
	}
	if err := s.transition(StepPreviewing); err != nil {
		return err
	}
	s.endCommit()
	return nil
}
