// Package staging caches coerced candidates for preview. The cache is keyed by
// table identity, mapping and default type, so a preview can never show rows
// coerced under a mapping other than the current one.
package staging

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

// Coercer is the derivation the store caches
type Coercer interface {
	Coerce(ctx context.Context, table *model.RawTable, mapping model.ColumnMapping, defaultType string) ([]model.CandidateTransaction, error)
}

// Staged is the result of one staging pass
type Staged struct {
	Candidates   []model.CandidateTransaction
	ValidCount   int
	InvalidCount int
}

type key struct {
	tableID     uuid.UUID
	mapping     model.ColumnMapping
	defaultType string
}

// Store holds the candidates of the last staged (table, mapping, default type)
type Store struct {
	coercer Coercer

	mu     sync.Mutex
	key    key
	staged *Staged
}

// NewStore creates an empty staging store
func NewStore(coercer Coercer) *Store {
	return &Store{coercer: coercer}
}

// Stage returns the candidates for the given inputs, recomputing only when the
// key differs from the cached one. A failed recomputation clears the cache.
func (s *Store) Stage(ctx context.Context, table *model.RawTable, mapping model.ColumnMapping, defaultType string) (Staged, error) {
	if table == nil {
		return Staged{}, model.ErrNoTable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{tableID: table.ID(), mapping: mapping, defaultType: defaultType}
	if s.staged != nil && s.key == k {
		return *s.staged, nil
	}

	s.staged = nil
	candidates, err := s.coercer.Coerce(ctx, table, mapping, defaultType)
	if err != nil {
		return Staged{}, err
	}

	staged := &Staged{Candidates: candidates}
	for _, c := range candidates {
		if c.Valid() {
			staged.ValidCount++
		} else {
			staged.InvalidCount++
		}
	}

	s.key = k
	s.staged = staged
	return *staged, nil
}

// Preview returns the first limit staged candidates in source order.
// limit <= 0 returns all of them.
func (s *Store) Preview(limit int) []model.CandidateTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return nil
	}
	all := s.staged.Candidates
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]model.CandidateTransaction, limit)
	copy(out, all[:limit])
	return out
}

// Current returns the cached staging result, if any
func (s *Store) Current() (Staged, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return Staged{}, false
	}
	return *s.staged, true
}

// Invalidate drops the cache
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.staged = nil
	s.key = key{}
}
